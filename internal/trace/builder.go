package trace

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/metrics"
)

// segmentKey identifies a TCP segment for retransmit detection.
type segmentKey struct {
	conv       int
	fromClient bool
	seq        uint32
}

// Builder groups raw frames into conversations. It decodes Ethernet frames
// down to TCP/UDP; other link types are counted as skipped.
type Builder struct {
	t      *Trace
	parser *gopacket.DecodingLayerParser

	eth   layers.Ethernet
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP

	decoded []gopacket.LayerType
	seen    map[segmentKey]int
}

// NewBuilder creates a builder appending to t.
func NewBuilder(t *Trace) *Builder {
	b := &Builder{
		t:    t,
		seen: make(map[segmentKey]int),
	}
	b.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&b.eth,
		&b.dot1q,
		&b.ip4,
		&b.ip6,
		&b.tcp,
		&b.udp,
	)
	b.parser.IgnoreUnsupported = true
	return b
}

// Add attributes raw to a conversation. It returns the resulting frame, or
// nil if the frame carries no TCP/UDP segment this builder can decode.
func (b *Builder) Add(file *CaptureFile, raw *core.RawFrame) *Frame {
	if raw.LinkType != core.LinkTypeEthernet {
		file.Skipped++
		return nil
	}

	b.decoded = b.decoded[:0]
	if err := b.parser.DecodeLayers(raw.Data, &b.decoded); err != nil {
		file.Skipped++
		return nil
	}

	var (
		srcIP, dstIP netip.Addr
		haveIP       bool
		transport    uint8
		srcPort      uint16
		dstPort      uint16
		payload      []byte
	)
	for _, lt := range b.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			srcIP, _ = netip.AddrFromSlice(b.ip4.SrcIP.To4())
			dstIP, _ = netip.AddrFromSlice(b.ip4.DstIP.To4())
			haveIP = true
		case layers.LayerTypeIPv6:
			srcIP, _ = netip.AddrFromSlice(b.ip6.SrcIP.To16())
			dstIP, _ = netip.AddrFromSlice(b.ip6.DstIP.To16())
			haveIP = true
		case layers.LayerTypeTCP:
			transport = TransportTCP
			srcPort, dstPort = uint16(b.tcp.SrcPort), uint16(b.tcp.DstPort)
			payload = b.tcp.Payload
		case layers.LayerTypeUDP:
			transport = TransportUDP
			srcPort, dstPort = uint16(b.udp.SrcPort), uint16(b.udp.DstPort)
			payload = b.udp.Payload
		}
	}
	if !haveIP || transport == 0 || !srcIP.IsValid() || !dstIP.IsValid() {
		file.Skipped++
		return nil
	}

	src := netip.AddrPortFrom(srcIP, srcPort)
	dst := netip.AddrPortFrom(dstIP, dstPort)
	conv, created := b.t.Conversation(src, dst, transport)
	if created {
		// A SYN-ACK as first frame means the sender is the server.
		if transport == TransportTCP && b.tcp.SYN && b.tcp.ACK {
			conv.Reverse()
		}
		metrics.TraceConversationsTotal.WithLabelValues(transportName(transport)).Inc()
	}

	f := &Frame{
		Number:         raw.SequenceNumber,
		File:           file,
		Timestamp:      raw.Timestamp,
		CapturedLength: raw.CapturedLength,
		OriginalLength: raw.OriginalLength,
		Payload:        payload,
		FromClient:     src.Addr().Unmap() == conv.SrcAddr && src.Port() == conv.SrcPort,
	}
	if transport == TransportTCP {
		f.TCPFlags = tcpFlags(&b.tcp)
		f.Seq = b.tcp.Seq
		if len(payload) > 0 {
			key := segmentKey{conv: conv.ID, fromClient: f.FromClient, seq: f.Seq}
			if prev, ok := b.seen[key]; ok && len(payload) <= prev {
				f.IsRetransmit = true
			} else {
				b.seen[key] = len(payload)
			}
		}
	}
	if raw.Truncated() {
		conv.Truncated = true
	}
	conv.Frames = append(conv.Frames, f)
	return f
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= FlagFIN
	}
	if tcp.SYN {
		flags |= FlagSYN
	}
	if tcp.RST {
		flags |= FlagRST
	}
	if tcp.PSH {
		flags |= FlagPSH
	}
	if tcp.ACK {
		flags |= FlagACK
	}
	if tcp.URG {
		flags |= FlagURG
	}
	return flags
}

func transportName(transport uint8) string {
	switch transport {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	default:
		return "other"
	}
}
