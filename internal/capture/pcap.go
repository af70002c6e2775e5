package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"firestige.xyz/sqlnet/internal/core"
)

// Magic numbers of the classic pcap container, read little-endian.
const (
	pcapMagicMicros        = 0xa1b2c3d4
	pcapMagicMicrosSwapped = 0xd4c3b2a1
	pcapMagicNanos         = 0xa1b23c4d
	pcapMagicNanosSwapped  = 0x4d3cb2a1

	pcapFileHeaderLen   = 24
	pcapRecordHeaderLen = 16

	// maxRecordLength bounds the allocation for a single record.
	maxRecordLength = 256 << 20
)

// Resolution is the unit of the sub-second timestamp field.
type Resolution uint8

const (
	ResolutionMicros Resolution = iota
	ResolutionNanos
)

// pcapMode is decided once from the magic number and fixed for the stream.
type pcapMode struct {
	order      binary.ByteOrder
	resolution Resolution
}

// pcapModeFor maps a magic number to its byte order and timestamp resolution.
func pcapModeFor(magic uint32) (pcapMode, bool) {
	switch magic {
	case pcapMagicMicros:
		return pcapMode{binary.LittleEndian, ResolutionMicros}, true
	case pcapMagicMicrosSwapped:
		return pcapMode{binary.BigEndian, ResolutionMicros}, true
	case pcapMagicNanos:
		return pcapMode{binary.LittleEndian, ResolutionNanos}, true
	case pcapMagicNanosSwapped:
		return pcapMode{binary.BigEndian, ResolutionNanos}, true
	default:
		return pcapMode{}, false
	}
}

// PcapHeader is the global header of a classic pcap file.
type PcapHeader struct {
	Magic          uint32
	VersionMajor   uint16
	VersionMinor   uint16
	GMTOffset      int32 // Seconds, signed in libpcap
	SigFigs        uint32
	MaxFrameLength uint32 // Snap length
	NetworkType    uint32
}

// PcapReader reads the classic libpcap container.
type PcapReader struct {
	r      io.Reader
	mode   pcapMode
	header PcapHeader
	seq    uint32
	hdr    [pcapRecordHeaderLen]byte
}

// NewPcapReader returns an uninitialised classic pcap reader.
func NewPcapReader() *PcapReader {
	return &PcapReader{}
}

// Init reads the 24-byte global header and fixes byte order and resolution.
func (p *PcapReader) Init(r io.Reader) error {
	var buf [pcapFileHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnrecognizedFormat, err)
	}
	magic := binary.LittleEndian.Uint32(buf[:4])
	mode, ok := pcapModeFor(magic)
	if !ok {
		return fmt.Errorf("%w: magic 0x%08x", core.ErrUnrecognizedFormat, magic)
	}
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	o := mode.order
	p.header = PcapHeader{
		Magic:          magic,
		VersionMajor:   o.Uint16(buf[4:6]),
		VersionMinor:   o.Uint16(buf[6:8]),
		GMTOffset:      int32(o.Uint32(buf[8:12])),
		SigFigs:        o.Uint32(buf[12:16]),
		MaxFrameLength: o.Uint32(buf[16:20]),
		NetworkType:    o.Uint32(buf[20:24]),
	}
	p.r = r
	p.mode = mode
	p.seq = 0
	return nil
}

// Header returns the global header read by Init.
func (p *PcapReader) Header() PcapHeader {
	return p.header
}

// Resolution returns the sub-second timestamp unit chosen at Init.
func (p *PcapReader) Resolution() Resolution {
	return p.mode.resolution
}

// ByteOrder returns the byte order chosen at Init.
func (p *PcapReader) ByteOrder() binary.ByteOrder {
	return p.mode.order
}

// LinkType returns the low 16 bits of the header's network field.
// The upper bits carry FCS information in newer files.
func (p *PcapReader) LinkType() core.LinkType {
	return core.LinkType(p.header.NetworkType & 0xffff)
}

// Read returns the next record, or io.EOF at a clean end of stream.
func (p *PcapReader) Read() (*core.RawFrame, error) {
	if p.r == nil {
		return nil, fmt.Errorf("pcap reader not initialised")
	}

	if _, err := io.ReadFull(p.r, p.hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: record %d header", core.ErrTruncatedRecord, p.seq+1)
		}
		return nil, fmt.Errorf("failed to read record %d: %w", p.seq+1, err)
	}

	o := p.mode.order
	seconds := o.Uint32(p.hdr[0:4])
	fraction := o.Uint32(p.hdr[4:8])
	capLen := o.Uint32(p.hdr[8:12])
	origLen := o.Uint32(p.hdr[12:16])

	if capLen > maxRecordLength {
		return nil, fmt.Errorf("%w: record %d claims %d bytes", core.ErrRecordTooLarge, p.seq+1, capLen)
	}

	data := make([]byte, capLen)
	if _, err := io.ReadFull(p.r, data); err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: record %d payload", core.ErrTruncatedRecord, p.seq+1)
		}
		return nil, fmt.Errorf("failed to read record %d: %w", p.seq+1, err)
	}

	p.seq++
	return &core.RawFrame{
		SequenceNumber: p.seq,
		CapturedLength: capLen,
		OriginalLength: origLen,
		Timestamp:      pcapTimestamp(seconds, fraction, p.mode.resolution),
		LinkType:       p.LinkType(),
		Data:           data,
	}, nil
}

// pcapTimestamp converts epoch seconds plus a sub-second fraction to a
// 100ns-resolution instant.
func pcapTimestamp(seconds, fraction uint32, res Resolution) time.Time {
	var ticks int64
	switch res {
	case ResolutionNanos:
		ticks = int64(fraction) / 100
	default:
		ticks = int64(fraction) * 10
	}
	return time.Unix(int64(seconds), 0).UTC().Add(time.Duration(ticks) * core.TickDuration)
}
