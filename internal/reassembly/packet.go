// Package reassembly exposes application payloads spanning several frames of
// one conversation as a single packet.
package reassembly

import (
	"fmt"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/trace"
)

// Packet is an application-layer unit reassembled from consecutive frames.
// It is only meaningful when the owning conversation is not truncated.
type Packet struct {
	conv   *trace.Conversation
	frames []*trace.Frame
	length int
}

// New builds a packet over frames of conv. Frames must be in order and
// already exclude control-only and retransmitted segments.
func New(conv *trace.Conversation, frames []*trace.Frame) (*Packet, error) {
	if len(frames) == 0 {
		return nil, core.ErrEmptyPacket
	}
	p := &Packet{conv: conv, frames: frames}
	for _, f := range frames {
		p.length += len(f.Payload)
	}
	return p, nil
}

// Len returns the total payload length.
func (p *Packet) Len() int { return p.length }

// Frames returns the frames making up the packet.
func (p *Packet) Frames() []*trace.Frame { return p.frames }

// Conversation returns the owning conversation.
func (p *Packet) Conversation() *trace.Conversation { return p.conv }

// Payload concatenates the payload of every frame.
func (p *Packet) Payload() []byte {
	buf := make([]byte, 0, p.length)
	for _, f := range p.frames {
		buf = append(buf, f.Payload...)
	}
	return buf
}

// PayloadByte returns the byte at index without materializing the payload.
func (p *Packet) PayloadByte(index int) (byte, error) {
	if index >= 0 {
		offset := index
		for _, f := range p.frames {
			if offset < len(f.Payload) {
				return f.Payload[offset], nil
			}
			offset -= len(f.Payload)
		}
	}
	first := p.frames[0]
	return 0, fmt.Errorf("%w: index %d, length %d, frame %d in %s",
		core.ErrOutOfRange, index, p.length, first.Number, first.FileName())
}

// Header parses a TDS header from the first frame. A TDS header never spans
// a frame boundary, so only the first frame is consulted.
func (p *Packet) Header() (TDSHeader, bool) {
	h, err := ParseTDSHeader(p.frames[0].Payload)
	if err != nil {
		return TDSHeader{}, false
	}
	return h, true
}

// IsFromClient reports the direction of the first frame.
func (p *Packet) IsFromClient() bool {
	return p.frames[0].FromClient
}

// IsEncrypted reports whether the owning conversation is encrypted.
func (p *Packet) IsEncrypted() bool {
	return p.conv != nil && p.conv.IsEncrypted()
}

// Split groups a conversation's payload-bearing, non-retransmitted frames
// into packets of consecutive frames travelling in the same direction.
func Split(conv *trace.Conversation) ([]*Packet, error) {
	if conv.Truncated {
		return nil, fmt.Errorf("%w: %s", core.ErrTruncatedConversation, conv)
	}

	var (
		packets []*Packet
		run     []*trace.Frame
	)
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		p, err := New(conv, run)
		if err != nil {
			return err
		}
		packets = append(packets, p)
		run = nil
		return nil
	}

	for _, f := range conv.Frames {
		if len(f.Payload) == 0 || f.IsRetransmit {
			continue
		}
		if len(run) > 0 && run[0].FromClient != f.FromClient {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		run = append(run, f)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return packets, nil
}
