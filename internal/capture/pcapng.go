package capture

import (
	"fmt"
	"io"

	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/sqlnet/internal/core"
)

const pcapngMagic = 0x0a0d0d0a

// PcapngReader reads the pcapng container through gopacket's pcapgo.
type PcapngReader struct {
	ng  *pcapgo.NgReader
	seq uint32
}

// NewPcapngReader returns an uninitialised pcapng reader.
func NewPcapngReader() *PcapngReader {
	return &PcapngReader{}
}

// Init reads the section header and first interface description.
func (p *PcapngReader) Init(r io.Reader) error {
	ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnrecognizedFormat, err)
	}
	p.ng = ng
	p.seq = 0
	return nil
}

// LinkType returns the link type of the first interface.
func (p *PcapngReader) LinkType() core.LinkType {
	if p.ng == nil {
		return core.LinkTypeEthernet
	}
	return core.LinkType(p.ng.LinkType())
}

// Read returns the next enhanced/simple packet block, or io.EOF.
func (p *PcapngReader) Read() (*core.RawFrame, error) {
	if p.ng == nil {
		return nil, fmt.Errorf("pcapng reader not initialised")
	}

	data, ci, err := p.ng.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read block after record %d: %w", p.seq, err)
	}

	p.seq++
	return &core.RawFrame{
		SequenceNumber: p.seq,
		CapturedLength: uint32(ci.CaptureLength),
		OriginalLength: uint32(ci.Length),
		Timestamp:      ci.Timestamp.UTC().Truncate(core.TickDuration),
		LinkType:       p.LinkType(),
		Data:           data,
	}, nil
}

