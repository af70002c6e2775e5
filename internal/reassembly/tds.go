package reassembly

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/sqlnet/internal/core"
)

// TDSHeaderLen is the size of the fixed TDS packet header.
const TDSHeaderLen = 8

// TDS packet types.
const (
	TDSTypeSQLBatch    uint8 = 0x01
	TDSTypeRPC         uint8 = 0x03
	TDSTypeResponse    uint8 = 0x04
	TDSTypeAttention   uint8 = 0x06
	TDSTypeBulkLoad    uint8 = 0x07
	TDSTypeFedAuth     uint8 = 0x08
	TDSTypeTransaction uint8 = 0x0e
	TDSTypeLogin7      uint8 = 0x10
	TDSTypeSSPI        uint8 = 0x11
	TDSTypePreLogin    uint8 = 0x12
)

// TDSHeader is the 8-byte header that starts every TDS packet.
type TDSHeader struct {
	Type     uint8
	Status   uint8
	Length   uint16 // Includes the header, big-endian on the wire
	SPID     uint16
	PacketID uint8
	Window   uint8
}

// EndOfMessage reports whether the packet is the last of its message.
func (h TDSHeader) EndOfMessage() bool {
	return h.Status&0x01 != 0
}

func knownTDSType(t uint8) bool {
	switch t {
	case TDSTypeSQLBatch, 0x02, TDSTypeRPC, TDSTypeResponse, TDSTypeAttention,
		TDSTypeBulkLoad, TDSTypeFedAuth, TDSTypeTransaction, TDSTypeLogin7,
		TDSTypeSSPI, TDSTypePreLogin:
		return true
	}
	return false
}

// ParseTDSHeader decodes a TDS header from the start of b.
func ParseTDSHeader(b []byte) (TDSHeader, error) {
	if len(b) < TDSHeaderLen {
		return TDSHeader{}, fmt.Errorf("%w: %d bytes for TDS header", core.ErrPacketTooShort, len(b))
	}
	h := TDSHeader{
		Type:     b[0],
		Status:   b[1],
		Length:   binary.BigEndian.Uint16(b[2:4]),
		SPID:     binary.BigEndian.Uint16(b[4:6]),
		PacketID: b[6],
		Window:   b[7],
	}
	if !knownTDSType(h.Type) {
		return TDSHeader{}, fmt.Errorf("unknown TDS packet type 0x%02x", h.Type)
	}
	if h.Length < TDSHeaderLen {
		return TDSHeader{}, fmt.Errorf("%w: TDS length %d", core.ErrBadLength, h.Length)
	}
	if h.Window != 0 {
		return TDSHeader{}, fmt.Errorf("non-zero TDS window 0x%02x", h.Window)
	}
	return h, nil
}
