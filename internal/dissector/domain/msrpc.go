package domain

import (
	"fmt"
	"strings"
)

// LengthMode selects how the fragment length of an MSRPC header is read.
type LengthMode int

const (
	// LengthLittleEndian reads bytes 8-9 as a little-endian uint16.
	LengthLittleEndian LengthMode = iota
	// LengthLegacy reproduces the historical b[8] + b[9]*16 reconstruction.
	LengthLegacy
)

// ParseLengthMode maps the configuration value to a LengthMode.
func ParseLengthMode(s string) (LengthMode, error) {
	switch strings.ToLower(s) {
	case "", "little_endian":
		return LengthLittleEndian, nil
	case "legacy":
		return LengthLegacy, nil
	}
	return 0, fmt.Errorf("unknown msrpc length mode %q", s)
}

func (m LengthMode) String() string {
	if m == LengthLegacy {
		return "legacy"
	}
	return "little_endian"
}

const msrpcHeaderLen = 16

// IsMSRPC reports whether b is a whole connection-oriented MSRPC PDU.
// Any violated field rejects it.
func IsMSRPC(b []byte, mode LengthMode) bool {
	if len(b) < msrpcHeaderLen {
		return false
	}
	if b[0] != 5 { // rpc_vers
		return false
	}
	if b[1] > 1 { // rpc_vers_minor
		return false
	}
	if b[5] >= 4 { // float representation
		return false
	}
	if b[6] != 0 || b[7] != 0 {
		return false
	}
	if b[4]&0xee != 0 { // integer and character representation
		return false
	}
	switch pt := b[2]; {
	case pt == 0, pt == 2, pt == 3:
	case pt >= 11 && pt <= 19:
	default:
		return false
	}

	var length int
	if mode == LengthLegacy {
		length = int(b[8]) + int(b[9])*16
	} else {
		length = int(b[8]) | int(b[9])<<8
	}
	return length == len(b)
}
