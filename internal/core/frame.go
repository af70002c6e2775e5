// Package core defines core data structures with zero external dependencies.
package core

import "time"

// LinkType identifies the link-layer encapsulation of a frame.
type LinkType uint16

// Link types carried by capture containers. Only Ethernet is decoded downstream.
const (
	LinkTypeNull     LinkType = 0
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
	LinkTypeLinuxSLL LinkType = 113
)

// TickDuration is the timestamp resolution of a RawFrame.
const TickDuration = 100 * time.Nanosecond

// RawFrame is one physical record read from a capture container.
// CapturedLength may be smaller than OriginalLength for truncated captures.
type RawFrame struct {
	SequenceNumber uint32    // 1-based position within its capture file
	CapturedLength uint32    // Bytes present in Data
	OriginalLength uint32    // Length of the frame on the wire
	Timestamp      time.Time // UTC, 100ns resolution
	LinkType       LinkType
	Data           []byte
}

// Truncated reports whether fewer bytes were captured than were on the wire.
func (f *RawFrame) Truncated() bool {
	return f.CapturedLength < f.OriginalLength
}

// Ticks returns t as 100ns ticks since the Unix epoch.
func Ticks(t time.Time) int64 {
	return t.UnixNano() / int64(TickDuration)
}
