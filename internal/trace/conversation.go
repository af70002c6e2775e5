package trace

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Transport protocol numbers.
const (
	TransportTCP uint8 = 6
	TransportUDP uint8 = 17
)

// TCP flag bits as carried in Frame.TCPFlags.
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Key identifies a conversation independently of direction.
type Key struct {
	Lo, Hi    netip.AddrPort
	Transport uint8
}

// NewKey orders the two endpoints so both directions map to the same key.
func NewKey(a, b netip.AddrPort, transport uint8) Key {
	a = netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
	b = netip.AddrPortFrom(b.Addr().Unmap(), b.Port())
	if compareAddrPort(a, b) > 0 {
		a, b = b, a
	}
	return Key{Lo: a, Hi: b, Transport: transport}
}

// compareAddrPort orders by address then port, matching netip.AddrPort.Compare
// (Go 1.22+), which is unavailable on the Go 1.21 toolchain.
func compareAddrPort(a, b netip.AddrPort) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	switch {
	case a.Port() < b.Port():
		return -1
	case a.Port() > b.Port():
		return 1
	}
	return 0
}

// Frame is one link-layer frame attributed to a conversation.
type Frame struct {
	Number         uint32 // Sequence number within File
	File           *CaptureFile
	Timestamp      time.Time
	CapturedLength uint32
	OriginalLength uint32
	Payload        []byte // Transport payload
	FromClient     bool
	TCPFlags       uint8
	Seq            uint32
	IsRetransmit   bool
}

// FileName returns the path of the capture file the frame came from.
func (f *Frame) FileName() string {
	if f.File == nil {
		return ""
	}
	return f.File.Path
}

// Conversation is a flow of frames sharing one transport 5-tuple.
// Src is the client side and Dst the server side.
type Conversation struct {
	ID        int
	SrcAddr   netip.Addr
	DstAddr   netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Transport uint8
	IsIPv6    bool
	Frames    []*Frame
	Truncated bool

	mu        sync.Mutex
	encrypted bool
}

// IsUDP reports whether the conversation is carried over UDP.
func (c *Conversation) IsUDP() bool { return c.Transport == TransportUDP }

// IsTCP reports whether the conversation is carried over TCP.
func (c *Conversation) IsTCP() bool { return c.Transport == TransportTCP }

// Reverse swaps the client and server roles.
func (c *Conversation) Reverse() {
	c.SrcAddr, c.DstAddr = c.DstAddr, c.SrcAddr
	c.SrcPort, c.DstPort = c.DstPort, c.SrcPort
	for _, f := range c.Frames {
		f.FromClient = !f.FromClient
	}
}

// SetEncrypted records that the conversation negotiated encryption.
func (c *Conversation) SetEncrypted(v bool) {
	c.mu.Lock()
	c.encrypted = v
	c.mu.Unlock()
}

// IsEncrypted reports whether the conversation negotiated encryption.
func (c *Conversation) IsEncrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

// String formats the conversation as "proto src:port -> dst:port".
func (c *Conversation) String() string {
	proto := "tcp"
	if c.IsUDP() {
		proto = "udp"
	}
	return fmt.Sprintf("%s %s -> %s", proto,
		netip.AddrPortFrom(c.SrcAddr, c.SrcPort), netip.AddrPortFrom(c.DstAddr, c.DstPort))
}

// ConversationSet is an insertion-ordered set of conversations.
// It is not safe for concurrent use; owners guard it with their own lock.
type ConversationSet struct {
	ids   map[int]struct{}
	items []*Conversation
}

// Add inserts c and reports whether it was absent.
func (s *ConversationSet) Add(c *Conversation) bool {
	if s.ids == nil {
		s.ids = make(map[int]struct{})
	}
	if _, ok := s.ids[c.ID]; ok {
		return false
	}
	s.ids[c.ID] = struct{}{}
	s.items = append(s.items, c)
	return true
}

// Contains reports whether c is in the set.
func (s *ConversationSet) Contains(c *Conversation) bool {
	_, ok := s.ids[c.ID]
	return ok
}

// Len returns the number of conversations.
func (s *ConversationSet) Len() int { return len(s.items) }

// List returns the conversations in insertion order.
func (s *ConversationSet) List() []*Conversation {
	out := make([]*Conversation, len(s.items))
	copy(out, s.items)
	return out
}
