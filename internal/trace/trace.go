// Package trace holds the conversation model built from capture files and
// the findings dissectors report back into it.
package trace

import (
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/sqlnet/internal/core"
)

// CaptureFile describes one ingested capture file.
type CaptureFile struct {
	Path      string
	Format    string
	LinkType  core.LinkType
	Frames    int // Frames read from the file
	Skipped   int // Frames that did not decode to TCP/UDP
	FirstTime time.Time
	LastTime  time.Time
	Err       error // Fatal ingestion error, nil if the file was read to the end
}

// Trace is the analysis state for a set of capture files.
//
// Conversations and Files are written only while building. Dissectors may
// run concurrently afterwards; they append findings through the methods and
// registries below, which are safe for concurrent use.
type Trace struct {
	ID            string
	Files         []*CaptureFile
	Conversations []*Conversation

	index map[Key]*Conversation

	mu           sync.Mutex
	dnsExchanges []*DNSExchange

	DNSServers        *Registry[netip.Addr, *DNSServer]
	Browsers          *Registry[netip.Addr, *BrowserEndpoint]
	SQLServers        *Registry[ServerKey, *SQLServer]
	DomainControllers *Registry[netip.Addr, *DomainController]
}

// New creates an empty trace with a fresh run id.
func New() *Trace {
	return &Trace{
		ID:                uuid.NewString(),
		index:             make(map[Key]*Conversation),
		DNSServers:        NewRegistry[netip.Addr, *DNSServer](),
		Browsers:          NewRegistry[netip.Addr, *BrowserEndpoint](),
		SQLServers:        NewRegistry[ServerKey, *SQLServer](),
		DomainControllers: NewRegistry[netip.Addr, *DomainController](),
	}
}

// AddFile registers a capture file.
func (t *Trace) AddFile(f *CaptureFile) {
	t.Files = append(t.Files, f)
}

// Conversation returns the conversation for the 5-tuple in either direction,
// creating it with src as the client if absent.
func (t *Trace) Conversation(src, dst netip.AddrPort, transport uint8) (*Conversation, bool) {
	key := NewKey(src, dst, transport)
	if c, ok := t.index[key]; ok {
		return c, false
	}
	c := &Conversation{
		ID:        len(t.Conversations) + 1,
		SrcAddr:   src.Addr().Unmap(),
		DstAddr:   dst.Addr().Unmap(),
		SrcPort:   src.Port(),
		DstPort:   dst.Port(),
		Transport: transport,
		IsIPv6:    src.Addr().Is6() && !src.Addr().Is4In6(),
	}
	t.index[key] = c
	t.Conversations = append(t.Conversations, c)
	return c, true
}

// AddDNSExchange appends a DNS anomaly record.
func (t *Trace) AddDNSExchange(x *DNSExchange) {
	t.mu.Lock()
	t.dnsExchanges = append(t.dnsExchanges, x)
	t.mu.Unlock()
}

// DNSExchanges returns the DNS anomaly log in insertion order.
func (t *Trace) DNSExchanges() []*DNSExchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*DNSExchange, len(t.dnsExchanges))
	copy(out, t.dnsExchanges)
	return out
}
