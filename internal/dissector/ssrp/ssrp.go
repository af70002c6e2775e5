// Package ssrp dissects SQL Server Resolution Protocol (SQL Browser) traffic
// and records discovered browser endpoints and SQL Server instances.
package ssrp

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/dissector"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/trace"
)

// Name is the dissector name used in logs and metrics.
const Name = "ssrp"

// Port is the SQL Browser UDP port.
const Port uint16 = 1434

// DefaultSlowResponse is the latency at which a browser reply counts as slow.
const DefaultSlowResponse = 990 * time.Millisecond

// Message types, first payload byte.
const (
	TypeBroadcastRequest byte = 0x03
	TypeInstanceRequest  byte = 0x04
	TypeResponse         byte = 0x05
)

// Record is one server entry of a response body: alternating key and value tokens.
type Record []string

// Value returns the token following key, matched case-insensitively, or ""
// if the key is absent.
func (r Record) Value(key string) string {
	for i := 0; i+1 < len(r); i += 2 {
		if strings.EqualFold(r[i], key) {
			return r[i+1]
		}
	}
	return ""
}

// Info converts the record to the fields a discovered server carries.
func (r Record) Info() trace.ServerInfo {
	return trace.ServerInfo{
		HostName:     r.Value("ServerName"),
		InstanceName: r.Value("InstanceName"),
		IsClustered:  r.Value("IsClustered"),
		Version:      r.Value("Version"),
		NamedPipe:    r.Value("np"),
	}
}

// TCPPort returns the record's tcp port, or 0 when it is absent or invalid.
func (r Record) TCPPort() uint16 {
	p, err := strconv.ParseUint(r.Value("tcp"), 10, 16)
	if err != nil {
		return 0
	}
	return uint16(p)
}

// ParseResponseBody splits a response body into per-server records.
func ParseResponseBody(body string) []Record {
	var out []Record
	for _, s := range strings.Split(body, ";;") {
		if s == "" {
			continue
		}
		out = append(out, Record(strings.Split(s, ";")))
	}
	return out
}

// ParseInstanceRequest returns the instance name carried by a type 4 request.
func ParseInstanceRequest(b []byte) (string, error) {
	if len(b) < 3 {
		return "", fmt.Errorf("%w: %d bytes for instance request", core.ErrPacketTooShort, len(b))
	}
	n := int(b[1])
	if 3+n > len(b) {
		return "", fmt.Errorf("%w: instance name of %d bytes in %d byte payload", core.ErrBadLength, n, len(b))
	}
	return strings.TrimRight(string(b[3:3+n]), "\x00"), nil
}

// ParseResponse returns the body of a type 5 response.
func ParseResponse(b []byte) (string, error) {
	if len(b) < 3 {
		return "", fmt.Errorf("%w: %d bytes for browser response", core.ErrPacketTooShort, len(b))
	}
	n := int(binary.LittleEndian.Uint16(b[1:3]))
	if 3+n > len(b) {
		return "", fmt.Errorf("%w: response body of %d bytes in %d byte payload", core.ErrBadLength, n, len(b))
	}
	return string(b[3 : 3+n]), nil
}

// Dissector scans UDP conversations involving port 1434.
type Dissector struct {
	slow time.Duration
}

// New creates the SSRP dissector. A non-positive slow threshold selects
// DefaultSlowResponse.
func New(slow time.Duration) *Dissector {
	if slow <= 0 {
		slow = DefaultSlowResponse
	}
	return &Dissector{slow: slow}
}

// Name returns the dissector name.
func (d *Dissector) Name() string { return Name }

// Prepare turns conversations that were first seen from the server side so
// the browser is always the destination.
func (d *Dissector) Prepare(t *trace.Trace) {
	for _, c := range t.Conversations {
		if c.IsUDP() && c.SrcPort == Port && c.DstPort != Port {
			c.Reverse()
		}
	}
}

// Dissect walks every browser conversation.
func (d *Dissector) Dissect(t *trace.Trace) []dissector.FrameError {
	var errs []dissector.FrameError
	for _, c := range t.Conversations {
		if !c.IsUDP() || (c.SrcPort != Port && c.DstPort != Port) {
			continue
		}
		errs = append(errs, d.dissectConversation(t, c)...)
	}
	return errs
}

// exchange is the latency reference of one conversation.
type exchange struct {
	requestTime time.Time
}

func (d *Dissector) dissectConversation(t *trace.Trace, c *trace.Conversation) []dissector.FrameError {
	var (
		errs []dissector.FrameError
		x    exchange
	)
	for _, f := range c.Frames {
		if len(f.Payload) == 0 {
			continue
		}
		metrics.DissectorFramesTotal.WithLabelValues(Name).Inc()
		if err := d.dissectFrame(t, c, f, &x); err != nil {
			errs = append(errs, dissector.NewFrameError(Name, f, err))
		}
	}
	return errs
}

func (d *Dissector) dissectFrame(t *trace.Trace, c *trace.Conversation, f *trace.Frame, x *exchange) error {
	switch f.Payload[0] {
	case TypeBroadcastRequest:
		x.requestTime = time.Time{}

	case TypeInstanceRequest:
		x.requestTime = f.Timestamp
		ep := endpoint(t, c)
		if len(c.Frames) == 1 {
			ep.MarkNoResponse()
		}
		name, err := ParseInstanceRequest(f.Payload)
		if err != nil {
			return err
		}
		ep.SetInstanceName(name)

	case TypeResponse:
		ep := endpoint(t, c)
		if !x.requestTime.IsZero() && f.Timestamp.Sub(x.requestTime) >= d.slow {
			ep.MarkSlowResponse()
		}
		body, err := ParseResponse(f.Payload)
		if err != nil {
			return err
		}
		for _, r := range ParseResponseBody(body) {
			port := r.TCPPort()
			if port == 0 {
				continue
			}
			key := trace.NewServerKey(c.DstAddr, port)
			s, created := t.SQLServers.FindOrCreate(key, func() *trace.SQLServer {
				return trace.NewSQLServer(key)
			})
			if created {
				metrics.FindingsTotal.WithLabelValues(metrics.FindingSQLServer).Inc()
			}
			s.Merge(r.Info())
		}
		ep.MarkResponse()
	}
	return nil
}

func endpoint(t *trace.Trace, c *trace.Conversation) *trace.BrowserEndpoint {
	ep, created := t.Browsers.FindOrCreate(c.DstAddr, func() *trace.BrowserEndpoint {
		return trace.NewBrowserEndpoint(c.DstAddr)
	})
	if created {
		metrics.FindingsTotal.WithLabelValues(metrics.FindingBrowserEndpoint).Inc()
	}
	ep.Attach(c)
	return ep
}
