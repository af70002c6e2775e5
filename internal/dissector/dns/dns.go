// Package dns records DNS responses that carried an error code.
package dns

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/dissector"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/trace"
)

// Name is the dissector name used in logs and metrics.
const Name = "dns"

const (
	headerLen     = 12
	maxLabelLen   = 63
	maxNameLength = 255
)

// descriptions maps every 4-bit response code to a human readable text.
var descriptions = [16]string{
	"No error.",
	"The name server was unable to interpret the query.",
	"The name server was unable to process this query due to a problem with the name server.",
	"A name that should exist does not exist.",
	"The name server does not support the requested kind of query.",
	"The name server refuses to perform the specified operation for policy reasons.",
	"A name that should not exist does exist.",
	"A resource record set that should not exist does exist.",
	"A resource record set that should exist does not exist.",
	"The server is not authoritative for the zone named in the Zone section.",
	"A name used in the Prerequisite or Update section is not within the zone.",
	"Invalid response code.",
	"Invalid response code.",
	"Invalid response code.",
	"Invalid response code.",
	"Reserved.",
}

// Describe returns the description of a response code. Only the low four
// bits are significant.
func Describe(code layers.DNSResponseCode) string {
	return descriptions[code&0x0f]
}

// Header is the part of the DNS message header this dissector keeps.
type Header struct {
	IsResponse    bool
	ResponseCode  layers.DNSResponseCode
	QuestionCount uint16
	AnswerCount   uint16
}

// ParseHeader decodes the fixed 12-byte DNS header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("%w: %d bytes for DNS header", core.ErrPacketTooShort, len(b))
	}
	return Header{
		IsResponse:    b[2]&0x80 != 0,
		ResponseCode:  layers.DNSResponseCode(b[3] & 0x0f),
		QuestionCount: binary.BigEndian.Uint16(b[4:6]),
		AnswerCount:   binary.BigEndian.Uint16(b[6:8]),
	}, nil
}

// ParseName decodes a sequence of length-prefixed labels starting at offset,
// terminated by a zero-length label, and joins them with dots.
func ParseName(b []byte, offset int) (string, error) {
	var labels []string
	total := 0
	for {
		if offset >= len(b) {
			return "", fmt.Errorf("%w: name runs past end of payload", core.ErrPacketTooShort)
		}
		n := int(b[offset])
		offset++
		if n == 0 {
			return strings.Join(labels, "."), nil
		}
		if n > maxLabelLen {
			return "", fmt.Errorf("%w: label length byte 0x%02x", core.ErrMalformedName, n)
		}
		if offset+n > len(b) {
			return "", fmt.Errorf("%w: label of %d bytes runs past end of payload", core.ErrPacketTooShort, n)
		}
		total += n + 1
		if total > maxNameLength {
			return "", fmt.Errorf("%w: name longer than %d bytes", core.ErrMalformedName, maxNameLength)
		}
		labels = append(labels, string(b[offset:offset+n]))
		offset += n
	}
}

// Dissector scans UDP conversations to port 53.
type Dissector struct{}

// New creates the DNS dissector.
func New() *Dissector {
	return &Dissector{}
}

// Name returns the dissector name.
func (d *Dissector) Name() string { return Name }

// Dissect records every DNS response with a non-success code.
func (d *Dissector) Dissect(t *trace.Trace) []dissector.FrameError {
	var errs []dissector.FrameError
	for _, c := range t.Conversations {
		if !c.IsUDP() || c.DstPort != trace.PortDNS {
			continue
		}
		for _, f := range c.Frames {
			if len(f.Payload) == 0 {
				continue
			}
			metrics.DissectorFramesTotal.WithLabelValues(Name).Inc()
			if err := d.dissectFrame(t, c, f); err != nil {
				errs = append(errs, dissector.NewFrameError(Name, f, err))
			}
		}
	}
	return errs
}

func (d *Dissector) dissectFrame(t *trace.Trace, c *trace.Conversation, f *trace.Frame) error {
	h, err := ParseHeader(f.Payload)
	if err != nil {
		return err
	}

	if !h.IsResponse {
		server, _ := t.DNSServers.FindOrCreate(c.DstAddr, func() *trace.DNSServer {
			return &trace.DNSServer{Address: c.DstAddr}
		})
		server.CountRequest()
		return nil
	}

	if h.ResponseCode == layers.DNSResponseCodeNoErr {
		return nil
	}

	var name string
	if h.QuestionCount > 0 {
		if name, err = ParseName(f.Payload, headerLen); err != nil {
			return err
		}
	}

	t.AddDNSExchange(&trace.DNSExchange{
		ServerAddress: c.DstAddr,
		ClientAddress: c.SrcAddr,
		QuestionName:  name,
		QuestionCount: h.QuestionCount,
		AnswerCount:   h.AnswerCount,
		ResponseCode:  h.ResponseCode,
		Description:   Describe(h.ResponseCode),
		FrameNumber:   f.Number,
		File:          f.FileName(),
		Timestamp:     f.Timestamp,
		Conversation:  c,
	})
	metrics.FindingsTotal.WithLabelValues(metrics.FindingDNSError).Inc()
	return nil
}
