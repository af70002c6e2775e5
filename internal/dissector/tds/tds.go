// Package tds probes TCP conversations for TDS traffic, registers the SQL
// Servers it finds and records whether the login was encrypted.
package tds

import (
	"fmt"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/dissector"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/reassembly"
	"firestige.xyz/sqlnet/internal/trace"
)

// Name is the dissector name used in logs and metrics.
const Name = "tds"

// DefaultPort is the default SQL Server TCP port.
const DefaultPort uint16 = 1433

// PRELOGIN option tokens and ENCRYPTION values.
const (
	optionEncryption byte = 0x01
	optionTerminator byte = 0xff

	EncryptOff    byte = 0x00
	EncryptOn     byte = 0x01
	EncryptNotSup byte = 0x02
	EncryptReq    byte = 0x03
)

// Dissector probes conversations to configured and discovered SQL ports.
// Discovered ports are read from the trace when Dissect starts, so it must
// run after the browser dissector.
type Dissector struct {
	ports []uint16
}

// New creates the probe for the given ports.
func New(ports []uint16) *Dissector {
	if len(ports) == 0 {
		ports = []uint16{DefaultPort}
	}
	return &Dissector{ports: ports}
}

// Name returns the dissector name.
func (d *Dissector) Name() string { return Name }

func (d *Dissector) portSet(t *trace.Trace) map[uint16]struct{} {
	set := make(map[uint16]struct{}, len(d.ports))
	for _, p := range d.ports {
		set[p] = struct{}{}
	}
	for _, s := range t.SQLServers.Values() {
		set[s.Port] = struct{}{}
	}
	return set
}

// Dissect probes every untruncated TCP conversation to a SQL port.
func (d *Dissector) Dissect(t *trace.Trace) []dissector.FrameError {
	var errs []dissector.FrameError
	ports := d.portSet(t)
	for _, c := range t.Conversations {
		if !c.IsTCP() || c.Truncated || len(c.Frames) == 0 {
			continue
		}
		if _, ok := ports[c.DstPort]; !ok {
			continue
		}
		if err := d.probe(t, c); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func (d *Dissector) probe(t *trace.Trace, c *trace.Conversation) *dissector.FrameError {
	packets, err := reassembly.Split(c)
	if err != nil {
		fe := dissector.NewFrameError(Name, c.Frames[0], err)
		return &fe
	}

	var login *reassembly.Packet
	for i, p := range packets {
		metrics.DissectorFramesTotal.WithLabelValues(Name).Add(float64(len(p.Frames())))
		if !p.IsFromClient() {
			continue
		}
		h, ok := p.Header()
		if !ok {
			return nil
		}
		switch h.Type {
		case reassembly.TDSTypePreLogin, reassembly.TDSTypeLogin7, reassembly.TDSTypeSQLBatch:
		default:
			return nil
		}
		register(t, c)
		if h.Type == reassembly.TDSTypePreLogin && i+1 < len(packets) {
			login = packets[i+1]
		}
		break
	}
	if login == nil || login.IsFromClient() {
		return nil
	}
	if h, ok := login.Header(); !ok || h.Type != reassembly.TDSTypeResponse {
		return nil
	}

	enc, found, err := Encryption(login)
	if err != nil {
		fe := dissector.NewFrameError(Name, login.Frames()[0], err)
		return &fe
	}
	if found && (enc == EncryptOn || enc == EncryptReq) {
		c.SetEncrypted(true)
	}
	return nil
}

func register(t *trace.Trace, c *trace.Conversation) {
	key := trace.NewServerKey(c.DstAddr, c.DstPort)
	_, created := t.SQLServers.FindOrCreate(key, func() *trace.SQLServer {
		return trace.NewSQLServer(key)
	})
	if created {
		metrics.FindingsTotal.WithLabelValues(metrics.FindingSQLServer).Inc()
	}
}

// Encryption reads the ENCRYPTION option of a PRELOGIN message. Options are
// five-byte entries (token, big-endian offset, big-endian length) after the
// packet header, terminated by 0xff. Offsets are relative to the option data.
func Encryption(p *reassembly.Packet) (byte, bool, error) {
	at := func(i int) (byte, error) { return p.PayloadByte(reassembly.TDSHeaderLen + i) }
	u16 := func(i int) (int, error) {
		hi, err := at(i)
		if err != nil {
			return 0, err
		}
		lo, err := at(i + 1)
		if err != nil {
			return 0, err
		}
		return int(hi)<<8 | int(lo), nil
	}

	for i := 0; ; i += 5 {
		token, err := at(i)
		if err != nil {
			return 0, false, err
		}
		if token == optionTerminator {
			return 0, false, nil
		}
		if token != optionEncryption {
			continue
		}
		offset, err := u16(i + 1)
		if err != nil {
			return 0, false, err
		}
		length, err := u16(i + 3)
		if err != nil {
			return 0, false, err
		}
		if length < 1 {
			return 0, false, fmt.Errorf("%w: ENCRYPTION option of length %d", core.ErrBadLength, length)
		}
		v, err := at(offset)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	}
}
