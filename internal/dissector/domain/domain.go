// Package domain classifies domain controllers by the well-known services
// they answer and locates the RPC endpoint they expose.
package domain

import (
	"firestige.xyz/sqlnet/internal/dissector"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/trace"
)

// Name is the dissector name used in logs and metrics.
const Name = "domain"

// minRPCPort is the lowest destination port scanned for MSRPC traffic.
const minRPCPort = 1000

// Dissector runs the domain controller passes.
type Dissector struct {
	mode LengthMode
}

// New creates the domain controller dissector.
func New(mode LengthMode) *Dissector {
	return &Dissector{mode: mode}
}

// Name returns the dissector name.
func (d *Dissector) Name() string { return Name }

// Dissect classifies domain controllers. Signature mismatches are not
// failures, so no frame errors are produced.
func (d *Dissector) Dissect(t *trace.Trace) []dissector.FrameError {
	d.classify(t)
	d.attach(t)
	d.findRPCPorts(t)
	return nil
}

// classify registers destinations of DNS, Kerberos and LDAP conversations.
func (d *Dissector) classify(t *trace.Trace) {
	for _, c := range t.Conversations {
		switch c.DstPort {
		case trace.PortDNS, trace.PortKerberos, trace.PortLDAP:
		default:
			continue
		}
		dc, created := t.DomainControllers.FindOrCreate(c.DstAddr, func() *trace.DomainController {
			return trace.NewDomainController(c.DstAddr)
		})
		if created {
			metrics.FindingsTotal.WithLabelValues(metrics.FindingDomainController).Inc()
		}
		dc.CountRequest(c.DstPort)
	}
}

// attach assigns every conversation addressed to a known controller to it,
// whatever its port.
func (d *Dissector) attach(t *trace.Trace) {
	if t.DomainControllers.Len() == 0 {
		return
	}
	for _, c := range t.Conversations {
		if dc, ok := t.DomainControllers.Get(c.DstAddr); ok {
			dc.Attach(c)
		}
	}
}

// findRPCPorts adopts the port of the first high-port TCP conversation per
// controller carrying an MSRPC header.
func (d *Dissector) findRPCPorts(t *trace.Trace) {
	for _, dc := range t.DomainControllers.Values() {
		for _, c := range dc.Conversations() {
			if !c.IsTCP() || c.DstPort <= minRPCPort {
				continue
			}
			for _, f := range c.Frames {
				if len(f.Payload) == 0 {
					continue
				}
				metrics.DissectorFramesTotal.WithLabelValues(Name).Inc()
				if IsMSRPC(f.Payload, d.mode) {
					dc.ObserveRPCPort(c.DstPort)
					metrics.FindingsTotal.WithLabelValues(metrics.FindingRPCPort).Inc()
					break
				}
			}
		}
	}
}
