package trace

import (
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

// DNSServer is an address observed receiving DNS requests.
type DNSServer struct {
	Address netip.Addr

	mu       sync.Mutex
	requests int
}

// CountRequest records one request sent to the server.
func (s *DNSServer) CountRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

// Requests returns the number of requests observed.
func (s *DNSServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// DNSExchange is a DNS response that carried an error code.
// Successful lookups are not recorded.
type DNSExchange struct {
	ServerAddress netip.Addr
	ClientAddress netip.Addr
	QuestionName  string
	QuestionCount uint16
	AnswerCount   uint16
	ResponseCode  layers.DNSResponseCode
	Description   string
	FrameNumber   uint32
	File          string
	Timestamp     time.Time
	Conversation  *Conversation
}

// BrowserEndpoint is the SQL Browser discovery state for one target address.
type BrowserEndpoint struct {
	Address netip.Addr
	IsIPv6  bool

	mu              sync.Mutex
	instanceName    string
	hasResponse     bool
	hasNoResponse   bool
	hasSlowResponse bool
	conversations   ConversationSet
}

// NewBrowserEndpoint creates the discovery record for addr.
func NewBrowserEndpoint(addr netip.Addr) *BrowserEndpoint {
	return &BrowserEndpoint{Address: addr, IsIPv6: addr.Is6() && !addr.Is4In6()}
}

// SetInstanceName records the requested instance if none is known yet.
func (b *BrowserEndpoint) SetInstanceName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.instanceName == "" {
		b.instanceName = name
	}
}

// MarkResponse records that the browser answered.
func (b *BrowserEndpoint) MarkResponse() {
	b.mu.Lock()
	b.hasResponse = true
	b.mu.Unlock()
}

// MarkNoResponse records a request that was never answered.
func (b *BrowserEndpoint) MarkNoResponse() {
	b.mu.Lock()
	b.hasNoResponse = true
	b.mu.Unlock()
}

// MarkSlowResponse records a response slower than the configured threshold.
func (b *BrowserEndpoint) MarkSlowResponse() {
	b.mu.Lock()
	b.hasSlowResponse = true
	b.mu.Unlock()
}

// Attach adds a browser conversation to the endpoint.
func (b *BrowserEndpoint) Attach(c *Conversation) {
	b.mu.Lock()
	b.conversations.Add(c)
	b.mu.Unlock()
}

// BrowserState is a consistent copy of a BrowserEndpoint.
type BrowserState struct {
	Address         netip.Addr
	IsIPv6          bool
	InstanceName    string
	HasResponse     bool
	HasNoResponse   bool
	HasSlowResponse bool
	Conversations   []*Conversation
}

// Snapshot returns a copy of the endpoint state.
func (b *BrowserEndpoint) Snapshot() BrowserState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BrowserState{
		Address:         b.Address,
		IsIPv6:          b.IsIPv6,
		InstanceName:    b.instanceName,
		HasResponse:     b.hasResponse,
		HasNoResponse:   b.hasNoResponse,
		HasSlowResponse: b.hasSlowResponse,
		Conversations:   b.conversations.List(),
	}
}

// ServerKey identifies a SQL Server endpoint.
type ServerKey struct {
	Address netip.Addr
	Port    uint16
	IsIPv6  bool
}

// NewServerKey normalizes addr and derives the IP version from it.
func NewServerKey(addr netip.Addr, port uint16) ServerKey {
	addr = addr.Unmap()
	return ServerKey{Address: addr, Port: port, IsIPv6: addr.Is6()}
}

// ServerInfo is what one discovery exchange says about a server.
// Empty fields carry no information.
type ServerInfo struct {
	HostName     string
	InstanceName string
	IsClustered  string // "Yes" or "No" as sent by the browser
	Version      string
	NamedPipe    string
}

// SQLServer is a discovered SQL Server endpoint. Fields are filled first-write-wins
// since repeated discovery exchanges may each describe it partially.
type SQLServer struct {
	ServerKey

	mu             sync.Mutex
	hostName       string
	instanceName   string
	isClustered    bool
	clusteredKnown bool
	version        string
	namedPipe      string
}

// NewSQLServer creates the record for key.
func NewSQLServer(key ServerKey) *SQLServer {
	return &SQLServer{ServerKey: key}
}

// Merge back-fills fields that are still empty.
func (s *SQLServer) Merge(info ServerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill(&s.hostName, info.HostName)
	fill(&s.instanceName, info.InstanceName)
	fill(&s.version, info.Version)
	fill(&s.namedPipe, info.NamedPipe)
	if !s.clusteredKnown && info.IsClustered != "" {
		s.isClustered = strings.EqualFold(info.IsClustered, "Yes")
		s.clusteredKnown = true
	}
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// SQLServerState is a consistent copy of a SQLServer.
type SQLServerState struct {
	ServerKey
	HostName     string
	InstanceName string
	IsClustered  bool
	Version      string
	NamedPipe    string
}

// Snapshot returns a copy of the server record.
func (s *SQLServer) Snapshot() SQLServerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SQLServerState{
		ServerKey:    s.ServerKey,
		HostName:     s.hostName,
		InstanceName: s.instanceName,
		IsClustered:  s.isClustered,
		Version:      s.version,
		NamedPipe:    s.namedPipe,
	}
}

// Well-known domain controller ports.
const (
	PortDNS      uint16 = 53
	PortKerberos uint16 = 88
	PortLDAP     uint16 = 389
)

// DomainController is an address seen answering DNS, Kerberos or LDAP.
type DomainController struct {
	Address netip.Addr

	mu                  sync.Mutex
	dnsRequests         int
	kerberosRequests    int
	ldapRequests        int
	conversations       ConversationSet
	rpcPort             uint16
	hasAmbiguousRPCPort bool
}

// NewDomainController creates the record for addr.
func NewDomainController(addr netip.Addr) *DomainController {
	return &DomainController{Address: addr}
}

// CountRequest increments the counter matching a well-known destination port.
func (d *DomainController) CountRequest(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch port {
	case PortDNS:
		d.dnsRequests++
	case PortKerberos:
		d.kerberosRequests++
	case PortLDAP:
		d.ldapRequests++
	}
}

// Attach adds c to the controller's conversations and reports whether it was new.
func (d *DomainController) Attach(c *Conversation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conversations.Add(c)
}

// Conversations returns the attached conversations in attach order.
func (d *DomainController) Conversations() []*Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conversations.List()
}

// ObserveRPCPort adopts port as the RPC port, or flags ambiguity when a
// different port was adopted before.
func (d *DomainController) ObserveRPCPort(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.rpcPort == 0:
		d.rpcPort = port
	case d.rpcPort != port:
		d.hasAmbiguousRPCPort = true
	}
}

// DomainControllerState is a consistent copy of a DomainController.
type DomainControllerState struct {
	Address             netip.Addr
	DNSRequests         int
	KerberosRequests    int
	LDAPRequests        int
	Conversations       []*Conversation
	RPCPort             uint16 // 0 when no RPC traffic was recognized
	HasAmbiguousRPCPort bool
}

// Snapshot returns a copy of the controller record.
func (d *DomainController) Snapshot() DomainControllerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DomainControllerState{
		Address:             d.Address,
		DNSRequests:         d.dnsRequests,
		KerberosRequests:    d.kerberosRequests,
		LDAPRequests:        d.ldapRequests,
		Conversations:       d.conversations.List(),
		RPCPort:             d.rpcPort,
		HasAmbiguousRPCPort: d.hasAmbiguousRPCPort,
	}
}
