// Package report renders the findings of an analyzed trace.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/sqlnet/internal/trace"
)

// Findings is the report document.
type Findings struct {
	TraceID           string             `json:"trace_id" yaml:"trace_id"`
	Files             []File             `json:"files" yaml:"files"`
	Conversations     int                `json:"conversations" yaml:"conversations"`
	DNSErrors         []DNSError         `json:"dns_errors,omitempty" yaml:"dns_errors,omitempty"`
	DNSServers        []DNSServer        `json:"dns_servers,omitempty" yaml:"dns_servers,omitempty"`
	Browsers          []Browser          `json:"browsers,omitempty" yaml:"browsers,omitempty"`
	SQLServers        []SQLServer        `json:"sql_servers,omitempty" yaml:"sql_servers,omitempty"`
	DomainControllers []DomainController `json:"domain_controllers,omitempty" yaml:"domain_controllers,omitempty"`
}

// File summarizes one capture file.
type File struct {
	Path    string    `json:"path" yaml:"path"`
	Format  string    `json:"format,omitempty" yaml:"format,omitempty"`
	Frames  int       `json:"frames" yaml:"frames"`
	Skipped int       `json:"skipped" yaml:"skipped"`
	First   time.Time `json:"first,omitzero" yaml:"first,omitempty"`
	Last    time.Time `json:"last,omitzero" yaml:"last,omitempty"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
}

type DNSError struct {
	Server        string    `json:"server" yaml:"server"`
	Client        string    `json:"client" yaml:"client"`
	Name          string    `json:"name" yaml:"name"`
	ResponseCode  uint8     `json:"response_code" yaml:"response_code"`
	Description   string    `json:"description" yaml:"description"`
	QuestionCount uint16    `json:"question_count" yaml:"question_count"`
	AnswerCount   uint16    `json:"answer_count" yaml:"answer_count"`
	File          string    `json:"file" yaml:"file"`
	Frame         uint32    `json:"frame" yaml:"frame"`
	Time          time.Time `json:"time" yaml:"time"`
}

type DNSServer struct {
	Address  string `json:"address" yaml:"address"`
	Requests int    `json:"requests" yaml:"requests"`
}

type Browser struct {
	Address         string   `json:"address" yaml:"address"`
	IPv6            bool     `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	Instance        string   `json:"instance,omitempty" yaml:"instance,omitempty"`
	HasResponse     bool     `json:"has_response" yaml:"has_response"`
	HasNoResponse   bool     `json:"has_no_response" yaml:"has_no_response"`
	HasSlowResponse bool     `json:"has_slow_response" yaml:"has_slow_response"`
	Conversations   []string `json:"conversations,omitempty" yaml:"conversations,omitempty"`
}

type SQLServer struct {
	Address     string `json:"address" yaml:"address"`
	Port        uint16 `json:"port" yaml:"port"`
	IPv6        bool   `json:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	HostName    string `json:"host_name,omitempty" yaml:"host_name,omitempty"`
	Instance    string `json:"instance,omitempty" yaml:"instance,omitempty"`
	IsClustered bool   `json:"is_clustered" yaml:"is_clustered"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
	NamedPipe   string `json:"named_pipe,omitempty" yaml:"named_pipe,omitempty"`
}

type DomainController struct {
	Address             string   `json:"address" yaml:"address"`
	DNSRequests         int      `json:"dns_requests" yaml:"dns_requests"`
	KerberosRequests    int      `json:"kerberos_requests" yaml:"kerberos_requests"`
	LDAPRequests        int      `json:"ldap_requests" yaml:"ldap_requests"`
	RPCPort             uint16   `json:"rpc_port,omitempty" yaml:"rpc_port,omitempty"`
	HasAmbiguousRPCPort bool     `json:"has_ambiguous_rpc_port,omitempty" yaml:"has_ambiguous_rpc_port,omitempty"`
	Conversations       []string `json:"conversations,omitempty" yaml:"conversations,omitempty"`
}

// Build collects the findings of t. Records keep discovery order.
func Build(t *trace.Trace) Findings {
	f := Findings{TraceID: t.ID, Conversations: len(t.Conversations)}

	for _, cf := range t.Files {
		file := File{
			Path:    cf.Path,
			Format:  cf.Format,
			Frames:  cf.Frames,
			Skipped: cf.Skipped,
			First:   cf.FirstTime,
			Last:    cf.LastTime,
		}
		if cf.Err != nil {
			file.Error = cf.Err.Error()
		}
		f.Files = append(f.Files, file)
	}

	for _, x := range t.DNSExchanges() {
		f.DNSErrors = append(f.DNSErrors, DNSError{
			Server:        addr(x.ServerAddress),
			Client:        addr(x.ClientAddress),
			Name:          x.QuestionName,
			ResponseCode:  uint8(x.ResponseCode),
			Description:   x.Description,
			QuestionCount: x.QuestionCount,
			AnswerCount:   x.AnswerCount,
			File:          x.File,
			Frame:         x.FrameNumber,
			Time:          x.Timestamp,
		})
	}

	for _, s := range t.DNSServers.Values() {
		f.DNSServers = append(f.DNSServers, DNSServer{Address: addr(s.Address), Requests: s.Requests()})
	}

	for _, b := range t.Browsers.Values() {
		st := b.Snapshot()
		f.Browsers = append(f.Browsers, Browser{
			Address:         addr(st.Address),
			IPv6:            st.IsIPv6,
			Instance:        st.InstanceName,
			HasResponse:     st.HasResponse,
			HasNoResponse:   st.HasNoResponse,
			HasSlowResponse: st.HasSlowResponse,
			Conversations:   conversations(st.Conversations),
		})
	}

	for _, s := range t.SQLServers.Values() {
		st := s.Snapshot()
		f.SQLServers = append(f.SQLServers, SQLServer{
			Address:     addr(st.Address),
			Port:        st.Port,
			IPv6:        st.IsIPv6,
			HostName:    st.HostName,
			Instance:    st.InstanceName,
			IsClustered: st.IsClustered,
			Version:     st.Version,
			NamedPipe:   st.NamedPipe,
		})
	}

	for _, d := range t.DomainControllers.Values() {
		st := d.Snapshot()
		f.DomainControllers = append(f.DomainControllers, DomainController{
			Address:             addr(st.Address),
			DNSRequests:         st.DNSRequests,
			KerberosRequests:    st.KerberosRequests,
			LDAPRequests:        st.LDAPRequests,
			RPCPort:             st.RPCPort,
			HasAmbiguousRPCPort: st.HasAmbiguousRPCPort,
			Conversations:       conversations(st.Conversations),
		})
	}

	return f
}

func addr(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

func conversations(cs []*trace.Conversation) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

// Write encodes f to w as yaml or json.
func Write(w io.Writer, f Findings, format string) error {
	switch strings.ToLower(format) {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported report format: %s (must be yaml or json)", format)
	}
}
