package trace

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_FindOrCreate(t *testing.T) {
	r := NewRegistry[string, *int]()

	calls := 0
	create := func() *int {
		calls++
		v := calls
		return &v
	}

	a, created := r.FindOrCreate("a", create)
	assert.True(t, created)
	again, created := r.FindOrCreate("a", create)
	assert.False(t, created)
	assert.Same(t, a, again)

	r.FindOrCreate("b", create)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, r.Len())

	vals := r.Values()
	require.Len(t, vals, 2)
	assert.Equal(t, 1, *vals[0])
	assert.Equal(t, 2, *vals[1])

	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentFindOrCreate(t *testing.T) {
	r := NewRegistry[netip.Addr, *DomainController]()
	addr := netip.MustParseAddr("10.1.1.1")

	var wg sync.WaitGroup
	results := make([]*DomainController, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.FindOrCreate(addr, func() *DomainController { return NewDomainController(addr) })
			results[i].CountRequest(PortLDAP)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	for _, dc := range results {
		assert.Same(t, results[0], dc)
	}
	assert.Equal(t, 32, results[0].Snapshot().LDAPRequests)
}

func TestSQLServer_MergeFirstWriteWins(t *testing.T) {
	s := NewSQLServer(NewServerKey(netip.MustParseAddr("10.0.0.5"), 1433))

	s.Merge(ServerInfo{HostName: "HOST1", InstanceName: "SQLEXPRESS", IsClustered: "No", Version: "15.0.2000.5"})
	s.Merge(ServerInfo{HostName: "OTHER", IsClustered: "Yes", NamedPipe: `\\HOST1\pipe\sql\query`})

	st := s.Snapshot()
	assert.Equal(t, "HOST1", st.HostName)
	assert.Equal(t, "SQLEXPRESS", st.InstanceName)
	assert.False(t, st.IsClustered)
	assert.Equal(t, "15.0.2000.5", st.Version)
	assert.Equal(t, `\\HOST1\pipe\sql\query`, st.NamedPipe)
}

func TestServerKey_Normalizes(t *testing.T) {
	mapped := NewServerKey(netip.MustParseAddr("::ffff:10.0.0.5"), 1433)
	plain := NewServerKey(netip.MustParseAddr("10.0.0.5"), 1433)
	assert.Equal(t, plain, mapped)
	assert.False(t, plain.IsIPv6)
	assert.True(t, NewServerKey(netip.MustParseAddr("fe80::1"), 1433).IsIPv6)
}

func TestDomainController_RPCPort(t *testing.T) {
	dc := NewDomainController(netip.MustParseAddr("10.0.0.10"))

	dc.ObserveRPCPort(49152)
	dc.ObserveRPCPort(49152)
	st := dc.Snapshot()
	assert.Equal(t, uint16(49152), st.RPCPort)
	assert.False(t, st.HasAmbiguousRPCPort)

	dc.ObserveRPCPort(49153)
	st = dc.Snapshot()
	assert.Equal(t, uint16(49152), st.RPCPort)
	assert.True(t, st.HasAmbiguousRPCPort)
}

func TestBrowserEndpoint_State(t *testing.T) {
	b := NewBrowserEndpoint(netip.MustParseAddr("10.0.0.7"))
	c := &Conversation{ID: 3}

	b.SetInstanceName("SQLEXPRESS")
	b.SetInstanceName("OTHER")
	b.Attach(c)
	b.Attach(c)
	b.MarkResponse()
	b.MarkSlowResponse()

	st := b.Snapshot()
	assert.Equal(t, "SQLEXPRESS", st.InstanceName)
	assert.True(t, st.HasResponse)
	assert.True(t, st.HasSlowResponse)
	assert.False(t, st.HasNoResponse)
	assert.Len(t, st.Conversations, 1)
}
