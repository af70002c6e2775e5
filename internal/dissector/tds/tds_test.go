package tds

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqlnet/internal/core"
	"firestige.xyz/sqlnet/internal/reassembly"
	"firestige.xyz/sqlnet/internal/trace"
)

var (
	client = netip.MustParseAddrPort("10.0.0.20:50123")
	server = netip.MustParseAddrPort("10.0.0.5:1433")
)

func tdsPacket(typ byte, body []byte) []byte {
	b := make([]byte, reassembly.TDSHeaderLen, reassembly.TDSHeaderLen+len(body))
	b[0] = typ
	b[1] = 0x01
	binary.BigEndian.PutUint16(b[2:4], uint16(reassembly.TDSHeaderLen+len(body)))
	b[6] = 1
	return append(b, body...)
}

// prelogin builds VERSION and ENCRYPTION options followed by their data.
func prelogin(encryption byte) []byte {
	return []byte{
		0x00, 0x00, 0x0b, 0x00, 0x06,
		0x01, 0x00, 0x11, 0x00, 0x01,
		0xff,
		0x0f, 0x00, 0x07, 0xd0, 0x00, 0x00,
		encryption,
	}
}

func addConversation(tr *trace.Trace, dst netip.AddrPort, frames ...*trace.Frame) *trace.Conversation {
	c, _ := tr.Conversation(client, dst, trace.TransportTCP)
	for i, f := range frames {
		f.Number = uint32(i + 1)
		c.Frames = append(c.Frames, f)
	}
	return c
}

func fromClient(b []byte) *trace.Frame { return &trace.Frame{Payload: b, FromClient: true} }
func fromServer(b []byte) *trace.Frame { return &trace.Frame{Payload: b} }

func TestEncryption(t *testing.T) {
	resp := tdsPacket(reassembly.TDSTypeResponse, prelogin(EncryptReq))
	c := &trace.Conversation{}
	p, err := reassembly.New(c, []*trace.Frame{fromServer(resp[:12]), fromServer(resp[12:])})
	require.NoError(t, err)

	v, found, err := Encryption(p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, EncryptReq, v)

	noEnc := tdsPacket(reassembly.TDSTypeResponse, []byte{0x00, 0x00, 0x06, 0x00, 0x00, 0xff})
	p, _ = reassembly.New(c, []*trace.Frame{fromServer(noEnc)})
	_, found, err = Encryption(p)
	require.NoError(t, err)
	assert.False(t, found)

	bad := tdsPacket(reassembly.TDSTypeResponse, []byte{0x01, 0x10, 0x00, 0x00, 0x01, 0xff})
	p, _ = reassembly.New(c, []*trace.Frame{fromServer(bad)})
	_, _, err = Encryption(p)
	assert.True(t, errors.Is(err, core.ErrOutOfRange))
}

func TestDissect_EncryptedLogin(t *testing.T) {
	tr := trace.New()
	resp := tdsPacket(reassembly.TDSTypeResponse, prelogin(EncryptOn))
	c := addConversation(tr, server,
		&trace.Frame{FromClient: true, TCPFlags: trace.FlagSYN},
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
		fromServer(resp[:10]),
		fromServer(resp[10:]),
		fromClient([]byte{0x17, 0x03, 0x03}),
	)

	assert.Empty(t, New(nil).Dissect(tr))
	assert.True(t, c.IsEncrypted())

	s, ok := tr.SQLServers.Get(trace.NewServerKey(server.Addr(), 1433))
	require.True(t, ok)
	assert.Equal(t, uint16(1433), s.Port)
}

func TestDissect_UnencryptedLogin(t *testing.T) {
	tr := trace.New()
	c := addConversation(tr, server,
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
		fromServer(tdsPacket(reassembly.TDSTypeResponse, prelogin(EncryptNotSup))),
	)
	assert.Empty(t, New(nil).Dissect(tr))
	assert.False(t, c.IsEncrypted())
	assert.Equal(t, 1, tr.SQLServers.Len())
}

func TestDissect_DiscoveredPort(t *testing.T) {
	tr := trace.New()
	dst := netip.MustParseAddrPort("10.0.0.5:50000")
	key := trace.NewServerKey(dst.Addr(), dst.Port())
	tr.SQLServers.FindOrCreate(key, func() *trace.SQLServer { return trace.NewSQLServer(key) })
	c := addConversation(tr, dst,
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
		fromServer(tdsPacket(reassembly.TDSTypeResponse, prelogin(EncryptOn))),
	)

	assert.Empty(t, New([]uint16{1433}).Dissect(tr))
	assert.True(t, c.IsEncrypted())
}

func TestDissect_SkipsNonTDS(t *testing.T) {
	tr := trace.New()
	c := addConversation(tr, server,
		fromClient([]byte("GET / HTTP/1.1\r\n\r\n")),
		fromServer(tdsPacket(reassembly.TDSTypeResponse, prelogin(EncryptOn))),
	)
	other := addConversation(tr, netip.MustParseAddrPort("10.0.0.5:8080"),
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
	)
	truncated := addConversation(tr, netip.MustParseAddrPort("10.0.0.6:1433"),
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
	)
	truncated.Truncated = true

	assert.Empty(t, New(nil).Dissect(tr))
	assert.False(t, c.IsEncrypted())
	assert.False(t, other.IsEncrypted())
	assert.Equal(t, 0, tr.SQLServers.Len())
}

func TestDissect_MalformedPrelogin(t *testing.T) {
	tr := trace.New()
	addConversation(tr, server,
		fromClient(tdsPacket(reassembly.TDSTypePreLogin, prelogin(EncryptOff))),
		fromServer(tdsPacket(reassembly.TDSTypeResponse, []byte{0x01, 0x00, 0x40, 0x00, 0x01, 0xff})),
	)
	errs := New(nil).Dissect(tr)
	require.Len(t, errs, 1)
	assert.Equal(t, uint32(2), errs[0].Frame)
	assert.True(t, errors.Is(errs[0], core.ErrOutOfRange))
	assert.Equal(t, 1, tr.SQLServers.Len())
}
