package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqlnet/internal/core"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want string
	}{
		{"pcap native micros", []byte{0xd4, 0xc3, 0xb2, 0xa1}, "pcap"},
		{"pcap swapped micros", []byte{0xa1, 0xb2, 0xc3, 0xd4}, "pcap"},
		{"pcap native nanos", []byte{0x4d, 0x3c, 0xb2, 0xa1}, "pcap"},
		{"pcap swapped nanos", []byte{0xa1, 0xb2, 0x3c, 0x4d}, "pcap"},
		{"pcapng", []byte{0x0a, 0x0d, 0x0d, 0x0a}, "pcapng"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Detect(tt.head)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Name)
		})
	}

	_, err := Detect([]byte{0x7f, 'E', 'L', 'F'})
	assert.True(t, errors.Is(err, core.ErrUnrecognizedFormat))

	_, err = Detect([]byte{0xd4})
	assert.True(t, errors.Is(err, core.ErrUnrecognizedFormat))
}

func TestNewReader_EmptyStream(t *testing.T) {
	_, _, err := NewReader(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, core.ErrUnrecognizedFormat))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.pcap")
	data := buildPcap(pcapMagicMicrosSwapped, binary.BigEndian, []testRecord{
		{seconds: 5, fraction: 1, data: []byte{0xaa, 0xbb}},
	})
	require.NoError(t, os.WriteFile(path, data, 0644))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "pcap", src.Format)
	assert.Equal(t, path, src.Path)

	frames := readAll(t, src)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xaa, 0xbb}, frames[0].Data)

	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.pcap"))
	assert.Error(t, err)

	bogus := filepath.Join(dir, "bogus.cap")
	require.NoError(t, os.WriteFile(bogus, []byte("not a capture file"), 0644))
	_, err = Open(bogus)
	assert.True(t, errors.Is(err, core.ErrUnrecognizedFormat))
}

func TestPcapngReader(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)

	stamps := []time.Time{
		time.Date(2023, 6, 1, 8, 30, 0, 1_000, time.UTC),
		time.Date(2023, 6, 1, 8, 30, 1, 500_000, time.UTC),
	}
	payloads := [][]byte{{1, 2, 3}, {4, 5, 6, 7}}
	for i := range stamps {
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     stamps[i],
			CaptureLength: len(payloads[i]),
			Length:        len(payloads[i]) + 10,
		}, payloads[i]))
	}
	require.NoError(t, w.Flush())

	rd, f, err := NewReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, "pcapng", f.Name)
	assert.Equal(t, core.LinkTypeEthernet, rd.LinkType())

	var frames []*core.RawFrame
	for {
		fr, err := rd.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, fr)
	}
	require.Len(t, frames, 2)
	for i, fr := range frames {
		assert.Equal(t, uint32(i+1), fr.SequenceNumber)
		assert.True(t, stamps[i].Equal(fr.Timestamp), "want %v got %v", stamps[i], fr.Timestamp)
		assert.Equal(t, payloads[i], fr.Data)
		assert.Equal(t, uint32(len(payloads[i])+10), fr.OriginalLength)
		assert.True(t, fr.Truncated())
	}
}
