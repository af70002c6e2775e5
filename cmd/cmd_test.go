package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/sqlnet/internal/analyzer"
	"firestige.xyz/sqlnet/internal/config"
)

func emptyCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pcapgo.NewWriter(f).WriteFileHeader(65536, layers.LinkTypeEthernet))
	return path
}

func TestRunValidate_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlnet.yml")
	require.NoError(t, os.WriteFile(path, []byte("sqlnet:\n  output:\n    format: json\n"), 0644))

	var buf bytes.Buffer
	err := runValidate(path, &buf)

	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "VALID:"))
	assert.Contains(t, buf.String(), "output json")
}

func TestRunValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sqlnet.yml")
	require.NoError(t, os.WriteFile(path, []byte("sqlnet:\n  analysis:\n    msrpc_length: sideways\n"), 0644))

	var buf bytes.Buffer
	err := runValidate(path, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "msrpc_length")
	assert.Empty(t, buf.String())
}

func TestRunAnalyze_WritesReport(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runAnalyze(context.Background(), cfg, []string{emptyCapture(t)}, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "trace_id:")
	assert.Contains(t, buf.String(), "format: pcap")
}

func TestRunAnalyze_JSONWithMetrics(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.Format = "json"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"

	var buf bytes.Buffer
	err = runAnalyze(context.Background(), cfg, []string{emptyCapture(t)}, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), `"trace_id"`)
}

func TestRunAnalyze_NoReadableFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = runAnalyze(context.Background(), cfg, []string{filepath.Join(t.TempDir(), "missing.pcap")}, &buf)

	assert.True(t, errors.Is(err, analyzer.ErrNoCaptures))
	assert.Empty(t, buf.String())
}
