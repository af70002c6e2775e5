// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capture file results
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

var (
	// CaptureFilesTotal counts capture files by ingestion result
	CaptureFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_capture_files_total",
			Help: "Total number of capture files ingested",
		},
		[]string{"result"},
	)

	// CaptureFramesTotal counts frames read by container format
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_capture_frames_total",
			Help: "Total number of frames read from capture files",
		},
		[]string{"format"},
	)

	// TraceConversationsTotal counts conversations created by transport
	TraceConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_trace_conversations_total",
			Help: "Total number of conversations reconstructed",
		},
		[]string{"transport"},
	)

	// DissectorFramesTotal counts frames inspected by each dissector
	DissectorFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_dissector_frames_total",
			Help: "Total number of frames inspected by dissectors",
		},
		[]string{"dissector"},
	)

	// DissectorErrorsTotal counts per-frame dissection failures
	DissectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_dissector_errors_total",
			Help: "Total number of frames that failed to dissect",
		},
		[]string{"dissector"},
	)

	// FindingsTotal counts records reported back into the trace
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlnet_findings_total",
			Help: "Total number of findings recorded by dissectors",
		},
		[]string{"kind"},
	)
)

// Finding kinds
const (
	FindingDNSError         = "dns_error"
	FindingBrowserEndpoint  = "browser_endpoint"
	FindingSQLServer        = "sql_server"
	FindingDomainController = "domain_controller"
	FindingRPCPort          = "rpc_port"
)
