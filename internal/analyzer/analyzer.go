// Package analyzer ties capture ingestion, trace building and dissection
// together for one run.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"firestige.xyz/sqlnet/internal/capture"
	"firestige.xyz/sqlnet/internal/config"
	"firestige.xyz/sqlnet/internal/dissector"
	"firestige.xyz/sqlnet/internal/dissector/dns"
	"firestige.xyz/sqlnet/internal/dissector/domain"
	"firestige.xyz/sqlnet/internal/dissector/ssrp"
	"firestige.xyz/sqlnet/internal/dissector/tds"
	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/trace"
)

// ErrNoCaptures is returned by Load when none of the files could be read.
var ErrNoCaptures = errors.New("sqlnet: no capture file could be read")

// Analyzer runs one analysis over a set of capture files.
type Analyzer struct {
	cfg    config.AnalysisConfig
	mode   domain.LengthMode
	logger *slog.Logger
}

// New creates an analyzer. A nil logger selects slog.Default().
func New(cfg config.AnalysisConfig, logger *slog.Logger) (*Analyzer, error) {
	mode, err := domain.ParseLengthMode(cfg.MSRPCLength)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, mode: mode, logger: logger}, nil
}

// Run loads paths and analyzes the resulting trace.
func (a *Analyzer) Run(ctx context.Context, paths ...string) (*trace.Trace, error) {
	t, err := a.Load(ctx, paths...)
	if err != nil {
		return t, err
	}
	return t, a.Analyze(ctx, t)
}

// Load reads every capture file into a new trace. A file that cannot be
// read is logged and recorded on its CaptureFile; the remaining files are
// still loaded. An error is returned only when no file could be read or ctx
// is cancelled.
func (a *Analyzer) Load(ctx context.Context, paths ...string) (*trace.Trace, error) {
	t := trace.New()
	logger := a.logger.With("trace", t.ID)
	b := trace.NewBuilder(t)

	ok := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		file := &trace.CaptureFile{Path: path}
		t.AddFile(file)

		if err := a.loadFile(ctx, b, file); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return t, ctxErr
			}
			file.Err = err
			metrics.CaptureFilesTotal.WithLabelValues(metrics.ResultFailed).Inc()
			logger.Error("capture file failed", "file", path, "frames", file.Frames, "error", err)
			continue
		}
		ok++
		metrics.CaptureFilesTotal.WithLabelValues(metrics.ResultOK).Inc()
		logger.Debug("capture file loaded",
			"file", path,
			"format", file.Format,
			"frames", file.Frames,
			"skipped", file.Skipped)
	}

	if ok == 0 {
		return t, fmt.Errorf("%w (%d given)", ErrNoCaptures, len(paths))
	}
	logger.Info("captures loaded", "files", ok, "conversations", len(t.Conversations))
	return t, nil
}

func (a *Analyzer) loadFile(ctx context.Context, b *trace.Builder, file *trace.CaptureFile) error {
	src, err := capture.Open(file.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	file.Format = src.Format
	file.LinkType = src.LinkType()
	frames := metrics.CaptureFramesTotal.WithLabelValues(src.Format)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := src.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		file.Frames++
		frames.Inc()
		if file.FirstTime.IsZero() {
			file.FirstTime = raw.Timestamp
		}
		file.LastTime = raw.Timestamp
		b.Add(file, raw)
	}
}

// Analyze runs the dissectors over t and logs every frame they could not
// dissect. The TDS probe runs last so it sees servers discovered through
// the browser.
func (a *Analyzer) Analyze(ctx context.Context, t *trace.Trace) error {
	logger := a.logger.With("trace", t.ID)

	stages := [][]dissector.Dissector{
		{dns.New(), ssrp.New(a.cfg.SlowBrowserResponse), domain.New(a.mode)},
		{tds.New(a.cfg.TDSPorts)},
	}

	failed := 0
	for _, ds := range stages {
		errs, err := dissector.Run(ctx, t, ds, a.cfg.Parallel)
		if err != nil {
			return err
		}
		for _, fe := range errs {
			logger.Warn("frame not dissected",
				"dissector", fe.Dissector,
				"file", fe.File,
				"frame", fe.Frame,
				"error", fe.Err)
		}
		failed += len(errs)
	}

	logger.Info("analysis complete",
		"dns_errors", len(t.DNSExchanges()),
		"browsers", t.Browsers.Len(),
		"sql_servers", t.SQLServers.Len(),
		"domain_controllers", t.DomainControllers.Len(),
		"frame_errors", failed)
	return nil
}
