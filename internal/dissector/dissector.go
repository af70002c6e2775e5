// Package dissector defines protocol dissectors that walk a trace's
// conversations and report findings back into it.
package dissector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/sqlnet/internal/metrics"
	"firestige.xyz/sqlnet/internal/trace"
)

// Dissector analyzes conversations of one protocol.
//
// Dissect must be safe to run concurrently with other dissectors over the
// same trace: it may only append to its own result collections and mutate
// shared records through their locking methods.
type Dissector interface {
	Name() string
	Dissect(t *trace.Trace) []FrameError
}

// Preparer is an optional interface for dissectors that must adjust
// conversations before any dissector runs. Prepare is always sequential.
type Preparer interface {
	Prepare(t *trace.Trace)
}

// FrameError is a per-frame dissection failure. The frame's contribution is
// skipped and dissection continues.
type FrameError struct {
	Dissector string
	File      string
	Frame     uint32
	Err       error
}

// NewFrameError attributes err to frame f.
func NewFrameError(dissector string, f *trace.Frame, err error) FrameError {
	return FrameError{Dissector: dissector, File: f.FileName(), Frame: f.Number, Err: err}
}

func (e FrameError) Error() string {
	return fmt.Sprintf("%s: frame %d in %s: %v", e.Dissector, e.Frame, e.File, e.Err)
}

func (e FrameError) Unwrap() error {
	return e.Err
}

// Run prepares and runs the dissectors over t. With parallel set each
// dissector runs in its own goroutine. Frame errors are returned grouped in
// the order the dissectors were given.
func Run(ctx context.Context, t *trace.Trace, ds []Dissector, parallel bool) ([]FrameError, error) {
	for _, d := range ds {
		if p, ok := d.(Preparer); ok {
			p.Prepare(t)
		}
	}

	results := make([][]FrameError, len(ds))
	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, d := range ds {
			i, d := i, d // per-iteration copies (pre-Go 1.22 loop semantics)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = d.Dissect(t)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, d := range ds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = d.Dissect(t)
		}
	}

	var out []FrameError
	for i, errs := range results {
		if len(errs) > 0 {
			metrics.DissectorErrorsTotal.WithLabelValues(ds[i].Name()).Add(float64(len(errs)))
		}
		out = append(out, errs...)
	}
	return out, nil
}
