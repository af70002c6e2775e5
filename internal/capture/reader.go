// Package capture reads capture container files into raw link-layer frames.
package capture

import (
	"io"

	"firestige.xyz/sqlnet/internal/core"
)

// Reader decodes one capture container format.
//
// Init consumes and validates the container header. Read returns one frame
// per call and io.EOF once the stream ends cleanly; any other error is fatal
// for the stream. A Reader is stateful and must not be used concurrently.
type Reader interface {
	Init(r io.Reader) error
	Read() (*core.RawFrame, error)
	LinkType() core.LinkType
}
