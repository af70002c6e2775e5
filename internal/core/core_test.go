package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRawFrameTruncated(t *testing.T) {
	tests := []struct {
		name     string
		captured uint32
		original uint32
		want     bool
	}{
		{"complete", 60, 60, false},
		{"snapped", 54, 1514, true},
		{"captured exceeds original", 70, 60, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := RawFrame{CapturedLength: tt.captured, OriginalLength: tt.original}
			assert.Equal(t, tt.want, f.Truncated())
		})
	}
}

func TestTicks(t *testing.T) {
	ts := time.Unix(1, 1500).UTC()
	assert.Equal(t, int64(10_000_015), Ticks(ts))
	assert.Equal(t, int64(0), Ticks(time.Unix(0, 0)))
}
