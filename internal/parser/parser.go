// Package parser drives one demo file through the decoding stack and hands
// its snapshots and events to a Handler in tick order.
package parser

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/sampler"
)

// Decoder backends.
const (
	BackendNative     = "native"
	BackendDemoinfocs = "demoinfocs"
)

// Header describes the demo as announced by its file header and file info.
type Header struct {
	MapName         string
	ServerName      string
	ClientName      string
	GameDirectory   string
	NetworkProtocol int32
	BuildNum        int32
	TickRate        float64
	PlaybackTime    float32 // seconds
	PlaybackTicks   int32
	PlaybackFrames  int32
}

// Duration returns the playback length in seconds, derived from ticks when
// the file info is missing.
func (h Header) Duration() float64 {
	if h.PlaybackTime > 0 {
		return float64(h.PlaybackTime)
	}
	if h.TickRate > 0 {
		return float64(h.PlaybackTicks) / h.TickRate
	}
	return 0
}

// Result summarizes a finished parse.
type Result struct {
	Header    Header
	LastTick  uint32
	Frames    int
	Snapshots int64
	Events    int
	Skipped   int // malformed events dropped
}

// Handler consumes the decoded streams of one demo. Snapshot batches and
// events arrive in non-decreasing tick order. A returned error aborts the
// parse.
type Handler interface {
	Snapshots(batch []sampler.Snapshot) error
	Event(e events.Event) error
	Progress(tick uint32, pct float64)
}

// Decoder parses a demo file.
type Decoder interface {
	Parse(ctx context.Context, path string, h Handler) (Result, error)
}

// New returns the decoder backend called name.
func New(name string, log zerolog.Logger, interval uint32) (Decoder, error) {
	switch name {
	case "", BackendNative:
		return NewNative(log, interval), nil
	case BackendDemoinfocs:
		return NewDemoinfocs(log, interval), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
}
