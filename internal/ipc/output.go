// Package ipc writes machine-readable NDJSON progress lines to stdout while
// logs go to stderr.
package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Stages reported by the pipeline.
const (
	StageDiscover = "discover"
	StageParse    = "parse"
	StageDetect   = "detect"
	StageSummary  = "summarize"
	StageComplete = "complete"
	StageFailed   = "failed"
)

// Line is one progress record.
type Line struct {
	Type  string  `json:"type"`
	Stage string  `json:"stage,omitempty"`
	Demo  string  `json:"demo,omitempty"`
	Tick  uint32  `json:"tick"`
	Pct   float64 `json:"pct"`
	Msg   string  `json:"msg,omitempty"`
}

// Output handles NDJSON (newline-delimited JSON) output.
// All methods are thread-safe.
type Output struct {
	mu sync.Mutex
	w  io.Writer
}

// NewOutput creates an NDJSON handler writing to stdout.
func NewOutput() *Output {
	return NewOutputTo(os.Stdout)
}

// NewOutputTo creates an NDJSON handler writing to w.
func NewOutputTo(w io.Writer) *Output {
	return &Output{w: w}
}

// Progress sends a progress update message.
func (o *Output) Progress(stage, demo string, tick uint32, pct float64) {
	o.write(Line{Type: "progress", Stage: stage, Demo: demo, Tick: tick, Pct: pct})
}

// Error sends an error message for a demo.
func (o *Output) Error(demo, msg string) {
	o.write(Line{Type: "error", Stage: StageFailed, Demo: demo, Msg: msg})
}

func (o *Output) write(l Line) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	data, err := json.Marshal(l)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal JSON: %v\n", err)
		return
	}
	fmt.Fprintf(o.w, "%s\n", data)
}
