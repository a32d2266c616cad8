package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"
)

func TestProgressLines(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(&buf)
	out.Progress(StageParse, "a.dem", 6400, 0.5)
	out.Error("b.dem", "invalid_format")

	sc := bufio.NewScanner(&buf)
	var lines []Line
	for sc.Scan() {
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("Line %q is not JSON: %v", sc.Text(), err)
		}
		lines = append(lines, l)
	}
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0].Type != "progress" || lines[0].Demo != "a.dem" || lines[0].Tick != 6400 || lines[0].Pct != 0.5 {
		t.Errorf("Unexpected progress line: %+v", lines[0])
	}
	if lines[1].Type != "error" || lines[1].Msg != "invalid_format" {
		t.Errorf("Unexpected error line: %+v", lines[1])
	}
}

func TestConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out.Progress(StageParse, "demo.dem", uint32(j), 0)
			}
		}()
	}
	wg.Wait()

	sc := bufio.NewScanner(&buf)
	n := 0
	for sc.Scan() {
		if !json.Valid(sc.Bytes()) {
			t.Fatalf("Interleaved line: %q", sc.Text())
		}
		n++
	}
	if n != 400 {
		t.Errorf("Expected 400 lines, got %d", n)
	}
}

func TestNilOutputIsSilent(t *testing.T) {
	var out *Output
	out.Progress(StageParse, "x", 0, 0)
}
