package summary

import (
	"sort"

	"github.com/golang/geo/r3"

	"cs2-demo-pipeline/internal/sampler"
)

// sample is the part of a snapshot the summarizer reads back.
type sample struct {
	tick     uint32
	pos      r3.Vector
	speed    float64
	yaw      float32
	pitch    float32
	flash    float32
	scoped   bool
	walking  bool
	airborne bool
}

// Tracks keeps a compact per-account copy of every snapshot of one demo so
// summaries can be computed after the snapshots have been handed to the
// sinks.
type Tracks struct {
	byAccount map[uint64][]sample
	n         int
}

func NewTracks() *Tracks {
	return &Tracks{byAccount: make(map[uint64][]sample)}
}

// Add appends s to its account's track. Snapshots must arrive in
// non-decreasing tick order per account; a repeated tick replaces the
// previous point. Warmup snapshots (round 0) are not kept.
func (t *Tracks) Add(s sampler.Snapshot) {
	if s.Round == 0 {
		return
	}
	p := sample{
		tick:     s.Tick,
		pos:      s.Position,
		speed:    s.Speed(),
		yaw:      s.Yaw,
		pitch:    s.Pitch,
		flash:    s.FlashRemaining,
		scoped:   s.Scoped,
		walking:  s.Walking,
		airborne: s.Airborne,
	}
	track := t.byAccount[s.AccountID]
	if n := len(track); n > 0 && track[n-1].tick >= s.Tick {
		if track[n-1].tick == s.Tick {
			track[n-1] = p
		}
		return
	}
	t.byAccount[s.AccountID] = append(track, p)
	t.n++
}

// AddBatch adds every snapshot of a batch.
func (t *Tracks) AddBatch(batch []sampler.Snapshot) {
	for i := range batch {
		t.Add(batch[i])
	}
}

// window returns the account's samples with start <= tick <= end.
func (t *Tracks) window(account uint64, start, end uint32) []sample {
	track := t.byAccount[account]
	if start > end {
		return nil
	}
	lo := sort.Search(len(track), func(i int) bool { return track[i].tick >= start })
	hi := sort.Search(len(track), func(i int) bool { return track[i].tick > end })
	return track[lo:hi]
}

// Len returns the number of retained samples.
func (t *Tracks) Len() int { return t.n }

// Accounts returns the number of tracked players.
func (t *Tracks) Accounts() int { return len(t.byAccount) }
