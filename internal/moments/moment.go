// Package moments detects tactically significant moments in the ordered
// event stream of one demo.
package moments

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a moment type.
type Kind string

const (
	KindOpeningDuel Kind = "opening_duel"
	KindMultiKill   Kind = "multi_kill"
	KindAce         Kind = "ace"
	KindTrade       Kind = "trade"
	KindRetake      Kind = "retake"
	KindExecute     Kind = "execute"
	KindClutch      Kind = "clutch"
)

// Kinds lists every moment kind.
var Kinds = []Kind{KindOpeningDuel, KindMultiKill, KindAce, KindTrade, KindRetake, KindExecute, KindClutch}

// Moment is one detected key moment.
type Moment struct {
	ID         uuid.UUID
	MatchID    string
	Kind       Kind
	Round      int32
	StartTick  uint32
	EndTick    uint32
	Players    []uint64
	Outcome    string
	Importance float64
	CreatedAt  time.Time
}

// momentNamespace scopes moment ids so re-processing a demo reproduces them.
var momentNamespace = uuid.MustParse("3f1c7d1e-6a9b-4f52-9a57-2b1d0c8e4a61")

func momentID(matchID string, kind Kind, round int32, start, end uint32, seq int) uuid.UUID {
	key := fmt.Sprintf("%s/%s/%d/%d/%d/%d", matchID, kind, round, start, end, seq)
	return uuid.NewSHA1(momentNamespace, []byte(key))
}

// Involves reports whether account took part in the moment.
func (m *Moment) Involves(account uint64) bool {
	for _, p := range m.Players {
		if p == account {
			return true
		}
	}
	return false
}

// playerSet is an insertion-ordered set of accounts.
type playerSet []uint64

func (s playerSet) add(accounts ...uint64) playerSet {
	for _, a := range accounts {
		if a == 0 {
			continue
		}
		dup := false
		for _, p := range s {
			if p == a {
				dup = true
				break
			}
		}
		if !dup {
			s = append(s, a)
		}
	}
	return s
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// before returns tick-pad, saturating at zero.
func before(tick, pad uint32) uint32 {
	if tick < pad {
		return 0
	}
	return tick - pad
}
