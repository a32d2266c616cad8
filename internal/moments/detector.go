package moments

import (
	"fmt"
	"math"
	"sort"
	"time"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/events"
)

const (
	padBefore     uint32 = constants.PadBefore
	padAfter      uint32 = constants.PadAfter
	tradeWindow   uint32 = constants.TradeWindow
	executeWindow uint32 = constants.ExecuteClusterWindow

	playersPerSide = 5
)

// kill is one counted death.
type kill struct {
	tick   uint32
	killer uint64
	victim uint64
}

// Detector consumes events strictly in tick order and accumulates moments.
// It is not safe for concurrent use.
type Detector struct {
	matchID string
	now     func() time.Time

	inRound        bool
	round          int32
	roundStartTick uint32
	firstBlood     bool

	kills       map[uint64]uint32
	killerTeam  map[uint64]events.Team
	streakStart map[uint64]uint32
	streak      map[uint64][]uint64

	aliveT, aliveCT int
	// opponents alive when a side was first reduced to one player while
	// facing at least two, zero when that never happened this round
	tClutch, ctClutch int

	window      []kill
	planted     bool
	plantTick   uint32
	preplantT   []kill
	postplantCT []kill

	moments []Moment
}

func NewDetector(matchID string) *Detector {
	d := &Detector{matchID: matchID, now: time.Now}
	d.resetRound(0)
	return d
}

// Detect runs a fresh detector over an ordered event slice.
func Detect(matchID string, evs []events.Event) []Moment {
	d := NewDetector(matchID)
	for _, e := range evs {
		d.Handle(e)
	}
	return d.Moments()
}

// Moments returns every moment emitted so far, in emission order.
func (d *Detector) Moments() []Moment { return d.moments }

// Round returns the current round number, 0 before the first round_start.
func (d *Detector) Round() int32 { return d.round }

func (d *Detector) resetRound(tick uint32) {
	d.roundStartTick = tick
	d.firstBlood = false
	d.kills = make(map[uint64]uint32)
	d.killerTeam = make(map[uint64]events.Team)
	d.streakStart = make(map[uint64]uint32)
	d.streak = make(map[uint64][]uint64)
	d.aliveT, d.aliveCT = playersPerSide, playersPerSide
	d.tClutch, d.ctClutch = 0, 0
	d.window = d.window[:0]
	d.planted = false
	d.plantTick = 0
	d.preplantT = nil
	d.postplantCT = nil
}

// Handle feeds one event. Unknown kinds are ignored. Events before the
// first round_start are attributed to round 0.
func (d *Detector) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.RoundStart:
		d.inRound = true
		d.round++
		d.resetRound(ev.Tick)
	case events.PlayerDeath:
		d.onDeath(ev)
	case events.BombPlanted:
		d.planted = true
		d.plantTick = ev.Tick
	case events.BombDefused:
		d.onDefused(ev)
	case events.BombExploded:
		d.onExploded(ev)
	case events.RoundEnd:
		if d.inRound {
			d.onRoundEnd(ev)
			d.inRound = false
		}
	}
}

func (d *Detector) emit(kind Kind, start, end uint32, players playerSet, outcome string, importance float64) {
	if len(players) == 0 {
		return
	}
	if len(players) > constants.MaxInvolvedPlayers {
		players = players[:constants.MaxInvolvedPlayers]
	}
	if end < start {
		end = start
	}
	d.moments = append(d.moments, Moment{
		ID:         momentID(d.matchID, kind, d.round, start, end, len(d.moments)),
		MatchID:    d.matchID,
		Kind:       kind,
		Round:      d.round,
		StartTick:  start,
		EndTick:    end,
		Players:    append([]uint64(nil), players...),
		Outcome:    outcome,
		Importance: clamp01(importance),
		CreatedAt:  d.now(),
	})
}

func (d *Detector) onDeath(ev events.PlayerDeath) {
	tick := ev.Tick
	switch ev.Victim.Team {
	case events.TeamT:
		if d.aliveT > 0 {
			d.aliveT--
		}
	case events.TeamCT:
		if d.aliveCT > 0 {
			d.aliveCT--
		}
	}
	if d.aliveT == 1 && d.aliveCT >= 2 && d.tClutch == 0 {
		d.tClutch = d.aliveCT
	}
	if d.aliveCT == 1 && d.aliveT >= 2 && d.ctClutch == 0 {
		d.ctClutch = d.aliveT
	}

	killer, victim := ev.Attacker.AccountID, ev.Victim.AccountID
	counted := !ev.Suicide() && !ev.TeamKill() && ev.Victim.Known()

	// The first death opens the round even when it is not a counted kill.
	if !d.firstBlood {
		d.firstBlood = true
		diff := math.Abs(float64(d.aliveT - d.aliveCT))
		d.emit(KindOpeningDuel, before(tick, padBefore), tick+padAfter,
			playerSet{}.add(killer, victim), openingOutcome(ev), math.Min(1, 0.6+0.05*diff))
	}
	if !counted {
		return
	}

	d.kills[killer]++
	d.killerTeam[killer] = ev.Attacker.Team
	n := d.kills[killer]
	if n == 1 {
		d.streakStart[killer] = tick
	}
	d.streak[killer] = append(d.streak[killer], victim)
	if n == playersPerSide {
		d.emit(KindAce, d.roundStartTick, tick+padAfter, playerSet{}.add(killer),
			fmt.Sprintf("%d aced the round", killer), 0.9)
	}
	if n >= 2 {
		d.emit(KindMultiKill, before(d.streakStart[killer], padBefore), tick+padAfter,
			playerSet{}.add(killer).add(d.streak[killer]...),
			fmt.Sprintf("%d multi-kill: %d kills", killer, n), 0.55+0.07*float64(n))
	}

	d.recordTrade(kill{tick: tick, killer: killer, victim: victim})

	switch {
	case !d.planted && ev.Attacker.Team == events.TeamT:
		d.preplantT = append(d.preplantT, kill{tick: tick, killer: killer, victim: victim})
	case d.planted && ev.Attacker.Team == events.TeamCT:
		d.postplantCT = append(d.postplantCT, kill{tick: tick, killer: killer, victim: victim})
	}
}

// recordTrade appends k to the sliding window and emits a trade when k's
// victim made a kill within the window.
func openingOutcome(ev events.PlayerDeath) string {
	killer, victim := ev.Attacker.AccountID, ev.Victim.AccountID
	var outcome string
	switch {
	case ev.Suicide():
		outcome = fmt.Sprintf("%d died first", victim)
	case ev.TeamKill():
		outcome = fmt.Sprintf("%d team-killed %d with %s", killer, victim, ev.Weapon)
	default:
		outcome = fmt.Sprintf("%d opened on %d with %s", killer, victim, ev.Weapon)
	}
	if ev.Headshot {
		outcome += " (HS)"
	}
	return outcome
}

func (d *Detector) recordTrade(k kill) {
	keep := d.window[:0]
	for _, w := range d.window {
		if k.tick-w.tick <= tradeWindow {
			keep = append(keep, w)
		}
	}
	d.window = keep

	for i := len(d.window) - 1; i >= 0; i-- {
		prev := d.window[i]
		if prev.killer != k.victim {
			continue
		}
		d.emit(KindTrade, before(prev.tick, padBefore), k.tick+padAfter,
			playerSet{}.add(k.killer, k.victim, prev.killer, prev.victim),
			fmt.Sprintf("%d traded %d for %d", k.killer, k.victim, prev.victim), 0.65)
		break
	}
	d.window = append(d.window, k)
}

func (d *Detector) onDefused(ev events.BombDefused) {
	if !d.planted || len(d.postplantCT) < 2 {
		return
	}
	var players playerSet
	for _, k := range d.postplantCT {
		players = players.add(k.killer, k.victim)
	}
	d.emit(KindRetake, before(d.plantTick, padBefore), ev.Tick+padAfter, players,
		fmt.Sprintf("CT retake with %d post-plant kills", len(d.postplantCT)), 0.8)
}

func (d *Detector) onExploded(ev events.BombExploded) {
	if !d.planted {
		return
	}
	var cluster []kill
	for _, k := range d.preplantT {
		if k.tick <= d.plantTick && d.plantTick-k.tick <= executeWindow {
			cluster = append(cluster, k)
		}
	}
	if len(cluster) < 2 {
		return
	}
	var players playerSet
	for _, k := range cluster {
		players = players.add(k.killer, k.victim)
	}
	d.emit(KindExecute, before(d.plantTick, executeWindow+padBefore), ev.Tick+padAfter, players,
		fmt.Sprintf("T execute with %d kills before plant", len(cluster)), 0.75)
}

func (d *Detector) onRoundEnd(ev events.RoundEnd) {
	for _, side := range []struct {
		team      events.Team
		opponents int
	}{
		{events.TeamT, d.tClutch},
		{events.TeamCT, d.ctClutch},
	} {
		if side.opponents == 0 {
			continue
		}
		account, kills := d.topKiller(side.team)
		if kills < 3 {
			continue
		}
		d.emit(KindClutch, d.roundStartTick, ev.Tick, playerSet{}.add(account),
			fmt.Sprintf("%s 1v%d clutch by %d with %d kills", side.team, side.opponents, account, kills),
			math.Min(0.85, 0.55+0.1*float64(kills)))
		return
	}
}

// topKiller returns the player of team with the most counted kills this
// round. Ties go to the lowest account id.
func (d *Detector) topKiller(team events.Team) (uint64, uint32) {
	accounts := make([]uint64, 0, len(d.kills))
	for a := range d.kills {
		if d.killerTeam[a] == team {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	var best uint64
	var most uint32
	for _, a := range accounts {
		if d.kills[a] > most {
			best, most = a, d.kills[a]
		}
	}
	return best, most
}
