package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang/geo/r3"
	dem "github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs"
	common "github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/common"
	dievents "github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/events"
	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/sampler"
)

// Demoinfocs decodes demos with demoinfocs-golang and translates its events
// and game state into the pipeline's types.
type Demoinfocs struct {
	log      zerolog.Logger
	interval uint32
}

// NewDemoinfocs returns the demoinfocs backend sampling every interval ticks.
func NewDemoinfocs(log zerolog.Logger, interval uint32) *Demoinfocs {
	return &Demoinfocs{log: log, interval: interval}
}

var grenadeNames = map[common.EquipmentType]string{
	common.EqHE:         "hegrenade",
	common.EqFlash:      "flashbang",
	common.EqSmoke:      "smokegrenade",
	common.EqMolotov:    "molotov",
	common.EqIncendiary: "incgrenade",
	common.EqDecoy:      "decoy",
}

// weaponName returns the wire-style weapon name used by game events.
func weaponName(eq *common.Equipment) string {
	if eq == nil {
		return ""
	}
	if name, ok := grenadeNames[eq.Type]; ok {
		return name
	}
	return strings.ToLower(strings.ReplaceAll(eq.Type.String(), "-", ""))
}

func player(p *common.Player) events.Player {
	if p == nil {
		return events.Player{UserID: events.NoUser}
	}
	pl := events.Player{UserID: int32(p.UserID), Team: events.Team(p.Team)}
	if !p.IsBot {
		pl.AccountID = p.SteamID64
	}
	return pl
}

// translator is the state shared by the registered handlers.
type translator struct {
	parser   dem.Parser
	h        Handler
	interval uint32
	cancel   func()
	progress func() float64

	round    int32
	sampled  bool
	last     uint32
	reported uint32
	batch    []sampler.Snapshot
	motion   map[uint64]lastSeen
	err      error
	res      Result
}

// lastSeen is where an account was at its previous sample.
type lastSeen struct {
	tick uint32
	pos  r3.Vector
}

func newTranslator(p dem.Parser, h Handler, interval uint32) *translator {
	return &translator{
		parser:   p,
		h:        h,
		interval: interval,
		cancel:   p.Cancel,
		progress: func() float64 { return float64(p.Progress()) },
		motion:   make(map[uint64]lastSeen),
	}
}

func (r *translator) tick() uint32 {
	t := r.parser.GameState().IngameTick()
	if t < 0 {
		return 0
	}
	return uint32(t)
}

func (r *translator) fail(err error) {
	if r.err == nil {
		r.err = err
		r.cancel()
	}
}

func (r *translator) emit(e events.Event) {
	if r.err != nil {
		return
	}
	r.res.Events++
	if err := r.h.Event(e); err != nil {
		r.fail(err)
	}
}

func (r *translator) sample() {
	r.sampleAt(r.tick(), r.readPlayers)
}

// sampleAt reads the players at tick when the sample interval has elapsed,
// stamps round and velocity and hands the batch to the handler.
func (r *translator) sampleAt(tick uint32, read func(tick uint32, batch []sampler.Snapshot) []sampler.Snapshot) {
	if r.err != nil {
		return
	}
	if r.sampled && (tick <= r.last || tick-r.last < r.interval) {
		return
	}
	r.sampled = true
	r.last = tick
	r.res.LastTick = tick

	r.batch = read(tick, r.batch[:0])
	for i := range r.batch {
		snap := &r.batch[i]
		snap.Round = r.round
		// demoinfocs exposes no player velocity, so it is derived from
		// consecutive positions.
		if prev, ok := r.motion[snap.AccountID]; ok && tick > prev.tick {
			dt := float64(tick-prev.tick) / constants.TicksPerSecond
			snap.Velocity = snap.Position.Sub(prev.pos).Mul(1 / dt)
		}
		r.motion[snap.AccountID] = lastSeen{tick: tick, pos: snap.Position}
	}
	if len(r.batch) > 0 {
		r.res.Snapshots += int64(len(r.batch))
		if err := r.h.Snapshots(r.batch); err != nil {
			r.fail(err)
			return
		}
	}
	if tick-r.reported >= constants.ProgressInterval {
		r.reported = tick
		r.h.Progress(tick, r.progress())
	}
}

// readPlayers appends a snapshot of every playing human to batch.
func (r *translator) readPlayers(tick uint32, batch []sampler.Snapshot) []sampler.Snapshot {
	for _, pl := range r.parser.GameState().Participants().Playing() {
		if pl == nil || pl.IsBot || pl.SteamID64 == 0 {
			continue
		}
		snap := sampler.Snapshot{
			Tick:           tick,
			AccountID:      pl.SteamID64,
			Team:           events.Team(pl.Team),
			Health:         int32(pl.Health()),
			Armor:          int32(pl.Armor()),
			Position:       pl.Position(),
			Yaw:            pl.ViewDirectionX(),
			Pitch:          pl.ViewDirectionY(),
			Alive:          pl.IsAlive(),
			Airborne:       pl.IsAirborne(),
			Scoped:         pl.IsScoped(),
			Walking:        pl.IsWalking(),
			FlashRemaining: float32(pl.FlashDurationTimeRemaining().Seconds()),
			Money:          int32(pl.Money()),
			EquipmentValue: int32(pl.EquipmentValueCurrent()),
		}
		if w := pl.ActiveWeapon(); w != nil {
			snap.WeaponID = int32(w.Type)
			snap.Clip = int32(w.AmmoInMagazine())
			snap.Reserve = int32(w.AmmoReserve())
		}
		if !snap.Alive {
			snap.Health = 0
		}
		batch = append(batch, snap)
	}
	return batch
}

func (r *translator) register() {
	p := r.parser
	p.RegisterNetMessageHandler(func(m *msg.CSVCMsg_ServerInfo) {
		if m != nil {
			r.res.Header.MapName = m.GetMapName()
		}
	})
	p.RegisterEventHandler(func(e dievents.RoundStart) {
		r.round++
		r.emit(events.RoundStart{
			Meta:      events.Meta{Tick: r.tick()},
			TimeLimit: int32(e.TimeLimit),
			FragLimit: int32(e.FragLimit),
			Objective: e.Objective,
		})
	})
	p.RegisterEventHandler(func(e dievents.RoundEnd) {
		r.emit(events.RoundEnd{
			Meta:    events.Meta{Tick: r.tick()},
			Winner:  events.Team(e.Winner),
			Reason:  events.ParseRoundEndReason(int64(e.Reason)),
			Message: e.Message,
		})
	})
	p.RegisterEventHandler(func(e dievents.Kill) {
		r.emit(events.PlayerDeath{
			Meta:          events.Meta{Tick: r.tick()},
			Victim:        player(e.Victim),
			Attacker:      player(e.Killer),
			Assister:      player(e.Assister),
			Weapon:        weaponName(e.Weapon),
			Headshot:      e.IsHeadshot,
			Penetrated:    int32(e.PenetratedObjects),
			NoScope:       e.NoScope,
			ThruSmoke:     e.ThroughSmoke,
			AttackerBlind: e.AttackerBlind,
			Distance:      e.Distance,
		})
	})
	p.RegisterEventHandler(func(e dievents.PlayerHurt) {
		r.emit(events.PlayerHurt{
			Meta:      events.Meta{Tick: r.tick()},
			Victim:    player(e.Player),
			Attacker:  player(e.Attacker),
			Health:    int32(e.Health),
			Armor:     int32(e.Armor),
			Weapon:    weaponName(e.Weapon),
			DmgHealth: int32(e.HealthDamage),
			DmgArmor:  int32(e.ArmorDamage),
			HitGroup:  events.HitGroup(e.HitGroup),
		})
	})
	p.RegisterEventHandler(func(e dievents.WeaponFire) {
		r.emit(events.WeaponFire{
			Meta:    events.Meta{Tick: r.tick()},
			Shooter: player(e.Shooter),
			Weapon:  weaponName(e.Weapon),
		})
	})
	p.RegisterEventHandler(func(e dievents.BombPlanted) {
		r.emit(events.BombPlanted{Meta: events.Meta{Tick: r.tick()}, Planter: player(e.Player), Site: int32(e.Site)})
	})
	p.RegisterEventHandler(func(e dievents.BombDefused) {
		r.emit(events.BombDefused{Meta: events.Meta{Tick: r.tick()}, Defuser: player(e.Player), Site: int32(e.Site)})
	})
	p.RegisterEventHandler(func(e dievents.BombExplode) {
		r.emit(events.BombExploded{Meta: events.Meta{Tick: r.tick()}, Carrier: player(e.Player), Site: int32(e.Site)})
	})
	p.RegisterEventHandler(func(dievents.FrameDone) {
		r.sample()
	})
}

// Parse implements Decoder.
func (d *Demoinfocs) Parse(ctx context.Context, path string, h Handler) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open demo file: %w", err)
	}
	defer f.Close()

	interval := d.interval
	if interval == 0 {
		interval = 1
	}
	r := newTranslator(dem.NewParser(f), h, interval)
	defer r.parser.Close()
	r.register()

	stop := context.AfterFunc(ctx, r.parser.Cancel)
	defer stop()

	// demoinfocs panics on some corrupt demos.
	var parseErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				parseErr = fmt.Errorf("parser panic: %v: %w", rec, errs.ErrMalformedMessage)
			}
		}()
		parseErr = r.parser.ParseToEnd()
	}()

	r.res.Header.TickRate = r.parser.TickRate()
	if r.res.Header.TickRate <= 0 {
		r.res.Header.TickRate = constants.TicksPerSecond
	}
	r.res.Header.PlaybackTicks = int32(r.res.LastTick)
	r.res.Frames = r.parser.CurrentFrame()

	switch {
	case r.err != nil:
		return r.res, r.err
	case ctx.Err() != nil:
		return r.res, ctx.Err()
	case parseErr == nil:
	case errors.Is(parseErr, dem.ErrUnexpectedEndOfDemo):
		return r.res, fmt.Errorf("failed to parse demo: %v: %w", parseErr, errs.ErrUnexpectedEndOfStream)
	case errors.Is(parseErr, dem.ErrInvalidFileType):
		return r.res, fmt.Errorf("failed to parse demo: %v: %w", parseErr, errs.ErrInvalidFormat)
	case errors.Is(parseErr, errs.ErrMalformedMessage):
		return r.res, parseErr
	default:
		return r.res, fmt.Errorf("failed to parse demo: %v: %w", parseErr, errs.ErrMalformedMessage)
	}
	h.Progress(r.res.LastTick, 1)
	return r.res, nil
}
