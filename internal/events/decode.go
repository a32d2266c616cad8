package events

import (
	"fmt"
	"strings"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/errs"
)

// ValueKind tags a payload value.
type ValueKind uint8

const (
	ValueInt ValueKind = iota
	ValueString
	ValueBool
	ValueFloat
)

// Value is one typed event field.
type Value struct {
	Kind  ValueKind
	Int   int64
	Str   string
	Bool  bool
	Float float32
}

// Payload is the flat field map of one event.
type Payload map[string]Value

// Int returns field name as an integer. Bools and floats are converted.
func (p Payload) Int(name string) (int64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case ValueInt:
		return v.Int, true
	case ValueBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case ValueFloat:
		return int64(v.Float), true
	}
	return 0, false
}

func (p Payload) String(name string) string {
	if v, ok := p[name]; ok && v.Kind == ValueString {
		return v.Str
	}
	return ""
}

func (p Payload) Bool(name string) bool {
	v, ok := p[name]
	if !ok {
		return false
	}
	if v.Kind == ValueBool {
		return v.Bool
	}
	return v.Kind == ValueInt && v.Int != 0
}

func (p Payload) Float(name string) float32 {
	v, ok := p[name]
	if !ok {
		return 0
	}
	switch v.Kind {
	case ValueFloat:
		return v.Float
	case ValueInt:
		return float32(v.Int)
	}
	return 0
}

// Wire key types of legacy game event descriptors.
const (
	keyString = 1
	keyFloat  = 2
	keyLong   = 3
	keyShort  = 4
	keyByte   = 5
	keyBool   = 6
	keyUint64 = 7
)

// NoUser marks an absent user id field.
const NoUser int32 = -1

type keyDesc struct {
	name string
	typ  int32
}

type descriptor struct {
	name string
	keys []keyDesc
}

// PlayerResolver maps event user ids to accounts and current teams.
type PlayerResolver interface {
	ResolveUser(userID int32) (accountID uint64, team Team, ok bool)
}

// Decoder turns legacy game event messages into typed events.
type Decoder struct {
	log         zerolog.Logger
	resolver    PlayerResolver
	descriptors map[int32]descriptor
}

func NewDecoder(log zerolog.Logger, resolver PlayerResolver) *Decoder {
	return &Decoder{
		log:         log,
		resolver:    resolver,
		descriptors: make(map[int32]descriptor),
	}
}

// LoadDescriptors installs the event list announced at signon.
func (d *Decoder) LoadDescriptors(m *msg.CMsgSource1LegacyGameEventList) {
	for _, desc := range m.GetDescriptors() {
		keys := make([]keyDesc, len(desc.GetKeys()))
		for i, k := range desc.GetKeys() {
			keys[i] = keyDesc{name: k.GetName(), typ: k.GetType()}
		}
		d.descriptors[desc.GetEventid()] = descriptor{name: desc.GetName(), keys: keys}
	}
	d.log.Debug().Int("descriptors", len(d.descriptors)).Msg("loaded game event list")
}

// Descriptors returns the number of known event descriptors.
func (d *Decoder) Descriptors() int { return len(d.descriptors) }

// Decode converts one game event. A payload that cannot be interpreted is
// reported as ErrMalformedMessage and should be skipped by the caller.
func (d *Decoder) Decode(m *msg.CMsgSource1LegacyGameEvent, tick uint32) (Event, error) {
	desc, ok := d.descriptors[m.GetEventid()]
	if !ok {
		return nil, fmt.Errorf("game event id %d has no descriptor: %w", m.GetEventid(), errs.ErrMalformedMessage)
	}
	keys := m.GetKeys()
	if len(keys) > len(desc.keys) {
		return nil, fmt.Errorf("game event %s carries %d keys, descriptor has %d: %w",
			desc.name, len(keys), len(desc.keys), errs.ErrMalformedMessage)
	}
	p := make(Payload, len(keys))
	for i, k := range keys {
		p[desc.keys[i].name] = keyValue(desc.keys[i].typ, k)
	}
	return d.Build(desc.name, tick, p)
}

// Build interprets a decoded payload as the event variant called name.
func (d *Decoder) Build(name string, tick uint32, p Payload) (Event, error) {
	f := fields{p: p, d: d}
	meta := Meta{Tick: tick}
	var e Event
	switch name {
	case "round_start":
		e = RoundStart{
			Meta:      meta,
			TimeLimit: int32(f.num("timelimit")),
			FragLimit: int32(f.num("fraglimit")),
			Objective: p.String("objective"),
		}
	case "round_end":
		e = RoundEnd{
			Meta:      meta,
			Winner:    Team(f.require("winner")),
			Reason:    ParseRoundEndReason(f.num("reason")),
			RoundTime: p.Float("round_time"),
			Message:   p.String("message"),
		}
	case "player_death":
		e = PlayerDeath{
			Meta:          meta,
			Victim:        f.player("userid", true),
			Attacker:      f.player("attacker", false),
			Assister:      f.player("assister", false),
			Weapon:        p.String("weapon"),
			Headshot:      p.Bool("headshot"),
			Penetrated:    int32(f.num("penetrated")),
			NoScope:       p.Bool("noscope"),
			ThruSmoke:     p.Bool("thrusmoke"),
			AttackerBlind: p.Bool("attackerblind"),
			Distance:      p.Float("distance"),
		}
	case "player_hurt":
		e = PlayerHurt{
			Meta:      meta,
			Victim:    f.player("userid", true),
			Attacker:  f.player("attacker", false),
			Health:    int32(f.num("health")),
			Armor:     int32(f.num("armor")),
			Weapon:    p.String("weapon"),
			DmgHealth: int32(f.require("dmg_health")),
			DmgArmor:  int32(f.num("dmg_armor")),
			HitGroup:  HitGroup(f.num("hitgroup")),
		}
	case "weapon_fire":
		e = WeaponFire{
			Meta:     meta,
			Shooter:  f.player("userid", true),
			Weapon:   p.String("weapon"),
			Silenced: p.Bool("silenced"),
		}
	case "bomb_planted":
		e = BombPlanted{Meta: meta, Planter: f.player("userid", false), Site: int32(f.num("site"))}
	case "bomb_defused":
		e = BombDefused{Meta: meta, Defuser: f.player("userid", false), Site: int32(f.num("site"))}
	case "bomb_exploded":
		e = BombExploded{Meta: meta, Carrier: f.player("userid", false), Site: int32(f.num("site"))}
	default:
		return Unknown{Meta: meta, Name: name, Fields: p}, nil
	}
	if len(f.missing) > 0 {
		return nil, fmt.Errorf("%s missing %s: %w", name, strings.Join(f.missing, ", "), errs.ErrMalformedMessage)
	}
	return e, nil
}

type fields struct {
	p       Payload
	d       *Decoder
	missing []string
}

func (f *fields) num(name string) int64 {
	v, _ := f.p.Int(name)
	return v
}

func (f *fields) require(name string) int64 {
	v, ok := f.p.Int(name)
	if !ok {
		f.missing = append(f.missing, name)
	}
	return v
}

func (f *fields) player(name string, required bool) Player {
	raw, ok := f.p.Int(name)
	if !ok {
		if required {
			f.missing = append(f.missing, name)
		}
		return Player{UserID: NoUser}
	}
	pl := Player{UserID: int32(raw)}
	if f.d.resolver != nil {
		if account, team, ok := f.d.resolver.ResolveUser(pl.UserID); ok {
			pl.AccountID = account
			pl.Team = team
		}
	}
	return pl
}

func keyValue(typ int32, k *msg.CMsgSource1LegacyGameEventKeyT) Value {
	switch typ {
	case keyString:
		return Value{Kind: ValueString, Str: k.GetValString()}
	case keyFloat:
		return Value{Kind: ValueFloat, Float: k.GetValFloat()}
	case keyLong:
		return Value{Kind: ValueInt, Int: int64(k.GetValLong())}
	case keyShort:
		return Value{Kind: ValueInt, Int: int64(k.GetValShort())}
	case keyByte:
		return Value{Kind: ValueInt, Int: int64(k.GetValByte())}
	case keyBool:
		return Value{Kind: ValueBool, Bool: k.GetValBool()}
	case keyUint64:
		return Value{Kind: ValueInt, Int: int64(k.GetValUint64())}
	}
	// Player controller and pawn keys are carried in whichever integer
	// field the server filled.
	switch {
	case k.ValShort != nil:
		return Value{Kind: ValueInt, Int: int64(k.GetValShort())}
	case k.ValLong != nil:
		return Value{Kind: ValueInt, Int: int64(k.GetValLong())}
	case k.ValByte != nil:
		return Value{Kind: ValueInt, Int: int64(k.GetValByte())}
	case k.ValString != nil:
		return Value{Kind: ValueString, Str: k.GetValString()}
	}
	return Value{Kind: ValueInt}
}
