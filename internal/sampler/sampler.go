package sampler

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/entities"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/schema"
	"cs2-demo-pipeline/internal/stringtables"
)

const (
	controllerClass = "CCSPlayerController"

	flOnGround = 1 << 0
	lifeAlive  = 0
)

// Identities resolves userinfo slots to accounts.
type Identities interface {
	PlayerBySlot(slot int32) (stringtables.PlayerInfo, bool)
}

type prop struct {
	id schema.PropID
	ok bool
}

// props caches the property ids the sampler reads.
type props struct {
	health, armor              prop
	cellX, cellY, cellZ        prop
	vecX, vecY, vecZ           prop
	eyeAngles, velocity        prop
	lifeState, flags, ground   prop
	scoped, walking, flash     prop
	activeWeapon, equipValue   prop
	team                       prop
	steamID, money, playerPawn prop
	itemDef, clip, reserve     prop
}

func resolveProps(r *schema.Registry) *props {
	get := func(name string) prop {
		id, ok := r.PropID(name)
		return prop{id: id, ok: ok}
	}
	p := &props{
		health:       get("m_iHealth"),
		armor:        get("m_ArmorValue"),
		cellX:        get("CBodyComponent.m_cellX"),
		cellY:        get("CBodyComponent.m_cellY"),
		cellZ:        get("CBodyComponent.m_cellZ"),
		vecX:         get("CBodyComponent.m_vecX"),
		vecY:         get("CBodyComponent.m_vecY"),
		vecZ:         get("CBodyComponent.m_vecZ"),
		eyeAngles:    get("m_angEyeAngles"),
		velocity:     get("m_vecAbsVelocity"),
		lifeState:    get("m_lifeState"),
		flags:        get("m_fFlags"),
		ground:       get("m_hGroundEntity"),
		scoped:       get("m_bIsScoped"),
		walking:      get("m_bIsWalking"),
		flash:        get("m_flFlashDuration"),
		activeWeapon: get("m_pWeaponServices.m_hActiveWeapon"),
		equipValue:   get("m_unCurrentEquipmentValue"),
		team:         get("m_iTeamNum"),
		steamID:      get("m_steamID"),
		money:        get("m_pInGameMoneyServices.m_iAccount"),
		playerPawn:   get("m_hPlayerPawn"),
		itemDef:      get("m_AttributeManager.m_Item.m_iItemDefinitionIndex"),
		clip:         get("m_iClip1"),
		reserve:      get("m_pReserveAmmo.0000"),
	}
	return p
}

func (p prop) value(e *entities.Entity) (schema.Value, bool) {
	if !p.ok || e == nil {
		return schema.Value{}, false
	}
	return e.Get(p.id)
}

func (p prop) asInt(e *entities.Entity) int32 {
	v, _ := p.value(e)
	return int32(v.Int())
}

func (p prop) asFloat(e *entities.Entity) float32 {
	v, _ := p.value(e)
	return v.Float()
}

func (p prop) asBool(e *entities.Entity) bool {
	v, _ := p.value(e)
	return v.Bool()
}

// motion is the per-account memory used for derived fields.
type motion struct {
	tick      uint32
	pos       r3.Vector
	flash     float32
	flashTick uint32
}

// Sampler reads player state out of an entity store after each committed
// tick.
type Sampler struct {
	log      zerolog.Logger
	registry *schema.Registry
	store    *entities.Store
	ids      Identities
	interval uint32

	props   *props
	sampled bool
	last    uint32
	round   int32
	motion  map[uint64]*motion
}

// New builds a sampler emitting at most one batch every interval ticks.
func New(log zerolog.Logger, registry *schema.Registry, store *entities.Store, ids Identities, interval uint32) *Sampler {
	if interval == 0 {
		interval = 1
	}
	return &Sampler{
		log:      log,
		registry: registry,
		store:    store,
		ids:      ids,
		interval: interval,
		motion:   make(map[uint64]*motion),
	}
}

// SetRound records the round number stamped on subsequent snapshots.
func (s *Sampler) SetRound(round int32) { s.round = round }

// Round returns the current round number.
func (s *Sampler) Round() int32 { return s.round }

// Sample appends one snapshot per playing player at tick to dst. Ticks that
// fall inside the sampling interval, or repeat the previous tick, emit
// nothing.
func (s *Sampler) Sample(tick uint32, dst []Snapshot) []Snapshot {
	if s.sampled && (tick <= s.last || tick-s.last < s.interval) {
		return dst
	}
	if s.props == nil {
		if _, ok := s.registry.PropID("m_hPlayerPawn"); !ok {
			return dst
		}
		s.props = resolveProps(s.registry)
		s.log.Debug().Bool("flags", s.props.flags.ok).Bool("velocity", s.props.velocity.ok).Msg("resolved player props")
	}
	s.sampled = true
	s.last = tick

	start := len(dst)
	s.store.Each(func(e *entities.Entity) {
		if e.Class == nil || e.Class.Name != controllerClass {
			return
		}
		if snap, ok := s.sample(tick, e); ok {
			dst = append(dst, snap)
		}
	})
	batch := dst[start:]
	sort.Slice(batch, func(i, j int) bool { return batch[i].AccountID < batch[j].AccountID })
	return dst
}

func (s *Sampler) account(controller *entities.Entity) uint64 {
	if s.ids != nil {
		if info, ok := s.ids.PlayerBySlot(controller.Index - 1); ok && info.XUID != 0 {
			return info.XUID
		}
	}
	v, _ := s.props.steamID.value(controller)
	return v.Uint()
}

func (s *Sampler) sample(tick uint32, controller *entities.Entity) (Snapshot, bool) {
	p := s.props
	account := s.account(controller)
	if account == 0 {
		return Snapshot{}, false
	}
	pawn, ok := s.store.PawnOf(controller.Index)
	if !ok || !pawn.Visible {
		return Snapshot{}, false
	}
	team := events.Team(p.team.asInt(controller))
	if !team.Playing() {
		team = events.Team(p.team.asInt(pawn))
	}
	if !team.Playing() {
		return Snapshot{}, false
	}

	snap := Snapshot{
		Tick:           tick,
		AccountID:      account,
		Round:          s.round,
		Team:           team,
		Health:         p.health.asInt(pawn),
		Armor:          p.armor.asInt(pawn),
		Position:       s.position(pawn),
		Scoped:         p.scoped.asBool(pawn),
		Walking:        p.walking.asBool(pawn),
		Money:          p.money.asInt(controller),
		EquipmentValue: p.equipValue.asInt(pawn),
	}
	snap.Alive = p.lifeState.asInt(pawn) == lifeAlive && snap.Health > 0
	if !snap.Alive {
		snap.Health = 0
	}
	if v, ok := p.eyeAngles.value(pawn); ok {
		snap.Pitch, snap.Yaw = v.Vec[0], v.Vec[1]
	}
	snap.Airborne = s.airborne(pawn)
	s.weapon(pawn, &snap)

	m, seen := s.motion[account]
	if !seen {
		m = &motion{}
		s.motion[account] = m
	}
	if v, ok := p.velocity.value(pawn); ok && v.Kind == schema.KindVector {
		snap.Velocity = r3.Vector{X: float64(v.Vec[0]), Y: float64(v.Vec[1]), Z: float64(v.Vec[2])}
	} else if seen && tick > m.tick {
		dt := float64(tick-m.tick) / constants.TicksPerSecond
		snap.Velocity = snap.Position.Sub(m.pos).Mul(1 / dt)
	}

	flash := p.flash.asFloat(pawn)
	if flash != m.flash {
		m.flash = flash
		m.flashTick = tick
	}
	if flash > 0 {
		elapsed := float32(tick-m.flashTick) / constants.TicksPerSecond
		if remaining := flash - elapsed; remaining > 0 {
			snap.FlashRemaining = remaining
		}
	}
	m.tick = tick
	m.pos = snap.Position
	return snap, true
}

func (s *Sampler) position(pawn *entities.Entity) r3.Vector {
	p := s.props
	axis := func(cell, vec prop) float64 {
		c, _ := cell.value(pawn)
		return float64(c.Uint())*constants.CellWidth - constants.CellOffset + float64(vec.asFloat(pawn))
	}
	return r3.Vector{
		X: axis(p.cellX, p.vecX),
		Y: axis(p.cellY, p.vecY),
		Z: axis(p.cellZ, p.vecZ),
	}
}

// airborne prefers the on-ground flag bit and falls back to the ground
// entity handle for pawn classes that do not network m_fFlags.
func (s *Sampler) airborne(pawn *entities.Entity) bool {
	p := s.props
	if pawn.Class.Has("m_fFlags") {
		return p.flags.asInt(pawn)&flOnGround == 0
	}
	if v, ok := p.ground.value(pawn); ok {
		return v.Uint() == entities.InvalidHandle
	}
	return false
}

func (s *Sampler) weapon(pawn *entities.Entity, snap *Snapshot) {
	p := s.props
	h, ok := p.activeWeapon.value(pawn)
	if !ok || h.Uint() == entities.InvalidHandle {
		return
	}
	w, ok := s.store.Entity(int32(h.Uint() & entities.HandleIndexMask))
	if !ok {
		return
	}
	snap.WeaponID = p.itemDef.asInt(w)
	snap.Clip = p.clip.asInt(w)
	snap.Reserve = p.reserve.asInt(w)
}
