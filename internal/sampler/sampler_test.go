package sampler_test

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/entities"
	"cs2-demo-pipeline/internal/entities/entitiestest"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/sampler"
	"cs2-demo-pipeline/internal/schema"
	st "cs2-demo-pipeline/internal/schema/schematest"
	"cs2-demo-pipeline/internal/stringtables"
)

const (
	alice uint64 = 76561198000000001
	bob   uint64 = 76561198000000002
)

type fakeIdentities map[int32]stringtables.PlayerInfo

func (f fakeIdentities) PlayerBySlot(slot int32) (stringtables.PlayerInfo, bool) {
	p, ok := f[slot]
	return p, ok
}

type world struct {
	t     *testing.T
	reg   *schema.Registry
	store *entities.Store
}

func newWorld(t *testing.T) *world {
	t.Helper()
	reg := schema.NewRegistry()
	if err := reg.LoadSendTables(st.PlayerSendTables()); err != nil {
		t.Fatalf("Failed to load send tables: %v", err)
	}
	if err := reg.BindClasses(st.PlayerClassInfo()); err != nil {
		t.Fatalf("Failed to bind classes: %v", err)
	}
	reg.SetMaxClasses(3)
	return &world{t: t, reg: reg, store: entities.NewStore(zerolog.Nop(), reg, nil)}
}

func (w *world) apply(p *entitiestest.Packet, tick uint32) {
	w.t.Helper()
	if err := w.store.ApplyPacketEntities(p.Message(), tick); err != nil {
		w.t.Fatalf("ApplyPacketEntities at %d failed: %v", tick, err)
	}
}

func (w *world) packet() *entitiestest.Packet { return entitiestest.NewPacket(w.reg.ClassIDBits()) }

func writeCoord(w *bitread.Writer, v uint32) {
	w.WriteBool(true)  // integer part
	w.WriteBool(false) // no fraction
	w.WriteBool(false) // positive
	w.WriteBits(v-1, 14)
}

func writeFloat(w *bitread.Writer, f float32) { w.WriteBits(math.Float32bits(f), 32) }

// spawn creates a controller at index with its pawn at index+8 holding a
// rifle at index+16.
func (w *world) spawn(tick uint32, index int32, team uint32, steamID uint64, alive bool) {
	p := w.packet()
	pawn := index + 8
	weapon := index + 16
	p.Create(index, st.ControllerClassID).Fields(
		[][]int{{st.ControllerTeam}, {st.ControllerPawn}, {st.ControllerSteamID}, {st.ControllerMoney, 0}},
		func(b *bitread.Writer) {
			b.WriteVarUint32(team)
			b.WriteVarUint32(uint32(pawn))
			b.WriteVarUint64(steamID)
			b.WriteVarInt32(4750)
		})

	health, life := int32(87), uint32(0)
	if !alive {
		health, life = 0, 2
	}
	p.Create(pawn, st.PawnClassID).Fields(
		[][]int{
			{st.PawnHealth}, {st.PawnArmor},
			{st.PawnBody, st.BodyCellX}, {st.PawnBody, st.BodyCellY}, {st.PawnBody, st.BodyCellZ},
			{st.PawnBody, st.BodyVecX}, {st.PawnBody, st.BodyVecZ},
			{st.PawnEyeAngles}, {st.PawnLifeState}, {st.PawnFlags}, {st.PawnScoped},
			{st.PawnFlashDuration}, {st.PawnWeaponServices, 0}, {st.PawnEquipmentValue},
		},
		func(b *bitread.Writer) {
			b.WriteVarInt32(health)
			b.WriteVarInt32(50)
			b.WriteVarUint32(32)
			b.WriteVarUint32(33)
			b.WriteVarUint32(32)
			writeFloat(b, 12.5)
			writeFloat(b, 64)
			b.WriteBool(true)
			b.WriteBool(true)
			b.WriteBool(false)
			writeCoord(b, 10)
			writeCoord(b, 90)
			b.WriteVarUint32(life)
			b.WriteVarUint32(1) // on ground
			b.WriteBool(true)
			writeFloat(b, 3)
			b.WriteVarUint32(uint32(weapon))
			b.WriteVarUint32(3700)
		})
	p.Create(weapon, st.WeaponClassID).Fields(
		[][]int{{st.WeaponItemDef}, {st.WeaponClip}, {st.WeaponReserve, 0}},
		func(b *bitread.Writer) {
			b.WriteVarUint32(7)
			b.WriteVarUint32(31) // stored as clip + 1
			b.WriteVarInt32(90)
		})
	w.apply(p, tick)
}

func TestSampleSnapshot(t *testing.T) {
	w := newWorld(t)
	w.spawn(100, 1, 2, 0, true)

	s := sampler.New(zerolog.Nop(), w.reg, w.store, fakeIdentities{0: {XUID: alice}}, 1)
	s.SetRound(3)
	snaps := s.Sample(100, nil)
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snaps))
	}
	got := snaps[0]
	if got.AccountID != alice || got.Tick != 100 || got.Round != 3 || got.Team != events.TeamT {
		t.Errorf("Unexpected identity fields: %+v", got)
	}
	if got.Health != 87 || got.Armor != 50 || !got.Alive {
		t.Errorf("Expected alive with 87/50, got %d/%d alive=%v", got.Health, got.Armor, got.Alive)
	}
	if got.Position.X != 12.5 || got.Position.Y != 512 || got.Position.Z != 64 {
		t.Errorf("Expected position (12.5, 512, 64), got %v", got.Position)
	}
	if got.Pitch != 10 || got.Yaw != 90 {
		t.Errorf("Expected pitch 10 yaw 90, got %f %f", got.Pitch, got.Yaw)
	}
	if got.WeaponID != 7 || got.Clip != 30 || got.Reserve != 90 {
		t.Errorf("Expected weapon 7 with 30/90, got %d %d/%d", got.WeaponID, got.Clip, got.Reserve)
	}
	if got.Airborne || !got.Scoped || got.Walking {
		t.Errorf("Unexpected flags: airborne=%v scoped=%v walking=%v", got.Airborne, got.Scoped, got.Walking)
	}
	if got.Money != 4750 || got.EquipmentValue != 3700 {
		t.Errorf("Expected money 4750 and equipment 3700, got %d %d", got.Money, got.EquipmentValue)
	}
	if got.FlashRemaining != 3 {
		t.Errorf("Expected 3s of flash remaining, got %f", got.FlashRemaining)
	}
	if got.Speed() != 0 {
		t.Errorf("Expected zero speed on first sample, got %f", got.Speed())
	}

	// Half a second later the player moved one cell along X and left the ground.
	w.apply(w.packet().Update(9).Fields([][]int{{st.PawnBody, st.BodyCellX}, {st.PawnFlags}}, func(b *bitread.Writer) {
		b.WriteVarUint32(33)
		b.WriteVarUint32(0)
	}), 132)
	snaps = s.Sample(132, snaps[:0])
	if len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(snaps))
	}
	got = snaps[0]
	if math.Abs(got.Velocity.X-1024) > 1e-9 || got.Velocity.Y != 0 {
		t.Errorf("Expected derived velocity (1024, 0, 0), got %v", got.Velocity)
	}
	if !got.Airborne {
		t.Error("Expected airborne without the on-ground flag")
	}
	if math.Abs(float64(got.FlashRemaining)-2.5) > 1e-6 {
		t.Errorf("Expected 2.5s of flash remaining, got %f", got.FlashRemaining)
	}
}

func TestSampleDeadSpectatorAndOrder(t *testing.T) {
	w := newWorld(t)
	w.spawn(10, 1, 3, bob, false)
	w.spawn(10, 2, 2, alice, true)
	w.spawn(10, 3, 1, 76561198000000009, true)

	s := sampler.New(zerolog.Nop(), w.reg, w.store, nil, 1)
	snaps := s.Sample(10, nil)
	if len(snaps) != 2 {
		t.Fatalf("Expected spectator to be skipped, got %d snapshots", len(snaps))
	}
	if snaps[0].AccountID != alice || snaps[1].AccountID != bob {
		t.Errorf("Expected snapshots ordered by account, got %d then %d", snaps[0].AccountID, snaps[1].AccountID)
	}
	dead := snaps[1]
	if dead.Alive || dead.Health != 0 || dead.Team != events.TeamCT {
		t.Errorf("Expected dead CT with zero health, got %+v", dead)
	}
}

func TestSampleInterval(t *testing.T) {
	w := newWorld(t)
	w.spawn(100, 1, 2, alice, true)

	s := sampler.New(zerolog.Nop(), w.reg, w.store, nil, 4)
	cases := []struct {
		tick uint32
		want int
	}{
		{100, 1},
		{100, 0},
		{102, 0},
		{104, 1},
		{107, 0},
		{110, 1},
	}
	for _, c := range cases {
		if got := len(s.Sample(c.tick, nil)); got != c.want {
			t.Errorf("Tick %d: expected %d snapshots, got %d", c.tick, c.want, got)
		}
	}
}

func TestSampleHiddenPawn(t *testing.T) {
	w := newWorld(t)
	w.spawn(100, 1, 2, alice, true)
	w.apply(w.packet().Leave(9), 101)

	s := sampler.New(zerolog.Nop(), w.reg, w.store, nil, 1)
	if got := len(s.Sample(101, nil)); got != 0 {
		t.Errorf("Expected no snapshot for a pawn outside the PVS, got %d", got)
	}
}
