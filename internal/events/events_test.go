package events

import (
	"errors"
	"testing"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"cs2-demo-pipeline/internal/errs"
)

type fakeResolver map[int32]Player

func (f fakeResolver) ResolveUser(userID int32) (uint64, Team, bool) {
	p, ok := f[userID]
	return p.AccountID, p.Team, ok
}

func testDescriptors() *msg.CMsgSource1LegacyGameEventList {
	key := func(name string, typ int32) *msg.CMsgSource1LegacyGameEventListKeyT {
		return &msg.CMsgSource1LegacyGameEventListKeyT{Name: proto.String(name), Type: proto.Int32(typ)}
	}
	desc := func(id int32, name string, keys ...*msg.CMsgSource1LegacyGameEventListKeyT) *msg.CMsgSource1LegacyGameEventListDescriptorT {
		return &msg.CMsgSource1LegacyGameEventListDescriptorT{Eventid: proto.Int32(id), Name: proto.String(name), Keys: keys}
	}
	return &msg.CMsgSource1LegacyGameEventList{Descriptors: []*msg.CMsgSource1LegacyGameEventListDescriptorT{
		desc(1, "player_death",
			key("userid", 8), key("attacker", 8), key("weapon", keyString),
			key("headshot", keyBool), key("penetrated", keyShort), key("distance", keyFloat)),
		desc(2, "round_end", key("winner", keyByte), key("reason", keyByte), key("message", keyString)),
		desc(3, "player_footstep", key("userid", keyShort)),
	}}
}

func newTestDecoder() *Decoder {
	d := NewDecoder(zerolog.Nop(), fakeResolver{
		3: {AccountID: 76561198000000003, Team: TeamT},
		4: {AccountID: 76561198000000004, Team: TeamCT},
	})
	d.LoadDescriptors(testDescriptors())
	return d
}

func gameEvent(id int32, keys ...*msg.CMsgSource1LegacyGameEventKeyT) *msg.CMsgSource1LegacyGameEvent {
	return &msg.CMsgSource1LegacyGameEvent{Eventid: proto.Int32(id), Keys: keys}
}

func TestDecodePlayerDeath(t *testing.T) {
	d := newTestDecoder()
	if d.Descriptors() != 3 {
		t.Fatalf("Expected 3 descriptors, got %d", d.Descriptors())
	}
	e, err := d.Decode(gameEvent(1,
		&msg.CMsgSource1LegacyGameEventKeyT{ValShort: proto.Int32(4)},
		&msg.CMsgSource1LegacyGameEventKeyT{ValShort: proto.Int32(3)},
		&msg.CMsgSource1LegacyGameEventKeyT{ValString: proto.String("ak47")},
		&msg.CMsgSource1LegacyGameEventKeyT{ValBool: proto.Bool(true)},
		&msg.CMsgSource1LegacyGameEventKeyT{ValShort: proto.Int32(1)},
		&msg.CMsgSource1LegacyGameEventKeyT{ValFloat: proto.Float32(12.5)},
	), 1500)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	death, ok := e.(PlayerDeath)
	if !ok {
		t.Fatalf("Expected PlayerDeath, got %T", e)
	}
	if death.EventTick() != 1500 || death.EventKind() != KindPlayerDeath {
		t.Errorf("Unexpected meta: tick %d kind %s", death.EventTick(), death.EventKind())
	}
	if death.Attacker.AccountID != 76561198000000003 || death.Attacker.Team != TeamT {
		t.Errorf("Unexpected attacker: %+v", death.Attacker)
	}
	if death.Victim.Team != TeamCT {
		t.Errorf("Expected CT victim, got %s", death.Victim.Team)
	}
	if death.Assister.UserID != NoUser || death.Assister.Known() {
		t.Errorf("Expected absent assister, got %+v", death.Assister)
	}
	if !death.Headshot || death.Weapon != "ak47" || death.Penetrated != 1 || death.Distance != 12.5 {
		t.Errorf("Unexpected payload: %+v", death)
	}
	if death.TeamKill() || death.Suicide() {
		t.Error("Expected a regular kill")
	}
}

func TestDecodeMissingVictimIsMalformed(t *testing.T) {
	d := newTestDecoder()
	_, err := d.Decode(gameEvent(1), 10)
	if !errors.Is(err, errs.ErrMalformedMessage) {
		t.Errorf("Expected ErrMalformedMessage, got %v", err)
	}
	_, err = d.Decode(gameEvent(99), 10)
	if !errors.Is(err, errs.ErrMalformedMessage) {
		t.Errorf("Expected ErrMalformedMessage for unknown id, got %v", err)
	}
}

func TestDecodeRoundEndReason(t *testing.T) {
	d := newTestDecoder()
	e, err := d.Decode(gameEvent(2,
		&msg.CMsgSource1LegacyGameEventKeyT{ValByte: proto.Int32(3)},
		&msg.CMsgSource1LegacyGameEventKeyT{ValByte: proto.Int32(7)},
	), 5000)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	end := e.(RoundEnd)
	if end.Winner != TeamCT || end.Reason != RoundEndReasonBombDefused {
		t.Errorf("Expected CT bomb_defused, got %s %s", end.Winner, end.Reason)
	}

	if r := ParseRoundEndReason(250); r != RoundEndReasonDraw {
		t.Errorf("Expected unknown reason to map to draw, got %s", r)
	}
	if r := ParseRoundEndReason(-1); r != RoundEndReasonDraw {
		t.Errorf("Expected negative reason to map to draw, got %s", r)
	}
}

func TestDecodeUnknownKindPreserved(t *testing.T) {
	d := newTestDecoder()
	e, err := d.Decode(gameEvent(3, &msg.CMsgSource1LegacyGameEventKeyT{ValShort: proto.Int32(4)}), 77)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	u, ok := e.(Unknown)
	if !ok {
		t.Fatalf("Expected Unknown, got %T", e)
	}
	if u.Name != "player_footstep" {
		t.Errorf("Expected name player_footstep, got %s", u.Name)
	}
	if v, ok := u.Fields.Int("userid"); !ok || v != 4 {
		t.Errorf("Expected userid 4, got %d %v", v, ok)
	}
}

func TestTeam(t *testing.T) {
	if TeamT.Opponent() != TeamCT || TeamCT.Opponent() != TeamT || TeamSpectators.Opponent() != TeamUnassigned {
		t.Error("Unexpected opponents")
	}
	if TeamT.String() != "T" || TeamCT.String() != "CT" {
		t.Errorf("Unexpected team names %s %s", TeamT, TeamCT)
	}
}

func TestCacheWindows(t *testing.T) {
	var c Cache
	for _, tick := range []uint32{100, 200, 200, 300, 400} {
		c.Add(WeaponFire{Meta: Meta{Tick: tick}})
	}
	c.Add(PlayerHurt{Meta: Meta{Tick: 250}})
	c.Add(PlayerDeath{Meta: Meta{Tick: 260}})
	c.Add(RoundStart{Meta: Meta{Tick: 270}})

	if c.Len() != 7 {
		t.Errorf("Expected 7 cached events, got %d", c.Len())
	}
	if got := len(c.WeaponFires(200, 300)); got != 3 {
		t.Errorf("Expected 3 shots in [200,300], got %d", got)
	}
	if got := len(c.WeaponFires(401, 500)); got != 0 {
		t.Errorf("Expected no shots after 400, got %d", got)
	}
	if got := len(c.WeaponFires(300, 200)); got != 0 {
		t.Errorf("Expected empty inverted window, got %d", got)
	}
	if got := len(c.PlayerHurts(0, 1000)); got != 1 {
		t.Errorf("Expected 1 hurt, got %d", got)
	}
	if got := len(c.PlayerDeaths(261, 1000)); got != 0 {
		t.Errorf("Expected no deaths after 260, got %d", got)
	}
}
