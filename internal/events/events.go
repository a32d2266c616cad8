// Package events materializes typed game events from the legacy game event
// messages carried inside demo packets.
package events

import "fmt"

// Kind names an event variant. Values match the wire event names.
type Kind string

const (
	KindRoundStart   Kind = "round_start"
	KindRoundEnd     Kind = "round_end"
	KindPlayerDeath  Kind = "player_death"
	KindPlayerHurt   Kind = "player_hurt"
	KindWeaponFire   Kind = "weapon_fire"
	KindBombPlanted  Kind = "bomb_planted"
	KindBombDefused  Kind = "bomb_defused"
	KindBombExploded Kind = "bomb_exploded"
	KindUnknown      Kind = "unknown"
)

// Team is the networked team number.
type Team uint8

const (
	TeamUnassigned Team = 0
	TeamSpectators Team = 1
	TeamT          Team = 2
	TeamCT         Team = 3
)

func (t Team) String() string {
	switch t {
	case TeamT:
		return "T"
	case TeamCT:
		return "CT"
	case TeamSpectators:
		return "SPEC"
	default:
		return ""
	}
}

// Playing reports whether the team takes part in rounds.
func (t Team) Playing() bool { return t == TeamT || t == TeamCT }

// Opponent returns the other playing side, or TeamUnassigned.
func (t Team) Opponent() Team {
	switch t {
	case TeamT:
		return TeamCT
	case TeamCT:
		return TeamT
	default:
		return TeamUnassigned
	}
}

// RoundEndReason uses the game's reason numbering.
type RoundEndReason uint8

const (
	RoundEndReasonTargetBombed        RoundEndReason = 1
	RoundEndReasonBombDefused         RoundEndReason = 7
	RoundEndReasonCTWin               RoundEndReason = 8
	RoundEndReasonTerroristsWin       RoundEndReason = 9
	RoundEndReasonDraw                RoundEndReason = 10
	RoundEndReasonHostagesRescued     RoundEndReason = 11
	RoundEndReasonTargetSaved         RoundEndReason = 12
	RoundEndReasonHostagesNotRescued  RoundEndReason = 13
	RoundEndReasonGameStart           RoundEndReason = 16
	RoundEndReasonTerroristsSurrender RoundEndReason = 17
	RoundEndReasonCTSurrender         RoundEndReason = 18
)

var roundEndReasonNames = map[RoundEndReason]string{
	RoundEndReasonTargetBombed:        "target_bombed",
	RoundEndReasonBombDefused:         "bomb_defused",
	RoundEndReasonCTWin:               "ct_win",
	RoundEndReasonTerroristsWin:       "t_win",
	RoundEndReasonDraw:                "draw",
	RoundEndReasonHostagesRescued:     "hostages_rescued",
	RoundEndReasonTargetSaved:         "target_saved",
	RoundEndReasonHostagesNotRescued:  "hostages_not_rescued",
	RoundEndReasonGameStart:           "game_start",
	RoundEndReasonTerroristsSurrender: "t_surrender",
	RoundEndReasonCTSurrender:         "ct_surrender",
}

// ParseRoundEndReason maps a wire reason code. Unknown codes map to Draw.
func ParseRoundEndReason(code int64) RoundEndReason {
	if code < 0 || code > 255 {
		return RoundEndReasonDraw
	}
	r := RoundEndReason(code)
	if _, ok := roundEndReasonNames[r]; !ok {
		return RoundEndReasonDraw
	}
	return r
}

func (r RoundEndReason) String() string {
	if name, ok := roundEndReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason_%d", uint8(r))
}

// HitGroup is the body part hit by damage.
type HitGroup uint8

const (
	HitGroupGeneric  HitGroup = 0
	HitGroupHead     HitGroup = 1
	HitGroupChest    HitGroup = 2
	HitGroupStomach  HitGroup = 3
	HitGroupLeftArm  HitGroup = 4
	HitGroupRightArm HitGroup = 5
	HitGroupLeftLeg  HitGroup = 6
	HitGroupRightLeg HitGroup = 7
	HitGroupNeck     HitGroup = 8
	HitGroupGear     HitGroup = 10
)

// Event is one tick-stamped game event.
type Event interface {
	EventTick() uint32
	EventKind() Kind
}

// Meta carries fields shared by every event.
type Meta struct {
	Tick uint32
}

func (m Meta) EventTick() uint32 { return m.Tick }

// Player identifies an event participant. AccountID is zero when the user
// id could not be resolved (world damage, bots, unknown slots).
type Player struct {
	UserID    int32
	AccountID uint64
	Team      Team
}

// Known reports whether the participant resolved to an account.
func (p Player) Known() bool { return p.AccountID != 0 }

type RoundStart struct {
	Meta
	TimeLimit int32
	FragLimit int32
	Objective string
}

type RoundEnd struct {
	Meta
	Winner    Team
	Reason    RoundEndReason
	RoundTime float32
	Message   string
}

type PlayerDeath struct {
	Meta
	Victim        Player
	Attacker      Player
	Assister      Player
	Weapon        string
	Headshot      bool
	Penetrated    int32
	NoScope       bool
	ThruSmoke     bool
	AttackerBlind bool
	Distance      float32
}

// TeamKill reports whether both sides of the kill played for the same team.
func (e PlayerDeath) TeamKill() bool {
	return e.Attacker.Team.Playing() && e.Attacker.Team == e.Victim.Team
}

// Suicide reports a death without a distinct attacking player.
func (e PlayerDeath) Suicide() bool {
	return !e.Attacker.Known() || e.Attacker.AccountID == e.Victim.AccountID
}

type PlayerHurt struct {
	Meta
	Victim    Player
	Attacker  Player
	Health    int32
	Armor     int32
	Weapon    string
	DmgHealth int32
	DmgArmor  int32
	HitGroup  HitGroup
}

type WeaponFire struct {
	Meta
	Shooter  Player
	Weapon   string
	Silenced bool
}

type BombPlanted struct {
	Meta
	Planter Player
	Site    int32
}

type BombDefused struct {
	Meta
	Defuser Player
	Site    int32
}

type BombExploded struct {
	Meta
	Carrier Player
	Site    int32
}

// Unknown preserves an event kind the pipeline does not interpret.
type Unknown struct {
	Meta
	Name   string
	Fields Payload
}

func (RoundStart) EventKind() Kind { return KindRoundStart }
func (RoundEnd) EventKind() Kind { return KindRoundEnd }
func (PlayerDeath) EventKind() Kind { return KindPlayerDeath }
func (PlayerHurt) EventKind() Kind { return KindPlayerHurt }
func (WeaponFire) EventKind() Kind { return KindWeaponFire }
func (BombPlanted) EventKind() Kind { return KindBombPlanted }
func (BombDefused) EventKind() Kind { return KindBombDefused }
func (BombExploded) EventKind() Kind { return KindBombExploded }
func (Unknown) EventKind() Kind { return KindUnknown }
