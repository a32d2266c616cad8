// Package summary computes per-player behavior summaries over the tick
// window of each key moment.
package summary

import (
	"math"
	"strings"

	"github.com/google/uuid"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/moments"
)

// Feature names, in embedding order.
const (
	FeaturePathLength     = "path_length"
	FeatureMeanSpeed      = "mean_speed"
	FeatureMaxSpeed       = "max_speed"
	FeatureScopedRatio    = "scoped_ratio"
	FeatureWalkingRatio   = "walking_ratio"
	FeatureAirborneRatio  = "airborne_ratio"
	FeatureFlashSum       = "flash_sum"
	FeatureMeanYawDelta   = "mean_abs_yaw_delta"
	FeatureMeanPitchDelta = "mean_abs_pitch_delta"
	FeatureShotsFired     = "shots_fired"
	FeatureGrenadesThrown = "grenades_thrown"
	FeatureDamageDealt    = "damage_dealt"
	FeatureDamageTaken    = "damage_taken"
	FeatureKills          = "kills"
	FeatureDeaths         = "deaths"
	FeatureAccuracy       = "accuracy"
	FeatureSamples        = "samples"
)

// FeatureOrder fixes the layout of embedding vectors.
var FeatureOrder = []string{
	FeaturePathLength,
	FeatureMeanSpeed,
	FeatureMaxSpeed,
	FeatureScopedRatio,
	FeatureWalkingRatio,
	FeatureAirborneRatio,
	FeatureFlashSum,
	FeatureMeanYawDelta,
	FeatureMeanPitchDelta,
	FeatureShotsFired,
	FeatureGrenadesThrown,
	FeatureDamageDealt,
	FeatureDamageTaken,
	FeatureKills,
	FeatureDeaths,
	FeatureAccuracy,
	FeatureSamples,
}

// Series channels.
const (
	ChannelX     = "x"
	ChannelY     = "y"
	ChannelZ     = "z"
	ChannelYaw   = "yaw"
	ChannelPitch = "pitch"
	ChannelSpeed = "speed"
)

var Channels = []string{ChannelX, ChannelY, ChannelZ, ChannelYaw, ChannelPitch, ChannelSpeed}

var grenades = map[string]bool{
	"hegrenade":    true,
	"flashbang":    true,
	"smokegrenade": true,
	"molotov":      true,
	"incgrenade":   true,
	"decoy":        true,
}

// IsGrenade reports whether a weapon_fire weapon name is a thrown grenade.
// Names may carry the "weapon_" prefix.
func IsGrenade(weapon string) bool {
	name := strings.TrimPrefix(strings.ToLower(weapon), "weapon_")
	return grenades[name]
}

// isUtilityDamage reports whether a player_hurt weapon is a grenade or the
// fire a molotov leaves behind.
func isUtilityDamage(weapon string) bool {
	return IsGrenade(weapon) || strings.TrimPrefix(strings.ToLower(weapon), "weapon_") == "inferno"
}

// Point is one downsampled series value.
type Point struct {
	Tick  uint32  `json:"tick"`
	Value float64 `json:"value"`
}

// Summary is the behavior of one player over one moment window.
type Summary struct {
	MomentID  uuid.UUID
	MatchID   string
	AccountID uint64
	Kind      moments.Kind
	Features  map[string]float64
	Series    map[string][]Point
	SeriesCap int
}

// Vector returns the features in FeatureOrder.
func (s *Summary) Vector() []float32 {
	v := make([]float32, len(FeatureOrder))
	for i, name := range FeatureOrder {
		v[i] = float32(s.Features[name])
	}
	return v
}

// Summarizer joins moments with the retained tracks and events of a demo.
type Summarizer struct {
	tracks    *Tracks
	cache     *events.Cache
	seriesCap int
}

func New(tracks *Tracks, cache *events.Cache) *Summarizer {
	return &Summarizer{tracks: tracks, cache: cache, seriesCap: constants.SeriesCap}
}

// Summarize returns one summary per involved player, in the moment's player
// order.
func (s *Summarizer) Summarize(m moments.Moment) []Summary {
	fires := s.cache.WeaponFires(m.StartTick, m.EndTick)
	hurts := s.cache.PlayerHurts(m.StartTick, m.EndTick)
	deaths := s.cache.PlayerDeaths(m.StartTick, m.EndTick)

	out := make([]Summary, 0, len(m.Players))
	for _, account := range m.Players {
		samples := s.tracks.window(account, m.StartTick, m.EndTick)
		features := movement(samples)
		combat(features, account, fires, hurts, deaths)
		out = append(out, Summary{
			MomentID:  m.ID,
			MatchID:   m.MatchID,
			AccountID: account,
			Kind:      m.Kind,
			Features:  features,
			Series:    series(samples, s.seriesCap),
			SeriesCap: s.seriesCap,
		})
	}
	return out
}

// SummarizeAll summarizes every moment in order.
func (s *Summarizer) SummarizeAll(ms []moments.Moment) []Summary {
	var out []Summary
	for i := range ms {
		out = append(out, s.Summarize(ms[i])...)
	}
	return out
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func movement(samples []sample) map[string]float64 {
	f := make(map[string]float64, len(FeatureOrder))
	n := float64(len(samples))
	pairs := math.Max(n-1, 0)

	var path, speedSum, maxSpeed, flash, yawSum, pitchSum float64
	var scoped, walking, airborne float64
	for i, p := range samples {
		speedSum += p.speed
		maxSpeed = math.Max(maxSpeed, p.speed)
		flash += float64(p.flash)
		if p.scoped {
			scoped++
		}
		if p.walking {
			walking++
		}
		if p.airborne {
			airborne++
		}
		if i > 0 {
			prev := samples[i-1]
			path += p.pos.Sub(prev.pos).Norm()
			yawSum += math.Abs(float64(p.yaw - prev.yaw))
			pitchSum += math.Abs(float64(p.pitch - prev.pitch))
		}
	}

	f[FeaturePathLength] = path
	f[FeatureMeanSpeed] = ratio(speedSum, n)
	f[FeatureMaxSpeed] = maxSpeed
	f[FeatureScopedRatio] = ratio(scoped, n)
	f[FeatureWalkingRatio] = ratio(walking, n)
	f[FeatureAirborneRatio] = ratio(airborne, n)
	f[FeatureFlashSum] = flash
	f[FeatureMeanYawDelta] = ratio(yawSum, pairs)
	f[FeatureMeanPitchDelta] = ratio(pitchSum, pairs)
	f[FeatureSamples] = n
	return f
}

func combat(f map[string]float64, account uint64, fires []events.WeaponFire, hurts []events.PlayerHurt, deaths []events.PlayerDeath) {
	var shots, thrown, hits, dealt, taken, kills, died float64
	for _, e := range fires {
		if e.Shooter.AccountID != account {
			continue
		}
		shots++
		if IsGrenade(e.Weapon) {
			thrown++
		}
	}
	for _, e := range hurts {
		if e.Attacker.AccountID == account && e.Victim.AccountID != account {
			if !isUtilityDamage(e.Weapon) {
				hits++
			}
			dealt += float64(e.DmgHealth)
		}
		if e.Victim.AccountID == account {
			taken += float64(e.DmgHealth)
		}
	}
	for _, e := range deaths {
		if e.Attacker.AccountID == account && e.Victim.AccountID != account {
			kills++
		}
		if e.Victim.AccountID == account {
			died++
		}
	}

	f[FeatureShotsFired] = shots
	f[FeatureGrenadesThrown] = thrown
	f[FeatureDamageDealt] = dealt
	f[FeatureDamageTaken] = taken
	f[FeatureKills] = kills
	f[FeatureDeaths] = died
	// One bullet can hurt several players, so accuracy is capped.
	f[FeatureAccuracy] = math.Min(1, ratio(hits, shots-thrown))
}

// series downsamples the window to at most limit points per channel: every
// ceil(n/limit)-th sample plus the last one. When the last sample would not
// fit it replaces the final kept point.
func series(samples []sample, limit int) map[string][]Point {
	out := make(map[string][]Point, len(Channels))
	n := len(samples)
	if n == 0 || limit <= 0 {
		for _, ch := range Channels {
			out[ch] = []Point{}
		}
		return out
	}

	step := (n + limit - 1) / limit
	idx := make([]int, 0, limit)
	for i := 0; i < n; i += step {
		idx = append(idx, i)
	}
	if idx[len(idx)-1] != n-1 {
		if len(idx) < limit {
			idx = append(idx, n-1)
		} else {
			idx[len(idx)-1] = n - 1
		}
	}

	for _, ch := range Channels {
		out[ch] = make([]Point, 0, len(idx))
	}
	for _, i := range idx {
		p := samples[i]
		out[ChannelX] = append(out[ChannelX], Point{p.tick, p.pos.X})
		out[ChannelY] = append(out[ChannelY], Point{p.tick, p.pos.Y})
		out[ChannelZ] = append(out[ChannelZ], Point{p.tick, p.pos.Z})
		out[ChannelYaw] = append(out[ChannelYaw], Point{p.tick, float64(p.yaw)})
		out[ChannelPitch] = append(out[ChannelPitch], Point{p.tick, float64(p.pitch)})
		out[ChannelSpeed] = append(out[ChannelSpeed], Point{p.tick, p.speed})
	}
	return out
}
