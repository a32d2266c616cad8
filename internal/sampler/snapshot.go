// Package sampler turns committed entity state into per-player snapshots.
package sampler

import (
	"github.com/golang/geo/r3"

	"cs2-demo-pipeline/internal/events"
)

// Snapshot is one player's state at one tick.
type Snapshot struct {
	Tick      uint32
	AccountID uint64
	Round     int32
	Team      events.Team

	Health   int32
	Armor    int32
	Position r3.Vector
	Velocity r3.Vector
	Yaw      float32
	Pitch    float32

	WeaponID int32 // item definition index, 0 when unarmed
	Clip     int32
	Reserve  int32

	Alive    bool
	Airborne bool
	Scoped   bool
	Walking  bool

	FlashRemaining float32 // seconds
	Money          int32
	EquipmentValue int32
}

// Speed returns the magnitude of the velocity in units per second.
func (s *Snapshot) Speed() float64 { return s.Velocity.Norm() }
