// Package timeseries appends per-tick player snapshots to the time-series
// store and removes them again when a match is reprocessed.
package timeseries

import (
	"context"
	"embed"
	"fmt"

	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/sampler"
)

//go:embed migrations
var embedMigrations embed.FS

// Store is an append-only snapshot sink.
type Store interface {
	// WriteSnapshots appends one batch. Batches for a match arrive in
	// non-decreasing tick order.
	WriteSnapshots(ctx context.Context, matchID string, batch []sampler.Snapshot) error
	// DeleteMatch removes every snapshot of a match.
	DeleteMatch(ctx context.Context, matchID string) error
	// Count returns the number of stored snapshots, for one match or for all
	// matches when matchID is empty.
	Count(ctx context.Context, matchID string) (int64, error)
	Close() error
}

// columns is the shared row layout of both backends.
var columns = []string{
	"match_id", "tick", "account_id", "round", "team", "health", "armor",
	"pos_x", "pos_y", "pos_z", "vel_x", "vel_y", "vel_z", "yaw", "pitch",
	"weapon_id", "clip", "reserve", "alive", "airborne", "scoped", "walking",
	"flash_remaining", "money", "equipment_value",
}

func row(matchID string, s *sampler.Snapshot) []any {
	return []any{
		matchID, int64(s.Tick), int64(s.AccountID), s.Round, int16(s.Team), s.Health, s.Armor,
		s.Position.X, s.Position.Y, s.Position.Z, s.Velocity.X, s.Velocity.Y, s.Velocity.Z, s.Yaw, s.Pitch,
		s.WeaponID, s.Clip, s.Reserve, s.Alive, s.Airborne, s.Scoped, s.Walking,
		s.FlashRemaining, s.Money, s.EquipmentValue,
	}
}

// New opens the backend selected by TIMESERIES_URL.
func New(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()

	if cfg.TimeseriesIsPostgres() {
		store, err := OpenPostgres(ctx, cfg.TimeseriesURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres time-series store: %w", err)
		}
		return store, nil
	}
	store, err := OpenSQLite(ctx, cfg.TimeseriesURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite time-series store: %w", err)
	}
	return store, nil
}
