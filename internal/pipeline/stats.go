package pipeline

import (
	"context"
	"fmt"

	"cs2-demo-pipeline/internal/db"
)

// StatusCounter reports match counts per status.
type StatusCounter interface {
	StatusCounts(ctx context.Context) (map[db.Status]int, error)
}

// SnapshotCounter reports stored snapshot counts.
type SnapshotCounter interface {
	Count(ctx context.Context, matchID string) (int64, error)
}

// Stats is a store-wide overview.
type Stats struct {
	Matches   map[db.Status]int
	Snapshots int64
}

// Total returns the number of registered matches.
func (s Stats) Total() int {
	n := 0
	for _, c := range s.Matches {
		n += c
	}
	return n
}

// CollectStats reads match counts and the snapshot total.
func CollectStats(ctx context.Context, matches StatusCounter, snapshots SnapshotCounter) (Stats, error) {
	counts, err := matches.StatusCounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count matches: %w", err)
	}
	n, err := snapshots.Count(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return Stats{Matches: counts, Snapshots: n}, nil
}
