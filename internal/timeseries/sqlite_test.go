package timeseries

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/sampler"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ts.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func batch(ticks ...uint32) []sampler.Snapshot {
	var out []sampler.Snapshot
	for _, tick := range ticks {
		for _, account := range []uint64{76561198000000001, 76561198000000002} {
			out = append(out, sampler.Snapshot{
				Tick:      tick,
				AccountID: account,
				Round:     1,
				Team:      events.TeamCT,
				Health:    100,
				Position:  r3.Vector{X: float64(tick), Y: 2, Z: 3},
				Alive:     true,
			})
		}
	}
	return out
}

func TestWriteAndCount(t *testing.T) {
	ctx := context.Background()
	store := openTest(t)

	if err := store.WriteSnapshots(ctx, "m1", batch(1, 2, 3)); err != nil {
		t.Fatalf("Failed to write snapshots: %v", err)
	}
	if err := store.WriteSnapshots(ctx, "m2", batch(1)); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteSnapshots(ctx, "m1", nil); err != nil {
		t.Errorf("Expected an empty batch to be a no-op, got %v", err)
	}

	if n, _ := store.Count(ctx, "m1"); n != 6 {
		t.Errorf("Expected 6 snapshots for m1, got %d", n)
	}
	if n, _ := store.Count(ctx, ""); n != 8 {
		t.Errorf("Expected 8 snapshots in total, got %d", n)
	}

	ticks, err := store.Ticks(ctx, "m1", 76561198000000002)
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Errorf("Expected ticks [1 2 3], got %v", ticks)
	}
}

func TestRewriteKeepsOneSnapshotPerTick(t *testing.T) {
	ctx := context.Background()
	store := openTest(t)
	if err := store.WriteSnapshots(ctx, "m1", batch(5)); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteSnapshots(ctx, "m1", batch(5)); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Count(ctx, "m1"); n != 2 {
		t.Errorf("Expected 2 snapshots, got %d", n)
	}
}

func TestDeleteMatch(t *testing.T) {
	ctx := context.Background()
	store := openTest(t)
	if err := store.WriteSnapshots(ctx, "m1", batch(1, 2)); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteSnapshots(ctx, "m2", batch(1)); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteMatch(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Count(ctx, "m1"); n != 0 {
		t.Errorf("Expected m1 to be empty, got %d", n)
	}
	if n, _ := store.Count(ctx, "m2"); n != 2 {
		t.Errorf("Expected m2 untouched, got %d", n)
	}
}

func TestNewSelectsSQLite(t *testing.T) {
	cfg := &config.Config{TimeseriesURL: filepath.Join(t.TempDir(), "ts.db")}
	store, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, ok := store.(*SQLite); !ok {
		t.Errorf("Expected a SQLite store, got %T", store)
	}
}
