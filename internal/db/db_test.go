package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/moments"
	"cs2-demo-pipeline/internal/summary"
)

func openTest(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "cs2.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestParseStem(t *testing.T) {
	meta, ok := ParseStem("iem_navi_vs_faze_de_mirage")
	if !ok {
		t.Fatal("Expected the stem to match")
	}
	if meta.Tournament != "iem" || meta.Team1 != "navi" || meta.Team2 != "faze" || meta.MapName != "de_mirage" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}

	meta, ok = ParseStem("blast_team_vitality_vs_g2_inferno")
	if !ok || meta.Team1 != "team_vitality" || meta.Team2 != "g2" || meta.MapName != "inferno" {
		t.Errorf("Unexpected metadata: %+v (ok=%v)", meta, ok)
	}

	if _, ok := ParseStem("match730_003712345"); ok {
		t.Error("Expected a plain stem not to match")
	}
	if got := Stem("/demos/sub/iem_navi_vs_faze_de_mirage.dem"); got != "iem_navi_vs_faze_de_mirage" {
		t.Errorf("Expected stem without directory and extension, got %q", got)
	}
}

func TestRegisterMatchIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	w := NewWriter(db)
	r := NewReader(db)

	first, err := w.RegisterMatch(ctx, "/demos/iem_navi_vs_faze_de_mirage.dem", 100)
	if err != nil {
		t.Fatalf("Failed to register match: %v", err)
	}
	second, err := w.RegisterMatch(ctx, "/other/iem_navi_vs_faze_de_mirage.dem", 200)
	if err != nil {
		t.Fatalf("Failed to register match again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected the same match id, got %s and %s", first.ID, second.ID)
	}
	if second.Status != StatusPending {
		t.Errorf("Expected pending, got %s", second.Status)
	}

	matches, err := r.ListMatches(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match row, got %d", len(matches))
	}
	m := matches[0]
	if m.DemoPath != "/other/iem_navi_vs_faze_de_mirage.dem" || m.FileSize != 200 {
		t.Errorf("Expected the path and size to follow the latest registration, got %s/%d", m.DemoPath, m.FileSize)
	}
	if m.Team1 == nil || *m.Team1 != "navi" || m.MapName == nil || *m.MapName != "de_mirage" {
		t.Errorf("Expected filename metadata, got %+v", m)
	}
}

func TestStatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	w := NewWriter(db)
	r := NewReader(db)

	m, err := w.RegisterMatch(ctx, "/demos/a.dem", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.CompleteMatch(ctx, m.ID, MatchMeta{}); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("Expected completing a pending match to fail, got %v", err)
	}
	if err := w.BeginProcessing(ctx, m.ID, false); err != nil {
		t.Fatalf("Failed to begin processing: %v", err)
	}
	if err := w.BeginProcessing(ctx, m.ID, false); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("Expected a second claim to fail, got %v", err)
	}
	meta := MatchMeta{MapName: "de_nuke", TickRate: 64, DurationSeconds: 1800, PlaybackTicks: 115200}
	if err := w.CompleteMatch(ctx, m.ID, meta); err != nil {
		t.Fatalf("Failed to complete match: %v", err)
	}

	got, err := r.GetMatch(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.ProcessedAt == nil {
		t.Errorf("Expected completed with a processed time, got %s", got.Status)
	}
	if got.MapName == nil || *got.MapName != "de_nuke" || got.PlaybackTicks == nil || *got.PlaybackTicks != 115200 {
		t.Errorf("Expected parse metadata to be written back, got %+v", got)
	}

	if err := w.BeginProcessing(ctx, m.ID, false); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("Expected a completed match to need force, got %v", err)
	}
	if err := w.BeginProcessing(ctx, m.ID, true); err != nil {
		t.Fatalf("Expected force to reclaim, got %v", err)
	}
	if err := w.FailMatch(ctx, m.ID, "invalid_format", "bad magic"); err != nil {
		t.Fatal(err)
	}
	got, _ = r.GetMatch(ctx, m.ID)
	if got.Status != StatusFailed || got.ErrorKind == nil || *got.ErrorKind != "invalid_format" {
		t.Errorf("Expected failed with kind, got %+v", got)
	}
	if err := w.BeginProcessing(ctx, m.ID, false); err != nil {
		t.Errorf("Expected a failed match to be claimable, got %v", err)
	}
	if got, _ := r.GetMatch(ctx, m.ID); got.ErrorKind != nil {
		t.Errorf("Expected the error to be cleared, got %v", *got.ErrorKind)
	}

	counts, err := r.StatusCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusProcessing] != 1 || counts[StatusCompleted] != 0 {
		t.Errorf("Unexpected status counts: %v", counts)
	}

	if _, err := r.GetMatch(ctx, uuid.NewString()); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected ErrNoRows for a missing match, got %v", err)
	}
}

func TestMomentsAndSummaries(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	w := NewWriter(db)
	r := NewReader(db)

	m, err := w.RegisterMatch(ctx, "/demos/b.dem", 1)
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ace := moments.Moment{
		ID:         uuid.New(),
		MatchID:    m.ID,
		Kind:       moments.KindAce,
		Round:      3,
		StartTick:  1000,
		EndTick:    1920,
		Players:    []uint64{76561198000000001},
		Outcome:    "aced",
		Importance: 0.9,
		CreatedAt:  created,
	}
	trade := ace
	trade.ID = uuid.New()
	trade.Kind = moments.KindTrade
	trade.Players = []uint64{76561198000000002, 76561198000000003}
	if err := w.InsertMoments(ctx, []moments.Moment{ace, trade}); err != nil {
		t.Fatalf("Failed to insert moments: %v", err)
	}
	sums := []summary.Summary{{
		MomentID:  ace.ID,
		MatchID:   m.ID,
		AccountID: 76561198000000001,
		Kind:      moments.KindAce,
		Features:  map[string]float64{summary.FeatureKills: 5},
		Series:    map[string][]summary.Point{summary.ChannelX: {{Tick: 1000, Value: 1.5}}},
		SeriesCap: 64,
	}}
	if err := w.InsertSummaries(ctx, sums); err != nil {
		t.Fatalf("Failed to insert summaries: %v", err)
	}

	got, err := r.GetMoments(ctx, MomentQuery{MatchID: m.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != ace.ID || got[1].Kind != moments.KindTrade {
		t.Fatalf("Expected moments in arrival order, got %+v", got)
	}
	if got[0].Players[0] != 76561198000000001 || got[0].EndTick != 1920 || !got[0].CreatedAt.Equal(created) {
		t.Errorf("Unexpected ace round trip: %+v", got[0])
	}
	kind := moments.KindTrade
	trades, _ := r.GetMoments(ctx, MomentQuery{MatchID: m.ID, Kind: &kind})
	if len(trades) != 1 || len(trades[0].Players) != 2 {
		t.Errorf("Expected one trade with two players, got %+v", trades)
	}

	features, err := r.GetSummaryFeatures(ctx, ace.ID, 76561198000000001)
	if err != nil {
		t.Fatal(err)
	}
	if features[summary.FeatureKills] != 5 {
		t.Errorf("Expected 5 kills, got %v", features[summary.FeatureKills])
	}

	if err := w.ResetMatch(ctx, m.ID); err != nil {
		t.Fatalf("Failed to reset match: %v", err)
	}
	got, _ = r.GetMoments(ctx, MomentQuery{MatchID: m.ID})
	n, _ := r.CountSummaries(ctx, m.ID)
	if len(got) != 0 || n != 0 {
		t.Errorf("Expected reset to clear moments and summaries, got %d and %d", len(got), n)
	}
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	if err := NewWriter(db).SetMeta(ctx, "last_run_id", "abc"); err != nil {
		t.Fatal(err)
	}
	r := NewReader(db)
	if v, _ := r.GetMeta(ctx, "last_run_id"); v != "abc" {
		t.Errorf("Expected abc, got %q", v)
	}
	if v, _ := r.GetMeta(ctx, "missing"); v != "" {
		t.Errorf("Expected empty value, got %q", v)
	}
}
