package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"cs2-demo-pipeline/internal/moments"
	"cs2-demo-pipeline/internal/summary"
)

// Status is the processing state of a match row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotClaimed is returned when a match is not in a state that allows the
// requested transition.
var ErrNotClaimed = errors.New("match status does not allow this transition")

// Writer provides methods to write pipeline results to the relational store.
type Writer struct {
	db  *sql.DB
	now func() time.Time
}

// NewWriter creates a new database writer.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db, now: time.Now}
}

// Match is one demo registered for processing.
type Match struct {
	ID              string
	DemoStem        string
	DemoPath        string
	FileSize        int64
	Tournament      *string
	Team1           *string
	Team2           *string
	MapName         *string
	TickRate        *float64
	DurationSeconds *float64
	PlaybackTicks   *int64
	Status          Status
	ErrorKind       *string
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// MatchMeta is what parsing learns about a match.
type MatchMeta struct {
	MapName         string
	TickRate        float64
	DurationSeconds float64
	PlaybackTicks   int64
}

// FileMeta is what a demo file name says about its match.
type FileMeta struct {
	Tournament string
	Team1      string
	Team2      string
	MapName    string
}

var stemPattern = regexp.MustCompile(`^([^_]+)_(.+)_vs_(.+?)_(de_[a-z0-9]+|[a-z0-9]+)$`)

// Stem returns the natural key of a demo path.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseStem reads tournament_team1_vs_team2_map stems. ok is false for any
// other shape.
func ParseStem(stem string) (FileMeta, bool) {
	m := stemPattern.FindStringSubmatch(strings.ToLower(stem))
	if m == nil {
		return FileMeta{}, false
	}
	return FileMeta{Tournament: m[1], Team1: m[2], Team2: m[3], MapName: m[4]}, true
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullable(s string, ok bool) *string {
	if !ok || s == "" {
		return nil
	}
	return &s
}

// RegisterMatch upserts the match row for a demo file by its stem. A second
// registration of the same stem returns the existing id and status.
func (w *Writer) RegisterMatch(ctx context.Context, path string, size int64) (Match, error) {
	stem := Stem(path)
	meta, ok := ParseStem(stem)
	now := formatTime(w.now())

	query := `
		INSERT INTO matches (
			id, demo_stem, demo_path, file_size, tournament, team1, team2, map_name,
			status, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(demo_stem) DO UPDATE SET
			demo_path = excluded.demo_path,
			file_size = excluded.file_size,
			updated_at = excluded.updated_at
		RETURNING id, status, created_at
	`
	m := Match{DemoStem: stem, DemoPath: path, FileSize: size}
	m.Tournament = nullable(meta.Tournament, ok)
	m.Team1 = nullable(meta.Team1, ok)
	m.Team2 = nullable(meta.Team2, ok)
	m.MapName = nullable(meta.MapName, ok)

	var status, createdAt string
	err := w.db.QueryRowContext(ctx, query,
		uuid.NewString(), stem, path, size, m.Tournament, m.Team1, m.Team2, m.MapName,
		string(StatusPending), now, now,
	).Scan(&m.ID, &status, &createdAt)
	if err != nil {
		return Match{}, fmt.Errorf("failed to register match %s: %w", stem, err)
	}
	m.Status = Status(status)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, now)
	return m, nil
}

// BeginProcessing moves a match to Processing. Pending and Failed matches
// are claimable; force also claims Completed and stale Processing rows.
func (w *Writer) BeginProcessing(ctx context.Context, id string, force bool) error {
	query := `
		UPDATE matches
		SET status = ?, error_kind = NULL, error_message = NULL, updated_at = ?
		WHERE id = ? AND (status IN (?, ?) OR ?)
	`
	res, err := w.db.ExecContext(ctx, query,
		string(StatusProcessing), formatTime(w.now()), id,
		string(StatusPending), string(StatusFailed), force,
	)
	if err != nil {
		return fmt.Errorf("failed to mark match processing: %w", err)
	}
	return claimed(res, id)
}

// CompleteMatch records parse metadata and moves a Processing match to
// Completed.
func (w *Writer) CompleteMatch(ctx context.Context, id string, meta MatchMeta) error {
	now := formatTime(w.now())
	query := `
		UPDATE matches
		SET status = ?, map_name = COALESCE(NULLIF(?, ''), map_name), tick_rate = ?,
			duration_seconds = ?, playback_ticks = ?, updated_at = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := w.db.ExecContext(ctx, query,
		string(StatusCompleted), meta.MapName, meta.TickRate,
		meta.DurationSeconds, meta.PlaybackTicks, now, now,
		id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to complete match: %w", err)
	}
	return claimed(res, id)
}

// FailMatch moves a Processing match to Failed with the error kind and
// message of the first failure.
func (w *Writer) FailMatch(ctx context.Context, id, kind, message string) error {
	now := formatTime(w.now())
	query := `
		UPDATE matches
		SET status = ?, error_kind = ?, error_message = ?, updated_at = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := w.db.ExecContext(ctx, query,
		string(StatusFailed), kind, message, now, now, id, string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to fail match: %w", err)
	}
	return claimed(res, id)
}

func claimed(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("match %s: %w", id, ErrNotClaimed)
	}
	return nil
}

// ResetMatch removes the moments and summaries of a previous run.
func (w *Writer) ResetMatch(ctx context.Context, matchID string) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM behavior_summaries WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("failed to delete summaries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM key_moments WHERE match_id = ?`, matchID); err != nil {
		return fmt.Errorf("failed to delete moments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetMeta sets a metadata key-value pair.
func (w *Writer) SetMeta(ctx context.Context, key, value string) error {
	query := `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`
	_, err := w.db.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta: %w", err)
	}
	return nil
}

// InsertMoments inserts multiple moments in a single transaction.
func (w *Writer) InsertMoments(ctx context.Context, ms []moments.Moment) error {
	if len(ms) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO key_moments (
			id, match_id, kind, round, start_tick, end_tick,
			players, outcome, importance, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range ms {
		players, err := json.Marshal(accountStrings(m.Players))
		if err != nil {
			return fmt.Errorf("failed to marshal players: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			m.ID.String(), m.MatchID, string(m.Kind), m.Round, m.StartTick, m.EndTick,
			string(players), m.Outcome, m.Importance, formatTime(m.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert moment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// InsertSummaries inserts multiple behavior summaries in a single
// transaction. Their moments must already be stored.
func (w *Writer) InsertSummaries(ctx context.Context, ss []summary.Summary) error {
	if len(ss) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO behavior_summaries (
			moment_id, match_id, account_id, kind, features, series, series_cap
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range ss {
		features, err := json.Marshal(s.Features)
		if err != nil {
			return fmt.Errorf("failed to marshal features: %w", err)
		}
		series, err := json.Marshal(s.Series)
		if err != nil {
			return fmt.Errorf("failed to marshal series: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			s.MomentID.String(), s.MatchID, int64(s.AccountID), string(s.Kind),
			string(features), string(series), s.SeriesCap,
		)
		if err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// accountStrings keeps 64-bit account ids exact in JSON.
func accountStrings(accounts []uint64) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = fmt.Sprintf("%d", a)
	}
	return out
}
