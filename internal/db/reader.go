package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"cs2-demo-pipeline/internal/moments"
)

// Reader provides methods to read pipeline results from the relational store.
type Reader struct {
	db *sql.DB
}

// NewReader creates a new database reader.
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// MomentQuery represents query parameters for moments.
type MomentQuery struct {
	MatchID string
	Kind    *moments.Kind
}

const matchColumns = `
	id, demo_stem, demo_path, file_size, tournament, team1, team2, map_name,
	tick_rate, duration_seconds, playback_ticks, status, error_kind, error_message,
	created_at, updated_at, processed_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (Match, error) {
	var m Match
	var status, createdAt, updatedAt string
	var processedAt *string
	err := row.Scan(
		&m.ID, &m.DemoStem, &m.DemoPath, &m.FileSize, &m.Tournament, &m.Team1, &m.Team2, &m.MapName,
		&m.TickRate, &m.DurationSeconds, &m.PlaybackTicks, &status, &m.ErrorKind, &m.ErrorMessage,
		&createdAt, &updatedAt, &processedAt,
	)
	if err != nil {
		return Match{}, err
	}
	m.Status = Status(status)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if processedAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *processedAt); err == nil {
			m.ProcessedAt = &t
		}
	}
	return m, nil
}

// GetMatch retrieves a match by id. A missing match returns sql.ErrNoRows.
func (r *Reader) GetMatch(ctx context.Context, id string) (Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = ?`
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return Match{}, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// GetMatchByStem retrieves a match by its natural key.
func (r *Reader) GetMatchByStem(ctx context.Context, stem string) (Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE demo_stem = ?`
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, stem))
	if err != nil {
		return Match{}, fmt.Errorf("failed to get match by stem: %w", err)
	}
	return m, nil
}

// GetMatchExists checks if a match exists.
func (r *Reader) GetMatchExists(ctx context.Context, matchID string) (bool, error) {
	query := `SELECT 1 FROM matches WHERE id = ? LIMIT 1`
	var exists int
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check match existence: %w", err)
	}
	return true, nil
}

// ListMatches returns matches ordered by stem, optionally filtered by status.
func (r *Reader) ListMatches(ctx context.Context, status *Status) ([]Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches`
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY demo_stem ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}

	return matches, nil
}

// StatusCounts returns the number of matches in each status.
func (r *Reader) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM matches GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// GetMoments retrieves moments matching the query in arrival order.
func (r *Reader) GetMoments(ctx context.Context, q MomentQuery) ([]moments.Moment, error) {
	query := `
		SELECT id, match_id, kind, round, start_tick, end_tick,
		       players, outcome, importance, created_at
		FROM key_moments
		WHERE match_id = ?
	`
	args := []interface{}{q.MatchID}

	if q.Kind != nil {
		query += " AND kind = ?"
		args = append(args, string(*q.Kind))
	}

	query += " ORDER BY rowid ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query moments: %w", err)
	}
	defer rows.Close()

	out := make([]moments.Moment, 0)
	for rows.Next() {
		var m moments.Moment
		var id, kind, players, createdAt string
		err := rows.Scan(
			&id, &m.MatchID, &kind, &m.Round, &m.StartTick, &m.EndTick,
			&players, &m.Outcome, &m.Importance, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan moment: %w", err)
		}
		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid moment id %q: %w", id, err)
		}
		m.Kind = moments.Kind(kind)
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		var accounts []string
		if err := json.Unmarshal([]byte(players), &accounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal players: %w", err)
		}
		for _, a := range accounts {
			account, err := strconv.ParseUint(a, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid account id %q: %w", a, err)
			}
			m.Players = append(m.Players, account)
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moments: %w", err)
	}

	return out, nil
}

// CountSummaries returns the number of behavior summaries of a match.
func (r *Reader) CountSummaries(ctx context.Context, matchID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM behavior_summaries WHERE match_id = ?`, matchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries: %w", err)
	}
	return n, nil
}

// GetSummaryFeatures returns the feature map stored for one
// (moment, account) pair.
func (r *Reader) GetSummaryFeatures(ctx context.Context, momentID uuid.UUID, account uint64) (map[string]float64, error) {
	query := `SELECT features FROM behavior_summaries WHERE moment_id = ? AND account_id = ?`
	var raw string
	if err := r.db.QueryRowContext(ctx, query, momentID.String(), int64(account)).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	features := make(map[string]float64)
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	return features, nil
}

// GetMeta retrieves a metadata value. A missing key returns "".
func (r *Reader) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta: %w", err)
	}
	return value, nil
}
