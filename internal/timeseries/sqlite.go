package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/sampler"
)

// SQLite is the local snapshot store used when no PostgreSQL URL is set.
type SQLite struct {
	db     *sql.DB
	insert string
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the snapshot database at path.
func OpenSQLite(ctx context.Context, path string, logger zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	fsys, err := fs.Sub(embedMigrations, "migrations/sqlite")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run goose migrations: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insert := fmt.Sprintf("INSERT OR REPLACE INTO player_snapshots (%s) VALUES (%s)",
		strings.Join(columns, ", "), placeholders)

	logger.Info().Str("backend", "sqlite").Str("path", path).Msg("time-series store ready")
	return &SQLite{db: db, insert: insert, logger: logger}, nil
}

// WriteSnapshots inserts one batch in a single transaction.
func (s *SQLite) WriteSnapshots(ctx context.Context, matchID string, batch []sampler.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		if _, err := stmt.ExecContext(ctx, row(matchID, &batch[i])...); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteMatch(ctx context.Context, matchID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM player_snapshots WHERE match_id = ?`, matchID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug().Str("match_id", matchID).Int64("rows", n).Msg("previous snapshots removed")
	return nil
}

func (s *SQLite) Count(ctx context.Context, matchID string) (int64, error) {
	var n int64
	var err error
	if matchID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_snapshots`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_snapshots WHERE match_id = ?`, matchID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Ticks returns the stored ticks of one player in order.
func (s *SQLite) Ticks(ctx context.Context, matchID string, account uint64) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick FROM player_snapshots WHERE match_id = ? AND account_id = ? ORDER BY tick ASC`,
		matchID, int64(account))
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	ticks := make([]uint32, 0)
	for rows.Next() {
		var tick uint32
		if err := rows.Scan(&tick); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticks: %w", err)
	}
	return ticks, nil
}
