package timeseries

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/sampler"
)

// Postgres writes snapshots to PostgreSQL (TimescaleDB when the extension
// is installed) with COPY.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPostgres connects, pings and migrates the snapshot table.
func OpenPostgres(ctx context.Context, url string, logger zerolog.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = constants.TSPoolMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info().Str("backend", "postgres").Msg("time-series store ready")
	return &Postgres{pool: pool, logger: logger}, nil
}

func migratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(embedMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

func (p *Postgres) WriteSnapshots(ctx context.Context, matchID string, batch []sampler.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}
	n, err := p.pool.CopyFrom(ctx, pgx.Identifier{"player_snapshots"}, columns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			return row(matchID, &batch[i]), nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy snapshots: %w", err)
	}
	if n != int64(len(batch)) {
		return fmt.Errorf("copied %d of %d snapshots", n, len(batch))
	}
	return nil
}

func (p *Postgres) DeleteMatch(ctx context.Context, matchID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM player_snapshots WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	p.logger.Debug().Str("match_id", matchID).Int64("rows", tag.RowsAffected()).Msg("previous snapshots removed")
	return nil
}

func (p *Postgres) Count(ctx context.Context, matchID string) (int64, error) {
	var n int64
	var err error
	if matchID == "" {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM player_snapshots`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM player_snapshots WHERE match_id = $1`, matchID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
