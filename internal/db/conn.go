package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/constants"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// New opens the relational store named by the configuration.
func New(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	return Open(ctx, cfg.DBPath, logger)
}

// Open opens a SQLite database, applies connection pragmas and runs the
// embedded migrations. The file is created if it doesn't exist.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*sql.DB, error) {
	logger.Info().Str("path", path).Msg("connecting to database")

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(constants.DBMaxOpenConns)
	db.SetMaxIdleConns(constants.DBMaxIdleConns)
	db.SetConnMaxLifetime(constants.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(constants.DBMaxIdleTime)

	if err := verifyPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Msg("database connection established")
	return db, nil
}

func runMigrations(db *sql.DB, logger zerolog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	logger.Debug().Msg("migrations completed successfully")
	return nil
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []struct {
	name  string
	value string
}{
	{"busy_timeout", "5000"},
	{"journal_mode", "WAL"},
	{"synchronous", "NORMAL"},
	{"cache_size", "-64000"},
	{"foreign_keys", "ON"},
	{"temp_store", "MEMORY"},
}

func dsn(path string) string {
	params := make([]string, 0, len(pragmas))
	for _, pragma := range pragmas {
		params = append(params, fmt.Sprintf("_pragma=%s(%s)", pragma.name, pragma.value))
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// verifyPragmas checks that the connection picked up the DSN pragmas.
func verifyPragmas(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	var foreignKeys int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		return fmt.Errorf("failed to read PRAGMA foreign_keys: %w", err)
	}
	if foreignKeys != 1 {
		return fmt.Errorf("foreign keys are not enabled")
	}
	var journal string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		return fmt.Errorf("failed to read PRAGMA journal_mode: %w", err)
	}
	logger.Debug().
		Str("journal_mode", journal).
		Int("foreign_keys", foreignKeys).
		Msg("SQLite pragmas set")
	return nil
}
