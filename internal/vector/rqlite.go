package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rqlite/gorqlite"
	"github.com/rs/zerolog"
)

// Rqlite keeps embeddings as JSON rows in an rqlite cluster.
type Rqlite struct {
	conn   *gorqlite.Connection
	logger zerolog.Logger
}

const createEmbeddings = `
CREATE TABLE IF NOT EXISTS behavioral_embeddings (
	id         TEXT    NOT NULL,
	match_id   TEXT    NOT NULL,
	moment_id  TEXT    NOT NULL,
	account_id INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	vector     TEXT    NOT NULL,
	PRIMARY KEY (id)
);
`

const createEmbeddingsIndex = `
CREATE INDEX IF NOT EXISTS behavioral_embeddings_match_index
ON behavioral_embeddings (match_id);
`

const upsertEmbedding = `
INSERT INTO behavioral_embeddings (id, match_id, moment_id, account_id, kind, vector)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
match_id = excluded.match_id,
moment_id = excluded.moment_id,
account_id = excluded.account_id,
kind = excluded.kind,
vector = excluded.vector;
`

func OpenRqlite(ctx context.Context, addr string, logger zerolog.Logger) (*Rqlite, error) {
	conn, err := gorqlite.Open(addr)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}

	if err := conn.SetExecutionWithTransaction(true); err != nil {
		return nil, fmt.Errorf("set execution with transaction: %w", err)
	}

	params := []gorqlite.ParameterizedStatement{
		{Query: createEmbeddings, Arguments: []any{}},
		{Query: createEmbeddingsIndex, Arguments: []any{}},
	}
	if err := checkResults(conn.WriteParameterizedContext(ctx, params)); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info().Str("addr", addr).Msg("rqlite vector store ready")
	return &Rqlite{conn: conn, logger: logger}, nil
}

func upsertStatements(embeddings []Embedding) ([]gorqlite.ParameterizedStatement, error) {
	params := make([]gorqlite.ParameterizedStatement, 0, len(embeddings))
	for _, e := range embeddings {
		b, err := json.Marshal(e.Vector)
		if err != nil {
			return nil, fmt.Errorf("marshal vector: %w", err)
		}
		params = append(params, gorqlite.ParameterizedStatement{
			Query:     upsertEmbedding,
			Arguments: []any{e.ID.String(), e.MatchID, e.MomentID.String(), int64(e.AccountID), e.Kind, string(b)},
		})
	}
	return params, nil
}

func checkResults(results []gorqlite.WriteResult, err error) error {
	if err != nil {
		return fmt.Errorf("do query: %w", err)
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("result error: %w", r.Err)
		}
	}
	return nil
}

func (db *Rqlite) Upsert(ctx context.Context, embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	params, err := upsertStatements(embeddings)
	if err != nil {
		return err
	}
	return checkResults(db.conn.WriteParameterizedContext(ctx, params))
}

func (db *Rqlite) DeleteMatch(ctx context.Context, matchID string) error {
	param := gorqlite.ParameterizedStatement{
		Query:     "DELETE FROM behavioral_embeddings WHERE match_id = ?;",
		Arguments: []any{matchID},
	}
	result, err := db.conn.WriteOneParameterizedContext(ctx, param)
	if err != nil {
		return fmt.Errorf("do query: %w", err)
	}
	db.logger.Debug().Str("match_id", matchID).Int64("rows", result.RowsAffected).Msg("previous embeddings removed")
	return nil
}

func (db *Rqlite) Close() error {
	db.conn.Close()
	return nil
}
