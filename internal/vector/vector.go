// Package vector stores per-moment behavior embeddings for similarity
// search. Writes are best effort: callers treat failures as soft.
package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/summary"
)

// Embedding is one (moment, player) feature vector.
type Embedding struct {
	ID        uuid.UUID
	MatchID   string
	MomentID  uuid.UUID
	AccountID uint64
	Kind      string
	Vector    []float32
}

// embeddingNamespace makes embedding ids stable across reprocessing.
var embeddingNamespace = uuid.MustParse("9b0f4a52-1d7e-4c3b-8e61-5f2a7c9d0e14")

// FromSummary builds the embedding of a summary in summary.FeatureOrder.
func FromSummary(s summary.Summary) Embedding {
	key := fmt.Sprintf("%s/%d", s.MomentID, s.AccountID)
	return Embedding{
		ID:        uuid.NewSHA1(embeddingNamespace, []byte(key)),
		MatchID:   s.MatchID,
		MomentID:  s.MomentID,
		AccountID: s.AccountID,
		Kind:      string(s.Kind),
		Vector:    s.Vector(),
	}
}

// Store upserts embeddings by id.
type Store interface {
	Upsert(ctx context.Context, embeddings []Embedding) error
	DeleteMatch(ctx context.Context, matchID string) error
	Close() error
}

// Nop discards embeddings when no vector backend is configured.
type Nop struct{}

func (Nop) Upsert(context.Context, []Embedding) error { return nil }
func (Nop) DeleteMatch(context.Context, string) error { return nil }
func (Nop) Close() error { return nil }

// Enabled reports whether s actually stores anything.
func Enabled(s Store) bool {
	_, nop := s.(Nop)
	return !nop
}

// New selects the backend named by VECTOR_BACKEND.
func New(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.VectorBackend {
	case config.VectorQdrant:
		return NewQdrant(cfg.VectorURL, cfg.VectorCollection, cfg.VectorAPIKey, logger), nil
	case config.VectorRqlite:
		ctx, cancel := context.WithTimeout(context.Background(), constants.VectorTimeout)
		defer cancel()
		store, err := OpenRqlite(ctx, cfg.VectorURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open rqlite vector store: %w", err)
		}
		return store, nil
	default:
		logger.Debug().Msg("vector sink disabled")
		return Nop{}, nil
	}
}
