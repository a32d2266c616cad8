// Package sink fans one demo's output out to the relational, time-series
// and vector stores. Each store has its own flush worker fed by a bounded
// channel, so a slow store pushes back on the producer.
package sink

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/moments"
	"cs2-demo-pipeline/internal/sampler"
	"cs2-demo-pipeline/internal/summary"
	"cs2-demo-pipeline/internal/vector"
)

// Sink names used in SinkWriteError.
const (
	SinkRelational = "relational"
	SinkTimeSeries = "timeseries"
	SinkVector     = "vector"
)

// Relational stores moments and summaries.
type Relational interface {
	InsertMoments(ctx context.Context, ms []moments.Moment) error
	InsertSummaries(ctx context.Context, ss []summary.Summary) error
	ResetMatch(ctx context.Context, matchID string) error
}

// TimeSeries stores snapshots.
type TimeSeries interface {
	WriteSnapshots(ctx context.Context, matchID string, batch []sampler.Snapshot) error
	DeleteMatch(ctx context.Context, matchID string) error
}

// Vectors stores embeddings.
type Vectors interface {
	Upsert(ctx context.Context, embeddings []vector.Embedding) error
	DeleteMatch(ctx context.Context, matchID string) error
}

// Coordinator holds the shared store handles and opens one Session per demo.
type Coordinator struct {
	rel       Relational
	ts        TimeSeries
	vec       Vectors
	batchSize int
	logger    zerolog.Logger
}

// NewCoordinator builds a coordinator. A nil vec disables embeddings.
func NewCoordinator(rel Relational, ts TimeSeries, vec Vectors, batchSize int, logger zerolog.Logger) *Coordinator {
	if batchSize < 1 {
		batchSize = constants.DefaultBatchSize
	}
	return &Coordinator{rel: rel, ts: ts, vec: vec, batchSize: batchSize, logger: logger}
}

// BatchSize is the number of snapshots per time-series flush.
func (c *Coordinator) BatchSize() int { return c.batchSize }

// Reset removes everything a previous run stored for matchID. Vector
// failures are logged and ignored.
func (c *Coordinator) Reset(ctx context.Context, matchID string) error {
	if err := c.rel.ResetMatch(ctx, matchID); err != nil {
		return errs.SinkWrite(SinkRelational, err)
	}
	if err := c.ts.DeleteMatch(ctx, matchID); err != nil {
		return errs.SinkWrite(SinkTimeSeries, err)
	}
	if c.vec != nil {
		vctx, cancel := context.WithTimeout(ctx, constants.VectorTimeout)
		defer cancel()
		if err := c.vec.DeleteMatch(vctx, matchID); err != nil {
			c.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to delete previous embeddings")
		}
	}
	return nil
}

// relationalJob is either a moment batch or a summary batch. One worker
// applies them in arrival order so summaries never precede their moments.
type relationalJob struct {
	moments   []moments.Moment
	summaries []summary.Summary
}

// Result counts what a session stored.
type Result struct {
	Snapshots  int64
	Moments    int
	Summaries  int
	Embeddings int
	// VectorErr is the first vector failure, if any. It does not fail the
	// demo.
	VectorErr error
}

// Session is the set of flush workers for one demo. Producer methods must be
// called from a single goroutine.
type Session struct {
	matchID   string
	batchSize int
	logger    zerolog.Logger

	ctx context.Context
	g   *errgroup.Group

	snapshots  chan []sampler.Snapshot
	relational chan relationalJob
	embeddings chan []vector.Embedding

	pending   []sampler.Snapshot
	closeOnce sync.Once
	result    Result
}

// Open starts the workers of a new session. Already submitted batches are
// still flushed when parent is canceled; a hard sink failure cancels the
// session and drops whatever is still queued.
func (c *Coordinator) Open(parent context.Context, matchID string, logger zerolog.Logger) *Session {
	g, ctx := errgroup.WithContext(context.WithoutCancel(parent))
	s := &Session{
		matchID:    matchID,
		batchSize:  c.batchSize,
		logger:     logger,
		ctx:        ctx,
		g:          g,
		snapshots:  make(chan []sampler.Snapshot, constants.SnapshotChanFactor),
		relational: make(chan relationalJob, constants.SnapshotChanFactor),
		pending:    make([]sampler.Snapshot, 0, c.batchSize),
	}

	g.Go(func() error {
		return drain(ctx, s.snapshots, func(batch []sampler.Snapshot) error {
			if err := c.ts.WriteSnapshots(ctx, matchID, batch); err != nil {
				return errs.SinkWrite(SinkTimeSeries, err)
			}
			s.result.Snapshots += int64(len(batch))
			return nil
		})
	})

	g.Go(func() error {
		return drain(ctx, s.relational, func(job relationalJob) error {
			if len(job.moments) > 0 {
				if err := c.rel.InsertMoments(ctx, job.moments); err != nil {
					return errs.SinkWrite(SinkRelational, err)
				}
				s.result.Moments += len(job.moments)
			}
			if len(job.summaries) > 0 {
				if err := c.rel.InsertSummaries(ctx, job.summaries); err != nil {
					return errs.SinkWrite(SinkRelational, err)
				}
				s.result.Summaries += len(job.summaries)
			}
			return nil
		})
	})

	if c.vec != nil {
		s.embeddings = make(chan []vector.Embedding, constants.SnapshotChanFactor)
		g.Go(func() error {
			return drain(ctx, s.embeddings, func(batch []vector.Embedding) error {
				vctx, cancel := context.WithTimeout(ctx, constants.VectorTimeout)
				defer cancel()
				if err := c.vec.Upsert(vctx, batch); err != nil {
					if s.result.VectorErr == nil {
						s.result.VectorErr = errs.SinkWrite(SinkVector, err)
					}
					logger.Warn().Err(err).Int("embeddings", len(batch)).Msg("vector sink write failed, continuing")
					return nil
				}
				s.result.Embeddings += len(batch)
				return nil
			})
		})
	}

	return s
}

// drain applies fn to every value of ch until ch is closed or ctx ends.
func drain[T any](ctx context.Context, ch <-chan T, fn func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := fn(v); err != nil {
				return err
			}
		}
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Snapshots buffers a tick's snapshots and hands a full batch to the
// time-series worker, blocking while its queue is full. It returns the
// session's first hard error once a sink has failed.
func (s *Session) Snapshots(batch []sampler.Snapshot) error {
	s.pending = append(s.pending, batch...)
	if len(s.pending) < s.batchSize {
		return s.ctx.Err()
	}
	return s.flushSnapshots()
}

func (s *Session) flushSnapshots() error {
	if len(s.pending) == 0 {
		return nil
	}
	full := s.pending
	s.pending = make([]sampler.Snapshot, 0, s.batchSize)
	return send(s.ctx, s.snapshots, full)
}

// Moments queues a moment batch for the relational store.
func (s *Session) Moments(ms []moments.Moment) error {
	if len(ms) == 0 {
		return nil
	}
	return send(s.ctx, s.relational, relationalJob{moments: ms})
}

// Summaries queues summaries for the relational store and their embeddings
// for the vector store.
func (s *Session) Summaries(ss []summary.Summary) error {
	if len(ss) == 0 {
		return nil
	}
	if err := send(s.ctx, s.relational, relationalJob{summaries: ss}); err != nil {
		return err
	}
	if s.embeddings == nil {
		return nil
	}
	embs := make([]vector.Embedding, len(ss))
	for i := range ss {
		embs[i] = vector.FromSummary(ss[i])
	}
	return send(s.ctx, s.embeddings, embs)
}

// Close flushes buffered snapshots, waits for every worker and returns the
// first hard failure.
func (s *Session) Close() (Result, error) {
	var flushErr error
	s.closeOnce.Do(func() {
		flushErr = s.flushSnapshots()
		close(s.snapshots)
		close(s.relational)
		if s.embeddings != nil {
			close(s.embeddings)
		}
	})
	err := s.g.Wait()
	if err == nil && flushErr != nil {
		err = flushErr
	}
	if err != nil {
		return s.result, err
	}
	s.logger.Debug().
		Int64("snapshots", s.result.Snapshots).
		Int("moments", s.result.Moments).
		Int("summaries", s.result.Summaries).
		Int("embeddings", s.result.Embeddings).
		Msg("sink session flushed")
	return s.result, nil
}
