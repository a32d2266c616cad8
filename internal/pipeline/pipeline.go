// Package pipeline registers discovered demos and drives each one through
// parsing, moment detection, summarization and the sinks, bounded by a
// process-wide permit count.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/db"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/ipc"
	"cs2-demo-pipeline/internal/parser"
	"cs2-demo-pipeline/internal/sink"
	"cs2-demo-pipeline/internal/summary"
)

// Matches is the part of the relational store the processor drives.
type Matches interface {
	RegisterMatch(ctx context.Context, path string, size int64) (db.Match, error)
	BeginProcessing(ctx context.Context, id string, force bool) error
	CompleteMatch(ctx context.Context, id string, meta db.MatchMeta) error
	FailMatch(ctx context.Context, id, kind, message string) error
}

// Options tunes a Processor.
type Options struct {
	Concurrency int
	Force       bool
}

// Failure is one demo that ended Failed.
type Failure struct {
	Demo string
	Kind string
	Err  error
}

// Report tallies one processing run.
type Report struct {
	Discovered int
	Completed  int
	Skipped    int // already completed, not forced
	Canceled   int // never started because of shutdown
	Failures   []Failure
	Elapsed    time.Duration
}

// OK reports whether every started demo completed and none were left
// behind.
func (r *Report) OK() bool { return len(r.Failures) == 0 && r.Canceled == 0 }

// Processor runs demos through the pipeline.
type Processor struct {
	matches Matches
	coord   *sink.Coordinator
	decoder parser.Decoder
	out     *ipc.Output
	opts    Options
	logger  zerolog.Logger

	// inFlight and peak observe the permit bound.
	mu       sync.Mutex
	inFlight int
	peak     int
}

func NewProcessor(matches Matches, coord *sink.Coordinator, decoder parser.Decoder, out *ipc.Output, opts Options, logger zerolog.Logger) *Processor {
	if opts.Concurrency < 1 {
		opts.Concurrency = constants.DefaultConcurrency
	}
	return &Processor{
		matches: matches,
		coord:   coord,
		decoder: decoder,
		out:     out,
		opts:    opts,
		logger:  logger,
	}
}

// Peak returns the highest number of demos that were processed at once.
func (p *Processor) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

func (p *Processor) enter() {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.mu.Unlock()
}

func (p *Processor) leave() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

// Register upserts a match row for every demo.
func Register(ctx context.Context, store Matches, demos []Demo, logger zerolog.Logger) ([]db.Match, error) {
	matches := make([]db.Match, 0, len(demos))
	for _, d := range demos {
		m, err := store.RegisterMatch(ctx, d.Path, d.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", d.Path, err)
		}
		matches = append(matches, m)
	}
	logger.Info().Int("matches", len(matches)).Msg("registered matches")
	return matches, nil
}

// Process discovers, registers and processes every demo under dir.
func (p *Processor) Process(ctx context.Context, dir string) (*Report, error) {
	start := time.Now()
	demos, err := Discover(ctx, dir, p.logger)
	if err != nil {
		return nil, err
	}
	matches, err := Register(ctx, p.matches, demos, p.logger)
	if err != nil {
		return nil, err
	}
	report := p.Run(ctx, matches)
	report.Discovered = len(demos)
	report.Elapsed = time.Since(start)
	return report, nil
}

// Run processes matches with at most Concurrency demos in flight. A failing
// demo does not stop the others. Canceling ctx stops handing out permits;
// demos already running finish their sink flush and are marked Failed.
func (p *Processor) Run(ctx context.Context, matches []db.Match) *Report {
	report := &Report{}
	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(p.opts.Concurrency))
	g := new(errgroup.Group)

	for i, m := range matches {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Canceled = len(matches) - i
			p.logger.Warn().Int("pending", report.Canceled).Msg("shutdown requested, leaving remaining demos pending")
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			p.enter()
			defer p.leave()

			outcome, err := p.processMatch(ctx, m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failures = append(report.Failures, Failure{Demo: m.DemoPath, Kind: errs.KindOf(err), Err: err})
			case outcome == outcomeSkipped:
				report.Skipped++
			default:
				report.Completed++
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info().
		Int("completed", report.Completed).
		Int("failed", len(report.Failures)).
		Int("skipped", report.Skipped).
		Int("canceled", report.Canceled).
		Msg("processing finished")
	return report
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSkipped
)

// processMatch claims the match and runs it. The returned error is the one
// recorded on the match row.
func (p *Processor) processMatch(ctx context.Context, m db.Match) (outcome, error) {
	logger := p.logger.With().Str("match_id", m.ID).Str("demo", m.DemoStem).Logger()

	if err := p.matches.BeginProcessing(ctx, m.ID, p.opts.Force); err != nil {
		if errors.Is(err, db.ErrNotClaimed) {
			logger.Info().Str("status", string(m.Status)).Msg("skipping match")
			return outcomeSkipped, nil
		}
		return 0, fmt.Errorf("failed to claim match: %w", err)
	}

	start := time.Now()
	res, err := p.runDemo(ctx, m, logger)
	// Status writes outlive a shutdown so no row is left Processing.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DatabaseTimeout)
	defer cancel()
	if err != nil {
		kind := errs.KindOf(err)
		logger.Error().Err(err).Str("kind", kind).Msg("demo failed")
		p.out.Error(m.DemoStem, kind)
		if ferr := p.matches.FailMatch(wctx, m.ID, kind, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record match failure")
		}
		return 0, err
	}

	meta := db.MatchMeta{
		MapName:         res.Header.MapName,
		TickRate:        res.Header.TickRate,
		DurationSeconds: res.Header.Duration(),
		PlaybackTicks:   int64(res.Header.PlaybackTicks),
	}
	if meta.PlaybackTicks == 0 {
		meta.PlaybackTicks = int64(res.LastTick)
	}
	if err := p.matches.CompleteMatch(wctx, m.ID, meta); err != nil {
		err = errs.SinkWrite(sink.SinkRelational, err)
		logger.Error().Err(err).Msg("failed to complete match")
		if ferr := p.matches.FailMatch(wctx, m.ID, errs.KindOf(err), err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record match failure")
		}
		return 0, err
	}
	p.out.Progress(ipc.StageComplete, m.DemoStem, res.LastTick, 1)
	logger.Info().
		Str("map", meta.MapName).
		Int64("snapshots", res.Snapshots).
		Int("events", res.Events).
		Dur("elapsed", time.Since(start)).
		Msg("demo completed")
	return outcomeCompleted, nil
}

// runDemo resets earlier output, parses the demo, detects moments,
// summarizes them and waits for every sink.
func (p *Processor) runDemo(ctx context.Context, m db.Match, logger zerolog.Logger) (parser.Result, error) {
	if err := p.coord.Reset(ctx, m.ID); err != nil {
		return parser.Result{}, fmt.Errorf("failed to reset previous output: %w", err)
	}

	sess := p.coord.Open(ctx, m.ID, logger)
	h := newDemoHandler(m.ID, m.DemoStem, sess, p.out)
	res, err := p.decoder.Parse(ctx, m.DemoPath, h)
	if err != nil {
		// A sink failure surfaces through the handler; prefer it over the
		// parser's wrapping of it.
		if _, serr := sess.Close(); serr != nil {
			return res, serr
		}
		return res, err
	}
	if res.Skipped > 0 {
		logger.Warn().Int("skipped", res.Skipped).Msg("skipped malformed game events")
	}

	p.out.Progress(ipc.StageDetect, m.DemoStem, res.LastTick, 1)
	found := h.detector.Moments()
	if err := sess.Moments(found); err != nil {
		_, serr := sess.Close()
		return res, firstErr(serr, err)
	}

	p.out.Progress(ipc.StageSummary, m.DemoStem, res.LastTick, 1)
	summaries := summary.New(h.tracks, h.cache).SummarizeAll(found)
	if err := sess.Summaries(summaries); err != nil {
		_, serr := sess.Close()
		return res, firstErr(serr, err)
	}

	stored, err := sess.Close()
	if err != nil {
		return res, err
	}
	if stored.VectorErr != nil {
		logger.Warn().Err(stored.VectorErr).Msg("embeddings incomplete, vector sink failed")
	}
	logger.Debug().
		Int("moments", stored.Moments).
		Int("summaries", stored.Summaries).
		Int("embeddings", stored.Embeddings).
		Int("tracked", h.tracks.Len()).
		Msg("demo output stored")
	return res, nil
}

func firstErr(errList ...error) error {
	for _, err := range errList {
		if err != nil {
			return err
		}
	}
	return nil
}
