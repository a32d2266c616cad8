package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/db"
	fxmodules "cs2-demo-pipeline/internal/fx"
	"cs2-demo-pipeline/internal/pipeline"
	"cs2-demo-pipeline/internal/timeseries"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: pipeline <command> [flags]

commands:
  process   discover, register and process every demo
  discover  register demos without processing them
  stats     print match status counts and stored snapshots
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	var (
		demoDir     = flags.String("demos", "", "Directory searched recursively for .dem files (overrides DEMO_DIR)")
		concurrency = flags.Int("concurrency", 0, "Maximum demos processed at once (overrides CONCURRENCY)")
		decoder     = flags.String("decoder", "", "Decoder backend: 'native' or 'demoinfocs' (overrides DECODER)")
		force       = flags.Bool("force", false, "Reprocess matches that already completed")
	)
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(exitUsage)
	}

	var invoke any
	switch command {
	case "process":
		invoke = runProcess
	case "discover":
		invoke = runDiscover
	case "stats":
		invoke = runStats
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n%s", command, usage)
		os.Exit(exitUsage)
	}

	app := fx.New(
		fxmodules.Module,
		fx.Supply(config.Overrides{
			DemoDir:     *demoDir,
			Concurrency: *concurrency,
			Decoder:     *decoder,
			Force:       *force,
		}),
		fx.NopLogger,
		fx.StopTimeout(constants.ShutdownTimeout+constants.DatabaseTimeout),
		fx.Invoke(invoke),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitFailure)
	}
	app.Run()
}

// job runs one command to completion. Its context is canceled on SIGINT or
// SIGTERM; the job is expected to wind down and return.
type job func(ctx context.Context) error

// start runs j once the app has started and shuts the app down when it
// returns. Stopping the app cancels j and waits for it, so a failed or
// interrupted job always exits non-zero.
func start(lc fx.Lifecycle, shutdowner fx.Shutdowner, logger zerolog.Logger, j job) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := j(ctx)
				done <- err
				code := exitSuccess
				if err != nil {
					code = exitFailure
				}
				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Error().Err(err).Msg("failed to shut down")
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					logger.Error().Err(err).Msg("command failed")
				}
				return err
			case <-stopCtx.Done():
				logger.Error().Msg("timed out waiting for in-flight demos")
				return stopCtx.Err()
			}
		},
	})
}

func runProcess(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, proc *pipeline.Processor, logger zerolog.Logger) {
	start(lc, shutdowner, logger, func(ctx context.Context) error {
		report, err := proc.Process(ctx, cfg.DemoDir)
		if err != nil {
			return err
		}
		for _, f := range report.Failures {
			logger.Warn().Str("demo", f.Demo).Str("kind", f.Kind).Err(f.Err).Msg("demo ended failed")
		}
		logger.Info().
			Int("discovered", report.Discovered).
			Int("completed", report.Completed).
			Int("failed", len(report.Failures)).
			Int("skipped", report.Skipped).
			Int("pending", report.Canceled).
			Int("peak_concurrency", proc.Peak()).
			Str("elapsed", report.Elapsed.Round(time.Millisecond).String()).
			Msg("run summary")
		if !report.OK() {
			return fmt.Errorf("%d demos failed, %d left pending", len(report.Failures), report.Canceled)
		}
		return nil
	})
}

func runDiscover(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, writer *db.Writer, logger zerolog.Logger) {
	start(lc, shutdowner, logger, func(ctx context.Context) error {
		demos, err := pipeline.Discover(ctx, cfg.DemoDir, logger)
		if err != nil {
			return err
		}
		matches, err := pipeline.Register(ctx, writer, demos, logger)
		if err != nil {
			return err
		}
		for i, m := range matches {
			fmt.Printf("%s\t%s\t%s\t%s\n", m.ID, m.Status, humanize.Bytes(uint64(demos[i].Size)), m.DemoPath)
		}
		return nil
	})
}

func runStats(lc fx.Lifecycle, shutdowner fx.Shutdowner, reader *db.Reader, ts timeseries.Store, logger zerolog.Logger) {
	start(lc, shutdowner, logger, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
		defer cancel()
		stats, err := pipeline.CollectStats(ctx, reader, ts)
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(stats.Matches))
		for s := range stats.Matches {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Printf("%-12s %d\n", s, stats.Matches[db.Status(s)])
		}
		fmt.Printf("%-12s %d\n", "total", stats.Total())
		fmt.Printf("%-12s %s\n", "snapshots", humanize.Comma(stats.Snapshots))
		return nil
	})
}
