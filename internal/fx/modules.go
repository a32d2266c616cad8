package fx

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"cs2-demo-pipeline/internal/config"
	"cs2-demo-pipeline/internal/db"
	"cs2-demo-pipeline/internal/ipc"
	"cs2-demo-pipeline/internal/logger"
	"cs2-demo-pipeline/internal/parser"
	"cs2-demo-pipeline/internal/pipeline"
	"cs2-demo-pipeline/internal/sink"
	"cs2-demo-pipeline/internal/timeseries"
	"cs2-demo-pipeline/internal/vector"
)

func ProvideDatabase(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	sqlDB, err := db.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := sqlDB.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			return nil
		},
	})
	return sqlDB, nil
}

func ProvideTimeseries(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (timeseries.Store, error) {
	store, err := timeseries.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing time-series store")
			}
			return nil
		},
	})
	return store, nil
}

func ProvideVectors(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (vector.Store, error) {
	store, err := vector.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := store.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing vector store")
			}
			return nil
		},
	})
	return store, nil
}

func ProvideCoordinator(cfg *config.Config, w *db.Writer, ts timeseries.Store, vec vector.Store, logger zerolog.Logger) *sink.Coordinator {
	var vectors sink.Vectors
	if vector.Enabled(vec) {
		vectors = vec
	}
	return sink.NewCoordinator(w, ts, vectors, cfg.BatchSize, logger)
}

func ProvideDecoder(cfg *config.Config, logger zerolog.Logger) (parser.Decoder, error) {
	return parser.New(cfg.Decoder, logger, cfg.SampleInterval)
}

func ProvideProcessor(cfg *config.Config, w *db.Writer, coord *sink.Coordinator, dec parser.Decoder, out *ipc.Output, logger zerolog.Logger) *pipeline.Processor {
	return pipeline.NewProcessor(w, coord, dec, out, pipeline.Options{
		Concurrency: cfg.Concurrency,
		Force:       cfg.Force,
	}, logger)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	// stores
	fx.Provide(ProvideDatabase),
	fx.Provide(db.NewWriter),
	fx.Provide(db.NewReader),
	fx.Provide(ProvideTimeseries),
	fx.Provide(ProvideVectors),
	// pipeline
	fx.Provide(ProvideCoordinator),
	fx.Provide(ProvideDecoder),
	fx.Provide(ipc.NewOutput),
	fx.Provide(ProvideProcessor),
)
