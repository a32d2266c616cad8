package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"cs2-demo-pipeline/internal/constants"
)

// Decoder backends.
const (
	DecoderNative     = "native"
	DecoderDemoinfocs = "demoinfocs"
)

// Vector sink backends.
const (
	VectorNone   = "none"
	VectorQdrant = "qdrant"
	VectorRqlite = "rqlite"
)

type Config struct {
	DemoDir        string
	Concurrency    int
	BatchSize      int
	SampleInterval uint32
	Decoder        string
	Force          bool

	DBPath        string
	TimeseriesURL string

	VectorBackend    string
	VectorURL        string
	VectorCollection string
	VectorAPIKey     string

	LogLevel string
}

// Overrides carries command-line values that take precedence over the
// environment. Zero values leave the environment setting in place.
type Overrides struct {
	DemoDir     string
	Concurrency int
	Decoder     string
	Force       bool
}

func Load(logger zerolog.Logger, o Overrides) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DemoDir:          getEnv("DEMO_DIR", "./demos"),
		Decoder:          strings.ToLower(getEnv("DECODER", DecoderNative)),
		DBPath:           getEnv("DB_PATH", "cs2.db"),
		TimeseriesURL:    getEnv("TIMESERIES_URL", "cs2_timeseries.db"),
		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", VectorNone)),
		VectorURL:        getEnv("VECTOR_URL", ""),
		VectorCollection: getEnv("VECTOR_COLLECTION", "behavioral_embeddings"),
		VectorAPIKey:     getEnv("VECTOR_API_KEY", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Concurrency, err = getInt("CONCURRENCY", constants.DefaultConcurrency); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getInt("BATCH_SIZE", constants.DefaultBatchSize); err != nil {
		return nil, err
	}
	interval, err := getInt("SAMPLE_INTERVAL", constants.DefaultSampleInterval)
	if err != nil {
		return nil, err
	}
	cfg.SampleInterval = uint32(interval)

	if o.DemoDir != "" {
		cfg.DemoDir = o.DemoDir
	}
	if o.Concurrency != 0 {
		cfg.Concurrency = o.Concurrency
	}
	if o.Decoder != "" {
		cfg.Decoder = strings.ToLower(o.Decoder)
	}
	cfg.Force = o.Force

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("demo_dir", cfg.DemoDir).
		Int("concurrency", cfg.Concurrency).
		Int("batch_size", cfg.BatchSize).
		Uint32("sample_interval", cfg.SampleInterval).
		Str("decoder", cfg.Decoder).
		Str("db_path", cfg.DBPath).
		Str("vector_backend", cfg.VectorBackend).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.SampleInterval < 1 {
		return fmt.Errorf("SAMPLE_INTERVAL must be at least 1, got %d", c.SampleInterval)
	}
	switch c.Decoder {
	case DecoderNative, DecoderDemoinfocs:
	default:
		return fmt.Errorf("unknown DECODER %q", c.Decoder)
	}
	switch c.VectorBackend {
	case VectorNone:
	case VectorQdrant, VectorRqlite:
		if c.VectorURL == "" {
			return fmt.Errorf("VECTOR_URL is required for VECTOR_BACKEND=%s", c.VectorBackend)
		}
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend)
	}
	return nil
}

// TimeseriesIsPostgres reports whether the time-series sink targets
// PostgreSQL rather than a local SQLite file.
func (c *Config) TimeseriesIsPostgres() bool {
	return strings.HasPrefix(c.TimeseriesURL, "postgres://") || strings.HasPrefix(c.TimeseriesURL, "postgresql://")
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

var Module = fx.Provide(Load)
