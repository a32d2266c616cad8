package logger

import (
	"os"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// RunID identifies one process invocation on every log line.
var RunID = newRunID()

func newRunID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return "unknown"
	}
	return id
}

// New builds the process logger. Output goes to stderr because stdout carries
// progress lines. LOG_LEVEL selects the level.
func New() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return SetLevel(level)
}

func SetLevel(level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Caller().
		Str("run_id", RunID).
		Logger()

	logger = logger.Level(level)

	return logger
}

var Module = fx.Provide(New)
