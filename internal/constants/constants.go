package constants

import "time"

const (
	TicksPerSecond = 64
	CellWidth      = 512
	CellOffset     = 16384
)

const (
	PadBefore            = 2 * TicksPerSecond
	PadAfter             = 5 * TicksPerSecond
	TradeWindow          = 5 * TicksPerSecond
	ExecuteClusterWindow = 10 * TicksPerSecond
	SeriesCap            = 64
	MaxInvolvedPlayers   = 10
)

const (
	DefaultConcurrency    = 4
	DefaultBatchSize      = 1000
	DefaultSampleInterval = 1
	SnapshotChanFactor    = 2
)

const (
	DatabaseTimeout   = 30 * time.Second
	VectorTimeout     = 10 * time.Second
	DBMaxOpenConns    = 8
	DBMaxIdleConns    = 4
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	TSPoolMaxConns    = 8
)

const (
	ShutdownTimeout  = 10 * time.Second
	ProgressInterval = 5000
)
