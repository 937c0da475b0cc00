package engine

import (
	"fmt"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/risk"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// Sampling decides when the equity curve gets a point.
type Sampling string

const (
	SampleEvent Sampling = "event"
	SampleFill  Sampling = "fill"
)

// Settings is the engine part of the configuration.
type Settings struct {
	InitialCapital decimal.Decimal
	Timeframes     []domain.Timeframe
	Limits         risk.Limits

	HaltOnBreach         bool // stop the run when the drawdown breaker trips
	RequireContiguousSeq bool
	Sampling             Sampling

	Session           string // fill journal key for live runs
	DumpDir           string // where panic dumps go
	ShutdownTimeout   time.Duration
	ReconcileInterval time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		InitialCapital:    decimal.NewFromInt(10000),
		Sampling:          SampleEvent,
		Session:           "default",
		DumpDir:           ".",
		ShutdownTimeout:   10 * time.Second,
		ReconcileInterval: time.Minute,
	}
}

func (s Settings) Validate() error {
	if !s.InitialCapital.IsPositive() {
		return &domain.ConfigError{Field: "engine.initial_capital", Err: fmt.Errorf("must be positive, got %s", s.InitialCapital)}
	}
	switch s.Sampling {
	case SampleEvent, SampleFill:
	default:
		return &domain.ConfigError{Field: "engine.sampling", Err: fmt.Errorf("unknown sampling %q", s.Sampling)}
	}
	if s.Limits.MaxDrawdown.IsNegative() || s.Limits.MaxDrawdown.GreaterThan(decimal.NewFromInt(1)) {
		return &domain.ConfigError{Field: "risk.max_drawdown", Err: fmt.Errorf("must be within [0, 1], got %s", s.Limits.MaxDrawdown)}
	}
	if s.ShutdownTimeout < 0 || s.ReconcileInterval < 0 {
		return &domain.ConfigError{Field: "live", Err: fmt.Errorf("durations must not be negative")}
	}
	return nil
}
