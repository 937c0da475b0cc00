package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"trade_engine/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TRADE_RISK_MAX_DRAWDOWN.
const EnvPrefix = "TRADE_"

// Config holds every setting of the application. It is loaded from YAML,
// then environment variables (and a .env file, if present) override it.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Engine    EngineConfig    `yaml:"engine" envPrefix:"ENGINE_"`
	Execution ExecutionConfig `yaml:"execution" envPrefix:"EXECUTION_"`
	Risk      RiskConfig      `yaml:"risk" envPrefix:"RISK_"`
	Live      LiveConfig      `yaml:"live" envPrefix:"LIVE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
}

type EngineConfig struct {
	InitialCapital       decimal.Decimal `yaml:"initial_capital" env:"INITIAL_CAPITAL"`
	Timeframes           []string        `yaml:"timeframes" env:"TIMEFRAMES" envSeparator:","`
	Sampling             string          `yaml:"sampling" env:"SAMPLING"`
	RequireContiguousSeq bool            `yaml:"require_contiguous_seq" env:"REQUIRE_CONTIGUOUS_SEQ"`
	HaltOnBreach         bool            `yaml:"halt_on_breach" env:"HALT_ON_BREACH"`
	DumpDir              string          `yaml:"dump_dir" env:"DUMP_DIR"`
}

// ExecutionConfig selects and tunes the execution backend.
type ExecutionConfig struct {
	Backend        string          `yaml:"backend" env:"BACKEND"` // simulated or paper
	EntryFill      string          `yaml:"entry_fill" env:"ENTRY_FILL"`
	GapPolicy      string          `yaml:"gap_policy" env:"GAP_POLICY"`
	Slippage       string          `yaml:"slippage" env:"SLIPPAGE"`
	SlippageBps    decimal.Decimal `yaml:"slippage_bps" env:"SLIPPAGE_BPS"`
	SpreadBps      decimal.Decimal `yaml:"spread_bps" env:"SPREAD_BPS"`
	Liquidity      string          `yaml:"liquidity" env:"LIQUIDITY"`
	Participation  decimal.Decimal `yaml:"participation" env:"PARTICIPATION"`
	LotPrecision   int32           `yaml:"lot_precision" env:"LOT_PRECISION"`
	CommissionRate decimal.Decimal `yaml:"commission_rate" env:"COMMISSION_RATE"`
}

// RiskConfig holds the risk gate limits. Zero disables a limit.
type RiskConfig struct {
	MaxOrderQty      decimal.Decimal `yaml:"max_order_qty" env:"MAX_ORDER_QTY"`
	MaxOrderNotional decimal.Decimal `yaml:"max_order_notional" env:"MAX_ORDER_NOTIONAL"`
	MaxPositionQty   decimal.Decimal `yaml:"max_position_qty" env:"MAX_POSITION_QTY"`
	MaxExposure      decimal.Decimal `yaml:"max_exposure" env:"MAX_EXPOSURE"`
	MaxDrawdown      decimal.Decimal `yaml:"max_drawdown" env:"MAX_DRAWDOWN"`
	AllowShort       bool            `yaml:"allow_short" env:"ALLOW_SHORT"`
	ShortMarginRate  decimal.Decimal `yaml:"short_margin_rate" env:"SHORT_MARGIN_RATE"`
}

type LiveConfig struct {
	Session           string          `yaml:"session" env:"SESSION"`
	WSURL             string          `yaml:"ws_url" env:"WS_URL"`
	Instruments       []string        `yaml:"instruments" env:"INSTRUMENTS" envSeparator:","`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	ReconcileInterval time.Duration   `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
	RetryMaxAttempts  int             `yaml:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryInitial      time.Duration   `yaml:"retry_initial" env:"RETRY_INITIAL"`
	RetryMax          time.Duration   `yaml:"retry_max" env:"RETRY_MAX"`
	PingInterval      time.Duration   `yaml:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout       time.Duration   `yaml:"read_timeout" env:"READ_TIMEOUT"`
	PaperCash         decimal.Decimal `yaml:"paper_cash" env:"PAPER_CASH"`
}

type StorageConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	Dir   string `yaml:"dir" env:"DIR"`
}

// DefaultConfig returns the configuration used for anything the YAML file
// and the environment leave unset.
func DefaultConfig() Config {
	var cfg Config
	cfg.App.Name = "trade_engine"
	cfg.App.Version = "dev"
	cfg.Engine = EngineConfig{
		InitialCapital: decimal.NewFromInt(10000),
		Sampling:       "event",
		DumpDir:        ".",
	}
	cfg.Execution = ExecutionConfig{
		Backend:       "simulated",
		EntryFill:     "immediate",
		GapPolicy:     "limit",
		Slippage:      "none",
		Liquidity:     "full",
		Participation: decimal.NewFromFloat(0.1),
		LotPrecision:  8,
	}
	cfg.Live = LiveConfig{
		Session:           "default",
		ShutdownTimeout:   10 * time.Second,
		ReconcileInterval: time.Minute,
		RetryMaxAttempts:  5,
		RetryInitial:      200 * time.Millisecond,
		RetryMax:          5 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		PaperCash:         decimal.NewFromInt(10000),
	}
	cfg.Storage.Path = "data/trade_engine.db"
	cfg.Logging = LoggingConfig{Level: "info", Dir: "logs"}
	return cfg
}

// LoadConfig reads the YAML file at path (skipped when path is empty) over
// the defaults, applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &domain.ConfigError{Field: "file", Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &domain.ConfigError{Field: "file", Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, &domain.ConfigError{Field: "env", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values that can be checked without building the
// engine. Each failure is a *domain.ConfigError naming the field.
func (c *Config) Validate() error {
	if !c.Engine.InitialCapital.IsPositive() {
		return configErr("engine.initial_capital", "must be positive, got %s", c.Engine.InitialCapital)
	}
	if _, err := c.Timeframes(); err != nil {
		return &domain.ConfigError{Field: "engine.timeframes", Err: err}
	}
	switch c.Engine.Sampling {
	case "event", "fill":
	default:
		return configErr("engine.sampling", "unknown sampling %q", c.Engine.Sampling)
	}

	switch c.Execution.Backend {
	case "simulated", "paper":
	default:
		return configErr("execution.backend", "unknown backend %q", c.Execution.Backend)
	}
	if c.Execution.CommissionRate.IsNegative() {
		return configErr("execution.commission_rate", "must not be negative")
	}

	if c.Risk.MaxDrawdown.IsNegative() || c.Risk.MaxDrawdown.GreaterThan(decimal.NewFromInt(1)) {
		return configErr("risk.max_drawdown", "must be within [0, 1], got %s", c.Risk.MaxDrawdown)
	}
	for _, lim := range []struct {
		field string
		v     decimal.Decimal
	}{
		{"risk.max_order_qty", c.Risk.MaxOrderQty},
		{"risk.max_order_notional", c.Risk.MaxOrderNotional},
		{"risk.max_position_qty", c.Risk.MaxPositionQty},
		{"risk.max_exposure", c.Risk.MaxExposure},
		{"risk.short_margin_rate", c.Risk.ShortMarginRate},
	} {
		if lim.v.IsNegative() {
			return configErr(lim.field, "must not be negative, got %s", lim.v)
		}
	}

	if c.Live.WSURL != "" && !strings.HasPrefix(c.Live.WSURL, "ws://") && !strings.HasPrefix(c.Live.WSURL, "wss://") {
		return configErr("live.ws_url", "invalid websocket url %s", c.Live.WSURL)
	}
	if c.Live.ShutdownTimeout <= 0 {
		return configErr("live.shutdown_timeout", "must be positive")
	}
	if c.Live.Session == "" {
		return configErr("live.session", "must not be empty")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return configErr("logging.level", "unknown level %q", c.Logging.Level)
	}
	return nil
}

// Timeframes parses the configured aggregation timeframes.
func (c *Config) Timeframes() ([]domain.Timeframe, error) {
	out := make([]domain.Timeframe, 0, len(c.Engine.Timeframes))
	var errs []error
	for _, s := range c.Engine.Timeframes {
		tf, err := domain.ParseTimeframe(strings.TrimSpace(s))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, tf)
	}
	return out, errors.Join(errs...)
}

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}
