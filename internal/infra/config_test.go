package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trade_engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, `
engine:
  initial_capital: 25000.50
  timeframes: [1m, 1h]
  sampling: fill
execution:
  commission_rate: "0.001"
  gap_policy: open
risk:
  max_drawdown: 0.2
  max_order_qty: 100
live:
  ws_url: wss://example.test/stream
  instruments: [BTC-USD, ETH-USD]
  shutdown_timeout: 5s
logging:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "25000.5", cfg.Engine.InitialCapital.String())
	assert.Equal(t, "fill", cfg.Engine.Sampling)
	assert.Equal(t, "0.001", cfg.Execution.CommissionRate.String())
	assert.Equal(t, "open", cfg.Execution.GapPolicy)
	assert.Equal(t, "0.2", cfg.Risk.MaxDrawdown.String())
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Live.Instruments)
	assert.Equal(t, 5*time.Second, cfg.Live.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// defaults survive for keys the file leaves out
	assert.Equal(t, "simulated", cfg.Execution.Backend)
	assert.Equal(t, time.Minute, cfg.Live.ReconcileInterval)

	tfs, err := cfg.Timeframes()
	require.NoError(t, err)
	assert.Equal(t, []domain.Timeframe{domain.TimeframeM1, domain.TimeframeH1}, tfs)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
risk:
  max_drawdown: 0.2
live:
  session: from-file
`)
	t.Setenv("TRADE_RISK_MAX_DRAWDOWN", "0.35")
	t.Setenv("TRADE_LIVE_SESSION", "from-env")
	t.Setenv("TRADE_LIVE_INSTRUMENTS", "A,B,C")
	t.Setenv("TRADE_ENGINE_HALT_ON_BREACH", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.35", cfg.Risk.MaxDrawdown.String())
	assert.Equal(t, "from-env", cfg.Live.Session)
	assert.Equal(t, []string{"A", "B", "C"}, cfg.Live.Instruments)
	assert.True(t, cfg.Engine.HaltOnBreach)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "10000", cfg.Engine.InitialCapital.String())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *domain.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "file", cerr.Field)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero capital", func(c *Config) { c.Engine.InitialCapital = c.Engine.InitialCapital.Sub(c.Engine.InitialCapital) }, "engine.initial_capital"},
		{"bad timeframe", func(c *Config) { c.Engine.Timeframes = []string{"7m"} }, "engine.timeframes"},
		{"bad sampling", func(c *Config) { c.Engine.Sampling = "hourly" }, "engine.sampling"},
		{"bad backend", func(c *Config) { c.Execution.Backend = "ibkr" }, "execution.backend"},
		{"drawdown above one", func(c *Config) { c.Risk.MaxDrawdown = c.Engine.InitialCapital }, "risk.max_drawdown"},
		{"negative limit", func(c *Config) { c.Risk.MaxExposure = c.Engine.InitialCapital.Neg() }, "risk.max_exposure"},
		{"http url", func(c *Config) { c.Live.WSURL = "http://example.test" }, "live.ws_url"},
		{"empty session", func(c *Config) { c.Live.Session = "" }, "live.session"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cerr *domain.ConfigError
			require.True(t, errors.As(err, &cerr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", ParseLevel("debug").String())
	assert.Equal(t, "WARN", ParseLevel("warn").String())
	assert.Equal(t, "INFO", ParseLevel("whatever").String())
}
