package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/engine"
	"trade_engine/internal/execution"
	"trade_engine/internal/feed"
	"trade_engine/internal/infra"
	"trade_engine/internal/infra/storage"
	"trade_engine/internal/observe"
	"trade_engine/internal/report"
	"trade_engine/internal/risk"
	"trade_engine/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence and owns the
// shared resources of a command.
type Bootstrap struct {
	ConfigPath string
	Config     *infra.Config
	Storage    *storage.Storage
	Metrics    *infra.Metrics
	Hub        *observe.Hub

	resets chan struct{}
}

func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath, resets: make(chan struct{}, 1)}
}

// ResetBreaker asks the running live session to re-arm its drawdown
// circuit breaker. It never blocks and does nothing without a session.
func (b *Bootstrap) ResetBreaker() {
	select {
	case b.resets <- struct{}{}:
	default:
	}
}

// Initialize loads the configuration, installs the logger and opens the
// database.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg.Logging))
	slog.Info("🚀 Bootstrapping trade engine...", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Observers
	b.Metrics = &infra.Metrics{}
	b.Hub = observe.NewHub()
	if err := observe.NewLogObserver(b.Hub, slog.Default()); err != nil {
		return fmt.Errorf("subscribe log observer: %w", err)
	}
	return nil
}

func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

// Settings maps the configuration onto engine settings.
func (b *Bootstrap) Settings() (engine.Settings, error) {
	cfg := b.Config
	tfs, err := cfg.Timeframes()
	if err != nil {
		return engine.Settings{}, &domain.ConfigError{Field: "engine.timeframes", Err: err}
	}
	s := engine.DefaultSettings()
	s.InitialCapital = cfg.Engine.InitialCapital
	s.Timeframes = tfs
	s.Sampling = engine.Sampling(cfg.Engine.Sampling)
	s.RequireContiguousSeq = cfg.Engine.RequireContiguousSeq
	s.HaltOnBreach = cfg.Engine.HaltOnBreach
	s.DumpDir = cfg.Engine.DumpDir
	s.Session = cfg.Live.Session
	s.ShutdownTimeout = cfg.Live.ShutdownTimeout
	s.ReconcileInterval = cfg.Live.ReconcileInterval
	s.Limits = risk.Limits{
		MaxOrderQty:      cfg.Risk.MaxOrderQty,
		MaxOrderNotional: cfg.Risk.MaxOrderNotional,
		MaxPositionQty:   cfg.Risk.MaxPositionQty,
		MaxExposure:      cfg.Risk.MaxExposure,
		MaxDrawdown:      cfg.Risk.MaxDrawdown,
		AllowShort:       cfg.Risk.AllowShort,
		ShortMarginRate:  cfg.Risk.ShortMarginRate,
		CommissionRate:   cfg.Execution.CommissionRate,
	}
	return s, s.Validate()
}

func (b *Bootstrap) SimConfig() execution.SimConfig {
	x := b.Config.Execution
	return execution.SimConfig{
		EntryFill:      execution.EntryFill(x.EntryFill),
		GapPolicy:      execution.GapPolicy(x.GapPolicy),
		Slippage:       execution.SlippageModel(x.Slippage),
		SlippageBps:    x.SlippageBps,
		SpreadBps:      x.SpreadBps,
		Liquidity:      execution.LiquidityModel(x.Liquidity),
		Participation:  x.Participation,
		LotPrecision:   x.LotPrecision,
		CommissionRate: x.CommissionRate,
	}
}

func (b *Bootstrap) RetryConfig() execution.RetryConfig {
	return execution.RetryConfig{
		MaxAttempts:     b.Config.Live.RetryMaxAttempts,
		InitialInterval: b.Config.Live.RetryInitial,
		MaxInterval:     b.Config.Live.RetryMax,
	}
}

// WebSocketSource builds the live market source from the live section.
func (b *Bootstrap) WebSocketSource(tf domain.Timeframe) (*feed.WebSocketSource, error) {
	lc := b.Config.Live
	if lc.WSURL == "" {
		return nil, &domain.ConfigError{Field: "live.ws_url", Err: errors.New("required for a websocket source")}
	}
	return feed.NewWebSocketSource(feed.WebSocketConfig{
		URL:          lc.WSURL,
		Instruments:  lc.Instruments,
		Timeframe:    tf,
		PingInterval: lc.PingInterval,
		ReadTimeout:  lc.ReadTimeout,
		MaxRetries:   lc.RetryMaxAttempts,
	}, b.Metrics), nil
}

func (b *Bootstrap) options() []engine.Option {
	return []engine.Option{
		engine.WithObserver(b.Hub),
		engine.WithMetrics(b.Metrics),
		engine.WithLogger(slog.Default()),
	}
}

// Backtest replays src through the simulated backend and stores the run.
// A partial result is stored too when the run fails.
func (b *Bootstrap) Backtest(ctx context.Context, src feed.Source, strat strategy.Strategy) (*report.Record, error) {
	settings, err := b.Settings()
	if err != nil {
		return nil, err
	}
	sim, err := execution.NewSimulated(b.SimConfig())
	if err != nil {
		return nil, err
	}
	e, err := engine.New(settings, strat, sim, b.options()...)
	if err != nil {
		return nil, err
	}

	res, runErr := e.Run(ctx, src)
	if res == nil {
		return nil, runErr
	}
	rec, err := b.save(res)
	return rec, errors.Join(runErr, err)
}

// Live runs a paper-trading session: orders go through the live backend
// to the in-process paper broker. Fills journaled by an earlier session
// with the same name are replayed into the ledger first.
func (b *Bootstrap) Live(ctx context.Context, src feed.Source, strat strategy.Strategy) (*report.Record, error) {
	settings, err := b.Settings()
	if err != nil {
		return nil, err
	}
	paper := execution.NewPaperBroker(b.Config.Live.PaperCash, b.Config.Execution.CommissionRate, 0)
	defer paper.Close()

	opts := append(b.options(), engine.WithJournal(b.Storage))
	e, err := engine.New(settings, strat, execution.NewLive(paper, b.RetryConfig()), opts...)
	if err != nil {
		return nil, err
	}

	fills, err := b.Storage.LoadFills(settings.Session)
	if err != nil {
		return nil, fmt.Errorf("load fill journal: %w", err)
	}
	restored, err := e.Restore(fills)
	if err != nil {
		return nil, err
	}
	if restored > 0 {
		slog.Info("♻️ Fill journal replayed", slog.String("session", settings.Session), slog.Int("fills", restored))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-b.resets:
				if !e.ResetBreaker() {
					slog.Warn("Breaker reset ignored: session not running")
				}
			case <-done:
				return
			}
		}
	}()

	res, runErr := e.RunLive(ctx, src)
	if res == nil {
		return nil, runErr
	}
	rec, err := b.save(res)
	return rec, errors.Join(runErr, err)
}

func (b *Bootstrap) save(res *engine.RunResult) (*report.Record, error) {
	b.Hub.WaitAsync()
	rec := report.FromResult(res)
	ent, err := rec.Entity(time.Now().UTC())
	if err != nil {
		return &rec, err
	}
	if err := b.Storage.SaveRun(&ent); err != nil {
		return &rec, fmt.Errorf("save run: %w", err)
	}
	if err := b.Storage.SaveEquity(res.RunID, res.Equity); err != nil {
		return &rec, fmt.Errorf("save equity: %w", err)
	}
	slog.Info("💾 Run saved", slog.String("run_id", res.RunID))
	return &rec, nil
}

// Load returns a stored run record, or nil when id is unknown.
func (b *Bootstrap) Load(id string) (*report.Record, error) {
	ent, err := b.Storage.GetRun(id)
	if err != nil || ent == nil {
		return nil, err
	}
	rec, err := report.FromEntity(*ent)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
