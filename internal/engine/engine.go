package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/execution"
	"trade_engine/internal/infra"
	"trade_engine/internal/market"
	"trade_engine/internal/observe"
	"trade_engine/internal/orderbook"
	"trade_engine/internal/portfolio"
	"trade_engine/internal/risk"
	"trade_engine/internal/strategy"
)

// Engine is the single-threaded event processor shared by backtests and
// live sessions. It exclusively owns the order book, the ledger and the
// instrument state; nothing else writes to them.
type Engine struct {
	settings Settings
	strategy strategy.Strategy
	backend  execution.Backend

	universe *market.Universe
	book     *orderbook.Book
	ledger   *portfolio.Ledger
	gate     *risk.Gate
	seq      *Sequencer

	observer observe.Observer
	metrics  *infra.Metrics
	journal  domain.FillJournal
	log      *slog.Logger

	mode          Mode
	events        uint64
	lastTime      time.Time
	rejections    []domain.Rejection
	operations    []domain.Operation
	forced        []ForcedClose
	discrepancies []domain.ReconciliationMismatch
	halted        bool
	haltReason    string

	inbox atomic.Pointer[Queue] // set while a live session runs
}

type Option func(*Engine)

func WithObserver(o observe.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithMetrics(m *infra.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithJournal persists every live fill before it reaches the ledger.
func WithJournal(j domain.FillJournal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l.With(slog.String("module", "engine")) }
}

func New(settings Settings, strat strategy.Strategy, backend execution.Backend, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if strat == nil || backend == nil {
		return nil, &domain.ConfigError{Field: "engine", Err: errors.New("strategy and backend are required")}
	}
	e := &Engine{
		settings: settings,
		strategy: strat,
		backend:  backend,
		universe: market.NewUniverse(settings.Timeframes),
		book:     orderbook.New(),
		ledger:   portfolio.NewLedger(settings.InitialCapital),
		gate:     risk.NewGate(settings.Limits),
		seq:      NewSequencer(settings.RequireContiguousSeq),
		observer: observe.Nop{},
		metrics:  &infra.Metrics{},
		log:      slog.Default().With(slog.String("module", "engine")),
		mode:     ModeBacktest,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ledger exposes the ledger for inspection after a run.
func (e *Engine) Ledger() *portfolio.Ledger { return e.ledger }

func (e *Engine) Book() *orderbook.Book { return e.book }

func (e *Engine) Gate() *risk.Gate { return e.gate }

func (e *Engine) Universe() *market.Universe { return e.universe }

// Restore replays journaled fills into the ledger, for a live session that
// restarts. Fills already applied are skipped. Every journaled order goes
// back into the book as a closed order holding its fills, so new orders get
// fresh ids and late notices for old orders are recognized.
func (e *Engine) Restore(fills []domain.Fill) (int, error) {
	n := 0
	orders := make(map[uint64]*domain.Order)
	var ids []uint64
	for _, f := range fills {
		if _, err := e.ledger.Apply(f); err != nil {
			if errors.Is(err, domain.ErrDuplicateFill) {
				continue
			}
			return n, fmt.Errorf("restore fill %s: %w", f.ID, err)
		}
		e.ledger.Mark(f.Instrument, f.Price)
		n++

		o, ok := orders[f.OrderID]
		if !ok {
			o = &domain.Order{
				ID:         f.OrderID,
				Instrument: f.Instrument,
				Side:       f.Side,
				Kind:       domain.OrderKindMarket,
				Status:     domain.OrderStatusFilled,
				CreatedAt:  f.Time,
			}
			orders[f.OrderID] = o
			ids = append(ids, f.OrderID)
		}
		if f.Instrument != o.Instrument || f.Side != o.Side {
			e.log.Warn("Journaled fill does not match its order",
				slog.String("fill_id", f.ID), slog.Uint64("order_id", f.OrderID))
			continue
		}
		o.AvgFillPrice = o.AvgFillPrice.Mul(o.Filled).Add(f.Price.Mul(f.Quantity)).Div(o.Filled.Add(f.Quantity))
		o.Filled = o.Filled.Add(f.Quantity)
		o.Quantity = o.Filled
		o.Commission = o.Commission.Add(f.Commission)
		o.FillIDs = append(o.FillIDs, f.ID)
	}
	for _, id := range ids {
		if _, exists := e.book.Get(id); exists {
			continue
		}
		e.book.Restore(*orders[id])
	}
	if n > 0 {
		e.log.Info("Ledger restored from journal",
			slog.Int("fills", n),
			slog.Int("orders", len(ids)),
			slog.String("cash", e.ledger.Cash().String()))
	}
	return n, nil
}

// step processes one market event: state update, resting orders, strategy,
// intents and the equity sample, in that order.
func (e *Engine) step(ctx context.Context, ev domain.MarketEvent) error {
	start := time.Now()

	if err := ev.Check(); err != nil {
		return e.dataGap(&domain.DataGapError{
			Instrument: ev.Instrument,
			Reason:     "malformed event",
			Expected:   "consistent OHLC",
			Got:        err.Error(),
		})
	}
	if err := e.seq.Check(ev); err != nil {
		return e.dataGap(err)
	}
	closed, err := e.universe.Apply(ev)
	if err != nil {
		return e.dataGap(err)
	}
	e.seq.Accept(ev)
	e.events++
	e.lastTime = ev.Time
	e.ledger.Mark(ev.Instrument, ev.Close)

	res, err := e.backend.OnMarket(ctx, ev, e.book.Priority(ev.Instrument), e.ledger.Cash())
	if err != nil {
		return err
	}
	if err := e.apply(ev.Time, res); err != nil {
		return err
	}

	intents, err := e.callStrategy(ev, closed)
	if err != nil {
		return err
	}
	for _, in := range intents {
		if err := e.handleIntent(ctx, ev, in); err != nil {
			return err
		}
	}

	if e.settings.Sampling == SampleEvent {
		e.ledger.Record(ev.Time)
	}
	e.observeRisk(ev.Time)
	e.metrics.SetOpenOrders(e.book.OpenCount())
	e.metrics.RecordEvent(time.Since(start).Nanoseconds())
	return nil
}

// dataGap is fatal in a backtest. A live session logs it, skips the event
// and keeps its state.
func (e *Engine) dataGap(err error) error {
	e.metrics.RecordDataGap()
	if e.mode == ModeLive {
		e.log.Warn("DATA_GAP_SKIPPED", slog.Any("error", err))
		return nil
	}
	return err
}

func (e *Engine) callStrategy(ev domain.MarketEvent, closed []domain.Bar) ([]domain.Intent, error) {
	var intents []domain.Intent
	err := e.guard(func() {
		intents = e.strategy.OnEvent(strategy.Context{
			Event:     ev,
			Closed:    closed,
			Market:    market.NewReader(e.universe),
			Portfolio: portfolio.NewView(e.ledger),
			Open:      e.openOrders(),
		})
	})
	return intents, err
}

// guard runs a strategy callback and turns a panic into ErrStrategyPanic
// after dumping the engine state.
func (e *Engine) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("CRITICAL_PANIC_DETECTED",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.DumpState(filepath.Join(e.settings.DumpDir, fmt.Sprintf("panic_dump_%d.json", e.events)))
			err = fmt.Errorf("%w: %v", domain.ErrStrategyPanic, r)
		}
	}()
	fn()
	return nil
}

func (e *Engine) openOrders() []domain.Order {
	open := e.book.Open()
	out := make([]domain.Order, len(open))
	for i, o := range open {
		out[i] = o.Clone()
	}
	return out
}

func (e *Engine) handleIntent(ctx context.Context, ev domain.MarketEvent, in domain.Intent) error {
	if err := in.Validate(); err != nil {
		return e.reject(ev.Time, domain.RejectedValidation, in, 0, "", err)
	}
	if in.Op == domain.IntentCancel {
		return e.cancel(ctx, ev.Time, in)
	}
	if _, ok := e.universe.Last(in.Instrument); !ok {
		err := &domain.ValidationError{Field: "instrument", Reason: in.Instrument, Err: domain.ErrUnknownInstrument}
		return e.reject(ev.Time, domain.RejectedValidation, in, 0, "", err)
	}
	if err := e.gate.Evaluate(in, e.exposure(in.Instrument)); err != nil {
		rule := ""
		var rr *domain.RiskRejected
		if errors.As(err, &rr) {
			rule = rr.Rule
		}
		return e.reject(ev.Time, domain.RejectedRisk, in, 0, rule, err)
	}

	o := e.book.Add(in, ev.Time, e.events)
	e.log.Debug("Order accepted",
		slog.Uint64("order_id", o.ID),
		slog.String("instrument", o.Instrument),
		slog.String("side", string(o.Side)),
		slog.String("kind", string(o.Kind)),
		slog.String("qty", o.Quantity.String()))

	res, err := e.backend.Submit(ctx, ev, o, e.ledger.Cash())
	if err != nil {
		return err
	}
	return e.apply(ev.Time, res)
}

func (e *Engine) exposure(instrument string) risk.Exposure {
	buy, sell := e.book.Pending(instrument)
	return risk.Exposure{
		Cash:        e.ledger.Cash(),
		Reserved:    e.book.ReservedCash(e.ledger.MarkOf, e.settings.Limits.CommissionRate),
		Position:    e.ledger.Position(instrument).Quantity,
		PendingBuy:  buy,
		PendingSell: sell,
		Mark:        e.ledger.MarkOf(instrument),
	}
}

func (e *Engine) cancel(ctx context.Context, at time.Time, in domain.Intent) error {
	o, ok := e.book.Get(in.OrderID)
	if !ok {
		err := fmt.Errorf("order %d: %w", in.OrderID, domain.ErrUnknownOrder)
		return e.reject(at, domain.RejectedValidation, in, in.OrderID, "", err)
	}
	// final or already in flight
	if !o.IsOpen() || o.CancelPending {
		return nil
	}
	res, err := e.backend.Cancel(ctx, o)
	if err != nil {
		return err
	}
	if res.CancelPending {
		if err := e.book.RequestCancel(o.ID); err != nil {
			return err
		}
	}
	return e.apply(at, res)
}

// apply folds a backend result into the book and ledger.
func (e *Engine) apply(at time.Time, res execution.Result) error {
	if res.Empty() {
		return nil
	}
	for _, id := range res.Triggered {
		if err := e.book.Trigger(id); err != nil {
			return err
		}
	}
	for _, f := range res.Fills {
		if err := e.applyFill(f); err != nil {
			return err
		}
	}
	for _, id := range res.Cancelled {
		if err := e.finalizeCancel(id, at); err != nil {
			return err
		}
	}
	for _, r := range res.Rejected {
		if err := e.brokerReject(r.OrderID, r.Reason, at); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyFill(f domain.Fill) error {
	o, err := e.book.ApplyFill(f)
	switch {
	case errors.Is(err, domain.ErrDuplicateFill):
		e.log.Debug("Duplicate fill ignored", slog.String("fill_id", f.ID), slog.Uint64("order_id", f.OrderID))
		return nil
	case e.mode == ModeLive && e.ledger.Applied(f.ID):
		e.log.Debug("Duplicate fill ignored", slog.String("fill_id", f.ID), slog.Uint64("order_id", f.OrderID))
		return nil
	case e.mode == ModeLive && (errors.Is(err, domain.ErrUnknownOrder) || errors.Is(err, domain.ErrInvalidTransition)):
		// The broker executed it, so the ledger books it; the
		// mismatch is still reported.
		local := "unknown order"
		if o != nil {
			local = "order " + string(o.Status)
		}
		e.discrepancy(domain.ReconciliationMismatch{
			Kind: "fill", Instrument: f.Instrument, OrderID: f.OrderID,
			Local: local, Remote: f.ID,
		})
		o = nil
	case err != nil:
		return fmt.Errorf("apply fill %s: %w", f.ID, err)
	}

	if e.journal != nil && e.mode == ModeLive {
		if err := e.journal.AppendFill(e.settings.Session, f); err != nil {
			return fmt.Errorf("journal fill %s: %w", f.ID, err)
		}
	}
	if _, err := e.ledger.Apply(f); err != nil {
		if errors.Is(err, domain.ErrDuplicateFill) {
			return nil
		}
		return fmt.Errorf("ledger fill %s: %w", f.ID, err)
	}

	e.metrics.RecordFill()
	e.observer.Filled(f)
	if h, ok := e.strategy.(strategy.FillHandler); ok {
		if err := e.guard(func() { h.OnFill(f) }); err != nil {
			return err
		}
	}
	if o != nil && o.Status == domain.OrderStatusFilled {
		e.metrics.RecordOrderFilled()
		e.closeOrder(o, f.Time)
	}
	if e.settings.Sampling == SampleFill {
		e.ledger.Record(f.Time)
	}
	return nil
}

// closeOrder emits the Operation of a terminal order that traded.
func (e *Engine) closeOrder(o *domain.Order, at time.Time) {
	if op, ok := domain.OperationOf(o, at); ok {
		e.operations = append(e.operations, op)
	}
}

func (e *Engine) finalizeCancel(id uint64, at time.Time) error {
	o, err := e.book.Cancel(id)
	switch {
	case errors.Is(err, domain.ErrUnknownOrder):
		if e.mode == ModeLive {
			e.discrepancy(domain.ReconciliationMismatch{
				Kind: "order", OrderID: id, Local: "unknown order", Remote: "cancel ack",
			})
			return nil
		}
		return err
	case errors.Is(err, domain.ErrInvalidTransition):
		// filled before the ack arrived
		e.log.Debug("Cancel ack for closed order", slog.Uint64("order_id", id))
		return nil
	case err != nil:
		return err
	}
	e.log.Debug("Order cancelled",
		slog.Uint64("order_id", id),
		slog.String("filled", o.Filled.String()))
	e.closeOrder(o, at)
	return nil
}

// brokerReject handles a reject of an order already in the book. An order
// with fills cannot be rejected and is finalized as cancelled instead.
func (e *Engine) brokerReject(id uint64, reason string, at time.Time) error {
	o, ok := e.book.Get(id)
	if !ok {
		if e.mode == ModeLive {
			e.discrepancy(domain.ReconciliationMismatch{
				Kind: "order", OrderID: id, Local: "unknown order", Remote: "reject: " + reason,
			})
			return nil
		}
		return fmt.Errorf("reject order %d: %w", id, domain.ErrUnknownOrder)
	}
	if !o.IsOpen() {
		return nil
	}
	if o.Filled.IsPositive() {
		e.log.Warn("Broker rejected a partially filled order; closing it",
			slog.Uint64("order_id", id), slog.String("reason", reason))
		if err := e.finalizeCancel(id, at); err != nil {
			return err
		}
	} else if _, err := e.book.Reject(id, reason); err != nil {
		return err
	}
	return e.reject(at, domain.RejectedBroker, intentOf(o), id, "", errors.New(reason))
}

func intentOf(o *domain.Order) domain.Intent {
	return domain.Intent{
		Op:         domain.IntentSubmit,
		Instrument: o.Instrument,
		Side:       o.Side,
		Kind:       o.Kind,
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		StopPrice:  o.StopPrice,
		Tag:        o.Tag,
	}
}

// reject records a rejection and tells the observer and the strategy. The
// returned error is only set when the strategy callback panics.
func (e *Engine) reject(at time.Time, kind domain.RejectionKind, in domain.Intent, orderID uint64, rule string, cause error) error {
	r := domain.Rejection{
		Time:    at,
		Kind:    kind,
		Intent:  in,
		OrderID: orderID,
		Rule:    rule,
		Reason:  cause.Error(),
	}
	e.rejections = append(e.rejections, r)
	e.metrics.RecordRejection()
	e.observer.Rejected(r)
	if h, ok := e.strategy.(strategy.RejectionHandler); ok {
		return e.guard(func() { h.OnRejected(r) })
	}
	return nil
}

func (e *Engine) discrepancy(m domain.ReconciliationMismatch) {
	e.discrepancies = append(e.discrepancies, m)
	e.metrics.RecordDiscrepancy()
	e.observer.Discrepancy(m)
}

func (e *Engine) observeRisk(at time.Time) {
	if !e.gate.Observe(at, e.ledger.Equity()) {
		return
	}
	e.metrics.RecordRiskTrip()
	e.metrics.SetCircuitState(true)
	e.observer.RiskTripped(observe.RiskTrip{
		At:       at,
		Drawdown: e.gate.Drawdown(),
		Limit:    e.settings.Limits.MaxDrawdown,
	})
	if e.settings.HaltOnBreach {
		e.halt("drawdown circuit breaker")
	}
}

func (e *Engine) halt(reason string) {
	if e.halted {
		return
	}
	e.halted = true
	e.haltReason = reason
	e.log.Error("Run halted", slog.String("reason", reason), slog.Uint64("events", e.events))
}

// cancelAll asks the backend to cancel every open order. Orders whose
// cancellation is acknowledged asynchronously stay open with CancelPending.
func (e *Engine) cancelAll(ctx context.Context, at time.Time) error {
	var errs []error
	for _, o := range e.book.Open() {
		if o.CancelPending {
			continue
		}
		res, err := e.backend.Cancel(ctx, o)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.CancelPending {
			if err := e.book.RequestCancel(o.ID); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := e.apply(at, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// now is the engine clock: the time of the last processed event.
func (e *Engine) now() time.Time {
	if e.lastTime.IsZero() {
		return time.Now().UTC()
	}
	return e.lastTime
}
