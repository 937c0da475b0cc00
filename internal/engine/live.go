package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/event"
	"trade_engine/internal/execution"
	"trade_engine/internal/feed"

	"gopkg.in/tomb.v2"
)

// RunLive runs a live session. The market source and the broker notice
// stream are pumped by their own goroutines into one ordering queue; this
// goroutine is the only one touching engine state. The session ends when
// the source is exhausted, ctx is cancelled or a fatal error occurs, and
// always goes through the shutdown sequence.
func (e *Engine) RunLive(ctx context.Context, src feed.Source) (*RunResult, error) {
	live, ok := e.backend.(*execution.Live)
	if !ok {
		return nil, &domain.ConfigError{Field: "execution", Err: fmt.Errorf("live run needs the live backend, got %s", e.backend.Name())}
	}
	e.mode = ModeLive
	e.log.Info("Live session started", slog.String("session", e.settings.Session))

	event.Warmup()
	q := NewQueue()
	e.inbox.Store(q)
	defer e.inbox.Store(nil)
	live.Start(ctx, func(n domain.BrokerNotice) {
		ev := event.AcquireOrderUpdateEvent()
		ev.Ts = n.Time
		if ev.Ts.IsZero() {
			ev.Ts = time.Now().UTC()
		}
		ev.Notice = n
		q.Push(ev)
	})

	ingest, ictx := tomb.WithContext(ctx)
	ingest.Go(func() error {
		for {
			md, err := src.Next(ictx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if ictx.Err() != nil {
					return nil
				}
				return fmt.Errorf("market source: %w", err)
			}
			ev := event.AcquireMarketUpdateEvent()
			ev.Ts = md.Time
			ev.Data = md
			q.Push(ev)
		}
	})

	runErr := e.loop(ctx, q, ingest, live)
	if runErr != nil {
		e.metrics.RecordError()
		e.halt(runErr.Error())
	} else if e.halted {
		runErr = fmt.Errorf("%s: %w", e.haltReason, domain.ErrCircuitOpen)
	}

	ingest.Kill(nil)
	if err := ingest.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	e.shutdown(ctx, q, live)

	res := e.result()
	e.log.Info("Live session finished",
		slog.Uint64("events", res.Events),
		slog.Int("fills", len(res.Fills)),
		slog.Int("forced_closes", len(res.ForcedCloses)),
		slog.Int("discrepancies", len(res.Discrepancies)))
	e.finished(res)
	return res, runErr
}

func (e *Engine) loop(ctx context.Context, q *Queue, ingest *tomb.Tomb, live *execution.Live) error {
	var reconcile <-chan time.Time
	if e.settings.ReconcileInterval > 0 {
		ticker := time.NewTicker(e.settings.ReconcileInterval)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	for {
		for {
			item, ok := q.TryPop()
			if !ok {
				break
			}
			err := e.dispatch(ctx, item, live)
			event.Release(item)
			if err != nil {
				return err
			}
			if e.halted {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			e.log.Info("Live session stopping...", slog.Any("reason", ctx.Err()))
			return nil
		case <-ingest.Dead():
			if q.Len() == 0 {
				return ingest.Err()
			}
		case <-q.Ready():
		case <-reconcile:
			q.Push(&event.ReconcileEvent{BaseEvent: event.BaseEvent{Ts: e.now()}})
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, item event.Event, live *execution.Live) error {
	switch ev := item.(type) {
	case *event.MarketUpdateEvent:
		return e.step(ctx, ev.Data)
	case *event.OrderUpdateEvent:
		return e.notice(ev.Notice)
	case *event.ReconcileEvent:
		e.reconcile(ctx, live)
		return nil
	case *event.BreakerResetEvent:
		e.resetBreaker()
		return nil
	default:
		e.log.Warn("Unknown event type", slog.Any("type", item.GetType()))
		return nil
	}
}

// ResetBreaker re-arms the drawdown circuit breaker of the running live
// session. It is safe to call from any goroutine; the reset is applied by
// the loop ahead of pending market data. It reports false when no live
// session is running.
func (e *Engine) ResetBreaker() bool {
	q := e.inbox.Load()
	if q == nil {
		return false
	}
	q.Push(&event.BreakerResetEvent{})
	return true
}

func (e *Engine) resetBreaker() {
	if !e.gate.Tripped() {
		e.log.Info("Breaker reset requested but not tripped")
		return
	}
	e.gate.Reset()
	e.metrics.SetCircuitState(false)
	e.log.Warn("BREAKER_RESET", slog.String("equity", e.ledger.Equity().String()))
}

// notice applies one broker callback.
func (e *Engine) notice(n domain.BrokerNotice) error {
	at := n.Time
	if at.IsZero() {
		at = e.now()
	}
	switch n.Kind {
	case domain.NoticeFill:
		return e.applyFill(n.Fill)
	case domain.NoticeReject:
		return e.brokerReject(n.OrderID, n.Reason, at)
	case domain.NoticeCancelAck:
		return e.finalizeCancel(n.OrderID, at)
	default:
		e.log.Warn("Unknown broker notice", slog.String("kind", string(n.Kind)))
		return nil
	}
}

// reconcile compares local state with the broker's. Differences are
// reported, never corrected.
func (e *Engine) reconcile(ctx context.Context, live *execution.Live) {
	mismatches, err := live.Reconcile(ctx, e.openOrders(), e.ledger.Quantities())
	if err != nil {
		e.metrics.RecordError()
		e.log.Warn("Reconciliation failed", slog.Any("error", err))
		return
	}
	for _, m := range mismatches {
		e.discrepancy(m)
	}
	e.log.Debug("Reconciliation done", slog.Int("mismatches", len(mismatches)))
}

// shutdown cancels every open order, waits for the acknowledgements up to
// ShutdownTimeout, force-closes what is left and flushes the final state.
func (e *Engine) shutdown(ctx context.Context, q *Queue, live *execution.Live) {
	base := context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(base, e.settings.ShutdownTimeout)
	defer cancel()

	if err := e.cancelAll(ctx, e.now()); err != nil {
		e.log.Error("Cancel on shutdown failed", slog.Any("error", err))
	}

	for e.book.OpenCount() > 0 {
		if item, ok := q.TryPop(); ok {
			e.drain(item)
			continue
		}
		select {
		case <-q.Ready():
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	at := e.now()
	for _, o := range e.book.Open() {
		fc := ForcedClose{
			OrderID:    o.ID,
			Instrument: o.Instrument,
			Side:       o.Side,
			Remaining:  o.Remaining(),
			At:         at,
		}
		if _, err := e.book.Cancel(o.ID); err != nil {
			e.log.Error("Forced close failed", slog.Uint64("order_id", o.ID), slog.Any("error", err))
			continue
		}
		e.forced = append(e.forced, fc)
		e.closeOrder(o, at)
		e.log.Warn("FORCED_CLOSE",
			slog.Uint64("order_id", fc.OrderID),
			slog.String("instrument", fc.Instrument),
			slog.String("remaining", fc.Remaining.String()))
	}

	if err := live.Stop(); err != nil {
		e.log.Error("Notice pump stopped with error", slog.Any("error", err))
	}
	if n := live.Flush(); n > 0 {
		e.log.Info("Late broker notices queued", slog.Int("notices", n))
	}
	for {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		e.drain(item)
	}

	e.ledger.Record(at)
	e.metrics.SetOpenOrders(e.book.OpenCount())
	e.reconcile(base, live)
}

// drain handles queue items during shutdown: broker notices are applied,
// market data is dropped, and errors are logged rather than returned.
func (e *Engine) drain(item event.Event) {
	defer event.Release(item)
	n, ok := item.(*event.OrderUpdateEvent)
	if !ok {
		return
	}
	if err := e.notice(n.Notice); err != nil {
		e.metrics.RecordError()
		e.log.Error("Broker notice failed during shutdown",
			slog.Uint64("order_id", n.Notice.OrderID),
			slog.Any("error", err))
	}
}
