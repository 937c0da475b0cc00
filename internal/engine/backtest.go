package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/feed"
)

// Run replays src through the engine on the calling goroutine until the
// source is exhausted. On abnormal termination the open orders are
// cancelled and the partial result is returned together with the error.
func (e *Engine) Run(ctx context.Context, src feed.Source) (*RunResult, error) {
	e.mode = ModeBacktest
	started := time.Now()
	e.log.Info("Backtest started",
		slog.String("backend", e.backend.Name()),
		slog.String("capital", e.settings.InitialCapital.String()))

	runErr := e.replay(ctx, src)
	if runErr == nil && e.halted {
		runErr = fmt.Errorf("%s: %w", e.haltReason, domain.ErrCircuitOpen)
	}
	if runErr != nil {
		e.abort(ctx, runErr)
	}

	res := e.result()
	e.log.Info("Backtest finished",
		slog.Uint64("events", res.Events),
		slog.Int("fills", len(res.Fills)),
		slog.String("final_equity", res.FinalEquity.StringFixed(2)),
		slog.Duration("elapsed", time.Since(started)))
	e.finished(res)
	return res, runErr
}

func (e *Engine) replay(ctx context.Context, src feed.Source) error {
	for !e.halted {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read market event: %w", err)
		}
		if err := e.step(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// abort is the shutdown path of a failed or halted backtest.
func (e *Engine) abort(ctx context.Context, cause error) {
	e.metrics.RecordError()
	if !e.halted {
		e.halt(cause.Error())
	}
	if err := e.cancelAll(context.WithoutCancel(ctx), e.now()); err != nil {
		e.log.Error("Cancel on abort failed", slog.Any("error", err))
	}
	if e.events > 0 {
		e.ledger.Record(e.now())
	}
}
