package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"trade_engine/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"gopkg.in/tomb.v2"
)

// RetryConfig bounds retries of broker calls that fail with a retriable
// error.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Marker is implemented by brokers that want to see every market price,
// such as the paper broker.
type Marker interface {
	Mark(instrument string, price decimal.Decimal, at time.Time)
}

// Live forwards orders to a Broker. Fills, rejects and cancel
// acknowledgements arrive asynchronously through the notice pump.
type Live struct {
	broker domain.Broker
	retry  RetryConfig
	log    *slog.Logger
	t      *tomb.Tomb
	sink   func(domain.BrokerNotice)
}

func NewLive(broker domain.Broker, retry RetryConfig) *Live {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Live{
		broker: broker,
		retry:  retry,
		log:    slog.Default().With(slog.String("module", "live")),
	}
}

func (l *Live) Name() string { return "live" }

func (l *Live) sealed() {}

// Start pumps broker notices into sink until Stop. The pump keeps running
// when ctx is cancelled so that shutdown can still collect cancel
// acknowledgements.
func (l *Live) Start(ctx context.Context, sink func(domain.BrokerNotice)) {
	l.t, _ = tomb.WithContext(context.WithoutCancel(ctx))
	l.sink = sink
	notices := l.broker.Notifications()
	l.t.Go(func() error {
		for {
			select {
			case <-l.t.Dying():
				return nil
			case n, ok := <-notices:
				if !ok {
					l.log.Info("Broker notice stream closed")
					return nil
				}
				sink(n)
			}
		}
	})
}

// Stop ends the notice pump and waits for it.
func (l *Live) Stop() error {
	if l.t == nil {
		return nil
	}
	l.t.Kill(nil)
	return l.t.Wait()
}

// Flush hands the notices still buffered in the broker stream to the sink
// without waiting for more. Call it after Stop.
func (l *Live) Flush() int {
	if l.sink == nil {
		return 0
	}
	notices := l.broker.Notifications()
	n := 0
	for {
		select {
		case nt, ok := <-notices:
			if !ok {
				return n
			}
			l.sink(nt)
			n++
		default:
			return n
		}
	}
}

func (l *Live) OnMarket(_ context.Context, ev domain.MarketEvent, _ []*domain.Order, _ decimal.Decimal) (Result, error) {
	if m, ok := l.broker.(Marker); ok {
		m.Mark(ev.Instrument, ev.Close, ev.Time)
	}
	return Result{}, nil
}

func (l *Live) Submit(ctx context.Context, _ domain.MarketEvent, o *domain.Order, _ decimal.Decimal) (Result, error) {
	var ack domain.BrokerAck
	err := l.call(ctx, "submit", func() error {
		var err error
		ack, err = l.broker.Submit(ctx, o.Clone())
		return err
	})
	if err != nil {
		return Result{}, &domain.BackendError{Op: "submit", OrderID: o.ID, Err: err}
	}
	if !ack.Accepted {
		return Result{Rejected: []Rejected{{OrderID: o.ID, Reason: ack.Reason}}}, nil
	}
	l.log.Debug("Order acknowledged",
		slog.Uint64("order_id", o.ID),
		slog.String("broker_id", ack.BrokerID))
	return Result{}, nil
}

// Cancel only requests cancellation; the order closes on the broker's
// acknowledgement.
func (l *Live) Cancel(ctx context.Context, o *domain.Order) (Result, error) {
	err := l.call(ctx, "cancel", func() error {
		return l.broker.Cancel(ctx, o.ID)
	})
	if err != nil {
		return Result{}, &domain.BackendError{Op: "cancel", OrderID: o.ID, Err: err}
	}
	return Result{CancelPending: true}, nil
}

// Reconcile compares the local view with the broker's and reports every
// difference. It never changes either side.
func (l *Live) Reconcile(ctx context.Context, open []domain.Order, positions map[string]decimal.Decimal) ([]domain.ReconciliationMismatch, error) {
	var snap domain.BrokerSnapshot
	err := l.call(ctx, "snapshot", func() error {
		var err error
		snap, err = l.broker.Snapshot(ctx)
		return err
	})
	if err != nil {
		return nil, &domain.BackendError{Op: "snapshot", Err: err}
	}
	return diff(open, positions, snap), nil
}

func diff(open []domain.Order, positions map[string]decimal.Decimal, snap domain.BrokerSnapshot) []domain.ReconciliationMismatch {
	var out []domain.ReconciliationMismatch

	remote := make(map[uint64]decimal.Decimal, len(snap.OpenOrders))
	for _, bo := range snap.OpenOrders {
		remote[bo.OrderID] = bo.Remaining
	}
	local := make(map[uint64]bool, len(open))
	for i := range open {
		o := &open[i]
		local[o.ID] = true
		rem, ok := remote[o.ID]
		switch {
		case !ok:
			out = append(out, domain.ReconciliationMismatch{
				Kind: "order", Instrument: o.Instrument, OrderID: o.ID,
				Local: o.Remaining().String(), Remote: "missing",
			})
		case !rem.Equal(o.Remaining()):
			out = append(out, domain.ReconciliationMismatch{
				Kind: "order", Instrument: o.Instrument, OrderID: o.ID,
				Local: o.Remaining().String(), Remote: rem.String(),
			})
		}
	}
	for _, bo := range snap.OpenOrders {
		if !local[bo.OrderID] {
			out = append(out, domain.ReconciliationMismatch{
				Kind: "order", OrderID: bo.OrderID,
				Local: "missing", Remote: bo.Remaining.String(),
			})
		}
	}

	instruments := make(map[string]struct{})
	for k := range positions {
		instruments[k] = struct{}{}
	}
	for k := range snap.Positions {
		instruments[k] = struct{}{}
	}
	names := make([]string, 0, len(instruments))
	for k := range instruments {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		lq, rq := positions[name], snap.Positions[name]
		if !lq.Equal(rq) {
			out = append(out, domain.ReconciliationMismatch{
				Kind: "position", Instrument: name,
				Local: lq.String(), Remote: rq.String(),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// call runs fn with exponential backoff while it fails with a retriable
// error.
func (l *Live) call(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retry.InitialInterval
	if l.retry.MaxInterval > 0 {
		b.MaxInterval = l.retry.MaxInterval
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.retry.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && !domain.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		l.log.Warn("Broker call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if err != nil && domain.IsRetriable(err) {
		return fmt.Errorf("%s gave up after %d attempts: %w", op, attempt, err)
	}
	return err
}
