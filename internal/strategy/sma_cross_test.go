package strategy_test

import (
	"testing"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/market"
	"trade_engine/internal/portfolio"
	"trade_engine/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

type harness struct {
	universe *market.Universe
	ledger   *portfolio.Ledger
	seq      uint64
}

func newHarness(tfs ...domain.Timeframe) *harness {
	return &harness{
		universe: market.NewUniverse(tfs),
		ledger:   portfolio.NewLedger(decimal.NewFromInt(100000)),
	}
}

func (h *harness) push(t *testing.T, s strategy.Strategy, price int64) []domain.Intent {
	t.Helper()
	h.seq++
	ev := domain.NewTick("BTC", t0.Add(time.Duration(h.seq)*time.Minute), h.seq, decimal.NewFromInt(price), decimal.NewFromInt(1))
	closed, err := h.universe.Apply(ev)
	require.NoError(t, err)
	return s.OnEvent(strategy.Context{
		Event:     ev,
		Closed:    closed,
		Market:    market.NewReader(h.universe),
		Portfolio: portfolio.NewView(h.ledger),
	})
}

func TestSMACrossStrategy(t *testing.T) {
	h := newHarness()
	strat, err := strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 3, 5, decimal.NewFromInt(2))
	require.NoError(t, err)

	// T1-T5: all 100, not enough history to compare
	for i := 0; i < 5; i++ {
		assert.Empty(t, h.push(t, strat, 100), "T%d", i+1)
	}

	// T6: Short(3) = 133.3 > Long(5) = 120 => GOLDEN CROSS
	intents := h.push(t, strat, 200)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.SideBuy, intents[0].Side)
	assert.True(t, intents[0].Quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "sma-golden", intents[0].Tag)

	_, err = h.ledger.Apply(domain.Fill{ID: "1-1", OrderID: 1, Instrument: "BTC", Side: domain.SideBuy,
		Quantity: decimal.NewFromInt(2), Price: decimal.NewFromInt(200), Time: t0})
	require.NoError(t, err)

	// T7: Short 116.7 still above Long 110
	assert.Empty(t, h.push(t, strat, 50))

	// T8: Short(3) = 86.7 < Long(5) = 92 => DEAD CROSS, sell the position
	intents = h.push(t, strat, 10)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.SideSell, intents[0].Side)
	assert.True(t, intents[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func TestSMACrossStrategy_DeadCrossWhileFlat(t *testing.T) {
	h := newHarness()
	strat, err := strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 3, 5, decimal.NewFromInt(1))
	require.NoError(t, err)

	for _, px := range []int64{100, 100, 100, 100, 100, 200, 50, 10} {
		for _, in := range h.push(t, strat, px) {
			assert.NotEqual(t, domain.SideSell, in.Side, "nothing to sell while flat")
		}
	}
}

func TestSMACrossStrategy_UsesClosedBars(t *testing.T) {
	h := newHarness(domain.TimeframeM5)
	strat, err := strategy.NewSMACrossStrategy("BTC", domain.TimeframeM5, 2, 3, decimal.NewFromInt(1))
	require.NoError(t, err)

	// One tick per minute: only every fifth event closes a 5m bar.
	var signals int
	for i := 0; i < 40; i++ {
		signals += len(h.push(t, strat, int64(100+i)))
	}
	assert.Zero(t, signals, "steady uptrend never crosses")
	assert.Zero(t, strat.Rejections())
}

func TestSMACrossStrategy_IgnoresOtherInstruments(t *testing.T) {
	strat, err := strategy.NewSMACrossStrategy("ETH", domain.TimeframeTick, 2, 3, decimal.NewFromInt(1))
	require.NoError(t, err)
	h := newHarness()
	for i := 0; i < 10; i++ {
		assert.Empty(t, h.push(t, strat, int64(100+i*i)))
	}
}

func TestNewSMACrossStrategy_Validation(t *testing.T) {
	_, err := strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 5, 5, decimal.NewFromInt(1))
	assert.Error(t, err)
	_, err = strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 2, 5, decimal.Zero)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var s strategy.Strategy = strategy.Func(func(ctx strategy.Context) []domain.Intent {
		return []domain.Intent{domain.MarketOrder(ctx.Event.Instrument, domain.SideBuy, decimal.NewFromInt(1))}
	})
	out := s.OnEvent(strategy.Context{Event: domain.MarketEvent{Instrument: "X"}})
	require.Len(t, out, 1)
	assert.Equal(t, "X", out[0].Instrument)
}
