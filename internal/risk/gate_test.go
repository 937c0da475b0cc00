package risk

import (
	"errors"
	"testing"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ruleOf(t *testing.T, err error) string {
	t.Helper()
	var rr *domain.RiskRejected
	require.True(t, errors.As(err, &rr), "expected RiskRejected, got %v", err)
	return rr.Rule
}

func TestGate_BuyingPower(t *testing.T) {
	g := NewGate(Limits{})
	ex := Exposure{Cash: d("1000"), Mark: d("100")}

	assert.NoError(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("10")), ex))
	assert.Equal(t, domain.RuleBuyingPower, ruleOf(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("11")), ex)))

	// reservations for open buys reduce buying power
	ex.Reserved = d("500")
	assert.Equal(t, domain.RuleBuyingPower, ruleOf(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("6")), ex)))

	// limit orders are valued at the limit
	assert.NoError(t, g.Evaluate(domain.LimitOrder("ABC", domain.SideBuy, d("10"), d("50")), ex))
}

func TestGate_CommissionCountsAgainstBuyingPower(t *testing.T) {
	g := NewGate(Limits{CommissionRate: d("0.01")})
	ex := Exposure{Cash: d("1000"), Mark: d("100")}
	assert.Equal(t, domain.RuleBuyingPower, ruleOf(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("10")), ex)))
	assert.NoError(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("9.9")), ex))
}

func TestGate_ShortSelling(t *testing.T) {
	ex := Exposure{Cash: d("1000"), Position: d("5"), Mark: d("100")}

	noShort := NewGate(Limits{})
	assert.NoError(t, noShort.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("5")), ex))
	assert.Equal(t, domain.RuleShortSelling, ruleOf(t, noShort.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("6")), ex)))

	// a pending sell already closes the long
	ex.PendingSell = d("5")
	assert.Equal(t, domain.RuleShortSelling, ruleOf(t, noShort.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("1")), ex)))

	short := NewGate(Limits{AllowShort: true, ShortMarginRate: d("0.5")})
	ex.PendingSell = decimal.Zero
	// opens 15 short: margin 15*100*0.5 = 750
	assert.NoError(t, short.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("20")), ex))
	assert.Equal(t, domain.RuleBuyingPower, ruleOf(t, short.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("30")), ex)))
}

func TestGate_OrderAndPositionCaps(t *testing.T) {
	g := NewGate(Limits{
		MaxOrderQty:      d("10"),
		MaxOrderNotional: d("800"),
		MaxPositionQty:   d("12"),
		MaxExposure:      d("1100"),
	})
	ex := Exposure{Cash: d("100000"), Position: d("4"), Mark: d("100")}

	assert.Equal(t, domain.RuleMaxOrderQty, ruleOf(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("11")), ex)))
	assert.Equal(t, domain.RuleMaxOrderNotional, ruleOf(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("9")), ex)))
	assert.Equal(t, domain.RuleMaxExposure, ruleOf(t, g.Evaluate(domain.LimitOrder("ABC", domain.SideBuy, d("8"), d("95")), ex)))

	ex.PendingBuy = d("3")
	assert.Equal(t, domain.RuleMaxPositionQty, ruleOf(t, g.Evaluate(domain.LimitOrder("ABC", domain.SideBuy, d("6"), d("10")), ex)))
	assert.NoError(t, g.Evaluate(domain.LimitOrder("ABC", domain.SideBuy, d("5"), d("10")), ex))

	// reducing exposure is never capped by position limits
	ex.Position = d("20")
	assert.NoError(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("5")), ex))
}

func TestGate_NoReferencePrice(t *testing.T) {
	g := NewGate(Limits{})
	err := g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("1")), Exposure{Cash: d("1000")})
	assert.Equal(t, domain.RuleNoPrice, ruleOf(t, err))
}

func TestGate_CircuitBreaker(t *testing.T) {
	g := NewGate(Limits{MaxDrawdown: d("0.2")})
	ex := Exposure{Cash: d("10000"), Position: d("10"), Mark: d("100")}

	assert.False(t, g.Observe(t0, d("1000")))
	assert.False(t, g.Observe(t0.Add(time.Minute), d("850")))
	assert.True(t, g.Observe(t0.Add(2*time.Minute), d("800")), "20% drawdown trips")
	assert.False(t, g.Observe(t0.Add(3*time.Minute), d("700")), "already tripped")
	assert.True(t, g.Tripped())
	assert.Equal(t, t0.Add(2*time.Minute), g.TrippedAt())

	err := g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("1")), ex)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.NoError(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideSell, d("10")), ex), "exits stay allowed")

	// recovery alone does not re-arm the breaker
	g.Observe(t0.Add(4*time.Minute), d("1000"))
	assert.True(t, g.Tripped())

	g.Reset()
	assert.False(t, g.Tripped())
	assert.NoError(t, g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, d("1")), ex))
}

func TestGate_CancelIntentsAlwaysPass(t *testing.T) {
	g := NewGate(Limits{MaxDrawdown: d("0.1")})
	g.Observe(t0, d("100"))
	g.Observe(t0, d("50"))
	assert.NoError(t, g.Evaluate(domain.CancelOrder(1), Exposure{}))
}

// An accepted buy never costs more than the available cash at its
// reference price.
func TestGate_AcceptedBuysAreAffordable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cash := decimal.NewFromInt(rapid.Int64Range(0, 100000).Draw(t, "cash"))
		reserved := decimal.NewFromInt(rapid.Int64Range(0, 50000).Draw(t, "reserved"))
		mark := decimal.NewFromInt(rapid.Int64Range(1, 500).Draw(t, "mark"))
		qty := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "qty"))
		rate := decimal.New(rapid.Int64Range(0, 100).Draw(t, "bps"), -4)

		g := NewGate(Limits{CommissionRate: rate})
		err := g.Evaluate(domain.MarketOrder("ABC", domain.SideBuy, qty), Exposure{Cash: cash, Reserved: reserved, Mark: mark})
		cost := qty.Mul(mark).Mul(decimal.NewFromInt(1).Add(rate))
		if err == nil && cost.GreaterThan(cash.Sub(reserved)) {
			t.Fatalf("accepted buy costing %s with only %s available", cost, cash.Sub(reserved))
		}
		if err != nil && !cost.GreaterThan(cash.Sub(reserved)) {
			t.Fatalf("rejected affordable buy: %v", err)
		}
	})
}
