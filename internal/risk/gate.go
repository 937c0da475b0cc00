package risk

import (
	"fmt"
	"log/slog"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Limits are the gate's thresholds. A zero limit is disabled.
type Limits struct {
	MaxOrderQty      decimal.Decimal
	MaxOrderNotional decimal.Decimal
	MaxPositionQty   decimal.Decimal
	MaxExposure      decimal.Decimal // per-instrument notional
	MaxDrawdown      decimal.Decimal // fraction of peak equity, e.g. 0.2
	AllowShort       bool
	ShortMarginRate  decimal.Decimal // cash held per unit of short notional
	CommissionRate   decimal.Decimal
}

// Exposure is what the gate needs to know about the account for one
// instrument at decision time.
type Exposure struct {
	Cash        decimal.Decimal // ledger cash
	Reserved    decimal.Decimal // cash committed to open buy orders
	Position    decimal.Decimal // signed position quantity
	PendingBuy  decimal.Decimal // open buy quantity
	PendingSell decimal.Decimal // open sell quantity
	Mark        decimal.Decimal // last traded price
}

// Gate decides whether an intent may become an order. Its decision depends
// only on the intent, the exposure, the limits and the breaker state.
type Gate struct {
	limits Limits
	log    *slog.Logger

	tripped   bool
	trippedAt time.Time
	peak      decimal.Decimal
	lastDD    decimal.Decimal
}

func NewGate(limits Limits) *Gate {
	return &Gate{
		limits: limits,
		log:    slog.Default().With(slog.String("module", "risk")),
	}
}

func (g *Gate) Limits() Limits {
	return g.limits
}

// Tripped reports whether the drawdown breaker is open.
func (g *Gate) Tripped() bool {
	return g.tripped
}

func (g *Gate) TrippedAt() time.Time {
	return g.trippedAt
}

// Drawdown is the drawdown of the last observed sample.
func (g *Gate) Drawdown() decimal.Decimal {
	return g.lastDD
}

// Observe feeds an equity sample to the breaker. It returns true only on
// the sample that trips it.
func (g *Gate) Observe(at time.Time, equity decimal.Decimal) bool {
	if equity.GreaterThan(g.peak) {
		g.peak = equity
	}
	if !g.peak.IsPositive() {
		return false
	}
	g.lastDD = g.peak.Sub(equity).Div(g.peak)
	if g.tripped || !g.limits.MaxDrawdown.IsPositive() {
		return false
	}
	if g.lastDD.GreaterThanOrEqual(g.limits.MaxDrawdown) {
		g.tripped = true
		g.trippedAt = at
		g.log.Warn("Drawdown circuit breaker tripped",
			slog.String("drawdown", g.lastDD.StringFixed(4)),
			slog.String("limit", g.limits.MaxDrawdown.String()),
			slog.Time("at", at))
		return true
	}
	return false
}

// Reset re-arms the breaker. The peak restarts from the next sample.
func (g *Gate) Reset() {
	if g.tripped {
		g.log.Info("Drawdown circuit breaker reset")
	}
	g.tripped = false
	g.trippedAt = time.Time{}
	g.peak = decimal.Zero
	g.lastDD = decimal.Zero
}

// Evaluate returns nil to accept the intent or a *domain.RiskRejected.
// Limits and stops are valued at their own price, market orders at the mark.
func (g *Gate) Evaluate(in domain.Intent, ex Exposure) error {
	if in.Op != domain.IntentSubmit {
		return nil
	}
	price := referencePrice(in, ex.Mark)
	if !price.IsPositive() {
		return reject(domain.RuleNoPrice, "no reference price for %s", in.Instrument)
	}

	qty := in.Quantity
	// Open orders on the same side count as already done.
	effective := ex.Position.Add(ex.PendingBuy)
	if in.Side == domain.SideSell {
		effective = ex.Position.Sub(ex.PendingSell)
	}
	opening, _ := split(in.Side, qty, effective)

	if g.tripped && opening.IsPositive() {
		return reject(domain.RuleCircuitBreaker, "drawdown %s reached limit %s; only exposure-reducing orders allowed",
			g.lastDD.StringFixed(4), g.limits.MaxDrawdown)
	}

	if g.limits.MaxOrderQty.IsPositive() && qty.GreaterThan(g.limits.MaxOrderQty) {
		return reject(domain.RuleMaxOrderQty, "quantity %s exceeds %s", qty, g.limits.MaxOrderQty)
	}

	notional := qty.Mul(price)
	if g.limits.MaxOrderNotional.IsPositive() && notional.GreaterThan(g.limits.MaxOrderNotional) {
		return reject(domain.RuleMaxOrderNotional, "notional %s exceeds %s", notional, g.limits.MaxOrderNotional)
	}

	available := ex.Cash.Sub(ex.Reserved)
	one := decimal.NewFromInt(1)
	if in.Side == domain.SideBuy {
		need := notional.Mul(one.Add(g.limits.CommissionRate))
		if need.GreaterThan(available) {
			return reject(domain.RuleBuyingPower, "need %s, available %s", need.StringFixed(2), available.StringFixed(2))
		}
	} else if opening.IsPositive() {
		if !g.limits.AllowShort {
			return reject(domain.RuleShortSelling, "sell %s exceeds long position %s", qty, decimal.Max(effective, decimal.Zero))
		}
		margin := opening.Mul(price).Mul(g.limits.ShortMarginRate)
		if margin.GreaterThan(available) {
			return reject(domain.RuleBuyingPower, "short margin %s exceeds available %s", margin.StringFixed(2), available.StringFixed(2))
		}
	}

	projected := effective.Add(qty.Mul(in.Side.Sign()))
	if g.limits.MaxPositionQty.IsPositive() && opening.IsPositive() && projected.Abs().GreaterThan(g.limits.MaxPositionQty) {
		return reject(domain.RuleMaxPositionQty, "projected position %s exceeds %s", projected, g.limits.MaxPositionQty)
	}
	if g.limits.MaxExposure.IsPositive() && opening.IsPositive() {
		exposure := projected.Abs().Mul(price)
		if exposure.GreaterThan(g.limits.MaxExposure) {
			return reject(domain.RuleMaxExposure, "projected exposure %s exceeds %s", exposure.StringFixed(2), g.limits.MaxExposure)
		}
	}
	return nil
}

// split divides qty into the part that grows |position| and the part that
// reduces it.
func split(side domain.Side, qty, position decimal.Decimal) (opening, closing decimal.Decimal) {
	switch {
	case side == domain.SideBuy && position.IsNegative():
		closing = decimal.Min(qty, position.Neg())
	case side == domain.SideSell && position.IsPositive():
		closing = decimal.Min(qty, position)
	}
	return qty.Sub(closing), closing
}

func referencePrice(in domain.Intent, mark decimal.Decimal) decimal.Decimal {
	switch in.Kind {
	case domain.OrderKindLimit:
		return in.LimitPrice
	case domain.OrderKindStop:
		if in.Side == domain.SideBuy {
			return decimal.Max(in.StopPrice, mark)
		}
		return in.StopPrice
	}
	return mark
}

func reject(rule, format string, args ...any) error {
	return &domain.RiskRejected{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}
