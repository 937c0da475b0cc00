package execution

import (
	"fmt"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// EntryFill decides whether an order may fill on the event that created it.
type EntryFill string

const (
	// EntryImmediate lets a new order fill at the creating event's close,
	// the last price the strategy saw. Open, high and low are never used.
	EntryImmediate EntryFill = "immediate"
	// EntryNextEvent defers every new order to the following event.
	EntryNextEvent EntryFill = "next_event"
)

// GapPolicy prices a limit order when an event opens beyond its limit.
type GapPolicy string

const (
	GapPolicyLimit GapPolicy = "limit" // fill at the limit price
	GapPolicyOpen  GapPolicy = "open"  // fill at the better open price
)

type SlippageModel string

const (
	SlippageNone     SlippageModel = "none"
	SlippageFixedBps SlippageModel = "fixed_bps"
	SlippageSpread   SlippageModel = "spread"
)

type LiquidityModel string

const (
	LiquidityFull   LiquidityModel = "full"
	LiquidityVolume LiquidityModel = "volume"
)

var bpsDivisor = decimal.NewFromInt(10000)

// SimConfig parameterizes the simulated fill model.
type SimConfig struct {
	EntryFill      EntryFill
	GapPolicy      GapPolicy
	Slippage       SlippageModel
	SlippageBps    decimal.Decimal
	SpreadBps      decimal.Decimal // used when the event carries no bid/ask
	Liquidity      LiquidityModel
	Participation  decimal.Decimal // share of event volume available
	LotPrecision   int32
	CommissionRate decimal.Decimal
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		EntryFill:     EntryImmediate,
		GapPolicy:     GapPolicyLimit,
		Slippage:      SlippageNone,
		Liquidity:     LiquidityFull,
		Participation: decimal.NewFromFloat(0.1),
		LotPrecision:  8,
	}
}

func (c SimConfig) Validate() error {
	switch c.EntryFill {
	case EntryImmediate, EntryNextEvent:
	default:
		return fmt.Errorf("unknown entry fill %q", c.EntryFill)
	}
	switch c.GapPolicy {
	case GapPolicyLimit, GapPolicyOpen:
	default:
		return fmt.Errorf("unknown gap policy %q", c.GapPolicy)
	}
	switch c.Slippage {
	case SlippageNone, SlippageFixedBps, SlippageSpread:
	default:
		return fmt.Errorf("unknown slippage model %q", c.Slippage)
	}
	switch c.Liquidity {
	case LiquidityFull:
	case LiquidityVolume:
		if !c.Participation.IsPositive() || c.Participation.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("participation must be in (0, 1], got %s", c.Participation)
		}
	default:
		return fmt.Errorf("unknown liquidity model %q", c.Liquidity)
	}
	if c.SlippageBps.IsNegative() || c.SpreadBps.IsNegative() || c.CommissionRate.IsNegative() {
		return fmt.Errorf("slippage, spread and commission must not be negative")
	}
	if c.LotPrecision < 0 {
		return fmt.Errorf("lot precision must not be negative")
	}
	return nil
}

// slip moves price against the order side.
func (c SimConfig) slip(side domain.Side, price decimal.Decimal, ev domain.MarketEvent) decimal.Decimal {
	var bps decimal.Decimal
	switch c.Slippage {
	case SlippageFixedBps:
		bps = c.SlippageBps
	case SlippageSpread:
		if side == domain.SideBuy && ev.Ask.Valid {
			return ev.Ask.Decimal
		}
		if side == domain.SideSell && ev.Bid.Valid {
			return ev.Bid.Decimal
		}
		bps = c.SpreadBps.Div(decimal.NewFromInt(2))
	default:
		return price
	}
	adj := price.Mul(bps).Div(bpsDivisor)
	if side == domain.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

// volumeCap is the quantity an event can absorb, or false when unlimited.
func (c SimConfig) volumeCap(ev domain.MarketEvent) (decimal.Decimal, bool) {
	if c.Liquidity != LiquidityVolume {
		return decimal.Zero, false
	}
	return ev.Volume.Mul(c.Participation).Truncate(c.LotPrecision), true
}

// affordable is the largest lot-rounded quantity cash can pay for.
func (c SimConfig) affordable(cash, price decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	unit := price.Mul(decimal.NewFromInt(1).Add(c.CommissionRate))
	return cash.DivRound(unit, c.LotPrecision+4).Truncate(c.LotPrecision)
}

func (c SimConfig) commission(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Mul(c.CommissionRate)
}
