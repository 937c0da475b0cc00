package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FillOrigin string

const (
	FillOriginSimulated FillOrigin = "SIMULATED"
	FillOriginLive      FillOrigin = "LIVE"
)

// Fill is one execution against an order. ID is unique per run.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    uint64          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Time       time.Time       `json:"time"`
	Origin     FillOrigin      `json:"origin"`
}

func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// CashDelta is the signed effect of the fill on cash, commission included.
func (f Fill) CashDelta() decimal.Decimal {
	if f.Side == SideBuy {
		return f.Notional().Add(f.Commission).Neg()
	}
	return f.Notional().Sub(f.Commission)
}

// Operation aggregates every fill of an order once the order is final.
type Operation struct {
	OrderID    uint64          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Value      decimal.Decimal `json:"value"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Commission decimal.Decimal `json:"commission"`
	Fills      int             `json:"fills"`
	Status     OrderStatus     `json:"status"`
	ClosedAt   time.Time       `json:"closed_at"`
	Tag        string          `json:"tag,omitempty"`
}

// OperationOf summarizes a terminal order. ok is false for orders that
// never filled.
func OperationOf(o *Order, at time.Time) (Operation, bool) {
	if !o.Filled.IsPositive() {
		return Operation{}, false
	}
	return Operation{
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Quantity:   o.Filled,
		Value:      o.Filled.Mul(o.AvgFillPrice),
		AvgPrice:   o.AvgFillPrice,
		Commission: o.Commission,
		Fills:      len(o.FillIDs),
		Status:     o.Status,
		ClosedAt:   at,
		Tag:        o.Tag,
	}, true
}
