package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
	OrderKindStop   OrderKind = "STOP"
)

func (k OrderKind) Valid() bool {
	return k == OrderKindMarket || k == OrderKindLimit || k == OrderKindStop
}

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal statuses admit no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected || s == OrderStatusCancelled
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is an order tracked by the internal book.
// Instrument, Side and Kind never change after creation.
type Order struct {
	ID            uint64          `json:"id"`
	Instrument    string          `json:"instrument"`
	Side          Side            `json:"side"`
	Kind          OrderKind       `json:"kind"`
	LimitPrice    decimal.Decimal `json:"limit_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Filled        decimal.Decimal `json:"filled"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	Commission    decimal.Decimal `json:"commission"`
	Status        OrderStatus     `json:"status"`
	CancelPending bool            `json:"cancel_pending"`
	Triggered     bool            `json:"triggered"`
	Tag           string          `json:"tag,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedEvent  uint64          `json:"created_event"`
	RejectReason  string          `json:"reject_reason,omitempty"`
	FillIDs       []string        `json:"fill_ids,omitempty"`
}

// NewOrder creates a Pending order from a submit intent.
func NewOrder(id uint64, in Intent, at time.Time, eventIndex uint64) *Order {
	return &Order{
		ID:           id,
		Instrument:   in.Instrument,
		Side:         in.Side,
		Kind:         in.Kind,
		LimitPrice:   in.LimitPrice,
		StopPrice:    in.StopPrice,
		Quantity:     in.Quantity,
		Status:       OrderStatusPending,
		Tag:          in.Tag,
		CreatedAt:    at,
		CreatedEvent: eventIndex,
	}
}

func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsOpen checks if the order can still fill.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// Marketable reports whether the order executes at the next available
// price: market orders and stops whose trigger has been reached.
func (o *Order) Marketable() bool {
	return o.Kind == OrderKindMarket || (o.Kind == OrderKindStop && o.Triggered)
}

func (o *Order) HasFill(fillID string) bool {
	for _, id := range o.FillIDs {
		if id == fillID {
			return true
		}
	}
	return false
}

// ApplyFill accumulates a fill and advances the status.
// A fill whose ID was already applied returns ErrDuplicateFill and leaves
// the order untouched.
func (o *Order) ApplyFill(f Fill) error {
	if o.HasFill(f.ID) {
		return ErrDuplicateFill
	}
	if !o.IsOpen() {
		return fmt.Errorf("order %d is %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	if f.Instrument != o.Instrument || f.Side != o.Side {
		return fmt.Errorf("fill %s does not match order %d: %w", f.ID, o.ID, ErrFillMismatch)
	}
	if !f.Quantity.IsPositive() {
		return fmt.Errorf("fill %s: %w", f.ID, ErrInvalidQuantity)
	}
	filled := o.Filled.Add(f.Quantity)
	if filled.GreaterThan(o.Quantity) {
		return fmt.Errorf("fill %s for order %d: %w", f.ID, o.ID, ErrOverfill)
	}

	o.AvgFillPrice = o.AvgFillPrice.Mul(o.Filled).Add(f.Price.Mul(f.Quantity)).Div(filled)
	o.Filled = filled
	o.Commission = o.Commission.Add(f.Commission)
	o.FillIDs = append(o.FillIDs, f.ID)
	if o.Kind == OrderKindStop {
		o.Triggered = true
	}

	if filled.Equal(o.Quantity) {
		o.Status = OrderStatusFilled
		o.CancelPending = false
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	return nil
}

// Cancel finalizes an open order at its filled quantity.
func (o *Order) Cancel() error {
	if !CanTransition(o.Status, OrderStatusCancelled) {
		return fmt.Errorf("cancel order %d from %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.Status = OrderStatusCancelled
	o.CancelPending = false
	return nil
}

// Reject is only possible before any fill.
func (o *Order) Reject(reason string) error {
	if !CanTransition(o.Status, OrderStatusRejected) {
		return fmt.Errorf("reject order %d from %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.Status = OrderStatusRejected
	o.RejectReason = reason
	return nil
}

// RequestCancel marks an order as awaiting a cancel acknowledgement.
func (o *Order) RequestCancel() error {
	if !o.IsOpen() {
		return fmt.Errorf("cancel order %d from %s: %w", o.ID, o.Status, ErrInvalidTransition)
	}
	o.CancelPending = true
	return nil
}

// Clone returns a deep copy.
func (o *Order) Clone() Order {
	c := *o
	c.FillIDs = append([]string(nil), o.FillIDs...)
	return c
}
