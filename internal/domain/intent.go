package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentOp string

const (
	IntentSubmit IntentOp = "SUBMIT"
	IntentCancel IntentOp = "CANCEL"
)

// Intent is what a strategy asks for. It becomes an Order only after
// validation and the risk gate accept it.
type Intent struct {
	Op         IntentOp        `json:"op"`
	Instrument string          `json:"instrument,omitempty"`
	Side       Side            `json:"side,omitempty"`
	Kind       OrderKind       `json:"kind,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	Tag        string          `json:"tag,omitempty"`
	OrderID    uint64          `json:"order_id,omitempty"`
}

func MarketOrder(instrument string, side Side, qty decimal.Decimal) Intent {
	return Intent{Op: IntentSubmit, Instrument: instrument, Side: side, Kind: OrderKindMarket, Quantity: qty}
}

func LimitOrder(instrument string, side Side, qty, limit decimal.Decimal) Intent {
	return Intent{Op: IntentSubmit, Instrument: instrument, Side: side, Kind: OrderKindLimit, Quantity: qty, LimitPrice: limit}
}

func StopOrder(instrument string, side Side, qty, stop decimal.Decimal) Intent {
	return Intent{Op: IntentSubmit, Instrument: instrument, Side: side, Kind: OrderKindStop, Quantity: qty, StopPrice: stop}
}

func CancelOrder(orderID uint64) Intent {
	return Intent{Op: IntentCancel, OrderID: orderID}
}

// WithTag labels the resulting order.
func (in Intent) WithTag(tag string) Intent {
	in.Tag = tag
	return in
}

// Validate checks the intent in isolation. Instrument existence and
// order ownership are checked by the event loop.
func (in Intent) Validate() error {
	switch in.Op {
	case IntentCancel:
		if in.OrderID == 0 {
			return &ValidationError{Field: "order_id", Reason: "cancel requires an order id"}
		}
		return nil
	case IntentSubmit:
	default:
		return &ValidationError{Field: "op", Reason: "unknown operation " + string(in.Op)}
	}

	if in.Instrument == "" {
		return &ValidationError{Field: "instrument", Reason: "empty"}
	}
	if !in.Side.Valid() {
		return &ValidationError{Field: "side", Reason: "unknown side " + string(in.Side)}
	}
	if !in.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown order kind " + string(in.Kind)}
	}
	if !in.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive", Err: ErrInvalidQuantity}
	}
	if in.Kind == OrderKindLimit && !in.LimitPrice.IsPositive() {
		return &ValidationError{Field: "limit_price", Reason: "limit order requires a positive limit price", Err: ErrInvalidPrice}
	}
	if in.Kind == OrderKindStop && !in.StopPrice.IsPositive() {
		return &ValidationError{Field: "stop_price", Reason: "stop order requires a positive stop price", Err: ErrInvalidPrice}
	}
	return nil
}

// RejectionKind classifies where an intent was refused.
type RejectionKind string

const (
	RejectedValidation RejectionKind = "VALIDATION"
	RejectedRisk       RejectionKind = "RISK"
	RejectedBroker     RejectionKind = "BROKER"
)

// Rejection is reported to the strategy and observers; it is never dropped.
type Rejection struct {
	Time    time.Time     `json:"time"`
	Kind    RejectionKind `json:"kind"`
	Intent  Intent        `json:"intent"`
	OrderID uint64        `json:"order_id,omitempty"`
	Rule    string        `json:"rule,omitempty"`
	Reason  string        `json:"reason"`
}
