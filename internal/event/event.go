package event

import (
	"time"

	"trade_engine/internal/domain"
)

// Type identifies the payload of a queued event.
type Type int

const (
	TypeMarketUpdate Type = iota + 1
	TypeOrderUpdate
	TypeReconcile
	TypeBreakerReset
)

func (t Type) String() string {
	switch t {
	case TypeMarketUpdate:
		return "MARKET_UPDATE"
	case TypeOrderUpdate:
		return "ORDER_UPDATE"
	case TypeReconcile:
		return "RECONCILE"
	case TypeBreakerReset:
		return "BREAKER_RESET"
	default:
		return "UNKNOWN"
	}
}

// Event is one item of the live ordering queue.
type Event interface {
	GetSeq() uint64
	GetTime() time.Time
	GetType() Type
}

// BaseEvent carries the ordering key. Seq is the arrival sequence assigned
// by the queue, Ts the event's own timestamp.
type BaseEvent struct {
	Seq uint64
	Ts  time.Time
}

func (e *BaseEvent) GetSeq() uint64     { return e.Seq }
func (e *BaseEvent) GetTime() time.Time { return e.Ts }
func (e *BaseEvent) SetSeq(seq uint64)  { e.Seq = seq }

// MarketUpdateEvent wraps a market data event.
type MarketUpdateEvent struct {
	BaseEvent
	Data domain.MarketEvent
}

func (e *MarketUpdateEvent) GetType() Type { return TypeMarketUpdate }

// OrderUpdateEvent wraps an asynchronous broker notice.
type OrderUpdateEvent struct {
	BaseEvent
	Notice domain.BrokerNotice
}

func (e *OrderUpdateEvent) GetType() Type { return TypeOrderUpdate }

// ReconcileEvent asks the loop to compare its state with the broker.
type ReconcileEvent struct {
	BaseEvent
}

func (e *ReconcileEvent) GetType() Type { return TypeReconcile }

// BreakerResetEvent asks the loop to re-arm the drawdown circuit breaker.
type BreakerResetEvent struct {
	BaseEvent
}

func (e *BreakerResetEvent) GetType() Type { return TypeBreakerReset }
