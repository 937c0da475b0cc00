package execution

import (
	"context"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Backend turns accepted orders into fills. The set of implementations is
// closed: *Simulated and *Live.
type Backend interface {
	Name() string

	// OnMarket gives resting orders, in priority order, the first chance
	// to fill against ev. cash is the ledger cash before any of these fills.
	OnMarket(ctx context.Context, ev domain.MarketEvent, resting []*domain.Order, cash decimal.Decimal) (Result, error)

	// Submit hands over a newly accepted order created while handling ev.
	Submit(ctx context.Context, ev domain.MarketEvent, o *domain.Order, cash decimal.Decimal) (Result, error)

	// Cancel requests cancellation of an open order.
	Cancel(ctx context.Context, o *domain.Order) (Result, error)

	sealed()
}

// Result is what a backend call produced. The event loop applies
// Triggered first, then Fills, Cancelled and Rejected.
type Result struct {
	Fills     []domain.Fill
	Triggered []uint64
	Cancelled []uint64
	Rejected  []Rejected

	// CancelPending is set when a cancel awaits the broker's acknowledgement.
	CancelPending bool
}

// Rejected is a broker-side rejection of an order already in the book.
type Rejected struct {
	OrderID uint64
	Reason  string
}

func (r Result) Empty() bool {
	return len(r.Fills) == 0 && len(r.Triggered) == 0 && len(r.Cancelled) == 0 && len(r.Rejected) == 0
}
