package execution

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trade_engine/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperBroker is an in-memory broker for dry runs. It fills at the last
// mark it was given and reports everything through Notifications, like a
// real venue would.
type PaperBroker struct {
	mu             sync.Mutex
	notices        chan domain.BrokerNotice
	orders         map[uint64]*paperOrder
	marks          map[string]decimal.Decimal
	positions      map[string]decimal.Decimal
	cash           decimal.Decimal
	commissionRate decimal.Decimal
	lastMark       time.Time
	failNext       int
	closed         bool
	log            *slog.Logger
}

type paperOrder struct {
	order     domain.Order
	remaining decimal.Decimal
	triggered bool
}

func NewPaperBroker(cash, commissionRate decimal.Decimal, buffer int) *PaperBroker {
	if buffer <= 0 {
		buffer = 256
	}
	return &PaperBroker{
		notices:        make(chan domain.BrokerNotice, buffer),
		orders:         make(map[uint64]*paperOrder),
		marks:          make(map[string]decimal.Decimal),
		positions:      make(map[string]decimal.Decimal),
		cash:           cash,
		commissionRate: commissionRate,
		log:            slog.Default().With(slog.String("module", "paper")),
	}
}

// FailNext makes the next n Submit or Cancel calls fail with a retriable
// network error.
func (p *PaperBroker) FailNext(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

func (p *PaperBroker) Notifications() <-chan domain.BrokerNotice {
	return p.notices
}

func (p *PaperBroker) Submit(_ context.Context, o domain.Order) (domain.BrokerAck, error) {
	p.mu.Lock()
	if err := p.injectedFailure("submit"); err != nil {
		p.mu.Unlock()
		return domain.BrokerAck{}, err
	}
	ack := domain.BrokerAck{OrderID: o.ID, BrokerID: uuid.NewString()}
	if !o.Remaining().IsPositive() {
		p.mu.Unlock()
		ack.Reason = "nothing to fill"
		return ack, nil
	}
	if _, dup := p.orders[o.ID]; dup {
		p.mu.Unlock()
		ack.Reason = "duplicate order id"
		return ack, nil
	}
	ack.Accepted = true
	po := &paperOrder{order: o, remaining: o.Remaining(), triggered: o.Triggered}
	p.orders[o.ID] = po
	out := p.match(po, nil)
	p.mu.Unlock()

	p.emit(out)
	return ack, nil
}

// Cancel removes the order and acknowledges it asynchronously. Cancelling
// an unknown or already filled order is a no-op.
func (p *PaperBroker) Cancel(_ context.Context, orderID uint64) error {
	p.mu.Lock()
	if err := p.injectedFailure("cancel"); err != nil {
		p.mu.Unlock()
		return err
	}
	_, ok := p.orders[orderID]
	delete(p.orders, orderID)
	at := p.lastMark
	p.mu.Unlock()

	if ok {
		p.emit([]domain.BrokerNotice{{Kind: domain.NoticeCancelAck, OrderID: orderID, Time: at}})
	}
	return nil
}

func (p *PaperBroker) Snapshot(_ context.Context) (domain.BrokerSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := domain.BrokerSnapshot{
		Cash:      p.cash,
		Positions: make(map[string]decimal.Decimal, len(p.positions)),
	}
	for k, v := range p.positions {
		if !v.IsZero() {
			snap.Positions[k] = v
		}
	}
	for id, po := range p.orders {
		snap.OpenOrders = append(snap.OpenOrders, domain.BrokerOrder{OrderID: id, Remaining: po.remaining})
	}
	sort.Slice(snap.OpenOrders, func(i, j int) bool {
		return snap.OpenOrders[i].OrderID < snap.OpenOrders[j].OrderID
	})
	return snap, nil
}

// Mark updates the price of an instrument and fills whatever it makes
// executable, oldest order first.
func (p *PaperBroker) Mark(instrument string, price decimal.Decimal, at time.Time) {
	p.mu.Lock()
	p.marks[instrument] = price
	p.lastMark = at

	ids := make([]uint64, 0, len(p.orders))
	for id, po := range p.orders {
		if po.order.Instrument == instrument {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []domain.BrokerNotice
	for _, id := range ids {
		out = p.match(p.orders[id], out)
	}
	p.mu.Unlock()

	p.emit(out)
}

// Close ends the notification stream.
func (p *PaperBroker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.notices)
	}
}

// match fills po in full at the current mark when its conditions are met.
// Callers hold p.mu.
func (p *PaperBroker) match(po *paperOrder, out []domain.BrokerNotice) []domain.BrokerNotice {
	o := &po.order
	px, ok := p.marks[o.Instrument]
	if !ok {
		return out
	}
	buy := o.Side == domain.SideBuy
	switch o.Kind {
	case domain.OrderKindLimit:
		if (buy && px.GreaterThan(o.LimitPrice)) || (!buy && px.LessThan(o.LimitPrice)) {
			return out
		}
	case domain.OrderKindStop:
		if !po.triggered {
			if (buy && px.LessThan(o.StopPrice)) || (!buy && px.GreaterThan(o.StopPrice)) {
				return out
			}
			po.triggered = true
		}
	}

	qty := po.remaining
	commission := qty.Mul(px).Mul(p.commissionRate)
	if buy {
		cost := qty.Mul(px).Add(commission)
		if cost.GreaterThan(p.cash) {
			delete(p.orders, o.ID)
			p.log.Warn("Rejecting order on insufficient funds", slog.Uint64("order_id", o.ID))
			return append(out, domain.BrokerNotice{
				Kind: domain.NoticeReject, OrderID: o.ID, Reason: "insufficient funds", Time: p.lastMark,
			})
		}
	}

	f := domain.Fill{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Quantity:   qty,
		Price:      px,
		Commission: commission,
		Time:       p.lastMark,
		Origin:     domain.FillOriginLive,
	}
	p.cash = p.cash.Add(f.CashDelta())
	p.positions[o.Instrument] = p.positions[o.Instrument].Add(qty.Mul(o.Side.Sign()))
	delete(p.orders, o.ID)
	return append(out, domain.BrokerNotice{Kind: domain.NoticeFill, OrderID: o.ID, Fill: f, Time: f.Time})
}

func (p *PaperBroker) injectedFailure(op string) error {
	if p.failNext <= 0 {
		return nil
	}
	p.failNext--
	return domain.NewNetworkError(op, domain.ErrConnectionFailed)
}

func (p *PaperBroker) emit(out []domain.BrokerNotice) {
	for _, n := range out {
		p.notices <- n
	}
}
