package orderbook

import (
	"fmt"
	"slices"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// Queue is one priority-ordered set of resting orders.
type Queue = btree.BTreeG[*domain.Order]

// side holds the resting orders of one instrument, split by how they are
// matched.
type side struct {
	market    *Queue // market orders and triggered stops, by id
	bids      *Queue // buy limits, highest price first
	asks      *Queue // sell limits, lowest price first
	buyStops  *Queue // buy stops, lowest trigger first
	sellStops *Queue // sell stops, highest trigger first
}

func byID(a, b *domain.Order) bool {
	return a.ID < b.ID
}

func newSide() *side {
	return &side{
		market: btree.NewBTreeG(byID),
		bids: btree.NewBTreeG(func(a, b *domain.Order) bool {
			if !a.LimitPrice.Equal(b.LimitPrice) {
				return a.LimitPrice.GreaterThan(b.LimitPrice)
			}
			return a.ID < b.ID
		}),
		asks: btree.NewBTreeG(func(a, b *domain.Order) bool {
			if !a.LimitPrice.Equal(b.LimitPrice) {
				return a.LimitPrice.LessThan(b.LimitPrice)
			}
			return a.ID < b.ID
		}),
		buyStops: btree.NewBTreeG(func(a, b *domain.Order) bool {
			if !a.StopPrice.Equal(b.StopPrice) {
				return a.StopPrice.LessThan(b.StopPrice)
			}
			return a.ID < b.ID
		}),
		sellStops: btree.NewBTreeG(func(a, b *domain.Order) bool {
			if !a.StopPrice.Equal(b.StopPrice) {
				return a.StopPrice.GreaterThan(b.StopPrice)
			}
			return a.ID < b.ID
		}),
	}
}

func (s *side) queueFor(o *domain.Order) *Queue {
	switch {
	case o.Marketable():
		return s.market
	case o.Kind == domain.OrderKindLimit && o.Side == domain.SideBuy:
		return s.bids
	case o.Kind == domain.OrderKindLimit:
		return s.asks
	case o.Side == domain.SideBuy:
		return s.buyStops
	default:
		return s.sellStops
	}
}

// Book is the engine's record of its own orders. It is owned by the event
// loop and is not safe for concurrent use.
type Book struct {
	nextID uint64
	orders map[uint64]*domain.Order // every order ever created
	open   map[uint64]*domain.Order
	sides  map[string]*side
}

func New() *Book {
	return &Book{
		nextID: 1,
		orders: make(map[uint64]*domain.Order),
		open:   make(map[uint64]*domain.Order),
		sides:  make(map[string]*side),
	}
}

// Add turns an accepted submit intent into a Pending order with the next id.
func (b *Book) Add(in domain.Intent, at time.Time, eventIndex uint64) *domain.Order {
	o := domain.NewOrder(b.nextID, in, at, eventIndex)
	b.nextID++
	b.orders[o.ID] = o
	b.open[o.ID] = o
	b.sideOf(o.Instrument).queueFor(o).Set(o)
	return o
}

// Restore puts a previously created order back, for example after a
// restart. The id counter moves past it.
func (b *Book) Restore(o domain.Order) *domain.Order {
	c := o.Clone()
	b.orders[c.ID] = &c
	if c.ID >= b.nextID {
		b.nextID = c.ID + 1
	}
	if c.IsOpen() {
		b.open[c.ID] = &c
		b.sideOf(c.Instrument).queueFor(&c).Set(&c)
	}
	return &c
}

func (b *Book) sideOf(instrument string) *side {
	s, ok := b.sides[instrument]
	if !ok {
		s = newSide()
		b.sides[instrument] = s
	}
	return s
}

func (b *Book) unlink(o *domain.Order) {
	delete(b.open, o.ID)
	if s, ok := b.sides[o.Instrument]; ok {
		s.queueFor(o).Delete(o)
	}
}

// Get returns any order, open or terminal.
func (b *Book) Get(id uint64) (*domain.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Priority returns the open orders of instrument in matching order:
// marketable orders by id, then buy stops, buy limits, sell stops and
// sell limits, each by price priority with ties broken by id.
func (b *Book) Priority(instrument string) []*domain.Order {
	s, ok := b.sides[instrument]
	if !ok {
		return nil
	}
	var out []*domain.Order
	for _, q := range []*Queue{s.market, s.buyStops, s.bids, s.sellStops, s.asks} {
		q.Scan(func(o *domain.Order) bool {
			out = append(out, o)
			return true
		})
	}
	return out
}

// Open returns all open orders sorted by id.
func (b *Book) Open() []*domain.Order {
	out := make([]*domain.Order, 0, len(b.open))
	for _, o := range b.open {
		out = append(out, o)
	}
	slices.SortFunc(out, func(x, y *domain.Order) int {
		if x.ID < y.ID {
			return -1
		}
		if x.ID > y.ID {
			return 1
		}
		return 0
	})
	return out
}

func (b *Book) OpenCount() int {
	return len(b.open)
}

// Orders returns copies of every order sorted by id.
func (b *Book) Orders() []domain.Order {
	out := make([]domain.Order, 0, len(b.orders))
	for id := uint64(1); id < b.nextID; id++ {
		if o, ok := b.orders[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (b *Book) lookup(id uint64) (*domain.Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrUnknownOrder)
	}
	return o, nil
}

// ApplyFill applies f to its order and removes the order from the resting
// queues once it is terminal.
func (b *Book) ApplyFill(f domain.Fill) (*domain.Order, error) {
	o, err := b.lookup(f.OrderID)
	if err != nil {
		return nil, err
	}
	wasMarketable := o.Marketable()
	q := b.sideOf(o.Instrument).queueFor(o)
	if err := o.ApplyFill(f); err != nil {
		return o, err
	}
	if !o.IsOpen() {
		q.Delete(o)
		delete(b.open, o.ID)
		return o, nil
	}
	// A stop that filled became marketable; move it.
	if !wasMarketable && o.Marketable() {
		q.Delete(o)
		b.sideOf(o.Instrument).market.Set(o)
	}
	return o, nil
}

// Trigger converts a resting stop into a marketable order.
func (b *Book) Trigger(id uint64) error {
	o, err := b.lookup(id)
	if err != nil {
		return err
	}
	if o.Kind != domain.OrderKindStop || o.Triggered || !o.IsOpen() {
		return nil
	}
	s := b.sideOf(o.Instrument)
	s.queueFor(o).Delete(o)
	o.Triggered = true
	s.market.Set(o)
	return nil
}

func (b *Book) Cancel(id uint64) (*domain.Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := o.Cancel(); err != nil {
		return o, err
	}
	b.unlink(o)
	return o, nil
}

func (b *Book) Reject(id uint64, reason string) (*domain.Order, error) {
	o, err := b.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := o.Reject(reason); err != nil {
		return o, err
	}
	b.unlink(o)
	return o, nil
}

// RequestCancel flags an order as awaiting the broker's acknowledgement.
func (b *Book) RequestCancel(id uint64) error {
	o, err := b.lookup(id)
	if err != nil {
		return err
	}
	return o.RequestCancel()
}

// Pending sums the open remaining quantity per side for instrument.
func (b *Book) Pending(instrument string) (buy, sell decimal.Decimal) {
	for _, o := range b.open {
		if o.Instrument != instrument {
			continue
		}
		if o.Side == domain.SideBuy {
			buy = buy.Add(o.Remaining())
		} else {
			sell = sell.Add(o.Remaining())
		}
	}
	return buy, sell
}

// ReservedCash estimates the cash committed to open buy orders. Limits and
// stops are valued at their own price, market orders at the mark.
func (b *Book) ReservedCash(mark func(instrument string) decimal.Decimal, commissionRate decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.Open() {
		if o.Side != domain.SideBuy {
			continue
		}
		var price decimal.Decimal
		switch o.Kind {
		case domain.OrderKindLimit:
			price = o.LimitPrice
		case domain.OrderKindStop:
			price = decimal.Max(o.StopPrice, mark(o.Instrument))
		default:
			price = mark(o.Instrument)
		}
		total = total.Add(o.Remaining().Mul(price).Mul(decimal.NewFromInt(1).Add(commissionRate)))
	}
	return total
}
