package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Simulated fills orders against the market events themselves. It never
// rejects: anything the risk gate accepted either fills or keeps resting.
type Simulated struct {
	cfg SimConfig
	log *slog.Logger

	// per-event volume budget shared by every order on the instrument
	budgetKey  eventKey
	budgetLeft decimal.Decimal
}

type eventKey struct {
	instrument string
	time       time.Time
	seq        uint64
}

func NewSimulated(cfg SimConfig) (*Simulated, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &domain.ConfigError{Field: "execution", Err: err}
	}
	return &Simulated{
		cfg: cfg,
		log: slog.Default().With(slog.String("module", "sim")),
	}, nil
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) sealed() {}

func (s *Simulated) OnMarket(_ context.Context, ev domain.MarketEvent, resting []*domain.Order, cash decimal.Decimal) (Result, error) {
	var res Result
	for _, o := range resting {
		if !o.IsOpen() || o.Instrument != ev.Instrument {
			continue
		}
		price, triggered, ok := s.restingPrice(o, ev)
		if triggered {
			res.Triggered = append(res.Triggered, o.ID)
		}
		if !ok {
			continue
		}
		if f, ok := s.execute(o, price, ev, &cash); ok {
			res.Fills = append(res.Fills, f)
		}
	}
	return res, nil
}

func (s *Simulated) Submit(_ context.Context, ev domain.MarketEvent, o *domain.Order, cash decimal.Decimal) (Result, error) {
	var res Result
	if s.cfg.EntryFill == EntryNextEvent || o.Instrument != ev.Instrument {
		return res, nil
	}
	price, triggered, ok := s.entryPrice(o, ev)
	if triggered {
		res.Triggered = append(res.Triggered, o.ID)
	}
	if !ok {
		return res, nil
	}
	if f, ok := s.execute(o, price, ev, &cash); ok {
		res.Fills = append(res.Fills, f)
	}
	return res, nil
}

// Cancel is acknowledged at once.
func (s *Simulated) Cancel(_ context.Context, o *domain.Order) (Result, error) {
	return Result{Cancelled: []uint64{o.ID}}, nil
}

// entryPrice prices an order on the event that created it. Only the close
// is visible to the strategy, so only the close is used.
func (s *Simulated) entryPrice(o *domain.Order, ev domain.MarketEvent) (price decimal.Decimal, triggered, ok bool) {
	px := ev.Close
	buy := o.Side == domain.SideBuy
	switch o.Kind {
	case domain.OrderKindMarket:
		return s.cfg.slip(o.Side, px, ev), false, true
	case domain.OrderKindLimit:
		if (buy && px.LessThanOrEqual(o.LimitPrice)) || (!buy && px.GreaterThanOrEqual(o.LimitPrice)) {
			return px, false, true
		}
	case domain.OrderKindStop:
		if (buy && px.GreaterThanOrEqual(o.StopPrice)) || (!buy && px.LessThanOrEqual(o.StopPrice)) {
			return s.cfg.slip(o.Side, px, ev), true, true
		}
	}
	return decimal.Zero, false, false
}

// restingPrice prices an order that was already open before ev arrived.
func (s *Simulated) restingPrice(o *domain.Order, ev domain.MarketEvent) (price decimal.Decimal, triggered, ok bool) {
	buy := o.Side == domain.SideBuy
	if o.Marketable() {
		return s.cfg.slip(o.Side, ev.Open, ev), false, true
	}
	switch o.Kind {
	case domain.OrderKindLimit:
		l := o.LimitPrice
		if buy && ev.Low.LessThanOrEqual(l) {
			if s.cfg.GapPolicy == GapPolicyOpen && ev.Open.LessThanOrEqual(l) {
				return ev.Open, false, true
			}
			return l, false, true
		}
		if !buy && ev.High.GreaterThanOrEqual(l) {
			if s.cfg.GapPolicy == GapPolicyOpen && ev.Open.GreaterThanOrEqual(l) {
				return ev.Open, false, true
			}
			return l, false, true
		}
	case domain.OrderKindStop:
		st := o.StopPrice
		if buy && ev.High.GreaterThanOrEqual(st) {
			return s.cfg.slip(o.Side, decimal.Max(ev.Open, st), ev), true, true
		}
		if !buy && ev.Low.LessThanOrEqual(st) {
			return s.cfg.slip(o.Side, decimal.Min(ev.Open, st), ev), true, true
		}
	}
	return decimal.Zero, false, false
}

// execute sizes and books a fill. cash is decremented for buys so later
// orders on the same event see what is left.
func (s *Simulated) execute(o *domain.Order, price decimal.Decimal, ev domain.MarketEvent, cash *decimal.Decimal) (domain.Fill, bool) {
	qty := o.Remaining()

	if limit, capped := s.cfg.volumeCap(ev); capped {
		key := eventKey{ev.Instrument, ev.Time, ev.Seq}
		if key != s.budgetKey {
			s.budgetKey = key
			s.budgetLeft = limit
		}
		qty = decimal.Min(qty, s.budgetLeft)
	}
	if o.Side == domain.SideBuy {
		qty = decimal.Min(qty, s.cfg.affordable(*cash, price))
	}
	qty = qty.Truncate(s.cfg.LotPrecision)
	if !qty.IsPositive() {
		s.log.Debug("No fillable quantity",
			slog.Uint64("order_id", o.ID),
			slog.String("instrument", o.Instrument),
			slog.String("price", price.String()))
		return domain.Fill{}, false
	}

	if s.cfg.Liquidity == LiquidityVolume {
		s.budgetLeft = s.budgetLeft.Sub(qty)
	}
	f := domain.Fill{
		ID:         fmt.Sprintf("%d-%d", o.ID, len(o.FillIDs)+1),
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		Commission: s.cfg.commission(qty, price),
		Time:       ev.Time,
		Origin:     domain.FillOriginSimulated,
	}
	*cash = cash.Add(f.CashDelta())
	return f, true
}
