package strategy

import (
	"fmt"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// SMACrossStrategy goes long on a golden cross and flattens on a dead
// cross. It is stateful and deterministic.
// Prices live in a ring buffer so the hot path does not allocate.
type SMACrossStrategy struct {
	instrument  string
	timeframe   domain.Timeframe
	shortPeriod int
	longPeriod  int
	qty         decimal.Decimal

	// State (Ring Buffer)
	prices []decimal.Decimal
	head   int // next write position
	count  int
	sum    decimal.Decimal // running sum over the long period

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	primed    bool

	rejections int
}

// NewSMACrossStrategy watches closes of timeframe bars. TimeframeTick uses
// every event's close.
func NewSMACrossStrategy(instrument string, timeframe domain.Timeframe, shortPeriod, longPeriod int, qty decimal.Decimal) (*SMACrossStrategy, error) {
	if shortPeriod < 1 || shortPeriod >= longPeriod {
		return nil, fmt.Errorf("sma cross: need 0 < short < long, got %d/%d", shortPeriod, longPeriod)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("sma cross: quantity must be positive, got %s", qty)
	}
	return &SMACrossStrategy{
		instrument:  instrument,
		timeframe:   timeframe,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		qty:         qty,
		prices:      make([]decimal.Decimal, longPeriod),
	}, nil
}

func (s *SMACrossStrategy) OnEvent(ctx Context) []domain.Intent {
	if ctx.Event.Instrument != s.instrument {
		return nil
	}
	price, ok := s.sample(ctx)
	if !ok {
		return nil
	}

	if s.count == s.longPeriod {
		s.sum = s.sum.Sub(s.prices[s.head]) // head is the oldest when full
	}
	s.prices[s.head] = price
	s.sum = s.sum.Add(price)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}
	if s.count < s.longPeriod {
		return nil
	}

	currLong := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShort := s.shortSMA()
	defer func() {
		s.prevShort, s.prevLong, s.primed = currShort, currLong, true
	}()
	if !s.primed {
		return nil
	}

	position := ctx.Portfolio.Quantity(s.instrument)
	working := len(ctx.OpenFor(s.instrument)) > 0

	// Golden Cross: Short goes above Long
	if s.prevShort.LessThanOrEqual(s.prevLong) && currShort.GreaterThan(currLong) && !position.IsPositive() && !working {
		return []domain.Intent{
			domain.MarketOrder(s.instrument, domain.SideBuy, s.qty.Add(position.Neg())).WithTag("sma-golden"),
		}
	}
	// Dead Cross: Short goes below Long
	if s.prevShort.GreaterThanOrEqual(s.prevLong) && currShort.LessThan(currLong) && position.IsPositive() && !working {
		return []domain.Intent{
			domain.MarketOrder(s.instrument, domain.SideSell, position).WithTag("sma-dead"),
		}
	}
	return nil
}

func (s *SMACrossStrategy) OnRejected(r domain.Rejection) {
	s.rejections++
}

// Rejections counts the intents of this strategy that were turned down.
func (s *SMACrossStrategy) Rejections() int {
	return s.rejections
}

func (s *SMACrossStrategy) sample(ctx Context) (decimal.Decimal, bool) {
	if s.timeframe == domain.TimeframeTick {
		return ctx.Event.Close, true
	}
	b, ok := ctx.ClosedBar(s.timeframe)
	if !ok {
		return decimal.Zero, false
	}
	return b.Close, true
}

// shortSMA walks backwards from the latest price.
func (s *SMACrossStrategy) shortSMA() decimal.Decimal {
	sum := decimal.Zero
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}
