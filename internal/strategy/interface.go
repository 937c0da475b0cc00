package strategy

import (
	"trade_engine/internal/domain"
	"trade_engine/internal/market"
	"trade_engine/internal/portfolio"
)

// Context is everything a strategy may see while handling one event.
// Nothing in it reflects events after Event.
type Context struct {
	Event     domain.MarketEvent
	Closed    []domain.Bar // bars closed by Event, finest timeframe first
	Market    market.Reader
	Portfolio portfolio.View
	Open      []domain.Order // copies of the open orders
}

// OpenFor returns the open orders of instrument.
func (c Context) OpenFor(instrument string) []domain.Order {
	var out []domain.Order
	for _, o := range c.Open {
		if o.Instrument == instrument {
			out = append(out, o)
		}
	}
	return out
}

// ClosedBar returns the bar of tf closed by the current event, if any.
func (c Context) ClosedBar(tf domain.Timeframe) (domain.Bar, bool) {
	for _, b := range c.Closed {
		if b.Timeframe == tf {
			return b, true
		}
	}
	return domain.Bar{}, false
}

// Strategy is the interface that all trading strategies must implement.
// It is called synchronously by the event loop and must not block.
type Strategy interface {
	// OnEvent is called once per market event and returns the intents to
	// act on. Intents are processed in order.
	OnEvent(ctx Context) []domain.Intent
}

// FillHandler is implemented by strategies that want their fills.
type FillHandler interface {
	OnFill(f domain.Fill)
}

// RejectionHandler is implemented by strategies that want to know about
// rejected intents and broker rejects.
type RejectionHandler interface {
	OnRejected(r domain.Rejection)
}

// Func adapts a plain function to Strategy.
type Func func(ctx Context) []domain.Intent

func (f Func) OnEvent(ctx Context) []domain.Intent {
	return f(ctx)
}
