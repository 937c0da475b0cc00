package market

import (
	"trade_engine/internal/domain"
)

// Aggregator builds bars of one timeframe from finer events.
// A bar closes only when an event from a later bucket arrives.
type Aggregator struct {
	tf      domain.Timeframe
	forming *domain.Bar
}

func NewAggregator(tf domain.Timeframe) *Aggregator {
	return &Aggregator{tf: tf}
}

func (a *Aggregator) Timeframe() domain.Timeframe {
	return a.tf
}

// Push folds ev into the forming bar. When ev starts a new bucket the
// previous bar is returned closed.
//
// Events already at this timeframe are closed bars on arrival. Events
// coarser than the aggregator cannot be split and are ignored.
func (a *Aggregator) Push(ev domain.MarketEvent) (domain.Bar, bool) {
	if ev.Timeframe > a.tf {
		return domain.Bar{}, false
	}
	if ev.Timeframe == a.tf {
		bar := domain.BarFrom(a.tf, ev)
		bar.Closed = true
		a.forming = nil
		return bar, true
	}

	bucket := a.tf.BucketStart(ev.Time)
	if a.forming == nil {
		bar := domain.BarFrom(a.tf, ev)
		a.forming = &bar
		return domain.Bar{}, false
	}
	if !bucket.Equal(a.forming.Start) {
		closed := *a.forming
		closed.Closed = true
		next := domain.BarFrom(a.tf, ev)
		a.forming = &next
		return closed, true
	}
	a.forming.Merge(ev)
	return domain.Bar{}, false
}

// Forming returns a copy of the bar under construction.
func (a *Aggregator) Forming() (domain.Bar, bool) {
	if a.forming == nil {
		return domain.Bar{}, false
	}
	return *a.forming, true
}
