package event

import (
	"sync"
	"time"

	"trade_engine/internal/domain"
)

// Live sessions push every tick and broker notice through the queue, so the
// envelopes are pooled.
//
// Usage:
//
//	ev := AcquireMarketUpdateEvent()
//	ev.Ts = md.Time
//	ev.Data = md
//	// ... queue, process ...
//	ReleaseMarketUpdateEvent(ev) // after processing
var marketUpdatePool = sync.Pool{
	New: func() interface{} {
		return &MarketUpdateEvent{}
	},
}

// AcquireMarketUpdateEvent gets a zeroed MarketUpdateEvent from the pool.
func AcquireMarketUpdateEvent() *MarketUpdateEvent {
	return marketUpdatePool.Get().(*MarketUpdateEvent)
}

// ReleaseMarketUpdateEvent resets ev and returns it to the pool.
func ReleaseMarketUpdateEvent(ev *MarketUpdateEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.Data = domain.MarketEvent{}

	marketUpdatePool.Put(ev)
}

var orderUpdatePool = sync.Pool{
	New: func() interface{} {
		return &OrderUpdateEvent{}
	},
}

func AcquireOrderUpdateEvent() *OrderUpdateEvent {
	return orderUpdatePool.Get().(*OrderUpdateEvent)
}

func ReleaseOrderUpdateEvent(ev *OrderUpdateEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.Notice = domain.BrokerNotice{}

	orderUpdatePool.Put(ev)
}

// Release returns any pooled event to its pool. Other events are dropped.
func Release(ev Event) {
	switch e := ev.(type) {
	case *MarketUpdateEvent:
		ReleaseMarketUpdateEvent(e)
	case *OrderUpdateEvent:
		ReleaseOrderUpdateEvent(e)
	}
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	marketEvs := make([]*MarketUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		marketEvs = append(marketEvs, AcquireMarketUpdateEvent())
	}
	for _, ev := range marketEvs {
		ReleaseMarketUpdateEvent(ev)
	}

	orderEvs := make([]*OrderUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		orderEvs = append(orderEvs, AcquireOrderUpdateEvent())
	}
	for _, ev := range orderEvs {
		ReleaseOrderUpdateEvent(ev)
	}
}
