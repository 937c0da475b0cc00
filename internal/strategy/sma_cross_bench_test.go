package strategy_test

import (
	"testing"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/portfolio"
	"trade_engine/internal/strategy"

	"github.com/shopspring/decimal"
)

// BenchmarkSMACrossStrategy_OnEvent measures the steady-state cost of one
// tick through the ring buffer.
func BenchmarkSMACrossStrategy_OnEvent(b *testing.B) {
	strat, err := strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 20, 50, decimal.NewFromInt(1))
	if err != nil {
		b.Fatal(err)
	}
	ctx := strategy.Context{Portfolio: portfolio.NewView(portfolio.NewLedger(decimal.NewFromInt(1000)))}

	// Pre-fill buffer to reach steady state
	for i := 0; i < 50; i++ {
		ctx.Event = domain.NewTick("BTC", time.Unix(int64(i), 0), uint64(i), decimal.NewFromInt(50000+int64(i)), decimal.NewFromInt(1))
		strat.OnEvent(ctx)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ctx.Event.Close = decimal.NewFromInt(50000 + int64(i%10000))
		strat.OnEvent(ctx)
	}
}

// BenchmarkSMACrossStrategy_ColdStart measures strategy initialization overhead.
func BenchmarkSMACrossStrategy_ColdStart(b *testing.B) {
	b.ReportAllocs()
	ev := domain.NewTick("BTC", time.Unix(0, 0), 1, decimal.NewFromInt(50000), decimal.NewFromInt(1))

	for i := 0; i < b.N; i++ {
		strat, _ := strategy.NewSMACrossStrategy("BTC", domain.TimeframeTick, 20, 50, decimal.NewFromInt(1))
		strat.OnEvent(strategy.Context{Event: ev})
	}
}
