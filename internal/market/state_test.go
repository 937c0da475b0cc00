package market

import (
	"errors"
	"testing"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var start = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

func minuteBar(i int, o, h, l, c int64) domain.MarketEvent {
	return domain.MarketEvent{
		Instrument: "ABC",
		Time:       start.Add(time.Duration(i) * time.Minute),
		Seq:        uint64(i + 1),
		Timeframe:  domain.TimeframeM1,
		Open:       decimal.NewFromInt(o),
		High:       decimal.NewFromInt(h),
		Low:        decimal.NewFromInt(l),
		Close:      decimal.NewFromInt(c),
		Volume:     decimal.NewFromInt(10),
	}
}

func TestAggregator_ClosesOnBoundaryCrossing(t *testing.T) {
	agg := NewAggregator(domain.TimeframeM5)

	for i := 0; i < 5; i++ {
		_, closed := agg.Push(minuteBar(i, 100+int64(i), 110+int64(i), 95, 101+int64(i)))
		assert.Falsef(t, closed, "minute %d should not close the 5m bar", i)
	}

	forming, ok := agg.Forming()
	require.True(t, ok)
	assert.Equal(t, 5, forming.Count)
	assert.False(t, forming.Closed)

	// 09:05 crosses into the next bucket and closes 09:00-09:05.
	bar, closed := agg.Push(minuteBar(5, 200, 210, 190, 205))
	require.True(t, closed)
	assert.True(t, bar.Closed)
	assert.Equal(t, start, bar.Start)
	assert.True(t, bar.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, bar.High.Equal(decimal.NewFromInt(114)))
	assert.True(t, bar.Low.Equal(decimal.NewFromInt(95)))
	assert.True(t, bar.Close.Equal(decimal.NewFromInt(105)))
	assert.True(t, bar.Volume.Equal(decimal.NewFromInt(50)))

	forming, _ = agg.Forming()
	assert.Equal(t, 1, forming.Count)
	assert.True(t, forming.Open.Equal(decimal.NewFromInt(200)))
}

func TestAggregator_NativeTimeframeClosesOnArrival(t *testing.T) {
	agg := NewAggregator(domain.TimeframeM1)
	bar, closed := agg.Push(minuteBar(0, 1, 2, 1, 2))
	assert.True(t, closed)
	assert.True(t, bar.Closed)

	_, ok := agg.Forming()
	assert.False(t, ok)
}

func TestAggregator_IgnoresCoarserEvents(t *testing.T) {
	agg := NewAggregator(domain.TimeframeM1)
	ev := minuteBar(0, 1, 2, 1, 2)
	ev.Timeframe = domain.TimeframeH1
	_, closed := agg.Push(ev)
	assert.False(t, closed)
}

func TestState_RejectsOutOfOrderAndDuplicates(t *testing.T) {
	st := NewState("ABC", []domain.Timeframe{domain.TimeframeM5})
	_, err := st.Apply(minuteBar(3, 1, 2, 1, 2))
	require.NoError(t, err)

	_, err = st.Apply(minuteBar(2, 1, 2, 1, 2))
	var gap *domain.DataGapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, "out of order", gap.Reason)

	_, err = st.Apply(minuteBar(3, 1, 2, 1, 2))
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, "duplicate event", gap.Reason)

	assert.Equal(t, uint64(1), st.Events(), "refused events leave the state untouched")
}

func TestView_IsForwardOnly(t *testing.T) {
	st := NewState("ABC", []domain.Timeframe{domain.TimeframeM5})
	for i := 0; i < 6; i++ {
		_, err := st.Apply(minuteBar(i, 10, 12, 9, 11))
		require.NoError(t, err)
	}
	early := st.View(domain.TimeframeM5)
	require.Equal(t, 1, early.Len())

	for i := 6; i < 11; i++ {
		_, err := st.Apply(minuteBar(i, 20, 22, 19, 21))
		require.NoError(t, err)
	}
	late := st.View(domain.TimeframeM5)

	assert.Equal(t, 1, early.Len(), "an old view never grows")
	assert.Equal(t, 2, late.Len())
	assert.Equal(t, early.At(0), late.At(0), "closed bars never change")

	last, ok := late.Last()
	require.True(t, ok)
	assert.True(t, last.Close.Equal(decimal.NewFromInt(21)))
	assert.Equal(t, []float64{11, 21}, late.Closes(5))
}

func TestUniverse_TracksInstrumentsSeparately(t *testing.T) {
	u := NewUniverse([]domain.Timeframe{domain.TimeframeM1})
	a := minuteBar(0, 1, 2, 1, 2)
	b := minuteBar(0, 5, 6, 5, 6)
	b.Instrument = "XYZ"
	b.Seq = 99

	_, err := u.Apply(a)
	require.NoError(t, err)
	_, err = u.Apply(b)
	require.NoError(t, err)

	assert.Equal(t, []string{"ABC", "XYZ"}, u.Instruments())
	last, ok := u.Last("XYZ")
	require.True(t, ok)
	assert.True(t, last.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, 0, u.View("NOPE", domain.TimeframeM1).Len())
}

func TestReader_FollowsUniverse(t *testing.T) {
	u := NewUniverse([]domain.Timeframe{domain.TimeframeM1})
	r := NewReader(u)
	assert.Empty(t, r.Instruments())

	_, err := u.Apply(minuteBar(0, 1, 2, 1, 2))
	require.NoError(t, err)

	assert.Equal(t, []string{"ABC"}, r.Instruments())
	last, ok := r.Last("ABC")
	require.True(t, ok)
	assert.True(t, last.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 1, r.View("ABC", domain.TimeframeM1).Len())

	var zero Reader
	assert.Nil(t, zero.Instruments())
	_, ok = zero.Last("ABC")
	assert.False(t, ok)
	assert.Equal(t, 0, zero.View("ABC", domain.TimeframeM1).Len())
}

// Feeding events[0..i] then events[i+1..n] into one state must be
// indistinguishable from feeding events[0..n] into a fresh one.
func TestState_SplitFeedEquivalence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 120).Draw(t, "n")
		split := rapid.IntRange(0, n).Draw(t, "split")

		events := make([]domain.MarketEvent, n)
		minute := 0
		for i := range events {
			minute += rapid.IntRange(0, 7).Draw(t, "step")
			low := rapid.Int64Range(1, 1000).Draw(t, "low")
			spread := rapid.Int64Range(0, 50).Draw(t, "spread")
			ev := minuteBar(minute, low, low+spread, low, low+spread/2)
			ev.Seq = uint64(i + 1)
			events[i] = ev
		}

		tfs := []domain.Timeframe{domain.TimeframeM1, domain.TimeframeM5, domain.TimeframeM15, domain.TimeframeH1}
		whole := NewState("ABC", tfs)
		for _, ev := range events {
			if _, err := whole.Apply(ev); err != nil {
				t.Fatalf("whole: %v", err)
			}
		}

		parts := NewState("ABC", tfs)
		for _, ev := range events[:split] {
			if _, err := parts.Apply(ev); err != nil {
				t.Fatalf("first part: %v", err)
			}
		}
		resumed := parts.Snapshot()
		for _, ev := range events[split:] {
			if _, err := parts.Apply(ev); err != nil {
				t.Fatalf("second part: %v", err)
			}
		}

		if !assert.ObjectsAreEqual(whole.Snapshot(), parts.Snapshot()) {
			t.Fatalf("split at %d diverged", split)
		}
		// Bars closed before the split are a prefix of the final bars.
		for tf, bars := range resumed.Closed {
			final := parts.Snapshot().Closed[tf]
			if len(final) < len(bars) || !assert.ObjectsAreEqual(bars, final[:len(bars)]) {
				t.Fatalf("closed %s bars changed after split", tf)
			}
		}
	})
}
