package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	for in, want := range map[string]Timeframe{
		"1m": TimeframeM1, "M5": TimeframeM5, "1h": TimeframeH1, "4h": TimeframeH4, "D": TimeframeD1, "tick": TimeframeTick,
	} {
		got, err := ParseTimeframe(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestTimeframe_BucketStart(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 47, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 13, 45, 0, 0, time.UTC), TimeframeM15.BucketStart(ts))
	assert.Equal(t, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), TimeframeH4.BucketStart(ts))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), TimeframeD1.BucketStart(ts))
	assert.Equal(t, ts, TimeframeTick.BucketStart(ts))
}

func TestTimeframe_TextRoundTrip(t *testing.T) {
	var tf Timeframe
	require.NoError(t, tf.UnmarshalText([]byte("30m")))
	b, err := tf.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "30m", string(b))
}

func TestMarketEvent_Check(t *testing.T) {
	ev := MarketEvent{
		Instrument: "ABC", Time: t0, Timeframe: TimeframeM1,
		Open: d("10"), High: d("12"), Low: d("9"), Close: d("11"), Volume: d("100"),
	}
	assert.NoError(t, ev.Check())

	bad := ev
	bad.Close = d("13")
	assert.Error(t, bad.Check())

	bad = ev
	bad.High = d("8")
	assert.Error(t, bad.Check())
}

func TestMarketEvent_Before(t *testing.T) {
	a := NewTick("ABC", t0, 1, d("1"), d("1"))
	b := NewTick("XYZ", t0, 2, d("1"), d("1"))
	c := NewTick("ABC", t0.Add(time.Second), 1, d("1"), d("1"))

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
}

func TestBar_Merge(t *testing.T) {
	first := MarketEvent{Instrument: "ABC", Time: t0, Open: d("10"), High: d("11"), Low: d("9"), Close: d("10.5"), Volume: d("5")}
	bar := BarFrom(TimeframeM5, first)
	bar.Merge(MarketEvent{Instrument: "ABC", Time: t0.Add(time.Minute), Open: d("10.5"), High: d("13"), Low: d("10"), Close: d("12"), Volume: d("7")})

	assert.True(t, bar.Open.Equal(d("10")))
	assert.True(t, bar.High.Equal(d("13")))
	assert.True(t, bar.Low.Equal(d("9")))
	assert.True(t, bar.Close.Equal(d("12")))
	assert.True(t, bar.Volume.Equal(d("12")))
	assert.Equal(t, 2, bar.Count)
}
