package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the granularity of a market event or an aggregated bar.
// Values are ordered from finest to coarsest.
type Timeframe int

const (
	TimeframeTick Timeframe = iota
	TimeframeM1
	TimeframeM5
	TimeframeM10
	TimeframeM15
	TimeframeM30
	TimeframeH1
	TimeframeH4
	TimeframeD1
)

var timeframeNames = map[Timeframe]string{
	TimeframeTick: "tick",
	TimeframeM1:   "1m",
	TimeframeM5:   "5m",
	TimeframeM10:  "10m",
	TimeframeM15:  "15m",
	TimeframeM30:  "30m",
	TimeframeH1:   "1h",
	TimeframeH4:   "4h",
	TimeframeD1:   "1d",
}

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeM1:  time.Minute,
	TimeframeM5:  5 * time.Minute,
	TimeframeM10: 10 * time.Minute,
	TimeframeM15: 15 * time.Minute,
	TimeframeM30: 30 * time.Minute,
	TimeframeH1:  time.Hour,
	TimeframeH4:  4 * time.Hour,
	TimeframeD1:  24 * time.Hour,
}

// ParseTimeframe accepts the short forms used in config files and CSV data.
func ParseTimeframe(s string) (Timeframe, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tick", "t", "":
		return TimeframeTick, nil
	case "1m", "m1", "1min":
		return TimeframeM1, nil
	case "5m", "m5", "5min":
		return TimeframeM5, nil
	case "10m", "m10", "10min":
		return TimeframeM10, nil
	case "15m", "m15", "15min":
		return TimeframeM15, nil
	case "30m", "m30", "30min":
		return TimeframeM30, nil
	case "1h", "h1", "60m":
		return TimeframeH1, nil
	case "4h", "h4":
		return TimeframeH4, nil
	case "1d", "d", "d1", "day":
		return TimeframeD1, nil
	}
	return TimeframeTick, fmt.Errorf("unknown timeframe %q", s)
}

func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return fmt.Sprintf("Timeframe(%d)", int(tf))
}

// Duration returns zero for ticks.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// BucketStart returns the start of the bucket containing t. Buckets are
// aligned to UTC.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

func (tf *Timeframe) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeframe(string(text))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}

// MarketEvent is one bar or tick for one instrument. Ticks carry O=H=L=C.
// The stream is ordered by (Time, Seq).
type MarketEvent struct {
	Instrument string              `json:"instrument"`
	Time       time.Time           `json:"time"`
	Seq        uint64              `json:"seq"`
	Timeframe  Timeframe           `json:"timeframe"`
	Open       decimal.Decimal     `json:"open"`
	High       decimal.Decimal     `json:"high"`
	Low        decimal.Decimal     `json:"low"`
	Close      decimal.Decimal     `json:"close"`
	Volume     decimal.Decimal     `json:"volume"`
	Bid        decimal.NullDecimal `json:"bid"`
	Ask        decimal.NullDecimal `json:"ask"`
}

// NewTick builds a tick event with all four prices set to price.
func NewTick(instrument string, t time.Time, seq uint64, price, volume decimal.Decimal) MarketEvent {
	return MarketEvent{
		Instrument: instrument,
		Time:       t,
		Seq:        seq,
		Timeframe:  TimeframeTick,
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     volume,
	}
}

// Before reports whether e sorts strictly before o in stream order.
func (e MarketEvent) Before(o MarketEvent) bool {
	if !e.Time.Equal(o.Time) {
		return e.Time.Before(o.Time)
	}
	return e.Seq < o.Seq
}

// Check rejects events whose prices are not a consistent OHLC range.
func (e MarketEvent) Check() error {
	if e.Instrument == "" {
		return &ValidationError{Field: "instrument", Reason: "empty"}
	}
	if e.Time.IsZero() {
		return &ValidationError{Field: "time", Reason: "zero timestamp"}
	}
	if !e.Low.IsPositive() {
		return &ValidationError{Field: "low", Reason: "price must be positive"}
	}
	if e.High.LessThan(e.Low) {
		return &ValidationError{Field: "high", Reason: "high below low"}
	}
	if e.Open.LessThan(e.Low) || e.Open.GreaterThan(e.High) {
		return &ValidationError{Field: "open", Reason: "open outside range"}
	}
	if e.Close.LessThan(e.Low) || e.Close.GreaterThan(e.High) {
		return &ValidationError{Field: "close", Reason: "close outside range"}
	}
	if e.Volume.IsNegative() {
		return &ValidationError{Field: "volume", Reason: "negative volume"}
	}
	return nil
}

// Bar is an OHLCV aggregate. Closed bars never change.
type Bar struct {
	Instrument string          `json:"instrument"`
	Timeframe  Timeframe       `json:"timeframe"`
	Start      time.Time       `json:"start"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	Count      int             `json:"count"`
	Closed     bool            `json:"closed"`
}

// BarFrom starts a bar from a single event.
func BarFrom(tf Timeframe, ev MarketEvent) Bar {
	return Bar{
		Instrument: ev.Instrument,
		Timeframe:  tf,
		Start:      tf.BucketStart(ev.Time),
		Open:       ev.Open,
		High:       ev.High,
		Low:        ev.Low,
		Close:      ev.Close,
		Volume:     ev.Volume,
		Count:      1,
	}
}

// Merge folds a later event into the bar.
func (b *Bar) Merge(ev MarketEvent) {
	if ev.High.GreaterThan(b.High) {
		b.High = ev.High
	}
	if ev.Low.LessThan(b.Low) {
		b.Low = ev.Low
	}
	b.Close = ev.Close
	b.Volume = b.Volume.Add(ev.Volume)
	b.Count++
}
