package feed

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"trade_engine/internal/domain"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// csvBar is one row of a bar file. Instrument, seq, bid and ask columns are
// optional.
type csvBar struct {
	Instrument string `csv:"instrument"`
	Time       string `csv:"time"`
	Seq        string `csv:"seq"`
	Open       string `csv:"open"`
	High       string `csv:"high"`
	Low        string `csv:"low"`
	Close      string `csv:"close"`
	Volume     string `csv:"volume"`
	Bid        string `csv:"bid"`
	Ask        string `csv:"ask"`
}

// CSVOptions fill in what a file does not carry itself.
type CSVOptions struct {
	Instrument string // used when the file has no instrument column
	Timeframe  domain.Timeframe
	Location   *time.Location // for timestamps without zone, default UTC
}

// ReadCSV parses bars from r in file order. Rows are not sorted: ordering
// problems are left for the event loop to detect.
func ReadCSV(r io.Reader, opts CSVOptions) ([]domain.MarketEvent, error) {
	var rows []*csvBar
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	out := make([]domain.MarketEvent, 0, len(rows))
	for i, row := range rows {
		ev, err := row.toEvent(i+1, opts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// OpenCSV loads a bar file into a SliceSource.
func OpenCSV(path string, opts CSVOptions) (*SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSliceSource(events), nil
}

func (b *csvBar) toEvent(row int, opts CSVOptions) (domain.MarketEvent, error) {
	ev := domain.MarketEvent{
		Instrument: strings.TrimSpace(b.Instrument),
		Timeframe:  opts.Timeframe,
		Seq:        uint64(row),
	}
	if ev.Instrument == "" {
		ev.Instrument = opts.Instrument
	}
	if ev.Instrument == "" {
		return ev, &domain.ValidationError{Field: "instrument", Reason: "missing"}
	}

	t, err := parseTime(b.Time, opts.Location)
	if err != nil {
		return ev, &domain.ValidationError{Field: "time", Reason: err.Error()}
	}
	ev.Time = t

	if s := strings.TrimSpace(b.Seq); s != "" {
		seq, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return ev, &domain.ValidationError{Field: "seq", Reason: err.Error()}
		}
		ev.Seq = seq
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", b.Open, &ev.Open},
		{"high", b.High, &ev.High},
		{"low", b.Low, &ev.Low},
		{"close", b.Close, &ev.Close},
		{"volume", b.Volume, &ev.Volume},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" && f.name != "close" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return ev, &domain.ValidationError{Field: f.name, Reason: "not a number", Err: err}
		}
		*f.dst = v
	}
	// tick files may carry only a close
	if strings.TrimSpace(b.Open) == "" {
		ev.Open, ev.High, ev.Low = ev.Close, ev.Close, ev.Close
	}

	for _, q := range []struct {
		raw string
		dst *decimal.NullDecimal
	}{{b.Bid, &ev.Bid}, {b.Ask, &ev.Ask}} {
		if raw := strings.TrimSpace(q.raw); raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return ev, &domain.ValidationError{Field: "quote", Reason: "not a number", Err: err}
			}
			*q.dst = decimal.NewNullDecimal(v)
		}
	}
	return ev, ev.Check()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC 3339, common date-time layouts and unix seconds or
// milliseconds.
func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
