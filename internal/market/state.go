package market

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// State is everything known about one instrument as of the last event
// applied. It is a pure function of the events applied so far.
type State struct {
	instrument string
	last       decimal.Decimal
	bid        decimal.NullDecimal
	ask        decimal.NullDecimal
	lastTime   time.Time
	lastSeq    uint64
	events     uint64

	timeframes []domain.Timeframe
	aggs       map[domain.Timeframe]*Aggregator
	closed     map[domain.Timeframe][]domain.Bar
}

// NewState tracks the given timeframes for one instrument.
func NewState(instrument string, timeframes []domain.Timeframe) *State {
	tfs := slices.Clone(timeframes)
	slices.Sort(tfs)
	tfs = slices.Compact(tfs)

	s := &State{
		instrument: instrument,
		timeframes: tfs,
		aggs:       make(map[domain.Timeframe]*Aggregator, len(tfs)),
		closed:     make(map[domain.Timeframe][]domain.Bar, len(tfs)),
	}
	for _, tf := range tfs {
		s.aggs[tf] = NewAggregator(tf)
	}
	return s
}

// Apply folds one event into the state and returns the bars it closed,
// finest timeframe first. Events for another instrument, or events at or
// before the last applied one, are refused with a DataGapError.
func (s *State) Apply(ev domain.MarketEvent) ([]domain.Bar, error) {
	if ev.Instrument != s.instrument {
		return nil, &domain.DataGapError{
			Instrument: s.instrument,
			Reason:     "foreign instrument",
			Expected:   s.instrument,
			Got:        ev.Instrument,
		}
	}
	if s.events > 0 {
		if ev.Time.Before(s.lastTime) {
			return nil, &domain.DataGapError{
				Instrument: s.instrument,
				Reason:     "out of order",
				Expected:   ">= " + s.lastTime.Format(time.RFC3339Nano),
				Got:        ev.Time.Format(time.RFC3339Nano),
			}
		}
		if ev.Time.Equal(s.lastTime) && ev.Seq <= s.lastSeq {
			return nil, &domain.DataGapError{
				Instrument: s.instrument,
				Reason:     "duplicate event",
				Expected:   "seq > " + strconv.FormatUint(s.lastSeq, 10),
				Got:        strconv.FormatUint(ev.Seq, 10),
			}
		}
	}

	s.last = ev.Close
	if ev.Bid.Valid {
		s.bid = ev.Bid
	}
	if ev.Ask.Valid {
		s.ask = ev.Ask
	}
	s.lastTime = ev.Time
	s.lastSeq = ev.Seq
	s.events++

	var closed []domain.Bar
	for _, tf := range s.timeframes {
		if bar, ok := s.aggs[tf].Push(ev); ok {
			s.closed[tf] = append(s.closed[tf], bar)
			closed = append(closed, bar)
		}
	}
	return closed, nil
}

func (s *State) Instrument() string {
	return s.instrument
}

// Last is the close of the most recent event.
func (s *State) Last() decimal.Decimal {
	return s.last
}

func (s *State) Bid() decimal.NullDecimal {
	return s.bid
}

func (s *State) Ask() decimal.NullDecimal {
	return s.ask
}

func (s *State) LastTime() time.Time {
	return s.lastTime
}

func (s *State) Events() uint64 {
	return s.events
}

func (s *State) Timeframes() []domain.Timeframe {
	return slices.Clone(s.timeframes)
}

// View returns the closed bars of tf as of now. Unknown timeframes give an
// empty view.
func (s *State) View(tf domain.Timeframe) View {
	bars := s.closed[tf]
	v := View{bars: bars[:len(bars):len(bars)]}
	if agg, ok := s.aggs[tf]; ok {
		if f, ok := agg.Forming(); ok {
			v.forming = &f
		}
	}
	return v
}

// Snapshot is a comparable, serializable copy of the state.
type Snapshot struct {
	Instrument string                            `json:"instrument"`
	Last       decimal.Decimal                   `json:"last"`
	Bid        decimal.NullDecimal               `json:"bid"`
	Ask        decimal.NullDecimal               `json:"ask"`
	LastTime   time.Time                         `json:"last_time"`
	LastSeq    uint64                            `json:"last_seq"`
	Events     uint64                            `json:"events"`
	Closed     map[domain.Timeframe][]domain.Bar `json:"closed"`
	Forming    map[domain.Timeframe]domain.Bar   `json:"forming"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Instrument: s.instrument,
		Last:       s.last,
		Bid:        s.bid,
		Ask:        s.ask,
		LastTime:   s.lastTime,
		LastSeq:    s.lastSeq,
		Events:     s.events,
		Closed:     make(map[domain.Timeframe][]domain.Bar, len(s.timeframes)),
		Forming:    make(map[domain.Timeframe]domain.Bar),
	}
	for _, tf := range s.timeframes {
		snap.Closed[tf] = slices.Clone(s.closed[tf])
		if f, ok := s.aggs[tf].Forming(); ok {
			snap.Forming[tf] = f
		}
	}
	return snap
}

func (s *State) String() string {
	return fmt.Sprintf("%s last=%s events=%d", s.instrument, s.last, s.events)
}
