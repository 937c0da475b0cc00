package market

import (
	"slices"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// Universe holds the State of every instrument seen so far. An instrument
// becomes known with its first event.
type Universe struct {
	timeframes []domain.Timeframe
	states     map[string]*State
}

func NewUniverse(timeframes []domain.Timeframe) *Universe {
	return &Universe{
		timeframes: slices.Clone(timeframes),
		states:     make(map[string]*State),
	}
}

// Apply routes ev to its instrument's State.
func (u *Universe) Apply(ev domain.MarketEvent) ([]domain.Bar, error) {
	st, ok := u.states[ev.Instrument]
	if !ok {
		st = NewState(ev.Instrument, u.timeframes)
		u.states[ev.Instrument] = st
	}
	return st.Apply(ev)
}

func (u *Universe) State(instrument string) (*State, bool) {
	st, ok := u.states[instrument]
	return st, ok
}

// Instruments returns the known instruments sorted by name.
func (u *Universe) Instruments() []string {
	out := make([]string, 0, len(u.states))
	for name := range u.states {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Last returns the last price of instrument, if known.
func (u *Universe) Last(instrument string) (decimal.Decimal, bool) {
	st, ok := u.states[instrument]
	if !ok {
		return decimal.Zero, false
	}
	return st.Last(), true
}

// View is shorthand for State(instrument).View(tf); unknown instruments
// give an empty view.
func (u *Universe) View(instrument string, tf domain.Timeframe) View {
	st, ok := u.states[instrument]
	if !ok {
		return View{}
	}
	return st.View(tf)
}

// Snapshots returns a snapshot per instrument, sorted by instrument.
func (u *Universe) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(u.states))
	for _, name := range u.Instruments() {
		out = append(out, u.states[name].Snapshot())
	}
	return out
}
