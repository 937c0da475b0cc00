package portfolio

import (
	"fmt"
	"slices"
	"time"

	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time     time.Time       `json:"time"`
	Equity   decimal.Decimal `json:"equity"`
	Cash     decimal.Decimal `json:"cash"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// Ledger is the single source of truth for cash and positions. Fills are
// applied at most once, keyed by fill id.
type Ledger struct {
	initial    decimal.Decimal
	cash       decimal.Decimal
	positions  map[string]*domain.Position
	marks      map[string]decimal.Decimal
	applied    map[string]struct{}
	fills      []domain.Fill
	curve      []EquityPoint
	peak       decimal.Decimal
	maxDD      decimal.Decimal
	realized   decimal.Decimal
	commission decimal.Decimal
}

func NewLedger(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]decimal.Decimal),
		applied:   make(map[string]struct{}),
		peak:      initialCapital,
	}
}

// Apply books a fill. It returns the realized P&L of the fill, or
// ErrDuplicateFill if the fill id has been applied before.
func (l *Ledger) Apply(f domain.Fill) (decimal.Decimal, error) {
	if _, seen := l.applied[f.ID]; seen {
		return decimal.Zero, domain.ErrDuplicateFill
	}
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("fill %s qty=%s price=%s: %w", f.ID, f.Quantity, f.Price, domain.ErrInvalidQuantity)
	}

	pos, ok := l.positions[f.Instrument]
	if !ok {
		pos = &domain.Position{Instrument: f.Instrument}
		l.positions[f.Instrument] = pos
	}
	realized := pos.Apply(f)
	pos.VerifyInvariant()

	l.cash = l.cash.Add(f.CashDelta())
	l.realized = l.realized.Add(realized)
	l.commission = l.commission.Add(f.Commission)
	l.applied[f.ID] = struct{}{}
	l.fills = append(l.fills, f)
	if _, marked := l.marks[f.Instrument]; !marked {
		l.marks[f.Instrument] = f.Price
	}
	return realized, nil
}

// Mark records the latest price of instrument for valuation.
func (l *Ledger) Mark(instrument string, price decimal.Decimal) {
	l.marks[instrument] = price
}

// MarkOf returns the last mark, zero if none.
func (l *Ledger) MarkOf(instrument string) decimal.Decimal {
	return l.marks[instrument]
}

// Equity is cash plus the marked value of every position.
func (l *Ledger) Equity() decimal.Decimal {
	eq := l.cash
	for _, name := range l.instruments() {
		pos := l.positions[name]
		eq = eq.Add(pos.MarketValue(l.marks[name]))
	}
	return eq
}

// Record appends an equity sample at t and updates peak and drawdown.
func (l *Ledger) Record(t time.Time) EquityPoint {
	eq := l.Equity()
	if eq.GreaterThan(l.peak) {
		l.peak = eq
	}
	dd := l.drawdownFrom(eq)
	if dd.GreaterThan(l.maxDD) {
		l.maxDD = dd
	}
	p := EquityPoint{Time: t, Equity: eq, Cash: l.cash, Drawdown: dd}
	l.curve = append(l.curve, p)
	return p
}

func (l *Ledger) drawdownFrom(eq decimal.Decimal) decimal.Decimal {
	if !l.peak.IsPositive() || eq.GreaterThanOrEqual(l.peak) {
		return decimal.Zero
	}
	return l.peak.Sub(eq).Div(l.peak)
}

func (l *Ledger) instruments() []string {
	out := make([]string, 0, len(l.positions))
	for name := range l.positions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (l *Ledger) InitialCapital() decimal.Decimal { return l.initial }
func (l *Ledger) Cash() decimal.Decimal           { return l.cash }
func (l *Ledger) Realized() decimal.Decimal       { return l.realized }
func (l *Ledger) Commission() decimal.Decimal     { return l.commission }
func (l *Ledger) Peak() decimal.Decimal           { return l.peak }
func (l *Ledger) MaxDrawdown() decimal.Decimal    { return l.maxDD }

// Drawdown is the current fractional decline from the peak.
func (l *Ledger) Drawdown() decimal.Decimal {
	return l.drawdownFrom(l.Equity())
}

// Position returns a copy; flat instruments give a zero position.
func (l *Ledger) Position(instrument string) domain.Position {
	if pos, ok := l.positions[instrument]; ok {
		return *pos
	}
	return domain.Position{Instrument: instrument}
}

// Positions returns copies of every position ever opened, by instrument.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, name := range l.instruments() {
		out = append(out, *l.positions[name])
	}
	return out
}

// Quantities maps instrument to signed quantity for non-flat positions.
func (l *Ledger) Quantities() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for name, pos := range l.positions {
		if !pos.IsFlat() {
			out[name] = pos.Quantity
		}
	}
	return out
}

func (l *Ledger) Unrealized() decimal.Decimal {
	total := decimal.Zero
	for _, name := range l.instruments() {
		total = total.Add(l.positions[name].Unrealized(l.marks[name]))
	}
	return total
}

func (l *Ledger) Fills() []domain.Fill {
	return slices.Clone(l.fills)
}

func (l *Ledger) Curve() []EquityPoint {
	return slices.Clone(l.curve)
}

func (l *Ledger) Applied(fillID string) bool {
	_, ok := l.applied[fillID]
	return ok
}
