package portfolio

import (
	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// View exposes the ledger to strategies without any way to mutate it.
type View struct {
	l *Ledger
}

func NewView(l *Ledger) View {
	return View{l: l}
}

func (v View) Cash() decimal.Decimal     { return v.l.Cash() }
func (v View) Equity() decimal.Decimal   { return v.l.Equity() }
func (v View) Realized() decimal.Decimal { return v.l.Realized() }
func (v View) Drawdown() decimal.Decimal { return v.l.Drawdown() }

func (v View) Position(instrument string) domain.Position {
	return v.l.Position(instrument)
}

// Quantity is the signed position size, zero when flat.
func (v View) Quantity(instrument string) decimal.Decimal {
	return v.l.Position(instrument).Quantity
}

func (v View) Positions() []domain.Position {
	return v.l.Positions()
}
