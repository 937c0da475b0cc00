package market

import (
	"trade_engine/internal/domain"

	"github.com/shopspring/decimal"
)

// View is a read-only, forward-only window over closed bars as of one
// event. Bars in a View never change, and a View taken later only adds
// bars at the end.
type View struct {
	bars    []domain.Bar
	forming *domain.Bar
}

func (v View) Len() int {
	return len(v.bars)
}

// At returns the i-th closed bar, oldest first. It panics when i is out of
// range, like slice indexing.
func (v View) At(i int) domain.Bar {
	return v.bars[i]
}

// Last returns the most recent closed bar.
func (v View) Last() (domain.Bar, bool) {
	if len(v.bars) == 0 {
		return domain.Bar{}, false
	}
	return v.bars[len(v.bars)-1], true
}

// Back returns the bar n positions before the last one (Back(0) == Last).
func (v View) Back(n int) (domain.Bar, bool) {
	i := len(v.bars) - 1 - n
	if n < 0 || i < 0 {
		return domain.Bar{}, false
	}
	return v.bars[i], true
}

// Forming returns the bar under construction, if any.
func (v View) Forming() (domain.Bar, bool) {
	if v.forming == nil {
		return domain.Bar{}, false
	}
	return *v.forming, true
}

// Closes copies the close prices of the last n bars, oldest first.
func (v View) Closes(n int) []float64 {
	if n > len(v.bars) || n <= 0 {
		n = len(v.bars)
	}
	out := make([]float64, 0, n)
	for _, b := range v.bars[len(v.bars)-n:] {
		out = append(out, b.Close.InexactFloat64())
	}
	return out
}

// Reader is the read-only face of a Universe handed to strategies. It has
// no way back to the Universe itself. The zero Reader knows no instruments.
type Reader struct {
	u *Universe
}

func NewReader(u *Universe) Reader {
	return Reader{u: u}
}

func (r Reader) Instruments() []string {
	if r.u == nil {
		return nil
	}
	return r.u.Instruments()
}

func (r Reader) Last(instrument string) (decimal.Decimal, bool) {
	if r.u == nil {
		return decimal.Zero, false
	}
	return r.u.Last(instrument)
}

func (r Reader) View(instrument string, tf domain.Timeframe) View {
	if r.u == nil {
		return View{}
	}
	return r.u.View(instrument, tf)
}
