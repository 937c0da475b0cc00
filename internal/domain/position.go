package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is the signed holding in one instrument.
// AvgPrice is meaningful only while Quantity is non-zero.
type Position struct {
	Instrument string          `json:"instrument"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Realized   decimal.Decimal `json:"realized"`
	Commission decimal.Decimal `json:"commission"`
}

func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Apply folds a fill into the position and returns the P&L it realized.
// Commission is tracked separately and not netted into Realized.
//
// Adding in the same direction re-weights AvgPrice. Trading against the
// position realizes P&L on the closed part; if the fill crosses zero the
// remainder opens at the fill price.
func (p *Position) Apply(f Fill) decimal.Decimal {
	signed := f.Quantity.Mul(f.Side.Sign())
	p.Commission = p.Commission.Add(f.Commission)

	if p.Quantity.IsZero() || p.Quantity.Sign() == signed.Sign() {
		total := p.Quantity.Abs().Add(f.Quantity)
		p.AvgPrice = p.AvgPrice.Mul(p.Quantity.Abs()).Add(f.Price.Mul(f.Quantity)).Div(total)
		p.Quantity = p.Quantity.Add(signed)
		return decimal.Zero
	}

	closing := decimal.Min(f.Quantity, p.Quantity.Abs())
	direction := decimal.NewFromInt(int64(p.Quantity.Sign()))
	realized := f.Price.Sub(p.AvgPrice).Mul(closing).Mul(direction)
	p.Realized = p.Realized.Add(realized)

	before := p.Quantity
	p.Quantity = p.Quantity.Add(signed)
	switch {
	case p.Quantity.IsZero():
		p.AvgPrice = decimal.Zero
	case p.Quantity.Sign() != before.Sign():
		p.AvgPrice = f.Price
	}
	return realized
}

// MarketValue is Quantity x price, negative for shorts.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// Unrealized is the open P&L at price.
func (p *Position) Unrealized(price decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(p.Quantity)
}

// VerifyInvariant panics if the position is internally inconsistent.
func (p *Position) VerifyInvariant() {
	if p.Quantity.IsZero() && !p.AvgPrice.IsZero() {
		panic(fmt.Sprintf("POSITION_INVARIANT_FLAT_WITH_PRICE: %s avg=%s", p.Instrument, p.AvgPrice))
	}
	if !p.Quantity.IsZero() && !p.AvgPrice.IsPositive() {
		panic(fmt.Sprintf("POSITION_INVARIANT_NON_POSITIVE_PRICE: %s qty=%s avg=%s",
			p.Instrument, p.Quantity, p.AvgPrice))
	}
	if p.Commission.IsNegative() {
		panic(fmt.Sprintf("POSITION_INVARIANT_NEGATIVE_COMMISSION: %s = %s", p.Instrument, p.Commission))
	}
}
