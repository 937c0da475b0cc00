package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func trade(side Side, qty, price string) Fill {
	return Fill{ID: string(side) + qty + "@" + price, Instrument: "ABC", Side: side, Quantity: d(qty), Price: d(price)}
}

func TestPosition_AverageAndRealize(t *testing.T) {
	p := Position{Instrument: "ABC"}

	assert.True(t, p.Apply(trade(SideBuy, "10", "100")).IsZero())
	assert.True(t, p.Apply(trade(SideBuy, "10", "110")).IsZero())
	assert.True(t, p.AvgPrice.Equal(d("105")))
	assert.True(t, p.Quantity.Equal(d("20")))

	realized := p.Apply(trade(SideSell, "5", "115"))
	assert.True(t, realized.Equal(d("50")), "realized = %s", realized)
	assert.True(t, p.AvgPrice.Equal(d("105")), "partial close keeps entry price")
	p.VerifyInvariant()
}

func TestPosition_ZeroCrossing(t *testing.T) {
	p := Position{Instrument: "ABC"}
	p.Apply(trade(SideBuy, "10", "100"))

	// sell 15 at 90: close 10 for -100, open short 5 at 90
	realized := p.Apply(trade(SideSell, "15", "90"))
	assert.True(t, realized.Equal(d("-100")), "realized = %s", realized)
	assert.True(t, p.Quantity.Equal(d("-5")))
	assert.True(t, p.AvgPrice.Equal(d("90")))

	// cover at 80: short gains 10 per unit
	realized = p.Apply(trade(SideBuy, "5", "80"))
	assert.True(t, realized.Equal(d("50")))
	assert.True(t, p.IsFlat())
	assert.True(t, p.AvgPrice.IsZero())
	assert.True(t, p.Realized.Equal(d("-50")))
	p.VerifyInvariant()
}

func TestPosition_Unrealized(t *testing.T) {
	p := Position{Instrument: "ABC"}
	p.Apply(trade(SideSell, "4", "50"))
	assert.True(t, p.Unrealized(d("45")).Equal(d("20")))
	assert.True(t, p.MarketValue(d("45")).Equal(d("-180")))
}

func TestPosition_VerifyInvariantPanics(t *testing.T) {
	p := Position{Instrument: "ABC", AvgPrice: d("1")}
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for flat position with an entry price")
		}
	}()
	p.VerifyInvariant()
}
