package report

import (
	"trade_engine/internal/domain"
	"trade_engine/internal/engine"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Stats summarizes the equity curve and the closed operations of a run.
// Returns are per equity sample, not annualized.
type Stats struct {
	Samples      int     `json:"samples"`
	TotalReturn  float64 `json:"total_return"`
	MeanReturn   float64 `json:"mean_return"`
	StdDevReturn float64 `json:"stddev_return"`
	Sharpe       float64 `json:"sharpe"`
	BestReturn   float64 `json:"best_return"`
	WorstReturn  float64 `json:"worst_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Operations   int     `json:"operations"`
	Buys         int     `json:"buys"`
	Sells        int     `json:"sells"`
	Turnover     float64 `json:"turnover"`
}

func Summarize(res *engine.RunResult) Stats {
	s := Stats{
		Samples:     len(res.Equity),
		MaxDrawdown: res.MaxDrawdown.InexactFloat64(),
		Operations:  len(res.Operations),
	}
	if res.InitialCapital.IsPositive() {
		s.TotalReturn = res.FinalEquity.Div(res.InitialCapital).Sub(one).InexactFloat64()
	}

	for _, op := range res.Operations {
		if op.Side == domain.SideBuy {
			s.Buys++
		} else {
			s.Sells++
		}
		s.Turnover += op.Value.InexactFloat64()
	}

	returns := make(stats.Float64Data, 0, len(res.Equity))
	for i := 1; i < len(res.Equity); i++ {
		prev := res.Equity[i-1].Equity
		if prev.IsZero() {
			continue
		}
		returns = append(returns, res.Equity[i].Equity.Div(prev).Sub(one).InexactFloat64())
	}
	if len(returns) == 0 {
		return s
	}

	s.MeanReturn, _ = stats.Mean(returns)
	s.StdDevReturn, _ = stats.StandardDeviation(returns)
	s.BestReturn, _ = stats.Max(returns)
	s.WorstReturn, _ = stats.Min(returns)
	if s.StdDevReturn > 0 {
		s.Sharpe = s.MeanReturn / s.StdDevReturn
	}
	return s
}
