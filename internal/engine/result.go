package engine

import (
	"encoding/json"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/infra"
	"trade_engine/internal/observe"
	"trade_engine/internal/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForcedClose is the accounting entry for an order closed locally because
// the broker never confirmed its cancellation before shutdown.
type ForcedClose struct {
	OrderID    uint64          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Side       domain.Side     `json:"side"`
	Remaining  decimal.Decimal `json:"remaining"`
	At         time.Time       `json:"at"`
}

// RunResult is the outcome of a run, complete or partial.
type RunResult struct {
	RunID          string                          `json:"run_id"`
	Mode           Mode                            `json:"mode"`
	Events         uint64                          `json:"events"`
	InitialCapital decimal.Decimal                 `json:"initial_capital"`
	FinalCash      decimal.Decimal                 `json:"final_cash"`
	FinalEquity    decimal.Decimal                 `json:"final_equity"`
	RealizedPnL    decimal.Decimal                 `json:"realized_pnl"`
	Commission     decimal.Decimal                 `json:"commission"`
	MaxDrawdown    decimal.Decimal                 `json:"max_drawdown"`
	Fills          []domain.Fill                   `json:"fills"`
	Operations     []domain.Operation              `json:"operations"`
	Orders         []domain.Order                  `json:"orders"`
	Rejections     []domain.Rejection              `json:"rejections"`
	Equity         []portfolio.EquityPoint         `json:"equity"`
	Positions      []domain.Position               `json:"positions"`
	Halted         bool                            `json:"halted"`
	HaltReason     string                          `json:"halt_reason,omitempty"`
	ForcedCloses   []ForcedClose                   `json:"forced_closes,omitempty"`
	Discrepancies  []domain.ReconciliationMismatch `json:"discrepancies,omitempty"`
	Metrics        infra.MetricsSnapshot           `json:"-"`
}

func (e *Engine) result() *RunResult {
	res := &RunResult{
		Mode:           e.mode,
		Events:         e.events,
		InitialCapital: e.ledger.InitialCapital(),
		FinalCash:      e.ledger.Cash(),
		FinalEquity:    e.ledger.Equity(),
		RealizedPnL:    e.ledger.Realized(),
		Commission:     e.ledger.Commission(),
		MaxDrawdown:    e.ledger.MaxDrawdown(),
		Fills:          e.ledger.Fills(),
		Operations:     append([]domain.Operation(nil), e.operations...),
		Orders:         e.book.Orders(),
		Rejections:     append([]domain.Rejection(nil), e.rejections...),
		Equity:         e.ledger.Curve(),
		Positions:      e.ledger.Positions(),
		Halted:         e.halted,
		HaltReason:     e.haltReason,
		ForcedCloses:   append([]ForcedClose(nil), e.forced...),
		Discrepancies:  append([]domain.ReconciliationMismatch(nil), e.discrepancies...),
		Metrics:        e.metrics.Snapshot(),
	}
	res.RunID = runID(e.settings, res)
	return res
}

// runID is a name-based uuid over the settings and the final state, so a
// repeated backtest gets the same id.
func runID(s Settings, res *RunResult) string {
	digest, err := json.Marshal(struct {
		Settings  Settings
		Mode      Mode
		Events    uint64
		Cash      string
		Equity    string
		Fills     int
		Positions []domain.Position
	}{s, res.Mode, res.Events, res.FinalCash.String(), res.FinalEquity.String(), len(res.Fills), res.Positions})
	if err != nil {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, digest).String()
}

func (e *Engine) finished(res *RunResult) {
	e.observer.Finished(observe.Summary{
		RunID:       res.RunID,
		Mode:        string(res.Mode),
		Events:      res.Events,
		Fills:       len(res.Fills),
		Rejections:  len(res.Rejections),
		FinalEquity: res.FinalEquity,
		Halted:      res.Halted,
		HaltReason:  res.HaltReason,
	})
}
