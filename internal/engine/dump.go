package engine

import (
	"encoding/json"
	"log/slog"
	"os"

	"trade_engine/internal/domain"
	"trade_engine/internal/market"
	"trade_engine/internal/portfolio"

	"github.com/shopspring/decimal"
)

// DumpState writes the entire internal state to a file (for post-mortem).
func (e *Engine) DumpState(filename string) {
	e.log.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		Mode       Mode                   `json:"mode"`
		Events     uint64                 `json:"events"`
		Cash       decimal.Decimal        `json:"cash"`
		Equity     decimal.Decimal        `json:"equity"`
		Positions  []domain.Position      `json:"positions"`
		OpenOrders []domain.Order         `json:"open_orders"`
		Markets    []market.Snapshot      `json:"markets"`
		LastSample *portfolio.EquityPoint `json:"last_sample,omitempty"`
		Halted     bool                   `json:"halted"`
	}{
		Mode:       e.mode,
		Events:     e.events,
		Cash:       e.ledger.Cash(),
		Equity:     e.ledger.Equity(),
		Positions:  e.ledger.Positions(),
		OpenOrders: e.openOrders(),
		Markets:    e.universe.Snapshots(),
		Halted:     e.halted,
	}
	if curve := e.ledger.Curve(); len(curve) > 0 {
		data.LastSample = &curve[len(curve)-1]
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		e.log.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		e.log.Error("Failed to write state dump", slog.Any("error", err))
	}
}
