package observe

import (
	"errors"
	"log/slog"

	"trade_engine/internal/domain"
)

// NewLogObserver subscribes log to every topic of h.
func NewLogObserver(h *Hub, log *slog.Logger) error {
	log = log.With(slog.String("module", "observe"))
	return errors.Join(
		h.OnRejected(func(r domain.Rejection) {
			log.Warn("Intent rejected",
				slog.String("kind", string(r.Kind)),
				slog.String("instrument", r.Intent.Instrument),
				slog.String("rule", r.Rule),
				slog.String("reason", r.Reason))
		}),
		h.OnFilled(func(f domain.Fill) {
			log.Info("Order filled",
				slog.Uint64("order_id", f.OrderID),
				slog.String("instrument", f.Instrument),
				slog.String("side", string(f.Side)),
				slog.String("qty", f.Quantity.String()),
				slog.String("price", f.Price.String()))
		}),
		h.OnRiskTripped(func(t RiskTrip) {
			log.Error("Circuit breaker open",
				slog.Time("at", t.At),
				slog.String("drawdown", t.Drawdown.StringFixed(4)),
				slog.String("limit", t.Limit.String()))
		}),
		h.OnDiscrepancy(func(m domain.ReconciliationMismatch) {
			log.Error("RECONCILIATION_MISMATCH",
				slog.String("kind", m.Kind),
				slog.String("instrument", m.Instrument),
				slog.Uint64("order_id", m.OrderID),
				slog.String("local", m.Local),
				slog.String("remote", m.Remote))
		}),
		h.OnFinished(func(s Summary) {
			log.Info("Run finished",
				slog.String("run_id", s.RunID),
				slog.String("mode", s.Mode),
				slog.Uint64("events", s.Events),
				slog.Int("fills", s.Fills),
				slog.String("final_equity", s.FinalEquity.StringFixed(2)),
				slog.Bool("halted", s.Halted))
		}),
	)
}
