package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// RenderSummary prints the headline numbers of a record.
func RenderSummary(w io.Writer, r Record) {
	run := r.Run
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][]string{
		{"Run", run.RunID},
		{"Mode", string(run.Mode)},
		{"Events", strconv.FormatUint(run.Events, 10)},
		{"Initial capital", run.InitialCapital.StringFixed(2)},
		{"Final equity", run.FinalEquity.StringFixed(2)},
		{"Final cash", run.FinalCash.StringFixed(2)},
		{"Realized P&L", run.RealizedPnL.StringFixed(2)},
		{"Commission", run.Commission.StringFixed(2)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", r.Stats.MaxDrawdown*100)},
		{"Total return", fmt.Sprintf("%.2f%%", r.Stats.TotalReturn*100)},
		{"Sharpe (per sample)", fmt.Sprintf("%.4f", r.Stats.Sharpe)},
		{"Fills", strconv.Itoa(len(run.Fills))},
		{"Operations", strconv.Itoa(r.Stats.Operations)},
		{"Rejections", strconv.Itoa(len(run.Rejections))},
	}
	if run.Halted {
		rows = append(rows, []string{"Halted", run.HaltReason})
	}
	if len(run.ForcedCloses) > 0 {
		rows = append(rows, []string{"Forced closes", strconv.Itoa(len(run.ForcedCloses))})
	}
	if len(run.Discrepancies) > 0 {
		rows = append(rows, []string{"Discrepancies", strconv.Itoa(len(run.Discrepancies))})
	}
	table.AppendBulk(rows)
	table.Render()
}

// RenderPositions prints the final positions.
func RenderPositions(w io.Writer, r Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Instrument", "Quantity", "Avg Price", "Realized"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, p := range r.Run.Positions {
		table.Append([]string{p.Instrument, p.Quantity.String(), p.AvgPrice.StringFixed(4), p.Realized.StringFixed(2)})
	}
	table.Render()
}

// RenderOperations prints one row per closed order.
func RenderOperations(w io.Writer, r Record) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Order", "Instrument", "Side", "Qty", "Avg Price", "Status", "Closed"})
	for _, op := range r.Run.Operations {
		table.Append([]string{
			strconv.FormatUint(op.OrderID, 10),
			op.Instrument,
			string(op.Side),
			op.Quantity.String(),
			op.AvgPrice.StringFixed(4),
			string(op.Status),
			op.ClosedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}
