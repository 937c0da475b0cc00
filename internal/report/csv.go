package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"trade_engine/internal/portfolio"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

type equityRow struct {
	Time     string `csv:"time"`
	Equity   string `csv:"equity"`
	Cash     string `csv:"cash"`
	Drawdown string `csv:"drawdown"`
}

// WriteEquityCSV writes the equity curve, one sample per row.
func WriteEquityCSV(w io.Writer, curve []portfolio.EquityPoint) error {
	rows := make([]*equityRow, 0, len(curve))
	for _, p := range curve {
		rows = append(rows, &equityRow{
			Time:     p.Time.UTC().Format(time.RFC3339Nano),
			Equity:   p.Equity.String(),
			Cash:     p.Cash.String(),
			Drawdown: p.Drawdown.String(),
		})
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("marshal equity csv: %w", err)
	}
	return nil
}

func SaveEquityCSV(path string, curve []portfolio.EquityPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create equity csv: %w", err)
	}
	defer file.Close()
	return WriteEquityCSV(file, curve)
}

func ReadEquityCSV(r io.Reader) ([]portfolio.EquityPoint, error) {
	var rows []*equityRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal equity csv: %w", err)
	}
	out := make([]portfolio.EquityPoint, 0, len(rows))
	for i, row := range rows {
		t, err := time.Parse(time.RFC3339Nano, row.Time)
		if err != nil {
			return nil, fmt.Errorf("row %d: time: %w", i+1, err)
		}
		var p portfolio.EquityPoint
		p.Time = t
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&p.Equity, row.Equity}, {&p.Cash, row.Cash}, {&p.Drawdown, row.Drawdown}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}
