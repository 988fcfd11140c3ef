package analytics

import (
	"fmt"
	"time"

	"github.com/gocarina/gocsv"
)

// exportRow is one time-series line in the performance CSV. Percentages are
// pre-formatted so the file reads naturally in a spreadsheet.
type exportRow struct {
	Timestamp        string `csv:"timestamp"`
	TotalValue       string `csv:"total_value"`
	Cash             string `csv:"cash"`
	PositionsValue   string `csv:"positions_value"`
	DailyReturnPct   string `csv:"daily_return_pct"`
	CumulativeReturn string `csv:"cumulative_return_pct"`
	DrawdownPct      string `csv:"drawdown_pct"`
	SharpeRatio      string `csv:"sharpe_ratio"`
	VolatilityPct    string `csv:"volatility_pct"`
	TradeCount       int    `csv:"trade_count"`
}

// ExportCSV renders the snapshot history as a CSV time series, one row per
// snapshot.
func (t *Tracker) ExportCSV() (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows := make([]*exportRow, 0, len(t.snapshots))
	for _, snap := range t.snapshots {
		total := snap.Portfolio.TotalValue.InexactFloat64()
		cash := snap.Portfolio.Cash.InexactFloat64()
		m := snap.Metrics

		rows = append(rows, &exportRow{
			Timestamp:        snap.Timestamp.UTC().Format(time.RFC3339),
			TotalValue:       fmt.Sprintf("%.2f", total),
			Cash:             fmt.Sprintf("%.2f", cash),
			PositionsValue:   fmt.Sprintf("%.2f", total-cash),
			DailyReturnPct:   fmt.Sprintf("%.4f", m.DailyReturn*100),
			CumulativeReturn: fmt.Sprintf("%.4f", m.CumulativeReturn*100),
			DrawdownPct:      fmt.Sprintf("%.4f", m.CurrentDrawdown*100),
			SharpeRatio:      fmt.Sprintf("%.4f", m.SharpeRatio),
			VolatilityPct:    fmt.Sprintf("%.4f", m.Volatility*100),
			TradeCount:       snap.TradeCount,
		})
	}

	return gocsv.MarshalString(&rows)
}
