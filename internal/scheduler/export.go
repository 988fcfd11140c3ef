package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Export is a downloadable rendition of a completed job's result.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportResult renders a completed job's result for download. JSON carries
// the full result; CSV is a simplified one-row summary.
func (s *Scheduler) ExportResult(jobID string, format ExportFormat) (*Export, error) {
	result, err := s.Result(jobID)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		return &Export{
			Filename:    fmt.Sprintf("backtest_%s.json", jobID),
			ContentType: "application/json",
			Data:        data,
		}, nil

	case FormatCSV:
		var b strings.Builder
		b.WriteString("job_id,start_date,end_date,initial_capital,final_capital,total_return,max_drawdown,sharpe_ratio,total_trades,win_rate\n")
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%.6f,%.6f,%.6f,%d,%.6f\n",
			jobID,
			result.StartDate.Format("2006-01-02"),
			result.EndDate.Format("2006-01-02"),
			result.InitialCapital.StringFixed(2),
			result.FinalCapital.StringFixed(2),
			result.TotalReturn,
			result.MaxDrawdown,
			result.SharpeRatio,
			result.TotalTrades,
			result.WinRate,
		)
		return &Export{
			Filename:    fmt.Sprintf("backtest_%s.csv", jobID),
			ContentType: "text/csv",
			Data:        []byte(b.String()),
		}, nil

	default:
		return nil, &ValidationError{Message: "Unknown export format: " + string(format)}
	}
}
