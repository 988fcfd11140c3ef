package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// JobSummary is the per-job line in a comparison.
type JobSummary struct {
	JobID       string  `json:"jobId"`
	Name        string  `json:"name"`
	TotalReturn float64 `json:"totalReturn"`
	SharpeRatio float64 `json:"sharpeRatio"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	WinRate     float64 `json:"winRate"`
	TotalTrades int     `json:"totalTrades"`
}

// Comparison ranks a set of completed jobs against each other.
type Comparison struct {
	Summaries []JobSummary `json:"summaries"`

	// Rankings hold job ids, best first.
	ByReturn   []string `json:"byReturn"`
	BySharpe   []string `json:"bySharpe"`
	ByDrawdown []string `json:"byDrawdown"`
	ByWinRate  []string `json:"byWinRate"`

	AverageReturn   float64 `json:"averageReturn"`
	AverageSharpe   float64 `json:"averageSharpe"`
	AverageDrawdown float64 `json:"averageDrawdown"`
	AverageWinRate  float64 `json:"averageWinRate"`

	BestByReturn string `json:"bestByReturn"`
	BestBySharpe string `json:"bestBySharpe"`
}

// Compare builds a comparison across at least two completed jobs. All ids
// must exist and be COMPLETED.
func (s *Scheduler) Compare(jobIDs []string) (*Comparison, error) {
	if len(jobIDs) < 2 {
		return nil, &ValidationError{Message: "At least two job ids are required for comparison"}
	}

	s.mu.RLock()
	summaries := make([]JobSummary, 0, len(jobIDs))
	for _, id := range jobIDs {
		job, ok := s.jobs[id]
		if !ok {
			s.mu.RUnlock()
			return nil, &NotFoundError{JobID: id}
		}
		if job.Status != StatusCompleted {
			status := job.Status
			s.mu.RUnlock()
			return nil, &StateConflictError{
				JobID:   id,
				Status:  status,
				Message: fmt.Sprintf("job %s is %s, comparison requires COMPLETED jobs", id, status),
			}
		}
		r := job.Result
		summaries = append(summaries, JobSummary{
			JobID:       id,
			Name:        job.Name,
			TotalReturn: r.TotalReturn,
			SharpeRatio: r.SharpeRatio,
			MaxDrawdown: r.MaxDrawdown,
			WinRate:     r.WinRate,
			TotalTrades: r.TotalTrades,
		})
	}
	s.mu.RUnlock()

	cmp := &Comparison{
		Summaries:  summaries,
		ByReturn:   rankIDs(summaries, func(a, b JobSummary) bool { return a.TotalReturn > b.TotalReturn }),
		BySharpe:   rankIDs(summaries, func(a, b JobSummary) bool { return a.SharpeRatio > b.SharpeRatio }),
		ByDrawdown: rankIDs(summaries, func(a, b JobSummary) bool { return a.MaxDrawdown < b.MaxDrawdown }),
		ByWinRate:  rankIDs(summaries, func(a, b JobSummary) bool { return a.WinRate > b.WinRate }),
	}

	n := float64(len(summaries))
	for _, sum := range summaries {
		cmp.AverageReturn += sum.TotalReturn / n
		cmp.AverageSharpe += sum.SharpeRatio / n
		cmp.AverageDrawdown += sum.MaxDrawdown / n
		cmp.AverageWinRate += sum.WinRate / n
	}
	cmp.BestByReturn = cmp.ByReturn[0]
	cmp.BestBySharpe = cmp.BySharpe[0]
	return cmp, nil
}

func rankIDs(summaries []JobSummary, less func(a, b JobSummary) bool) []string {
	ranked := append([]JobSummary(nil), summaries...)
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.JobID
	}
	return ids
}

// RenderTable formats the comparison as a text table for CLI output.
func (c *Comparison) RenderTable() string {
	display := &strings.Builder{}

	table := tablewriter.NewWriter(display)
	table.SetHeader([]string{"Name", "Return", "Sharpe", "Max DD", "Win Rate", "Trades"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnSeparator("")

	for _, s := range c.Summaries {
		table.Append([]string{
			s.Name,
			fmt.Sprintf("%.2f%%", s.TotalReturn*100),
			fmt.Sprintf("%.2f", s.SharpeRatio),
			fmt.Sprintf("%.2f%%", s.MaxDrawdown*100),
			fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%d", s.TotalTrades),
		})
	}

	table.Render()
	fmt.Fprintf(display, "Average return %.2f%%, average Sharpe %.2f\n",
		c.AverageReturn*100, c.AverageSharpe)
	return display.String()
}
