package scheduler

import (
	"time"

	"github.com/openbt/openbt/internal/analytics"
	"github.com/openbt/openbt/internal/engine"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one scheduled backtest. Records are mutated only under the
// scheduler's lock; accessors hand out copies.
type Job struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Progress  int            `json:"progress"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Result    *engine.Result `json:"result,omitempty"`
	// Metrics is the tracker's terminal metric bundle, including the
	// benchmark-relative figures when the request carried a benchmark series.
	Metrics *analytics.PortfolioMetrics `json:"metrics,omitempty"`
	Error   string                      `json:"error,omitempty"`
	Request Request                     `json:"request"`
}

// clone returns a copy safe to hand outside the lock. The result and metrics
// pointers are shared; both are immutable once attached.
func (j *Job) clone() *Job {
	dup := *j
	if j.EndTime != nil {
		end := *j.EndTime
		dup.EndTime = &end
	}
	return &dup
}
