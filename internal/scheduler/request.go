package scheduler

import (
	"time"

	"github.com/openbt/openbt/internal/marketdata"
)

// AgentConfig names one trading agent and its numeric parameters. The agent
// layer itself is external; the scheduler only requires that at least one
// agent is configured.
type AgentConfig struct {
	Name       string             `json:"name"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Request is a backtest submission.
type Request struct {
	Name           string            `json:"name"`
	Symbols        []string          `json:"symbols"`
	StartDate      time.Time         `json:"startDate"`
	EndDate        time.Time         `json:"endDate"`
	InitialCapital float64           `json:"initialCapital"`
	CommissionRate float64           `json:"commissionRate"`
	SlippageRate   float64           `json:"slippageRate"`
	DataProvider   marketdata.Kind   `json:"dataProvider"`
	AgentConfigs   []AgentConfig     `json:"agentConfigs"`
	Benchmark      []float64         `json:"benchmark,omitempty"`
}

// Validate checks the request shape and values. It is pure; the scheduler
// calls it before admission control, and any violation is reported
// synchronously without creating a job.
func (r *Request) Validate() error {
	if r.Name == "" {
		return &ValidationError{Message: "Backtest name is required"}
	}
	if len(r.Symbols) == 0 {
		return &ValidationError{Message: "At least one symbol is required"}
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return &ValidationError{Message: "Start and end dates are required"}
	}
	if !r.StartDate.Before(r.EndDate) {
		return &ValidationError{Message: "Start date must be before end date"}
	}
	if r.InitialCapital <= 0 {
		return &ValidationError{Message: "Initial capital must be positive"}
	}
	if len(r.AgentConfigs) == 0 {
		return &ValidationError{Message: "At least one agent configuration is required"}
	}
	if r.DataProvider == "" {
		return &ValidationError{Message: "Data provider type is required"}
	}
	switch r.DataProvider {
	case marketdata.KindAPI, marketdata.KindAlpaca, marketdata.KindSynthetic, marketdata.KindCSV:
	default:
		return &ValidationError{Message: "Unknown data provider type: " + string(r.DataProvider)}
	}
	return nil
}
