// Package marketdata provides time-ordered OHLCV bars for backtesting.
// Four interchangeable provider implementations sit behind one contract: an
// external HTTP API, the Alpaca market-data SDK, a delimited-file importer,
// and a deterministic synthetic generator for self-contained runs.
package marketdata

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV observation for a symbol at a timestamp.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Interval selects the bar resolution of a request.
type Interval string

const (
	Interval1Min    Interval = "1min"
	Interval5Min    Interval = "5min"
	Interval15Min   Interval = "15min"
	Interval30Min   Interval = "30min"
	Interval60Min   Interval = "60min"
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// IsIntraday reports whether the interval is a sub-daily resolution.
// Providers that expose a single intraday endpoint collapse all of these
// into one request mode.
func (i Interval) IsIntraday() bool {
	switch i {
	case Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min:
		return true
	}
	return false
}

// Duration returns the bar spacing for the interval. Weekly and monthly
// use calendar approximations; they only drive synthetic generation.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1Min:
		return time.Minute
	case Interval5Min:
		return 5 * time.Minute
	case Interval15Min:
		return 15 * time.Minute
	case Interval30Min:
		return 30 * time.Minute
	case Interval60Min:
		return time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Request identifies one symbol/date-range/interval fetch. It is a stateless
// value object; providers never mutate it.
type Request struct {
	Symbol   string
	Start    time.Time
	End      time.Time
	Interval Interval
}

// Validate checks the request shape before it reaches a provider.
func (r Request) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("start %s must be before end %s", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	}
	return nil
}

// Kind selects a provider implementation.
type Kind string

const (
	KindAPI       Kind = "api"
	KindAlpaca    Kind = "alpaca"
	KindSynthetic Kind = "synthetic"
	KindCSV       Kind = "csv"
)

// Config bundles the settings the provider factory needs. Only the fields
// relevant to the selected kind are consulted.
type Config struct {
	// API-backed provider
	APIKey  string
	BaseURL string

	// Alpaca provider
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaBaseURL   string

	// Delimited-file importer: directory containing <SYMBOL>.csv files
	CSVDir string

	// Synthetic generator
	Seed      int64
	BasePrice float64

	// RequestsPerMinute overrides the provider's declared quota when > 0.
	RequestsPerMinute int
}
