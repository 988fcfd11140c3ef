package portfolio

import (
	"context"

	"github.com/openbt/openbt/internal/marketdata"
)

// SignalSource produces candidate signals for the current per-symbol bars.
// The trading agent layer implements this in production; backtests without
// an agent attached use NoopSignalSource.
type SignalSource interface {
	GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []Signal
}

// NoopSignalSource never generates signals.
type NoopSignalSource struct{}

// GenerateSignals returns no signals.
func (NoopSignalSource) GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []Signal {
	return nil
}
