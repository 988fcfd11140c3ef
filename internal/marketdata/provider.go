package marketdata

import (
	"context"
	"fmt"
	"sort"

	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/ratelimit"
)

// Provider is the contract every historical data source implements. Bars are
// returned ascending by timestamp, filtered to the request's [start, end]
// range.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	// RequestsPerMinute declares the provider's request quota; zero means
	// unlimited.
	RequestsPerMinute() int
	// FetchHistoricalData returns the ordered bar series for one request.
	FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error)
}

// NewProvider selects a provider implementation by kind. Requesting the
// API-backed kind without a credential fails fast with a configuration
// error.
func NewProvider(kind Kind, cfg Config) (Provider, error) {
	switch kind {
	case KindAPI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api provider requires an API key")
		}
		return newAPIProvider(cfg), nil
	case KindAlpaca:
		if cfg.AlpacaAPIKey == "" || cfg.AlpacaAPISecret == "" {
			return nil, fmt.Errorf("alpaca provider requires API key and secret")
		}
		return newAlpacaProvider(cfg), nil
	case KindSynthetic:
		return newSyntheticProvider(cfg), nil
	case KindCSV:
		return newCSVProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown data provider kind: %q", kind)
	}
}

// FetchMultipleSymbols fetches each request sequentially, pacing calls with
// the provider's declared requests-per-minute quota. A failure fetching one
// symbol is logged and recorded as an empty series rather than aborting the
// batch; callers must treat an empty series as missing data for that symbol.
func FetchMultipleSymbols(ctx context.Context, p Provider, requests []Request) map[string][]Bar {
	log := logger.Component("marketdata").Provider(p.Name())
	limiter := ratelimit.NewPerMinute(p.RequestsPerMinute())

	results := make(map[string][]Bar, len(requests))
	for _, req := range requests {
		if err := limiter.Wait(ctx); err != nil {
			log.Symbol(req.Symbol).WithError(err).Warn("rate limit wait interrupted")
			results[req.Symbol] = []Bar{}
			continue
		}

		bars, err := p.FetchHistoricalData(ctx, req)
		if err != nil {
			log.Symbol(req.Symbol).WithError(err).Warn("fetch failed, recording empty series")
			results[req.Symbol] = []Bar{}
			continue
		}
		results[req.Symbol] = bars
	}
	return results
}

// sortBars orders bars ascending by timestamp in place.
func sortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
}

// filterRange drops bars outside [start, end].
func filterRange(bars []Bar, req Request) []Bar {
	filtered := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(req.Start) || b.Timestamp.After(req.End) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered
}
