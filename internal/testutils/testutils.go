// Package testutils provides shared fixtures for testing: deterministic bar
// series and a canned market data provider.
package testutils

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/marketdata"
)

// SampleStart is the first bar timestamp used by SampleBars.
var SampleStart = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// SampleBars returns a daily series of n bars for symbol, closing at
// basePrice on day zero and rising by one currency unit per day.
func SampleBars(symbol string, n int, basePrice float64) []marketdata.Bar {
	bars := make([]marketdata.Bar, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromFloat(basePrice + float64(i))
		bars = append(bars, marketdata.Bar{
			Symbol:    symbol,
			Timestamp: SampleStart.AddDate(0, 0, i),
			Open:      price,
			High:      price.Mul(decimal.NewFromFloat(1.01)),
			Low:       price.Mul(decimal.NewFromFloat(0.99)),
			Close:     price,
			Volume:    decimal.NewFromInt(1000),
		})
	}
	return bars
}

// StubProvider is a canned implementation of marketdata.Provider.
type StubProvider struct {
	NameValue      string
	BarsValue      map[string][]marketdata.Bar
	FetchError     error
	FailSymbols    map[string]error
	RequestsPerMin int
}

// NewStubProvider creates a provider serving the given per-symbol series.
func NewStubProvider(bars map[string][]marketdata.Bar) *StubProvider {
	return &StubProvider{
		NameValue: "stub",
		BarsValue: bars,
	}
}

func (p *StubProvider) Name() string { return p.NameValue }

func (p *StubProvider) RequestsPerMinute() int { return p.RequestsPerMin }

func (p *StubProvider) FetchHistoricalData(ctx context.Context, req marketdata.Request) ([]marketdata.Bar, error) {
	if p.FetchError != nil {
		return nil, p.FetchError
	}
	if err, ok := p.FailSymbols[req.Symbol]; ok {
		return nil, err
	}
	return p.BarsValue[req.Symbol], nil
}
