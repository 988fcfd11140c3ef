package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
)

const (
	syntheticDailyDrift      = 0.0002 // ~5% annual upward drift
	syntheticDailyVolatility = 0.015
	defaultBasePrice         = 100.0
)

// syntheticProvider generates pseudo-random-walk bars. The walk is seeded
// per symbol at construction, so repeated fetches for the same symbol and
// range produce identical series. Used for self-contained testing without
// external dependencies.
type syntheticProvider struct {
	seed      int64
	basePrice float64
}

func newSyntheticProvider(cfg Config) *syntheticProvider {
	basePrice := cfg.BasePrice
	if basePrice <= 0 {
		basePrice = defaultBasePrice
	}
	return &syntheticProvider{seed: cfg.Seed, basePrice: basePrice}
}

func (p *syntheticProvider) Name() string { return "synthetic" }

func (p *syntheticProvider) RequestsPerMinute() int { return 0 }

func (p *syntheticProvider) FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(p.symbolSeed(req.Symbol)))

	// Offset the base price per symbol so multi-symbol runs do not start
	// from identical levels.
	price := p.basePrice * (0.5 + rng.Float64())

	step := req.Interval.Duration()
	var bars []Bar
	for ts := req.Start; !ts.After(req.End); ts = ts.Add(step) {
		drift := syntheticDailyDrift
		shock := rng.NormFloat64() * syntheticDailyVolatility
		change := drift + shock

		open := price
		close := price * (1 + change)
		high := math.Max(open, close) * (1 + rng.Float64()*0.005)
		low := math.Min(open, close) * (1 - rng.Float64()*0.005)
		volume := 1_000_000 * (0.5 + rng.Float64())

		bars = append(bars, Bar{
			Symbol:    req.Symbol,
			Timestamp: ts,
			Open:      decimal.NewFromFloat(open).Round(4),
			High:      decimal.NewFromFloat(high).Round(4),
			Low:       decimal.NewFromFloat(low).Round(4),
			Close:     decimal.NewFromFloat(close).Round(4),
			Volume:    decimal.NewFromFloat(volume).Round(0),
		})

		price = close
	}
	return bars, nil
}

// symbolSeed derives a stable per-symbol seed from the configured base seed.
func (p *syntheticProvider) symbolSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return p.seed + int64(h.Sum64()&math.MaxInt64)
}
