package marketdata

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Alpaca's documented per-minute quota for market data requests.
const alpacaRequestsPerMinute = 200

// alpacaProvider fetches bars from the Alpaca market-data API.
type alpacaProvider struct {
	client *marketdata.Client
	rpm    int
}

func newAlpacaProvider(cfg Config) *alpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
	}
	if cfg.AlpacaBaseURL != "" {
		opts.BaseURL = cfg.AlpacaBaseURL
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = alpacaRequestsPerMinute
	}
	return &alpacaProvider{
		client: marketdata.NewClient(opts),
		rpm:    rpm,
	}
}

func (p *alpacaProvider) Name() string { return "alpaca" }

func (p *alpacaProvider) RequestsPerMinute() int { return p.rpm }

// alpacaTimeFrame maps the requested interval to an Alpaca bar timeframe.
func alpacaTimeFrame(interval Interval) marketdata.TimeFrame {
	switch interval {
	case Interval1Min:
		return marketdata.OneMin
	case Interval5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min)
	case Interval15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min)
	case Interval30Min:
		return marketdata.NewTimeFrame(30, marketdata.Min)
	case Interval60Min:
		return marketdata.OneHour
	case IntervalWeekly:
		return marketdata.NewTimeFrame(1, marketdata.Week)
	case IntervalMonthly:
		return marketdata.NewTimeFrame(1, marketdata.Month)
	default:
		return marketdata.OneDay
	}
}

func (p *alpacaProvider) FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	alpacaBars, err := p.client.GetBars(req.Symbol, marketdata.GetBarsRequest{
		TimeFrame: alpacaTimeFrame(req.Interval),
		Start:     req.Start,
		End:       req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", req.Symbol, err)
	}

	bars := make([]Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, Bar{
			Symbol:    req.Symbol,
			Timestamp: ab.Timestamp,
			Open:      decimal.NewFromFloat(ab.Open),
			High:      decimal.NewFromFloat(ab.High),
			Low:       decimal.NewFromFloat(ab.Low),
			Close:     decimal.NewFromFloat(ab.Close),
			Volume:    decimal.NewFromInt(int64(ab.Volume)),
		})
	}

	sortBars(bars)
	return filterRange(bars, req), nil
}
