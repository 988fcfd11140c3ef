package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/circuitbreaker"
	"github.com/openbt/openbt/internal/logger"
)

const (
	defaultAPIBaseURL = "https://www.alphavantage.co/query"
	// Free-tier quota of the upstream time-series API.
	apiRequestsPerMinute = 5
)

// apiProvider fetches bars from an external time-series HTTP API. The API
// returns a JSON object keyed by series name; values are maps from timestamp
// to OHLCV fields.
type apiProvider struct {
	apiKey     string
	baseURL    string
	rpm        int
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	log        *logger.Logger
}

func newAPIProvider(cfg Config) *apiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = apiRequestsPerMinute
	}
	return &apiProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		rpm:        rpm,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    circuitbreaker.New("marketdata-api", nil),
		log:        logger.Component("marketdata").Provider("api"),
	}
}

func (p *apiProvider) Name() string { return "api" }

func (p *apiProvider) RequestsPerMinute() int { return p.rpm }

// seriesFunction maps the requested interval to the provider's series
// endpoint. All intraday resolutions collapse to the single intraday mode.
func seriesFunction(interval Interval) (function, seriesKey string) {
	switch {
	case interval.IsIntraday():
		return "TIME_SERIES_INTRADAY", fmt.Sprintf("Time Series (%s)", interval)
	case interval == IntervalWeekly:
		return "TIME_SERIES_WEEKLY", "Weekly Time Series"
	case interval == IntervalMonthly:
		return "TIME_SERIES_MONTHLY", "Monthly Time Series"
	default:
		return "TIME_SERIES_DAILY", "Time Series (Daily)"
	}
}

func (p *apiProvider) FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	function, seriesKey := seriesFunction(req.Interval)

	query := url.Values{}
	query.Set("function", function)
	query.Set("symbol", req.Symbol)
	query.Set("outputsize", "full")
	query.Set("apikey", p.apiKey)
	if req.Interval.IsIntraday() {
		query.Set("interval", string(req.Interval))
	}

	var body []byte
	err := p.breaker.Execute(ctx, func() error {
		var fetchErr error
		body, fetchErr = p.get(ctx, query)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	bars, err := p.parseSeries(body, seriesKey, req.Symbol)
	if err != nil {
		return nil, err
	}

	sortBars(bars)
	return filterRange(bars, req), nil
}

func (p *apiProvider) get(ctx context.Context, query url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting time series: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("time series API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// parseSeries decodes the keyed time-series object into bars. Provider-level
// error and rate-limit payloads arrive as 200 responses with a well-known
// field instead of a series; those surface as errors.
func (p *apiProvider) parseSeries(body []byte, seriesKey, symbol string) ([]Bar, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	for _, field := range []string{"Error Message", "Note", "Information"} {
		if raw, ok := payload[field]; ok {
			var msg string
			_ = json.Unmarshal(raw, &msg)
			return nil, fmt.Errorf("provider error for %s: %s", symbol, msg)
		}
	}

	raw, ok := payload[seriesKey]
	if !ok {
		return nil, fmt.Errorf("response for %s missing series %q", symbol, seriesKey)
	}

	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decoding series for %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(series))
	for stamp, fields := range series {
		bar, err := parseAPIBar(stamp, fields, symbol)
		if err != nil {
			p.log.Symbol(symbol).WithError(err).Warn("skipping malformed bar", "timestamp", stamp)
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseAPIBar(stamp string, fields map[string]string, symbol string) (Bar, error) {
	ts, err := parseAPITimestamp(stamp)
	if err != nil {
		return Bar{}, err
	}

	bar := Bar{Symbol: symbol, Timestamp: ts}
	assignments := []struct {
		key  string
		dest *decimal.Decimal
	}{
		{"1. open", &bar.Open},
		{"2. high", &bar.High},
		{"3. low", &bar.Low},
		{"4. close", &bar.Close},
		{"5. volume", &bar.Volume},
	}
	for _, a := range assignments {
		value, ok := fields[a.key]
		if !ok {
			return Bar{}, fmt.Errorf("missing field %q", a.key)
		}
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return Bar{}, fmt.Errorf("invalid %q value %q: %w", a.key, value, err)
		}
		*a.dest = parsed
	}
	return bar, nil
}

func parseAPITimestamp(s string) (time.Time, error) {
	for _, format := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
