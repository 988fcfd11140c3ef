package marketdata

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// stubProvider returns canned series and fails on request for symbols listed
// in failSymbols.
type stubProvider struct {
	series      map[string][]Bar
	failSymbols map[string]bool
	calls       int
}

func (s *stubProvider) Name() string           { return "stub" }
func (s *stubProvider) RequestsPerMinute() int { return 0 }

func (s *stubProvider) FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error) {
	s.calls++
	if s.failSymbols[req.Symbol] {
		return nil, fmt.Errorf("simulated upstream failure for %s", req.Symbol)
	}
	return s.series[req.Symbol], nil
}

func testRange() (time.Time, time.Time) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func TestNewProvider_Kinds(t *testing.T) {
	cases := []struct {
		kind    Kind
		cfg     Config
		wantErr bool
	}{
		{KindSynthetic, Config{}, false},
		{KindCSV, Config{CSVDir: t.TempDir()}, false},
		{KindAPI, Config{APIKey: "token"}, false},
		{KindAPI, Config{}, true},
		{KindAlpaca, Config{AlpacaAPIKey: "k", AlpacaAPISecret: "s"}, false},
		{KindAlpaca, Config{AlpacaAPIKey: "k"}, true},
		{Kind("bogus"), Config{}, true},
	}

	for _, tc := range cases {
		p, err := NewProvider(tc.kind, tc.cfg)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NewProvider(%q) expected error", tc.kind)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewProvider(%q): %v", tc.kind, err)
			continue
		}
		if p == nil {
			t.Errorf("NewProvider(%q) returned nil provider", tc.kind)
		}
	}
}

func TestFetchMultipleSymbols_PartialFailure(t *testing.T) {
	start, end := testRange()
	good := []Bar{{Symbol: "AAPL", Timestamp: start}}
	stub := &stubProvider{
		series:      map[string][]Bar{"AAPL": good, "MSFT": {{Symbol: "MSFT", Timestamp: start}}},
		failSymbols: map[string]bool{"FAIL": true},
	}

	requests := []Request{
		{Symbol: "AAPL", Start: start, End: end, Interval: IntervalDaily},
		{Symbol: "FAIL", Start: start, End: end, Interval: IntervalDaily},
		{Symbol: "MSFT", Start: start, End: end, Interval: IntervalDaily},
	}

	results := FetchMultipleSymbols(context.Background(), stub, requests)

	if len(results) != 3 {
		t.Fatalf("expected entries for all 3 symbols, got %d", len(results))
	}
	if len(results["AAPL"]) != 1 {
		t.Errorf("AAPL series length = %d, want 1", len(results["AAPL"]))
	}
	if bars, ok := results["FAIL"]; !ok || len(bars) != 0 {
		t.Errorf("failing symbol should yield an empty series, got %v (present=%v)", bars, ok)
	}
	if len(results["MSFT"]) != 1 {
		t.Errorf("batch should continue past a failure; MSFT series length = %d", len(results["MSFT"]))
	}
	if stub.calls != 3 {
		t.Errorf("expected 3 fetch calls, got %d", stub.calls)
	}
}

func TestRequest_Validate(t *testing.T) {
	start, end := testRange()

	valid := Request{Symbol: "AAPL", Start: start, End: end, Interval: IntervalDaily}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	if err := (Request{Start: start, End: end}).Validate(); err == nil {
		t.Error("missing symbol should fail validation")
	}
	if err := (Request{Symbol: "AAPL", Start: end, End: start}).Validate(); err == nil {
		t.Error("inverted range should fail validation")
	}
	if err := (Request{Symbol: "AAPL", Start: start, End: start}).Validate(); err == nil {
		t.Error("zero-length range should fail validation")
	}
}

func TestInterval_IsIntraday(t *testing.T) {
	for _, interval := range []Interval{Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min} {
		if !interval.IsIntraday() {
			t.Errorf("%s should be intraday", interval)
		}
	}
	for _, interval := range []Interval{IntervalDaily, IntervalWeekly, IntervalMonthly} {
		if interval.IsIntraday() {
			t.Errorf("%s should not be intraday", interval)
		}
	}
}
