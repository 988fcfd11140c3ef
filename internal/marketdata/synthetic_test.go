package marketdata

import (
	"context"
	"testing"
)

func TestSynthetic_Deterministic(t *testing.T) {
	start, end := testRange()
	p := newSyntheticProvider(Config{Seed: 42})
	req := Request{Symbol: "AAPL", Start: start, End: end, Interval: IntervalDaily}

	first, err := p.FetchHistoricalData(context.Background(), req)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := p.FetchHistoricalData(context.Background(), req)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if len(first) == 0 {
		t.Fatal("expected generated bars")
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Close.Equal(second[i].Close) || !first[i].Timestamp.Equal(second[i].Timestamp) {
			t.Fatalf("bar %d differs between runs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestSynthetic_SymbolsDiffer(t *testing.T) {
	start, end := testRange()
	p := newSyntheticProvider(Config{Seed: 42})

	aapl, _ := p.FetchHistoricalData(context.Background(), Request{Symbol: "AAPL", Start: start, End: end, Interval: IntervalDaily})
	msft, _ := p.FetchHistoricalData(context.Background(), Request{Symbol: "MSFT", Start: start, End: end, Interval: IntervalDaily})

	if aapl[0].Close.Equal(msft[0].Close) {
		t.Error("different symbols should walk from different levels")
	}
}

func TestSynthetic_OrderedAndBounded(t *testing.T) {
	start, end := testRange()
	p := newSyntheticProvider(Config{})

	bars, err := p.FetchHistoricalData(context.Background(), Request{Symbol: "SPY", Start: start, End: end, Interval: IntervalDaily})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	for i, bar := range bars {
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			t.Errorf("bar %d timestamp %s outside [%s, %s]", i, bar.Timestamp, start, end)
		}
		if i > 0 && !bars[i-1].Timestamp.Before(bar.Timestamp) {
			t.Errorf("bars not strictly ascending at %d", i)
		}
		if bar.High.LessThan(bar.Low) {
			t.Errorf("bar %d high < low", i)
		}
		if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) {
			t.Errorf("bar %d high below open/close", i)
		}
		if bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
			t.Errorf("bar %d low above open/close", i)
		}
	}
}

func TestSynthetic_InvalidRequest(t *testing.T) {
	start, end := testRange()
	p := newSyntheticProvider(Config{})

	if _, err := p.FetchHistoricalData(context.Background(), Request{Symbol: "", Start: start, End: end}); err == nil {
		t.Error("expected validation error for empty symbol")
	}
	if _, err := p.FetchHistoricalData(context.Background(), Request{Symbol: "AAPL", Start: end, End: start}); err == nil {
		t.Error("expected validation error for inverted range")
	}
}
