package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
	"github.com/openbt/openbt/internal/testutils"
)

func newTestEngine(symbols []string, signals portfolio.SignalSource) (*Engine, *portfolio.SimulatedManager) {
	manager := portfolio.NewSimulatedManager(
		decimal.NewFromInt(100000), decimal.Zero, decimal.Zero)
	cfg := Config{
		Symbols:        symbols,
		StartDate:      testutils.SampleStart,
		EndDate:        testutils.SampleStart.AddDate(0, 0, 30),
		InitialCapital: decimal.NewFromInt(100000),
	}
	return New(cfg, manager, signals, nil), manager
}

// scriptedSource emits a fixed signal at chosen step indexes.
type scriptedSource struct {
	step    int
	scripts map[int]portfolio.Signal
}

func (s *scriptedSource) GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []portfolio.Signal {
	sig, ok := s.scripts[s.step]
	s.step++
	if !ok {
		return nil
	}
	if bar, present := bars[sig.Symbol]; present {
		sig.Price = bar.Close
	}
	return []portfolio.Signal{sig}
}

// gateSource blocks on the first step until released, so tests can observe
// the engine mid-run.
type gateSource struct {
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (g *gateSource) GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []portfolio.Signal {
	if !g.once {
		g.once = true
		close(g.entered)
		<-g.release
	}
	return nil
}

// faultySource panics on its first step and behaves on later runs.
type faultySource struct {
	fired bool
}

func (f *faultySource) GenerateSignals(ctx context.Context, bars map[string]marketdata.Bar) []portfolio.Signal {
	if !f.fired {
		f.fired = true
		panic("strategy blew up")
	}
	return nil
}

func TestRunHeterogeneousSeriesOrdering(t *testing.T) {
	eng, _ := newTestEngine([]string{"AAPL", "MSFT"}, nil)
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 5, 100),
		"MSFT": testutils.SampleBars("MSFT", 3, 200),
	}))

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateCompleted, eng.State())

	snaps := eng.Snapshots()
	// The run ends only when the longest series is exhausted.
	require.Len(t, snaps, 5)
	for i := 1; i < len(snaps); i++ {
		assert.False(t, snaps[i].Timestamp.Before(snaps[i-1].Timestamp),
			"snapshot timestamps must be non-decreasing")
	}
	// The shorter series stops contributing after it ends.
	assert.Len(t, snaps[0].Bars, 2)
	assert.Len(t, snaps[4].Bars, 1)
}

func TestRunExecutesApprovedSignals(t *testing.T) {
	src := &scriptedSource{scripts: map[int]portfolio.Signal{
		0: {Symbol: "AAPL", Side: portfolio.SideBuy, Quantity: decimal.NewFromInt(10), Strength: 1},
		3: {Symbol: "AAPL", Side: portfolio.SideSell, Quantity: decimal.NewFromInt(10), Strength: 1},
	}}
	eng, manager := newTestEngine([]string{"AAPL"}, src)
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 5, 100),
	}))

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalTrades)
	// Bought at 100, sold at 103.
	assert.Equal(t, 1, result.WinningTrades)
	assert.InDelta(t, 0.5, result.WinRate, 1e-9)
	assert.True(t, result.FinalCapital.GreaterThan(result.InitialCapital))

	snaps := eng.Snapshots()
	assert.Len(t, snaps[0].Trades, 1)
	assert.Len(t, snaps[1].Trades, 0)
	assert.Len(t, snaps[3].Trades, 1)
	// Fill timestamps come from simulation time, not wall clock.
	assert.Equal(t, testutils.SampleStart, manager.TradeHistory()[0].ExecutedAt)
}

func TestRunRejectsSecondConcurrentRun(t *testing.T) {
	gate := &gateSource{entered: make(chan struct{}), release: make(chan struct{})}
	eng, _ := newTestEngine([]string{"AAPL"}, gate)
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 3, 100),
	}))

	done := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background())
		done <- err
	}()

	<-gate.entered
	_, err := eng.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate.release)
	require.NoError(t, <-done)

	// The instance is reusable once the run resolves.
	_, err = eng.Run(context.Background())
	require.NoError(t, err)
}

func TestRunUsableAfterCollaboratorPanic(t *testing.T) {
	eng, _ := newTestEngine([]string{"AAPL"}, &faultySource{})
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 3, 100),
	}))

	require.Panics(t, func() {
		_, _ = eng.Run(context.Background())
	})

	// The run flag must have cleared so the engine accepts another run.
	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateCompleted, eng.State())
}

func TestStopFinishesCurrentStep(t *testing.T) {
	gate := &gateSource{entered: make(chan struct{}), release: make(chan struct{})}
	eng, _ := newTestEngine([]string{"AAPL"}, gate)
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 50, 100),
	}))

	done := make(chan struct{})
	go func() {
		_, _ = eng.Run(context.Background())
		close(done)
	}()

	<-gate.entered
	eng.Stop()
	close(gate.release)
	<-done

	assert.Equal(t, StateStopped, eng.State())
	// The in-flight step completed before the stop took effect.
	snaps := eng.Snapshots()
	require.NotEmpty(t, snaps)
	assert.Less(t, len(snaps), 50)
}

func TestContextCancellationStopsRun(t *testing.T) {
	gate := &gateSource{entered: make(chan struct{}), release: make(chan struct{})}
	eng, _ := newTestEngine([]string{"AAPL"}, gate)
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 50, 100),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = eng.Run(ctx)
		close(done)
	}()

	<-gate.entered
	cancel()
	close(gate.release)
	<-done

	assert.Equal(t, StateStopped, eng.State())
}

func TestLoadDataIntegrity(t *testing.T) {
	eng, _ := newTestEngine([]string{"AAPL", "MSFT"}, nil)

	err := eng.LoadData(map[string][]marketdata.Bar{})
	assert.EqualError(t, err, "no historical data loaded")

	err = eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 3, 100),
	})
	assert.EqualError(t, err, "missing data for symbol MSFT")

	err = eng.LoadData(map[string][]marketdata.Bar{
		"AAPL": testutils.SampleBars("AAPL", 3, 100),
		"MSFT": {},
	})
	assert.EqualError(t, err, "empty data series for symbol MSFT")
}

func TestLoadDataToleratesPartialCoverage(t *testing.T) {
	eng, _ := newTestEngine([]string{"AAPL"}, nil)
	// Series starts after the configured start date and ends well before
	// the end date. Tolerated with a warning.
	late := testutils.SampleBars("AAPL", 2, 100)
	for i := range late {
		late[i].Timestamp = late[i].Timestamp.AddDate(0, 0, 5)
	}
	require.NoError(t, eng.LoadData(map[string][]marketdata.Bar{"AAPL": late}))

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, eng.Snapshots(), 2)
	assert.NotNil(t, result)
}

func TestRunWithoutDataFails(t *testing.T) {
	eng, _ := newTestEngine([]string{"AAPL"}, nil)
	_, err := eng.Run(context.Background())
	assert.EqualError(t, err, "no historical data loaded")
	assert.Equal(t, StateIdle, eng.State())
}
