// Package engine drives one backtest run: it replays multi-symbol historical
// bars through the portfolio collaborator on a shared time cursor, records a
// snapshot per step, and produces the terminal result. It also runs
// parameter sweeps over strategy configurations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
)

// State is the engine lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// ErrAlreadyRunning is returned when Run is called on an engine that has an
// active run.
var ErrAlreadyRunning = errors.New("backtest already running")

// Config describes one backtest run.
type Config struct {
	Symbols        []string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital decimal.Decimal
}

// Snapshot captures one simulated time step.
type Snapshot struct {
	Timestamp time.Time                 `json:"timestamp"`
	Portfolio *portfolio.Portfolio      `json:"portfolio"`
	Bars      map[string]marketdata.Bar `json:"bars"`
	Signals   []portfolio.Signal        `json:"signals"`
	Trades    []*portfolio.Trade        `json:"trades"`
	Metrics   portfolio.Summary         `json:"metrics"`
}

// Progress reports how far a run has advanced, as cursor over the longest
// series length.
type Progress struct {
	RunID      string  `json:"run_id"`
	Cursor     int     `json:"cursor"`
	TotalSteps int     `json:"total_steps"`
	Fraction   float64 `json:"fraction"`
}

// Result is the terminal artifact of a completed run.
type Result struct {
	RunID          string             `json:"run_id"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	FinalCapital   decimal.Decimal    `json:"final_capital"`
	TotalReturn    float64            `json:"total_return"`
	MaxDrawdown    float64            `json:"max_drawdown"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	TotalTrades    int                `json:"total_trades"`
	WinningTrades  int                `json:"winning_trades"`
	WinRate        float64            `json:"win_rate"`
	Trades         []*portfolio.Trade `json:"trades"`
}

// clock is implemented by portfolio managers that stamp fills with
// simulation time instead of wall time.
type clock interface {
	SetClock(time.Time)
}

// Engine replays loaded bar series through the portfolio collaborator. One
// engine instance supports one active run at a time; Run resets cursor and
// snapshots so an instance can be reused sequentially.
type Engine struct {
	id      string
	cfg     Config
	manager portfolio.Manager
	signals portfolio.SignalSource
	bus     *events.Bus
	log     *logger.Logger

	running atomic.Bool

	mu        sync.Mutex
	state     State
	data      map[string][]marketdata.Bar
	maxLength int
	snapshots []*Snapshot
}

// New creates an engine for one run. The bus may be nil; signals may be nil,
// which means no trading activity (a pure replay).
func New(cfg Config, manager portfolio.Manager, signals portfolio.SignalSource, bus *events.Bus) *Engine {
	if signals == nil {
		signals = portfolio.NoopSignalSource{}
	}
	id := uuid.New().String()
	return &Engine{
		id:      id,
		cfg:     cfg,
		manager: manager,
		signals: signals,
		bus:     bus,
		log:     logger.Component("engine").WithField("run_id", id),
		state:   StateIdle,
	}
}

// ID returns the run identifier.
func (e *Engine) ID() string { return e.id }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshots returns the snapshots recorded so far.
func (e *Engine) Snapshots() []*Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Snapshot, len(e.snapshots))
	copy(out, e.snapshots)
	return out
}

// LoadData installs the per-symbol bar series and verifies integrity: the
// set must be non-empty, every configured symbol must be present, and no
// series may be empty. Series that only partially cover the configured date
// range are tolerated with a warning.
func (e *Engine) LoadData(data map[string][]marketdata.Bar) error {
	if len(data) == 0 {
		return errors.New("no historical data loaded")
	}
	for _, symbol := range e.cfg.Symbols {
		series, ok := data[symbol]
		if !ok {
			return fmt.Errorf("missing data for symbol %s", symbol)
		}
		if len(series) == 0 {
			return fmt.Errorf("empty data series for symbol %s", symbol)
		}
	}

	maxLength := 0
	for symbol, series := range data {
		if len(series) > maxLength {
			maxLength = len(series)
		}
		first := series[0].Timestamp
		last := series[len(series)-1].Timestamp
		if !e.cfg.StartDate.IsZero() && first.After(e.cfg.StartDate) {
			e.log.WithField("symbol", symbol).WithField("first_bar", first).
				Warn("Series starts after configured start date")
		}
		if !e.cfg.EndDate.IsZero() && last.Before(e.cfg.EndDate) {
			e.log.WithField("symbol", symbol).WithField("last_bar", last).
				Warn("Series ends before configured end date")
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = data
	e.maxLength = maxLength
	return nil
}

// Run executes the full replay loop. It fails immediately if a run is
// already active or no data is loaded. Context cancellation is honored
// between steps, like Stop.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	// The flag must clear even when a collaborator panics mid-step.
	defer e.running.Store(false)

	e.mu.Lock()
	if len(e.data) == 0 {
		e.mu.Unlock()
		return nil, errors.New("no historical data loaded")
	}
	e.state = StateRunning
	e.snapshots = e.snapshots[:0]
	total := e.maxLength
	e.mu.Unlock()

	e.publish(events.TopicBacktestStarted, Progress{RunID: e.id, TotalSteps: total})
	e.log.WithField("total_steps", total).Info("Backtest run started")

	stopped := false
	for cursor := 0; cursor < total; cursor++ {
		if !e.running.Load() {
			stopped = true
			break
		}
		if ctx.Err() != nil {
			stopped = true
			e.publish(events.TopicBacktestStopped, Progress{RunID: e.id, Cursor: cursor, TotalSteps: total})
			break
		}

		if done := e.step(ctx, cursor); done {
			break
		}

		e.publish(events.TopicBacktestProgress, Progress{
			RunID:      e.id,
			Cursor:     cursor + 1,
			TotalSteps: total,
			Fraction:   float64(cursor+1) / float64(total),
		})
	}

	e.running.Store(false)
	e.mu.Lock()
	if stopped {
		e.state = StateStopped
	} else {
		e.state = StateCompleted
	}
	e.mu.Unlock()

	result := e.buildResult()
	if !stopped {
		e.publish(events.TopicBacktestCompleted, result)
		e.log.WithField("total_trades", result.TotalTrades).Info("Backtest run completed")
	}
	return result, nil
}

// Stop requests a cooperative stop. The in-flight step finishes; the loop
// observes the cleared flag before the next step.
func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) {
		e.publish(events.TopicBacktestStopped, Progress{RunID: e.id})
		e.log.Info("Backtest stop requested")
	}
}

// step executes one simulated time step at the cursor. It returns true when
// every series is exhausted.
func (e *Engine) step(ctx context.Context, cursor int) bool {
	bars := make(map[string]marketdata.Bar)
	var stepTime time.Time

	e.mu.Lock()
	for symbol, series := range e.data {
		if cursor >= len(series) {
			continue
		}
		bar := series[cursor]
		bars[symbol] = bar
		if stepTime.IsZero() || bar.Timestamp.Before(stepTime) {
			stepTime = bar.Timestamp
		}
	}
	e.mu.Unlock()

	if len(bars) == 0 {
		return true
	}

	if c, ok := e.manager.(clock); ok {
		c.SetClock(stepTime)
	}

	prices := make(map[string]decimal.Decimal, len(bars))
	for symbol, bar := range bars {
		prices[symbol] = bar.Close
	}
	e.manager.UpdateMarketPrices(prices)

	signals := e.signals.GenerateSignals(ctx, bars)
	executed := make([]*portfolio.Trade, 0)
	for _, signal := range signals {
		decision := e.manager.ProcessSignal(signal)
		if !decision.Approved {
			continue
		}
		res := e.manager.ExecuteTrade(decision.Trade)
		if res.Success {
			executed = append(executed, res.Trade)
		} else if res.Err != nil {
			e.log.WithError(res.Err).WithField("symbol", signal.Symbol).Warn("Trade execution failed")
		}
	}

	snap := &Snapshot{
		Timestamp: stepTime,
		Portfolio: e.manager.Portfolio(),
		Bars:      bars,
		Signals:   signals,
		Trades:    executed,
		Metrics:   e.manager.PerformanceSummary(),
	}

	e.mu.Lock()
	e.snapshots = append(e.snapshots, snap)
	e.mu.Unlock()

	e.publish(events.TopicBacktestStep, snap)
	return false
}

// buildResult folds the manager's trade history and summary into the
// terminal result. A win is a trade whose realized PnL is positive.
func (e *Engine) buildResult() *Result {
	trades := e.manager.TradeHistory()
	summary := e.manager.PerformanceSummary()
	final := e.manager.Portfolio().TotalValue

	wins := 0
	for _, t := range trades {
		if t.RealizedPnL() > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}

	return &Result{
		RunID:          e.id,
		StartDate:      e.cfg.StartDate,
		EndDate:        e.cfg.EndDate,
		InitialCapital: e.cfg.InitialCapital,
		FinalCapital:   final,
		TotalReturn:    summary.TotalReturn,
		MaxDrawdown:    summary.MaxDrawdown,
		SharpeRatio:    summary.SharpeRatio,
		TotalTrades:    len(trades),
		WinningTrades:  wins,
		WinRate:        winRate,
		Trades:         trades,
	}
}

func (e *Engine) publish(topic string, payload interface{}) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}
