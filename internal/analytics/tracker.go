package analytics

import (
	"sync"
	"time"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/portfolio"
)

// PositionAttribution breaks a snapshot's performance down by position.
type PositionAttribution struct {
	Symbol        string        `json:"symbol"`
	Weight        float64       `json:"weight"`
	Return        float64       `json:"return"`
	Contribution  float64       `json:"contribution"`
	PnL           float64       `json:"pnl"`
	EntryPrice    float64       `json:"entry_price"`
	CurrentPrice  float64       `json:"current_price"`
	Quantity      float64       `json:"quantity"`
	HoldingPeriod time.Duration `json:"holding_period"`
}

// Snapshot is one observation of the portfolio with the metric bundle and
// attribution computed at that point in time.
type Snapshot struct {
	Timestamp   time.Time             `json:"timestamp"`
	Portfolio   *portfolio.Portfolio  `json:"portfolio"`
	Metrics     PortfolioMetrics      `json:"metrics"`
	Attribution []PositionAttribution `json:"attribution"`
	// TradeCount is the number of filled trades in the ledger at this point,
	// zero-PnL fills included.
	TradeCount int `json:"trade_count"`
}

// Tracker accumulates portfolio snapshots and trades and recomputes the full
// metric battery on every update. Safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex

	snapshots []*Snapshot
	trades    []*portfolio.Trade
	benchmark []float64

	// Per-symbol attribution history, kept for position drill-down.
	positionHistory map[string][]PositionAttribution

	bus *events.Bus
	log *logger.Logger
}

// NewTracker creates an empty tracker. The bus may be nil, in which case no
// events are published.
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		positionHistory: make(map[string][]PositionAttribution),
		bus:             bus,
		log:             logger.Component("analytics"),
	}
}

// SetBenchmark installs a benchmark return series used for beta, alpha, and
// information ratio on subsequent updates.
func (t *Tracker) SetBenchmark(returns []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.benchmark = append([]float64(nil), returns...)
}

// UpdatePortfolio records a new snapshot. The portfolio is deep copied so
// later mutations by the caller cannot corrupt history, and every metric is
// recomputed from the full history.
func (t *Tracker) UpdatePortfolio(p *portfolio.Portfolio) *Snapshot {
	t.mu.Lock()

	clone := p.Clone()
	ts := clone.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	values := make([]float64, 0, len(t.snapshots)+1)
	for _, s := range t.snapshots {
		values = append(values, s.Portfolio.TotalValue.InexactFloat64())
	}
	values = append(values, clone.TotalValue.InexactFloat64())

	filled := 0
	for _, trade := range t.trades {
		if trade.Status == portfolio.TradeStatusFilled {
			filled++
		}
	}

	snap := &Snapshot{
		Timestamp:   ts,
		Portfolio:   clone,
		Metrics:     computeMetrics(values, t.trades, t.benchmark),
		Attribution: attribution(clone, ts),
		TradeCount:  filled,
	}
	t.snapshots = append(t.snapshots, snap)

	for _, pa := range snap.Attribution {
		t.positionHistory[pa.Symbol] = append(t.positionHistory[pa.Symbol], pa)
	}

	bus := t.bus
	t.mu.Unlock()

	if bus != nil {
		bus.Publish(events.TopicPortfolioUpdated, snap)
	}
	return snap
}

// AddTrade appends a trade to the ledger. Trade statistics pick it up on the
// next snapshot.
func (t *Tracker) AddTrade(trade *portfolio.Trade) {
	if trade == nil {
		return
	}
	t.mu.Lock()
	t.trades = append(t.trades, trade)
	bus := t.bus
	t.mu.Unlock()

	if bus != nil {
		bus.Publish(events.TopicTradeAdded, trade)
	}
}

// LatestMetrics returns the metric bundle from the most recent snapshot.
func (t *Tracker) LatestMetrics() (PortfolioMetrics, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.snapshots) == 0 {
		return PortfolioMetrics{}, false
	}
	return t.snapshots[len(t.snapshots)-1].Metrics, true
}

// Snapshots returns the snapshot history.
func (t *Tracker) Snapshots() []*Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Snapshot, len(t.snapshots))
	copy(out, t.snapshots)
	return out
}

// Trades returns the recorded trade ledger.
func (t *Tracker) Trades() []*portfolio.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*portfolio.Trade, len(t.trades))
	copy(out, t.trades)
	return out
}

// PositionHistory returns the attribution history for one symbol.
func (t *Tracker) PositionHistory(symbol string) []PositionAttribution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	history := t.positionHistory[symbol]
	out := make([]PositionAttribution, len(history))
	copy(out, history)
	return out
}

// attribution computes the per-position breakdown for one snapshot.
func attribution(p *portfolio.Portfolio, now time.Time) []PositionAttribution {
	if len(p.Positions) == 0 {
		return nil
	}

	total := p.TotalValue.InexactFloat64()
	out := make([]PositionAttribution, 0, len(p.Positions))
	for _, pos := range p.Positions {
		entry := pos.EntryPrice.InexactFloat64()
		current := pos.CurrentPrice.InexactFloat64()
		qty := pos.Quantity.InexactFloat64()
		marketValue := pos.MarketValue.InexactFloat64()

		pa := PositionAttribution{
			Symbol:       pos.Symbol,
			EntryPrice:   entry,
			CurrentPrice: current,
			Quantity:     qty,
			PnL:          pos.UnrealizedPnL.InexactFloat64() + pos.RealizedPnL.InexactFloat64(),
		}
		if total > 0 {
			pa.Weight = marketValue / total
		}
		if entry > 0 {
			pa.Return = (current - entry) / entry
		}
		pa.Contribution = pa.Weight * pa.Return
		if !pos.OpenedAt.IsZero() {
			pa.HoldingPeriod = now.Sub(pos.OpenedAt)
		}
		out = append(out, pa)
	}
	return out
}
