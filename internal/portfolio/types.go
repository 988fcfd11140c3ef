// Package portfolio defines the contracts the simulation engine drives on
// each time step, and a simulated implementation used for backtest runs.
// The live portfolio and risk evaluation services implement the same
// contracts in production.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or signal.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus tracks the execution state of a trade.
type TradeStatus string

const (
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusFilled   TradeStatus = "filled"
	TradeStatusRejected TradeStatus = "rejected"
)

// MetadataRealizedPnL is the trade metadata key carrying the realized
// profit or loss booked when a position is reduced. A trade lacking the key
// is treated as zero PnL.
const MetadataRealizedPnL = "realized_pnl"

// Trade is one executed (or attempted) order.
type Trade struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       Side               `json:"side"`
	Quantity   decimal.Decimal    `json:"quantity"`
	Price      decimal.Decimal    `json:"price"`
	Commission decimal.Decimal    `json:"commission"`
	Status     TradeStatus        `json:"status"`
	ExecutedAt time.Time          `json:"executed_at"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
}

// RealizedPnL reads the realized-PnL metadata; missing means zero.
func (t *Trade) RealizedPnL() float64 {
	if t.Metadata == nil {
		return 0
	}
	return t.Metadata[MetadataRealizedPnL]
}

// Position is an open holding in one symbol.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
}

// clone returns a deep copy of the position.
func (p *Position) clone() *Position {
	dup := *p
	return &dup
}

// Portfolio is the cash plus positions snapshot the engine marks to market
// every step.
type Portfolio struct {
	Cash       decimal.Decimal      `json:"cash"`
	Positions  map[string]*Position `json:"positions"`
	TotalValue decimal.Decimal      `json:"total_value"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// Clone returns a deep copy; snapshot consumers own their copy and never
// alias live state.
func (p *Portfolio) Clone() *Portfolio {
	dup := &Portfolio{
		Cash:       p.Cash,
		TotalValue: p.TotalValue,
		UpdatedAt:  p.UpdatedAt,
		Positions:  make(map[string]*Position, len(p.Positions)),
	}
	for symbol, pos := range p.Positions {
		dup.Positions[symbol] = pos.clone()
	}
	return dup
}

// Signal is a candidate trading action produced by the agent layer.
type Signal struct {
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Strength float64         `json:"strength"`
	Reason   string          `json:"reason"`
}

// SignalDecision is the risk evaluator's verdict on a signal.
type SignalDecision struct {
	Approved bool   `json:"approved"`
	Trade    *Trade `json:"trade,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ExecutionResult reports the outcome of executing an approved trade.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Trade   *Trade `json:"trade,omitempty"`
	Err     error  `json:"-"`
}

// Summary is the coarse performance view the engine folds into its terminal
// result.
type Summary struct {
	TotalReturn float64 `json:"total_return"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
}

// Manager is the portfolio/risk collaborator contract the engine drives.
type Manager interface {
	// UpdateMarketPrices revalues open positions against current prices.
	UpdateMarketPrices(prices map[string]decimal.Decimal)
	// ProcessSignal evaluates a signal and, if approved, returns the trade
	// to execute.
	ProcessSignal(signal Signal) SignalDecision
	// ExecuteTrade executes an approved trade.
	ExecuteTrade(trade *Trade) ExecutionResult
	// Portfolio returns the current portfolio state.
	Portfolio() *Portfolio
	// PerformanceSummary returns coarse performance metrics.
	PerformanceSummary() Summary
	// TradeHistory returns all executed trades in execution order.
	TradeHistory() []*Trade
}
