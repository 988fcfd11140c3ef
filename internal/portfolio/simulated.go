package portfolio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/logger"
)

// SimulatedManager is an in-memory portfolio/risk collaborator for backtest
// runs. Fills apply slippage and commission; realized PnL is booked on sells
// into the trade's metadata.
type SimulatedManager struct {
	mu sync.RWMutex

	initialCapital decimal.Decimal
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal

	portfolio    *Portfolio
	trades       []*Trade
	valueHistory []float64
	clock        time.Time

	log *logger.Logger
}

// NewSimulatedManager creates a simulated portfolio with the given starting
// cash, commission rate, and slippage rate.
func NewSimulatedManager(initialCapital, commissionRate, slippageRate decimal.Decimal) *SimulatedManager {
	return &SimulatedManager{
		initialCapital: initialCapital,
		commissionRate: commissionRate,
		slippageRate:   slippageRate,
		portfolio: &Portfolio{
			Cash:       initialCapital,
			Positions:  make(map[string]*Position),
			TotalValue: initialCapital,
		},
		valueHistory: []float64{initialCapital.InexactFloat64()},
		log:          logger.Component("sim-portfolio"),
	}
}

// SetClock fixes the timestamp stamped onto fills and revaluations. The
// engine advances it to the simulation cursor each step.
func (m *SimulatedManager) SetClock(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = t
}

func (m *SimulatedManager) now() time.Time {
	if m.clock.IsZero() {
		return time.Now()
	}
	return m.clock
}

// UpdateMarketPrices revalues open positions and appends to the value
// history used by PerformanceSummary.
func (m *SimulatedManager) UpdateMarketPrices(prices map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for symbol, pos := range m.portfolio.Positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		pos.CurrentPrice = price
		pos.MarketValue = pos.Quantity.Mul(price)
		pos.UnrealizedPnL = price.Sub(pos.EntryPrice).Mul(pos.Quantity)
	}

	m.revalue()
	m.valueHistory = append(m.valueHistory, m.portfolio.TotalValue.InexactFloat64())
}

// revalue recomputes total value; callers hold the lock.
func (m *SimulatedManager) revalue() {
	total := m.portfolio.Cash
	for _, pos := range m.portfolio.Positions {
		total = total.Add(pos.MarketValue)
	}
	m.portfolio.TotalValue = total
	m.portfolio.UpdatedAt = m.now()
}

// ProcessSignal evaluates a candidate signal against available cash and
// holdings. Approved signals come back with a ready-to-execute trade priced
// with slippage.
func (m *SimulatedManager) ProcessSignal(signal Signal) SignalDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if signal.Quantity.LessThanOrEqual(decimal.Zero) {
		return SignalDecision{Reason: "signal quantity must be positive"}
	}

	price := signal.Price
	if price.LessThanOrEqual(decimal.Zero) {
		if pos, ok := m.portfolio.Positions[signal.Symbol]; ok {
			price = pos.CurrentPrice
		}
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return SignalDecision{Reason: fmt.Sprintf("no price available for %s", signal.Symbol)}
	}

	switch signal.Side {
	case SideBuy:
		fillPrice := price.Mul(decimal.NewFromInt(1).Add(m.slippageRate))
		gross := fillPrice.Mul(signal.Quantity)
		commission := gross.Mul(m.commissionRate)
		if gross.Add(commission).GreaterThan(m.portfolio.Cash) {
			return SignalDecision{Reason: fmt.Sprintf("insufficient cash for %s buy", signal.Symbol)}
		}
		return SignalDecision{Approved: true, Trade: m.buildTrade(signal, fillPrice, commission)}

	case SideSell:
		pos, ok := m.portfolio.Positions[signal.Symbol]
		if !ok || pos.Quantity.LessThan(signal.Quantity) {
			return SignalDecision{Reason: fmt.Sprintf("insufficient holdings to sell %s", signal.Symbol)}
		}
		fillPrice := price.Mul(decimal.NewFromInt(1).Sub(m.slippageRate))
		commission := fillPrice.Mul(signal.Quantity).Mul(m.commissionRate)
		return SignalDecision{Approved: true, Trade: m.buildTrade(signal, fillPrice, commission)}

	default:
		return SignalDecision{Reason: fmt.Sprintf("unknown signal side %q", signal.Side)}
	}
}

func (m *SimulatedManager) buildTrade(signal Signal, fillPrice, commission decimal.Decimal) *Trade {
	return &Trade{
		ID:         uuid.New().String(),
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Quantity:   signal.Quantity,
		Price:      fillPrice,
		Commission: commission,
		Status:     TradeStatusPending,
		ExecutedAt: m.now(),
	}
}

// ExecuteTrade applies the fill to cash and positions. Sells book realized
// PnL into the trade metadata.
func (m *SimulatedManager) ExecuteTrade(trade *Trade) ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if trade == nil {
		return ExecutionResult{Err: fmt.Errorf("nil trade")}
	}

	switch trade.Side {
	case SideBuy:
		cost := trade.Price.Mul(trade.Quantity).Add(trade.Commission)
		if cost.GreaterThan(m.portfolio.Cash) {
			trade.Status = TradeStatusRejected
			return ExecutionResult{Err: fmt.Errorf("insufficient cash executing %s buy", trade.Symbol)}
		}
		m.portfolio.Cash = m.portfolio.Cash.Sub(cost)
		m.applyBuy(trade)

	case SideSell:
		pos, ok := m.portfolio.Positions[trade.Symbol]
		if !ok || pos.Quantity.LessThan(trade.Quantity) {
			trade.Status = TradeStatusRejected
			return ExecutionResult{Err: fmt.Errorf("insufficient holdings executing %s sell", trade.Symbol)}
		}
		proceeds := trade.Price.Mul(trade.Quantity).Sub(trade.Commission)
		m.portfolio.Cash = m.portfolio.Cash.Add(proceeds)
		m.applySell(trade, pos)

	default:
		trade.Status = TradeStatusRejected
		return ExecutionResult{Err: fmt.Errorf("unknown trade side %q", trade.Side)}
	}

	trade.Status = TradeStatusFilled
	trade.ExecutedAt = m.now()
	m.trades = append(m.trades, trade)
	m.revalue()

	m.log.Symbol(trade.Symbol).Debug("trade filled",
		"side", trade.Side,
		"quantity", trade.Quantity.String(),
		"price", trade.Price.String())

	return ExecutionResult{Success: true, Trade: trade}
}

// applyBuy opens or averages into a position; callers hold the lock.
func (m *SimulatedManager) applyBuy(trade *Trade) {
	pos, ok := m.portfolio.Positions[trade.Symbol]
	if !ok {
		m.portfolio.Positions[trade.Symbol] = &Position{
			Symbol:       trade.Symbol,
			Quantity:     trade.Quantity,
			EntryPrice:   trade.Price,
			CurrentPrice: trade.Price,
			MarketValue:  trade.Price.Mul(trade.Quantity),
			OpenedAt:     m.now(),
		}
		return
	}

	// Average the entry price across the combined quantity.
	oldCost := pos.EntryPrice.Mul(pos.Quantity)
	newCost := trade.Price.Mul(trade.Quantity)
	combined := pos.Quantity.Add(trade.Quantity)
	pos.EntryPrice = oldCost.Add(newCost).Div(combined)
	pos.Quantity = combined
	pos.CurrentPrice = trade.Price
	pos.MarketValue = pos.Quantity.Mul(trade.Price)
	pos.UnrealizedPnL = trade.Price.Sub(pos.EntryPrice).Mul(pos.Quantity)
}

// applySell reduces or closes a position and books realized PnL; callers
// hold the lock.
func (m *SimulatedManager) applySell(trade *Trade, pos *Position) {
	realized := trade.Price.Sub(pos.EntryPrice).Mul(trade.Quantity).Sub(trade.Commission)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)

	if trade.Metadata == nil {
		trade.Metadata = make(map[string]float64, 1)
	}
	trade.Metadata[MetadataRealizedPnL] = realized.InexactFloat64()

	pos.Quantity = pos.Quantity.Sub(trade.Quantity)
	if pos.Quantity.IsZero() {
		delete(m.portfolio.Positions, trade.Symbol)
		return
	}
	pos.CurrentPrice = trade.Price
	pos.MarketValue = pos.Quantity.Mul(trade.Price)
	pos.UnrealizedPnL = trade.Price.Sub(pos.EntryPrice).Mul(pos.Quantity)
}

// Portfolio returns a deep copy of the current portfolio state.
func (m *SimulatedManager) Portfolio() *Portfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolio.Clone()
}

// TradeHistory returns executed trades in execution order.
func (m *SimulatedManager) TradeHistory() []*Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]*Trade, len(m.trades))
	copy(history, m.trades)
	return history
}

// PerformanceSummary derives coarse metrics from the value history and the
// trade ledger.
func (m *SimulatedManager) PerformanceSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := Summary{}
	initial := m.initialCapital.InexactFloat64()
	if initial > 0 && len(m.valueHistory) > 0 {
		summary.TotalReturn = (m.valueHistory[len(m.valueHistory)-1] - initial) / initial
	}

	summary.MaxDrawdown = maxDrawdown(m.valueHistory)
	summary.SharpeRatio = sharpeRatio(m.valueHistory)

	wins := 0
	for _, trade := range m.trades {
		if trade.RealizedPnL() > 0 {
			wins++
		}
	}
	if len(m.trades) > 0 {
		summary.WinRate = float64(wins) / float64(len(m.trades))
	}
	return summary
}

// maxDrawdown returns the worst peak-to-trough fraction over the value
// series.
func maxDrawdown(values []float64) float64 {
	var worst float64
	peak := math.Inf(-1)
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpeRatio computes a non-annualized Sharpe over step returns with a zero
// risk-free rate; the performance tracker owns the full metric battery.
func sharpeRatio(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns = append(returns, (values[i]-values[i-1])/values[i-1])
		}
	}
	if len(returns) < 2 {
		return 0
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		return 0
	}
	stdev, err := stats.StandardDeviationPopulation(returns)
	if err != nil || stdev == 0 {
		return 0
	}
	return mean / stdev
}
