// Package analytics tracks portfolio performance over a backtest run:
// per-snapshot metric bundles, per-position attribution, trade statistics,
// and time-series export.
package analytics

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/openbt/openbt/internal/portfolio"
)

const (
	// Annual risk-free rate assumed for Sharpe/Sortino.
	annualRiskFreeRate = 0.02
	// Trading days used for annualization and de-annualization.
	tradingDaysPerYear = 252
)

// PortfolioMetrics is the full metric bundle recomputed from the entire
// snapshot history on every update.
type PortfolioMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	DailyReturn      float64 `json:"daily_return"`
	CumulativeReturn float64 `json:"cumulative_return"`

	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`

	MaxDrawdown     float64 `json:"max_drawdown"`
	CurrentDrawdown float64 `json:"current_drawdown"`
	CalmarRatio     float64 `json:"calmar_ratio"`

	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`

	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	InformationRatio float64 `json:"information_ratio"`
}

// dailyRiskFree is the annual risk-free rate de-annualized to one step.
func dailyRiskFree() float64 {
	return annualRiskFreeRate / tradingDaysPerYear
}

// stepReturns converts a total-value series into per-step relative returns.
func stepReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	return returns
}

// computeMetrics derives the full bundle from the value history, the trade
// ledger, and an optional benchmark return series.
func computeMetrics(values []float64, trades []*portfolio.Trade, benchmark []float64) PortfolioMetrics {
	m := PortfolioMetrics{}
	if len(values) == 0 {
		return m
	}

	initial := values[0]
	latest := values[len(values)-1]
	if initial != 0 {
		m.TotalReturn = (latest - initial) / initial
	}
	m.CumulativeReturn = m.TotalReturn

	if len(values) >= 2 {
		prev := values[len(values)-2]
		if prev != 0 {
			m.DailyReturn = (latest - prev) / prev
		}
	}

	returns := stepReturns(values)
	m.Volatility, m.SharpeRatio, m.SortinoRatio = riskAdjusted(returns)

	m.MaxDrawdown, m.CurrentDrawdown = drawdowns(values)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.TotalReturn / m.MaxDrawdown
	}

	applyTradeStats(&m, trades)
	applyBenchmarkStats(&m, returns, benchmark)
	return m
}

// riskAdjusted computes annualized volatility plus Sharpe and Sortino over
// the per-step return series.
func riskAdjusted(returns []float64) (volatility, sharpe, sortino float64) {
	if len(returns) < 2 {
		return 0, 0, 0
	}

	stdev, err := stats.StandardDeviationPopulation(returns)
	if err != nil {
		return 0, 0, 0
	}
	volatility = stdev * math.Sqrt(tradingDaysPerYear)

	mean, err := stats.Mean(returns)
	if err != nil {
		return volatility, 0, 0
	}
	excess := mean - dailyRiskFree()

	if stdev > 0 {
		sharpe = excess / stdev
	}

	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		// No adverse observations: an undefined ratio is a materially
		// different signal from zero, so keep the infinity sentinel.
		if mean > 0 {
			sortino = math.Inf(1)
		}
		return volatility, sharpe, sortino
	}

	downside, err := stats.StandardDeviationPopulation(negative)
	if err == nil && downside > 0 {
		sortino = excess / downside
	}
	return volatility, sharpe, sortino
}

// drawdowns returns the worst and current peak-to-trough fractions across
// the whole value history.
func drawdowns(values []float64) (maxDD, currentDD float64) {
	peak := math.Inf(-1)
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
			currentDD = dd
		}
	}
	return maxDD, currentDD
}

// applyTradeStats fills the trade-derived fields from filled trades only.
// Wins and losses are read from the realized-PnL metadata; a trade lacking
// the field counts as zero PnL.
func applyTradeStats(m *PortfolioMetrics, trades []*portfolio.Trade) {
	var grossProfit, grossLoss float64
	filled := 0

	for _, trade := range trades {
		if trade.Status != portfolio.TradeStatusFilled {
			continue
		}
		filled++
		pnl := trade.RealizedPnL()
		switch {
		case pnl > 0:
			m.WinningTrades++
			grossProfit += pnl
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		case pnl < 0:
			m.LosingTrades++
			grossLoss += -pnl
			if pnl < m.LargestLoss {
				m.LargestLoss = pnl
			}
		}
	}

	if filled > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(filled)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss / float64(m.LosingTrades)
	}

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}
}

// applyBenchmarkStats computes beta, alpha, and information ratio against
// the benchmark return series. The two series are right-aligned and
// truncated to the shorter length; without a benchmark all three stay zero.
func applyBenchmarkStats(m *PortfolioMetrics, returns, benchmark []float64) {
	if len(benchmark) == 0 || len(returns) == 0 {
		return
	}

	n := len(returns)
	if len(benchmark) < n {
		n = len(benchmark)
	}
	if n < 2 {
		return
	}
	p := returns[len(returns)-n:]
	b := benchmark[len(benchmark)-n:]

	cov, err := stats.CovariancePopulation(p, b)
	if err != nil {
		return
	}
	benchVar, err := stats.PopulationVariance(b)
	if err != nil || benchVar == 0 {
		return
	}
	m.Beta = cov / benchVar

	meanP, _ := stats.Mean(p)
	meanB, _ := stats.Mean(b)
	rf := dailyRiskFree()
	m.Alpha = (meanP - rf) - m.Beta*(meanB-rf)

	active := make([]float64, n)
	for i := range active {
		active[i] = p[i] - b[i]
	}
	trackingError, err := stats.StandardDeviationPopulation(active)
	if err != nil || trackingError == 0 {
		return
	}
	meanActive, _ := stats.Mean(active)
	m.InformationRatio = meanActive / trackingError
}
