package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/openbt/openbt/internal/analytics"
	"github.com/openbt/openbt/internal/engine"
	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
)

type runFlags struct {
	symbols   []string
	start     string
	end       string
	capital   float64
	provider  string
	exportCSV string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single backtest and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.symbols, "symbols", nil, "symbols to backtest (default from config)")
	cmd.Flags().StringVar(&flags.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&flags.capital, "capital", 0, "initial capital (default from config)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "data provider: api, alpaca, synthetic, csv")
	cmd.Flags().StringVar(&flags.exportCSV, "export-csv", "", "write the performance time series to this file")
	return cmd
}

func resolveRunInputs(flags *runFlags) ([]string, time.Time, time.Time, float64, marketdata.Kind, error) {
	symbols := flags.symbols
	if len(symbols) == 0 {
		symbols = appCfg.Backtest.Symbols
	}
	capital := flags.capital
	if capital <= 0 {
		capital = appCfg.Backtest.InitialCapital
	}
	provider := flags.provider
	if provider == "" {
		provider = appCfg.Data.Provider
	}

	end := time.Now().Truncate(24 * time.Hour)
	start := end.AddDate(-1, 0, 0)
	var err error
	if flags.start != "" {
		if start, err = time.Parse("2006-01-02", flags.start); err != nil {
			return nil, time.Time{}, time.Time{}, 0, "", fmt.Errorf("invalid start date: %w", err)
		}
	}
	if flags.end != "" {
		if end, err = time.Parse("2006-01-02", flags.end); err != nil {
			return nil, time.Time{}, time.Time{}, 0, "", fmt.Errorf("invalid end date: %w", err)
		}
	}
	return symbols, start, end, capital, marketdata.Kind(provider), nil
}

func runBacktest(ctx context.Context, flags *runFlags) error {
	symbols, start, end, capital, kind, err := resolveRunInputs(flags)
	if err != nil {
		return err
	}

	provider, err := marketdata.NewProvider(kind, appCfg.Data.ProviderConfig())
	if err != nil {
		return err
	}

	requests := make([]marketdata.Request, 0, len(symbols))
	for _, symbol := range symbols {
		requests = append(requests, marketdata.Request{
			Symbol:   symbol,
			Start:    start,
			End:      end,
			Interval: marketdata.IntervalDaily,
		})
	}
	data := marketdata.FetchMultipleSymbols(ctx, provider, requests)

	bus := events.NewBus()
	manager := portfolio.NewSimulatedManager(
		decimal.NewFromFloat(capital),
		decimal.NewFromFloat(appCfg.Backtest.CommissionRate),
		decimal.NewFromFloat(appCfg.Backtest.SlippageRate),
	)

	tracker := analytics.NewTracker(bus)
	trackStep := func(snap *engine.Snapshot) {
		tracker.UpdatePortfolio(snap.Portfolio)
		for _, trade := range snap.Trades {
			tracker.AddTrade(trade)
		}
	}
	if err := bus.Subscribe(events.TopicBacktestStep, trackStep); err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Symbols:        symbols,
		StartDate:      start,
		EndDate:        end,
		InitialCapital: decimal.NewFromFloat(capital),
	}, manager, nil, bus)

	if err := eng.LoadData(data); err != nil {
		return err
	}
	result, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	printResult(result, tracker)

	if flags.exportCSV != "" {
		csv, err := tracker.ExportCSV()
		if err != nil {
			return fmt.Errorf("exporting CSV: %w", err)
		}
		if err := os.WriteFile(flags.exportCSV, []byte(csv), 0o644); err != nil {
			return fmt.Errorf("writing CSV: %w", err)
		}
		fmt.Printf("Performance series written to %s\n", flags.exportCSV)
	}
	return nil
}

func printResult(result *engine.Result, tracker *analytics.Tracker) {
	fmt.Println("Backtest Result")
	fmt.Println("===============")
	fmt.Printf("Period:           %s to %s\n",
		result.StartDate.Format("2006-01-02"), result.EndDate.Format("2006-01-02"))
	fmt.Printf("Initial capital:  $%s\n", result.InitialCapital.StringFixed(2))
	fmt.Printf("Final capital:    $%s\n", result.FinalCapital.StringFixed(2))
	fmt.Printf("Total return:     %.2f%%\n", result.TotalReturn*100)
	fmt.Printf("Max drawdown:     %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("Sharpe ratio:     %.2f\n", result.SharpeRatio)
	fmt.Printf("Trades:           %d (%d winning, %.1f%% win rate)\n",
		result.TotalTrades, result.WinningTrades, result.WinRate*100)

	if metrics, ok := tracker.LatestMetrics(); ok {
		fmt.Printf("Volatility:       %.2f%%\n", metrics.Volatility*100)
		fmt.Printf("Sortino ratio:    %.2f\n", metrics.SortinoRatio)
		fmt.Printf("Calmar ratio:     %.2f\n", metrics.CalmarRatio)
	}
}
