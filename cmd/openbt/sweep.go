package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/openbt/openbt/internal/engine"
	"github.com/openbt/openbt/internal/marketdata"
	"github.com/openbt/openbt/internal/portfolio"
)

func newSweepCmd() *cobra.Command {
	flags := &runFlags{}
	var params []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a parameter sweep across backtest combinations",
		Long: `Runs one full backtest per combination in the Cartesian product of the
given parameter ranges, e.g. --param commission=0.001,0.005 --param slippage=0,0.001.
Supported parameters: capital, commission, slippage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ranges, err := parseParamRanges(params)
			if err != nil {
				return err
			}
			if len(ranges) == 0 {
				return fmt.Errorf("at least one --param range is required")
			}
			if err := validateSweepParams(ranges); err != nil {
				return err
			}
			return runSweep(cmd.Context(), flags, ranges)
		},
	}

	cmd.Flags().StringSliceVar(&flags.symbols, "symbols", nil, "symbols to backtest (default from config)")
	cmd.Flags().StringVar(&flags.start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&flags.capital, "capital", 0, "initial capital (default from config)")
	cmd.Flags().StringVar(&flags.provider, "provider", "", "data provider: api, alpaca, synthetic, csv")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter range as name=v1,v2,... (repeatable)")
	return cmd
}

// parseParamRanges turns "name=1,2,3" strings into value ranges.
func parseParamRanges(raw []string) (map[string][]float64, error) {
	ranges := make(map[string][]float64, len(raw))
	for _, spec := range raw {
		name, list, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q, expected name=v1,v2", spec)
		}
		var values []float64
		for _, field := range strings.Split(list, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q in --param %s: %w", field, name, err)
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("--param %s has no values", name)
		}
		ranges[name] = values
	}
	return ranges, nil
}

// validateSweepParams rejects parameter names no combination can apply.
func validateSweepParams(ranges map[string][]float64) error {
	for name := range ranges {
		switch name {
		case "capital", "commission", "slippage":
		default:
			return fmt.Errorf("unknown sweep parameter %q (supported: capital, commission, slippage)", name)
		}
	}
	return nil
}

// applySweepParams overlays one combination's values onto the base settings.
func applySweepParams(params map[string]float64, capital, commission, slippage float64) (float64, float64, float64) {
	if v, ok := params["capital"]; ok {
		capital = v
	}
	if v, ok := params["commission"]; ok {
		commission = v
	}
	if v, ok := params["slippage"]; ok {
		slippage = v
	}
	return capital, commission, slippage
}

func runSweep(ctx context.Context, flags *runFlags, ranges map[string][]float64) error {
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
	// One fetch shared across every combination.
	data := marketdata.FetchMultipleSymbols(ctx, provider, requests)

	factory := func(params map[string]float64) (*engine.Engine, portfolio.Manager, error) {
		runCapital, commission, slippage := applySweepParams(
			params, capital, appCfg.Backtest.CommissionRate, appCfg.Backtest.SlippageRate)
		manager := portfolio.NewSimulatedManager(
			decimal.NewFromFloat(runCapital),
			decimal.NewFromFloat(commission),
			decimal.NewFromFloat(slippage),
		)
		eng := engine.New(engine.Config{
			Symbols:        symbols,
			StartDate:      start,
			EndDate:        end,
			InitialCapital: decimal.NewFromFloat(runCapital),
		}, manager, nil, nil)
		if err := eng.LoadData(data); err != nil {
			return nil, nil, err
		}
		return eng, manager, nil
	}

	results, err := engine.Sweep(ctx, ranges, factory, nil)
	if err != nil {
		return err
	}

	printSweepResults(results)
	return nil
}

func printSweepResults(results map[string]*engine.Result) {
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return results[keys[i]].TotalReturn > results[keys[j]].TotalReturn
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Parameters", "Return", "Sharpe", "Max DD", "Trades"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnSeparator("")

	for _, key := range keys {
		r := results[key]
		table.Append([]string{
			key,
			fmt.Sprintf("%.2f%%", r.TotalReturn*100),
			fmt.Sprintf("%.2f", r.SharpeRatio),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown*100),
			fmt.Sprintf("%d", r.TotalTrades),
		})
	}
	table.Render()
	fmt.Printf("%d combinations evaluated\n", len(results))
}
