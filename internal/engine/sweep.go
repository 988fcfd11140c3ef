package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/logger"
	"github.com/openbt/openbt/internal/portfolio"
)

// SweepProgress is published after each completed combination.
type SweepProgress struct {
	Combination string  `json:"combination"`
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	Fraction    float64 `json:"fraction"`
}

// RunFactory builds a fresh engine and portfolio manager for one parameter
// combination. Each combination gets isolated state so results are
// comparable.
type RunFactory func(params map[string]float64) (*Engine, portfolio.Manager, error)

// Sweep runs a full backtest for every combination in the Cartesian product
// of the parameter ranges and returns results keyed by combination string.
// The key is the sorted "name=value" pairs joined by commas, so it is
// independent of map iteration order. Cost is the product of the range
// cardinalities; callers bound the search space.
func Sweep(ctx context.Context, ranges map[string][]float64, factory RunFactory, bus *events.Bus) (map[string]*Result, error) {
	combos := combinations(ranges)
	results := make(map[string]*Result, len(combos))
	log := logger.Component("sweep")

	for i, params := range combos {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		key := combinationKey(params)
		eng, _, err := factory(params)
		if err != nil {
			return results, fmt.Errorf("building run for %s: %w", key, err)
		}

		result, err := eng.Run(ctx)
		if err != nil {
			if bus != nil {
				bus.Publish(events.TopicBacktestError, err)
			}
			return results, fmt.Errorf("running combination %s: %w", key, err)
		}
		results[key] = result

		progress := SweepProgress{
			Combination: key,
			Completed:   i + 1,
			Total:       len(combos),
			Fraction:    float64(i+1) / float64(len(combos)),
		}
		if bus != nil {
			bus.Publish(events.TopicSweepProgress, progress)
		}
		log.WithField("combination", key).
			WithField("completed", i+1).
			WithField("total", len(combos)).
			Info("Sweep combination finished")
	}

	return results, nil
}

// combinations expands the ranges into the full Cartesian product. Parameter
// names are iterated in sorted order so the expansion is deterministic.
func combinations(ranges map[string][]float64) []map[string]float64 {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	combos := []map[string]float64{{}}
	for _, name := range names {
		values := ranges[name]
		if len(values) == 0 {
			continue
		}
		next := make([]map[string]float64, 0, len(combos)*len(values))
		for _, base := range combos {
			for _, v := range values {
				combo := make(map[string]float64, len(base)+1)
				for k, bv := range base {
					combo[k] = bv
				}
				combo[name] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// combinationKey renders parameters as sorted name=value pairs joined by
// commas.
func combinationKey(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, params[name]))
	}
	return strings.Join(parts, ",")
}
