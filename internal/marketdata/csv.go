package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openbt/openbt/internal/logger"
)

// Header aliases tried, in order, per column.
var (
	dateAliases   = []string{"date", "timestamp", "time", "datetime"}
	openAliases   = []string{"open"}
	highAliases   = []string{"high"}
	lowAliases    = []string{"low"}
	closeAliases  = []string{"close", "adj close", "adjusted close", "adj_close"}
	volumeAliases = []string{"volume", "vol"}
)

// csvProvider imports bars from delimited files, one <SYMBOL>.csv per symbol
// under a configured directory. Column positions are detected from the
// header row; malformed rows are skipped and logged individually rather than
// failing the whole import.
type csvProvider struct {
	dir string
	log *logger.Logger
}

func newCSVProvider(cfg Config) *csvProvider {
	return &csvProvider{
		dir: cfg.CSVDir,
		log: logger.Component("marketdata").Provider("csv"),
	}
}

func (p *csvProvider) Name() string { return "csv" }

func (p *csvProvider) RequestsPerMinute() int { return 0 }

// columnMap holds the detected index of each OHLCV column.
type columnMap struct {
	date, open, high, low, close, volume int
}

func (p *csvProvider) FetchHistoricalData(ctx context.Context, req Request) ([]Bar, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	path := filepath.Join(p.dir, req.Symbol+".csv")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening data file for %s: %w", req.Symbol, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header for %s: %w", req.Symbol, err)
	}

	cols, err := detectColumns(header)
	if err != nil {
		return nil, fmt.Errorf("detecting columns in %s: %w", path, err)
	}

	log := p.log.Symbol(req.Symbol)
	var bars []Bar
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Warn("skipping unreadable row", "line", line)
			continue
		}

		bar, err := parseCSVRow(record, cols, req.Symbol)
		if err != nil {
			log.WithError(err).Warn("skipping malformed row", "line", line)
			continue
		}
		bars = append(bars, bar)
	}

	sortBars(bars)
	return filterRange(bars, req), nil
}

// detectColumns resolves each field's column index by trying its header
// aliases in order.
func detectColumns(header []string) (columnMap, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	find := func(field string, aliases []string) (int, error) {
		for _, alias := range aliases {
			for i, h := range normalized {
				if h == alias {
					return i, nil
				}
			}
		}
		return 0, fmt.Errorf("no column found for %s (tried %s)", field, strings.Join(aliases, ", "))
	}

	var cols columnMap
	var err error
	if cols.date, err = find("date", dateAliases); err != nil {
		return cols, err
	}
	if cols.open, err = find("open", openAliases); err != nil {
		return cols, err
	}
	if cols.high, err = find("high", highAliases); err != nil {
		return cols, err
	}
	if cols.low, err = find("low", lowAliases); err != nil {
		return cols, err
	}
	if cols.close, err = find("close", closeAliases); err != nil {
		return cols, err
	}
	if cols.volume, err = find("volume", volumeAliases); err != nil {
		return cols, err
	}
	return cols, nil
}

func parseCSVRow(record []string, cols columnMap, symbol string) (Bar, error) {
	maxIdx := cols.date
	for _, idx := range []int{cols.open, cols.high, cols.low, cols.close, cols.volume} {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	if len(record) <= maxIdx {
		return Bar{}, fmt.Errorf("row has %d fields, need at least %d", len(record), maxIdx+1)
	}

	ts, err := parseCSVTimestamp(strings.TrimSpace(record[cols.date]))
	if err != nil {
		return Bar{}, err
	}

	bar := Bar{Symbol: symbol, Timestamp: ts}
	fields := []struct {
		name string
		idx  int
		dest *decimal.Decimal
	}{
		{"open", cols.open, &bar.Open},
		{"high", cols.high, &bar.High},
		{"low", cols.low, &bar.Low},
		{"close", cols.close, &bar.Close},
		{"volume", cols.volume, &bar.Volume},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(strings.TrimSpace(record[f.idx]))
		if err != nil {
			return Bar{}, fmt.Errorf("invalid %s %q: %w", f.name, record[f.idx], err)
		}
		*f.dest = value
	}
	return bar, nil
}

// parseCSVTimestamp accepts Unix seconds or milliseconds and several common
// date layouts.
func parseCSVTimestamp(s string) (time.Time, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ts > 10_000_000_000 {
			return time.Unix(ts/1000, (ts%1000)*int64(time.Millisecond)), nil
		}
		return time.Unix(ts, 0), nil
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
		"01/02/2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
