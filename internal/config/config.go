// Package config loads application configuration from an optional YAML file
// with environment variable overrides. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openbt/openbt/internal/marketdata"
)

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Data      Data      `yaml:"data"`
	Scheduler Scheduler `yaml:"scheduler"`
	Backtest  Backtest  `yaml:"backtest"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data holds market data provider settings.
type Data struct {
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	AlpacaAPIKey      string  `yaml:"alpaca_api_key"`
	AlpacaAPISecret   string  `yaml:"alpaca_api_secret"`
	AlpacaBaseURL     string  `yaml:"alpaca_base_url"`
	CSVDir            string  `yaml:"csv_dir"`
	Seed              int64   `yaml:"seed"`
	BasePrice         float64 `yaml:"base_price"`
	RequestsPerMinute int     `yaml:"rate_limit_per_min"`
}

// ProviderConfig converts the data section into the provider factory bundle.
func (d Data) ProviderConfig() marketdata.Config {
	return marketdata.Config{
		APIKey:            d.APIKey,
		BaseURL:           d.BaseURL,
		AlpacaAPIKey:      d.AlpacaAPIKey,
		AlpacaAPISecret:   d.AlpacaAPISecret,
		AlpacaBaseURL:     d.AlpacaBaseURL,
		CSVDir:            d.CSVDir,
		Seed:              d.Seed,
		BasePrice:         d.BasePrice,
		RequestsPerMinute: d.RequestsPerMinute,
	}
}

// Scheduler holds job scheduling limits.
type Scheduler struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Backtest holds defaults applied to submissions that omit them.
type Backtest struct {
	Symbols        []string `yaml:"symbols"`
	InitialCapital float64  `yaml:"initial_capital"`
	CommissionRate float64  `yaml:"commission_rate"`
	SlippageRate   float64  `yaml:"slippage_rate"`
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Server:    Server{Host: "0.0.0.0", Port: 8080},
		Logging:   Logging{Level: "info", Format: "text"},
		Data:      Data{Provider: "synthetic", BasePrice: 100},
		Scheduler: Scheduler{MaxConcurrent: 3},
		Backtest: Backtest{
			Symbols:        []string{"AAPL"},
			InitialCapital: 100000,
			CommissionRate: 0.001,
			SlippageRate:   0.0005,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty the file must exist), then environment overrides.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("OPENBT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := parseIntEnv("OPENBT_PORT", 0); v > 0 {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		cfg.Data.Provider = v
	}
	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		cfg.Data.APIKey = v
	}
	if v := os.Getenv("MARKET_API_BASE_URL"); v != "" {
		cfg.Data.BaseURL = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Data.AlpacaAPIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Data.AlpacaAPISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Data.AlpacaBaseURL = v
	}
	if v := os.Getenv("CSV_DATA_DIR"); v != "" {
		cfg.Data.CSVDir = v
	}
	if v := parseIntEnv("MAX_CONCURRENT_BACKTESTS", 0); v > 0 {
		cfg.Scheduler.MaxConcurrent = v
	}
	if v := os.Getenv("BACKTEST_SYMBOLS"); v != "" {
		var symbols []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, s)
			}
		}
		if len(symbols) > 0 {
			cfg.Backtest.Symbols = symbols
		}
	}
	if v := parseFloatEnv("INITIAL_CAPITAL", 0); v > 0 {
		cfg.Backtest.InitialCapital = v
	}
	if v := parseFloatEnv("COMMISSION_RATE", -1); v >= 0 {
		cfg.Backtest.CommissionRate = v
	}
	if v := parseFloatEnv("SLIPPAGE_RATE", -1); v >= 0 {
		cfg.Backtest.SlippageRate = v
	}
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
