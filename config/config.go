package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete bot configuration. It is constructed once at
// startup and passed explicitly into component constructors; nothing in
// the core reads it from a global.
type Config struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	MarketData MarketDataConfig `json:"market_data" yaml:"market_data"`
	Trading    TradingConfig    `json:"trading" yaml:"trading"`
	Journal    JournalConfig    `json:"journal" yaml:"journal"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
}

// ConnectionConfig contains broker gateway connection parameters.
type ConnectionConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	ClientID    int    `json:"client_id" yaml:"client_id"`
	AccountID   string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	DelayedData bool   `json:"delayed_data" yaml:"delayed_data"`
}

// MarketDataConfig selects the primary quote provider and ordered fallbacks.
type MarketDataConfig struct {
	Primary   string   `json:"primary" yaml:"primary"`
	Fallbacks []string `json:"fallbacks" yaml:"fallbacks"`
	CacheTTL  string   `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
}

// ParseCacheTTL converts the cache TTL string to a duration, defaulting
// to 5 seconds.
func (m MarketDataConfig) ParseCacheTTL() (time.Duration, error) {
	if m.CacheTTL == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(m.CacheTTL)
}

// TradingConfig contains risk limits and trading mode flags.
type TradingConfig struct {
	Enabled          bool    `json:"enabled" yaml:"enabled"`
	Paper            bool    `json:"paper" yaml:"paper"`
	MaxPositionValue float64 `json:"max_position_value" yaml:"max_position_value"`
	MaxPositions     int     `json:"max_positions" yaml:"max_positions"`
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOrderValue    float64 `json:"max_order_value" yaml:"max_order_value"`
	OrderType        string  `json:"order_type" yaml:"order_type"` // "LMT" or "MKT"
	Interval         string  `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// ParseInterval converts the cycle interval string to a duration,
// defaulting to 5 seconds.
func (t TradingConfig) ParseInterval() (time.Duration, error) {
	if t.Interval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(t.Interval)
}

// JournalConfig contains journaling parameters.
type JournalConfig struct {
	Type       string `json:"type" yaml:"type"` // "csv" or "sqlite"
	OrdersFile string `json:"orders_file,omitempty" yaml:"orders_file,omitempty"`
	FillsFile  string `json:"fills_file,omitempty" yaml:"fills_file,omitempty"`
	DBPath     string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// StrategyConfig describes one registered strategy instance.
type StrategyConfig struct {
	Name      string   `json:"name" yaml:"name"`
	Symbols   []string `json:"symbols" yaml:"symbols"`
	Fast      int      `json:"fast,omitempty" yaml:"fast,omitempty"`
	Slow      int      `json:"slow,omitempty" yaml:"slow,omitempty"`
	Lookback  int      `json:"lookback,omitempty" yaml:"lookback,omitempty"`
	Threshold float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// validGatewayPorts are the TWS/Gateway listen ports: 7497/7496 for the
// workstation (paper/live), 4002/4001 for the headless gateway.
var validGatewayPorts = map[int]bool{7496: true, 7497: true, 4001: true, 4002: true}

// validProviders are the market data sources: "ibkr" reads quotes over
// the supervised gateway session, "yahoo" and "sim" are independent of it.
var validProviders = map[string]bool{"ibkr": true, "yahoo": true, "sim": true}

// LoadFromFile loads configuration from a file (YAML or JSON), then
// applies environment overrides and validates.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON.
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus environment
// overrides, for running without a config file.
func FromEnv() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.Connection.Host, "IBKR_HOST")
	envInt(&c.Connection.Port, "IBKR_PORT")
	envInt(&c.Connection.ClientID, "IBKR_CLIENT_ID")
	envStr(&c.Connection.AccountID, "IBKR_ACCOUNT_ID")
	envBool(&c.Connection.DelayedData, "IBKR_USE_DELAYED_DATA")

	envStr(&c.MarketData.Primary, "MARKET_DATA_PROVIDER")
	if v := os.Getenv("MARKET_DATA_FALLBACK"); v != "" {
		c.MarketData.Fallbacks = strings.Split(v, ",")
	}

	envBool(&c.Trading.Enabled, "ENABLE_TRADING")
	envBool(&c.Trading.Paper, "PAPER_TRADING")
	envFloat(&c.Trading.MaxPositionValue, "MAX_POSITION_SIZE")
	envInt(&c.Trading.MaxPositions, "MAX_POSITIONS")
	envFloat(&c.Trading.MaxDailyLoss, "MAX_DAILY_LOSS")
	envFloat(&c.Trading.MaxOrderValue, "MAX_ORDER_VALUE")
	envStr(&c.Trading.OrderType, "DEFAULT_ORDER_TYPE")
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration for values that would make the bot
// misbehave at runtime. A failure here is an unrecoverable startup error.
func (c *Config) Validate() error {
	if !validGatewayPorts[c.Connection.Port] {
		return fmt.Errorf("invalid gateway port %d (use 7497/4002 paper, 7496/4001 live)", c.Connection.Port)
	}
	if !validProviders[c.MarketData.Primary] {
		return fmt.Errorf("unknown market data provider: %s", c.MarketData.Primary)
	}
	for _, f := range c.MarketData.Fallbacks {
		if !validProviders[f] {
			return fmt.Errorf("unknown fallback provider: %s", f)
		}
	}
	if _, err := c.MarketData.ParseCacheTTL(); err != nil {
		return fmt.Errorf("market_data.cache_ttl: %w", err)
	}
	if c.Trading.MaxPositionValue <= 0 {
		return fmt.Errorf("trading.max_position_value must be positive")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be positive")
	}
	if c.Trading.MaxDailyLoss <= 0 {
		return fmt.Errorf("trading.max_daily_loss must be positive")
	}
	if c.Trading.MaxOrderValue <= 0 {
		return fmt.Errorf("trading.max_order_value must be positive")
	}
	if c.Trading.OrderType != "LMT" && c.Trading.OrderType != "MKT" {
		return fmt.Errorf("trading.order_type must be LMT or MKT")
	}
	if _, err := c.Trading.ParseInterval(); err != nil {
		return fmt.Errorf("trading.interval: %w", err)
	}
	if c.Journal.Type != "" && c.Journal.Type != "csv" && c.Journal.Type != "sqlite" {
		return fmt.Errorf("journal.type must be 'csv' or 'sqlite'")
	}
	if c.Journal.Type == "csv" && (c.Journal.OrdersFile == "" || c.Journal.FillsFile == "") {
		return fmt.Errorf("journal orders_file and fills_file required for CSV type")
	}
	if c.Journal.Type == "sqlite" && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required for SQLite type")
	}
	for _, s := range c.Strategies {
		if len(s.Symbols) == 0 {
			return fmt.Errorf("strategy %q has no symbols", s.Name)
		}
	}
	return nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Summary returns a human-readable configuration overview for startup logs.
func (c *Config) Summary() string {
	mode := "LIVE"
	if c.Trading.Paper {
		mode = "PAPER"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "gateway=%s:%d client=%d mode=%s delayed=%v",
		c.Connection.Host, c.Connection.Port, c.Connection.ClientID, mode, c.Connection.DelayedData)
	fmt.Fprintf(&b, " provider=%s fallbacks=%s", c.MarketData.Primary, strings.Join(c.MarketData.Fallbacks, ","))
	fmt.Fprintf(&b, " trading=%v max_pos=$%.0f max_positions=%d max_daily_loss=$%.0f max_order=$%.0f",
		c.Trading.Enabled, c.Trading.MaxPositionValue, c.Trading.MaxPositions,
		c.Trading.MaxDailyLoss, c.Trading.MaxOrderValue)
	return b.String()
}

// Default returns a configuration with the stock defaults: paper
// trading against a local TWS on the paper port, trading disabled until
// explicitly enabled.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:        "127.0.0.1",
			Port:        7497,
			ClientID:    1,
			DelayedData: true,
		},
		MarketData: MarketDataConfig{
			Primary:   "ibkr",
			Fallbacks: []string{"yahoo", "sim"},
		},
		Trading: TradingConfig{
			Enabled:          false,
			Paper:            true,
			MaxPositionValue: 10000,
			MaxPositions:     5,
			MaxDailyLoss:     500,
			MaxOrderValue:    5000,
			OrderType:        "LMT",
		},
		Strategies: []StrategyConfig{
			{Name: "sma-cross", Symbols: []string{"AAPL"}, Fast: 10, Slow: 30},
		},
	}
}
