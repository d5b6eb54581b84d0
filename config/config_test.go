package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Trading.Paper)
	assert.False(t, cfg.Trading.Enabled, "trading must be off until explicitly enabled")
	assert.Equal(t, "ibkr", cfg.MarketData.Primary, "gateway feed is the stock primary")
	assert.Equal(t, []string{"yahoo", "sim"}, cfg.MarketData.Fallbacks)

	ttl, err := cfg.MarketData.ParseCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ttl)

	iv, err := cfg.Trading.ParseInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, iv)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Connection.Port = 8080 }},
		{"bad provider", func(c *Config) { c.MarketData.Primary = "bloomberg" }},
		{"bad fallback", func(c *Config) { c.MarketData.Fallbacks = []string{"nope"} }},
		{"zero position value", func(c *Config) { c.Trading.MaxPositionValue = 0 }},
		{"zero positions", func(c *Config) { c.Trading.MaxPositions = 0 }},
		{"negative daily loss", func(c *Config) { c.Trading.MaxDailyLoss = -1 }},
		{"bad order type", func(c *Config) { c.Trading.OrderType = "STP" }},
		{"bad interval", func(c *Config) { c.Trading.Interval = "fast" }},
		{"csv without files", func(c *Config) { c.Journal.Type = "csv" }},
		{"sqlite without path", func(c *Config) { c.Journal.Type = "sqlite" }},
		{"strategy without symbols", func(c *Config) {
			c.Strategies = []StrategyConfig{{Name: "sma-cross"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")

	doc := `
connection:
  host: 10.0.0.5
  port: 4002
  client_id: 7
trading:
  enabled: true
  paper: true
  max_position_value: 20000
  max_positions: 3
  max_daily_loss: 250
  max_order_value: 4000
  order_type: MKT
market_data:
  primary: yahoo
  fallbacks: [sim]
journal:
  type: sqlite
  db_path: ./bot.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Connection.Host)
	assert.Equal(t, 4002, cfg.Connection.Port)
	assert.Equal(t, 7, cfg.Connection.ClientID)
	assert.True(t, cfg.Trading.Enabled)
	assert.Equal(t, "MKT", cfg.Trading.OrderType)
	assert.InDelta(t, 20000.0, cfg.Trading.MaxPositionValue, 1e-9)
	assert.Equal(t, "sqlite", cfg.Journal.Type)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IBKR_PORT", "7496")
	t.Setenv("ENABLE_TRADING", "true")
	t.Setenv("MAX_DAILY_LOSS", "750")
	t.Setenv("MARKET_DATA_PROVIDER", "sim")
	t.Setenv("MARKET_DATA_FALLBACK", "yahoo")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 7496, cfg.Connection.Port)
	assert.True(t, cfg.Trading.Enabled)
	assert.InDelta(t, 750.0, cfg.Trading.MaxDailyLoss, 1e-9)
	assert.Equal(t, "sim", cfg.MarketData.Primary)
	assert.Equal(t, []string{"yahoo"}, cfg.MarketData.Fallbacks)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := Default()
	cfg.Trading.MaxPositions = 9
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Trading.MaxPositions)
}
