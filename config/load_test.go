package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const baseConfig = `
env: dev
pair: adm/usdt
store:
  inMemory: true
liquidity:
  enabled: true
  buyQuoteAmount: 100
  sellBaseAmount: 5000
  spreadPercent: 2
  innerSpreadPercent: 0.2
  lifetimeMin: 10m
depth:
  enabled: true
  orderCount: 8
  amountMin: 10
  amountMax: 50
priceWatcher:
  enabled: true
  sourcePair: ADM/BTC
  randomizePercent: 0.5
alert:
  telegram:
    enabled: true
    chatId: "42"
    token: from-file
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, baseConfig))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "adm/usdt", cfg.Pair)
	assert.Equal(t, 10*time.Minute, cfg.Liquidity.LifetimeMin)
	assert.Equal(t, 7*time.Hour, cfg.Liquidity.LifetimeMax)
	assert.Equal(t, TrendMiddle, cfg.Liquidity.Trend)
	assert.Equal(t, 2*time.Second, cfg.Depth.IntervalMin)
	assert.Equal(t, 10, cfg.Depth.Height)
	assert.Equal(t, 21.0, cfg.Depth.OvershootPercent)
	assert.Equal(t, 10, cfg.PriceWatcher.FailureThreshold)
	assert.Equal(t, PolicySmart, cfg.PriceWatcher.Policy)
	assert.Equal(t, 0.5, cfg.PriceWatcher.RandomizePercent)
	assert.Equal(t, "paper", cfg.Exchange.Kind)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.PriceMaker.Enabled)
	assert.Equal(t, time.Minute, cfg.PriceMaker.OrderLifetime)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, baseConfig)
	t.Setenv("MM_TELEGRAM_TOKEN", "from-env")
	t.Setenv("MM_RATES_API_KEY", "rates-key")

	cfg, err := LoadWithEnvOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Alert.Telegram.Token)
	assert.Equal(t, "rates-key", cfg.Rates.APIKey)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "env: [broken"))
	assert.Error(t, err)

	_, err = Load(writeTempConfig(t, "env: dev\npair: ADMUSDT\n"))
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
}

func TestValidateSections(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, baseConfig))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"no env", func(c *AppConfig) { c.Env = "" }},
		{"exchange kind", func(c *AppConfig) { c.Exchange.Kind = "binance" }},
		{"store path", func(c *AppConfig) { c.Store.InMemory = false; c.Store.Path = "" }},
		{"telegram chat", func(c *AppConfig) { c.Alert.Telegram.ChatID = "" }},
		{"rates http", func(c *AppConfig) { c.Rates.Source = "http" }},
		{"liquidity targets", func(c *AppConfig) { c.Liquidity.BuyQuoteAmount = 0; c.Liquidity.SellBaseAmount = 0 }},
		{"liquidity inner spread", func(c *AppConfig) { c.Liquidity.InnerSpreadPercent = 2 }},
		{"liquidity trend", func(c *AppConfig) { c.Liquidity.Trend = "sideways" }},
		{"liquidity support", func(c *AppConfig) { c.Liquidity.SupportEnabled = true }},
		{"depth amounts", func(c *AppConfig) { c.Depth.AmountMax = 1 }},
		{"depth height", func(c *AppConfig) { c.Depth.Height = 1 }},
		{"watcher pair", func(c *AppConfig) { c.PriceWatcher.SourcePair = "" }},
		{"watcher fixed", func(c *AppConfig) { c.PriceWatcher.Source = SourceFixed }},
		{"watcher randomize", func(c *AppConfig) { c.PriceWatcher.RandomizePercent = 60 }},
		{"pricemaker amounts", func(c *AppConfig) { c.PriceMaker.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			tt.mutate(&c)
			err := Validate(c)
			require.Error(t, err)
			assert.True(t, IsInvalid(err), "got %v", err)
		})
	}
}

func TestDisabledSectionsSkipValidation(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, baseConfig))
	require.NoError(t, err)

	cfg.Depth.Enabled = false
	cfg.Depth.OrderCount = 0
	assert.NoError(t, Validate(cfg))
	assert.Error(t, cfg.Depth.Validate())
}

func TestPriceMakerValidate(t *testing.T) {
	c := PriceMakerConfig{AmountMin: 1, AmountMax: 2}
	c.applyDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, PolicyOptimal, c.Policy)

	c.BookFraction = 1.5
	assert.True(t, IsInvalid(c.Validate()))
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ADM/USDT", cfg.Pair)
	assert.Equal(t, SourceFixed, cfg.PriceWatcher.Source)
	assert.True(t, cfg.Liquidity.SupportEnabled)
	assert.Equal(t, 7*time.Hour, cfg.Liquidity.LifetimeMax)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logger.Outputs)
}
