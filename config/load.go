package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"liquidity-maker-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env          string             `yaml:"env"`
	Pair         string             `yaml:"pair"` // BASE/QUOTE
	Precision    PrecisionConfig    `yaml:"precision"`
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Logger       logger.Config      `yaml:"logger"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Store        StoreConfig        `yaml:"store"`
	Alert        AlertConfig        `yaml:"alert"`
	Rates        RatesConfig        `yaml:"rates"`
	HotReload    HotReloadConfig    `yaml:"hotReload"`
	PriceWatcher PriceWatcherConfig `yaml:"priceWatcher"`
	Liquidity    LiquidityConfig    `yaml:"liquidity"`
	Depth        DepthConfig        `yaml:"depth"`
	PriceMaker   PriceMakerConfig   `yaml:"priceMaker"`
}

// PrecisionConfig 交易对精度；交易所提供市场信息时以交易所为准。
type PrecisionConfig struct {
	PriceDecimals  int32   `yaml:"priceDecimals"`
	AmountDecimals int32   `yaml:"amountDecimals"`
	MinAmount      float64 `yaml:"minAmount"`
	MinQuote       float64 `yaml:"minQuote"`
}

// ExchangeConfig 交易所适配器与限速。
type ExchangeConfig struct {
	Kind      string      `yaml:"kind"`      // 目前只有 paper
	RateLimit float64     `yaml:"rateLimit"` // 每秒请求数
	Burst     int         `yaml:"burst"`
	Paper     PaperConfig `yaml:"paper"`
}

// PaperConfig 纸面交易所的初始状态。
type PaperConfig struct {
	Balances map[string]float64   `yaml:"balances"`
	Books    map[string]PaperBook `yaml:"books"`
}

type PaperBook struct {
	Bids []LevelConfig `yaml:"bids"`
	Asks []LevelConfig `yaml:"asks"`
}

type LevelConfig struct {
	Price  float64 `yaml:"price"`
	Amount float64 `yaml:"amount"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

type AlertConfig struct {
	ThrottleInterval time.Duration  `yaml:"throttleInterval"`
	Console          bool           `yaml:"console"`
	Telegram         TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chatId"`
	BaseURL string `yaml:"baseURL"`
}

// RatesConfig 汇率来源：static 使用固定美元价，http 使用汇率服务。
type RatesConfig struct {
	Source  string             `yaml:"source"`
	BaseURL string             `yaml:"baseURL"`
	APIKey  string             `yaml:"apiKey"`
	TTL     time.Duration      `yaml:"ttl"`
	Static  map[string]float64 `yaml:"static"`
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// PriceWatcherConfig 防御价格区间。
type PriceWatcherConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Source            string        `yaml:"source"`     // pair | fixed
	SourcePair        string        `yaml:"sourcePair"` // 参考交易对，source=pair
	Policy            string        `yaml:"policy"`     // top | smart
	FixedLow          float64       `yaml:"fixedLow"`
	FixedHigh         float64       `yaml:"fixedHigh"`
	FixedCoin         string        `yaml:"fixedCoin"`
	RandomizePercent  float64       `yaml:"randomizePercent"`
	FailureThreshold  int           `yaml:"failureThreshold"`
	WarnChangePercent float64       `yaml:"warnChangePercent"`
	AlertInterval     time.Duration `yaml:"alertInterval"`
	IntervalMin       time.Duration `yaml:"intervalMin"`
	IntervalMax       time.Duration `yaml:"intervalMax"`
}

// LiquidityConfig 挂单流动性。
type LiquidityConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BuyQuoteAmount     float64       `yaml:"buyQuoteAmount"` // 买单合计（计价币）
	SellBaseAmount     float64       `yaml:"sellBaseAmount"` // 卖单合计（基础币）
	SpreadPercent      float64       `yaml:"spreadPercent"`
	InnerSpreadPercent float64       `yaml:"innerSpreadPercent"`
	Trend              string        `yaml:"trend"` // middle | uptrend | downtrend
	LifetimeMin        time.Duration `yaml:"lifetimeMin"`
	LifetimeMax        time.Duration `yaml:"lifetimeMax"`
	MaxPlacements      int           `yaml:"maxPlacements"` // 每轮最多下单数
	BandMaxAge         time.Duration `yaml:"bandMaxAge"`
	SupportEnabled     bool          `yaml:"supportEnabled"`
	SupportAmount      float64       `yaml:"supportAmount"` // 基础币
	IntervalMin        time.Duration `yaml:"intervalMin"`
	IntervalMax        time.Duration `yaml:"intervalMax"`
}

// DepthConfig 盘口深度。
type DepthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	OrderCount       int           `yaml:"orderCount"`
	Height           int           `yaml:"height"`
	AmountMin        float64       `yaml:"amountMin"`
	AmountMax        float64       `yaml:"amountMax"`
	BuyProbability   float64       `yaml:"buyProbability"`
	OvershootPercent float64       `yaml:"overshootPercent"`
	IntervalMin      time.Duration `yaml:"intervalMin"`
	IntervalMax      time.Duration `yaml:"intervalMax"`
}

// PriceMakerConfig 价格推动。
type PriceMakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Policy              string        `yaml:"policy"` // spread | orderbook | optimal
	BuyProbability      float64       `yaml:"buyProbability"`
	AmountMin           float64       `yaml:"amountMin"`
	AmountMax           float64       `yaml:"amountMax"`
	CustomSpreadPercent float64       `yaml:"customSpreadPercent"`
	BookFraction        float64       `yaml:"bookFraction"`
	Careful             bool          `yaml:"careful"`
	WideSpreadPercent   float64       `yaml:"wideSpreadPercent"`
	MaxBuyAmount        float64       `yaml:"maxBuyAmount"`  // 24h 内买入上限（基础币），0 不限
	MaxSellAmount       float64       `yaml:"maxSellAmount"` // 24h 内卖出上限（基础币），0 不限
	OrderLifetime       time.Duration `yaml:"orderLifetime"`
	IntervalMin         time.Duration `yaml:"intervalMin"`
	IntervalMax         time.Duration `yaml:"intervalMax"`
}

// Load reads YAML config from path, applies defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("MM_TELEGRAM_TOKEN"); v != "" {
		cfg.Alert.Telegram.Token = v
	}
	if v := os.Getenv("MM_RATES_API_KEY"); v != "" {
		cfg.Rates.APIKey = v
	}
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}
