package config

import (
	"errors"
	"fmt"
	"time"

	"liquidity-maker-go/gateway"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// IsInvalid 判断错误链中是否有配置错误。
func IsInvalid(err error) bool {
	var e ErrInvalid
	return errors.As(err, &e)
}

// 价格区间来源与计算方式
const (
	SourcePair  = "pair"
	SourceFixed = "fixed"
	PolicyTop   = "top"
	PolicySmart = "smart"
)

// 流动性参考价的趋势
const (
	TrendMiddle    = "middle"
	TrendUptrend   = "uptrend"
	TrendDowntrend = "downtrend"
)

// 价格推动的执行策略
const (
	PolicySpread    = "spread"
	PolicyOrderBook = "orderbook"
	PolicyOptimal   = "optimal"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if _, err := gateway.ParsePair(cfg.Pair); err != nil {
		return ErrInvalid(fmt.Sprintf("pair: %v", err))
	}
	if cfg.Precision.PriceDecimals < 0 || cfg.Precision.AmountDecimals < 0 {
		return ErrInvalid("precision decimals must be >= 0")
	}
	if cfg.Precision.MinAmount < 0 || cfg.Precision.MinQuote < 0 {
		return ErrInvalid("precision minimums must be >= 0")
	}
	if cfg.Exchange.Kind != "paper" {
		return ErrInvalid(fmt.Sprintf("exchange.kind %q is not supported", cfg.Exchange.Kind))
	}
	if cfg.Exchange.RateLimit <= 0 || cfg.Exchange.Burst <= 0 {
		return ErrInvalid("exchange.rateLimit/burst must be > 0")
	}
	if !cfg.Store.InMemory && cfg.Store.Path == "" {
		return ErrInvalid("store.path is required")
	}
	if cfg.Alert.Telegram.Enabled && (cfg.Alert.Telegram.Token == "" || cfg.Alert.Telegram.ChatID == "") {
		return ErrInvalid("alert.telegram.token/chatId is required (or env overrides)")
	}
	switch cfg.Rates.Source {
	case "static":
	case "http":
		if cfg.Rates.BaseURL == "" {
			return ErrInvalid("rates.baseURL is required for http source")
		}
	default:
		return ErrInvalid(fmt.Sprintf("rates.source %q is not supported", cfg.Rates.Source))
	}

	if cfg.PriceWatcher.Enabled {
		if err := cfg.PriceWatcher.Validate(); err != nil {
			return fmt.Errorf("priceWatcher: %w", err)
		}
	}
	if cfg.Liquidity.Enabled {
		if err := cfg.Liquidity.Validate(); err != nil {
			return fmt.Errorf("liquidity: %w", err)
		}
	}
	if cfg.Depth.Enabled {
		if err := cfg.Depth.Validate(); err != nil {
			return fmt.Errorf("depth: %w", err)
		}
	}
	if cfg.PriceMaker.Enabled {
		if err := cfg.PriceMaker.Validate(); err != nil {
			return fmt.Errorf("priceMaker: %w", err)
		}
	}
	return nil
}

func validInterval(lo, hi time.Duration) bool {
	return lo > 0 && hi >= lo
}

// Validate 检查价格区间参数。
func (c PriceWatcherConfig) Validate() error {
	switch c.Source {
	case SourcePair:
		if _, err := gateway.ParsePair(c.SourcePair); err != nil {
			return ErrInvalid(fmt.Sprintf("sourcePair: %v", err))
		}
		if c.Policy != PolicyTop && c.Policy != PolicySmart {
			return ErrInvalid(fmt.Sprintf("policy %q must be top or smart", c.Policy))
		}
	case SourceFixed:
		if c.FixedLow <= 0 || c.FixedHigh <= c.FixedLow {
			return ErrInvalid("fixedLow must be > 0 and < fixedHigh")
		}
		if c.FixedCoin == "" {
			return ErrInvalid("fixedCoin is required")
		}
	default:
		return ErrInvalid(fmt.Sprintf("source %q must be pair or fixed", c.Source))
	}
	if c.RandomizePercent < 0 || c.RandomizePercent >= 50 {
		return ErrInvalid("randomizePercent must be in [0, 50)")
	}
	if c.FailureThreshold <= 0 {
		return ErrInvalid("failureThreshold must be > 0")
	}
	if c.WarnChangePercent <= 0 {
		return ErrInvalid("warnChangePercent must be > 0")
	}
	if !validInterval(c.IntervalMin, c.IntervalMax) {
		return ErrInvalid("intervalMin must be > 0 and <= intervalMax")
	}
	return nil
}

// Validate 检查流动性参数。
func (c LiquidityConfig) Validate() error {
	if c.BuyQuoteAmount < 0 || c.SellBaseAmount < 0 {
		return ErrInvalid("buyQuoteAmount/sellBaseAmount must be >= 0")
	}
	if c.BuyQuoteAmount == 0 && c.SellBaseAmount == 0 && !c.SupportEnabled {
		return ErrInvalid("buyQuoteAmount, sellBaseAmount or supportEnabled is required")
	}
	if c.SpreadPercent <= 0 {
		return ErrInvalid("spreadPercent must be > 0")
	}
	if c.InnerSpreadPercent < 0 || c.InnerSpreadPercent >= c.SpreadPercent {
		return ErrInvalid("innerSpreadPercent must be in [0, spreadPercent)")
	}
	switch c.Trend {
	case TrendMiddle, TrendUptrend, TrendDowntrend:
	default:
		return ErrInvalid(fmt.Sprintf("trend %q must be middle, uptrend or downtrend", c.Trend))
	}
	if !validInterval(c.LifetimeMin, c.LifetimeMax) {
		return ErrInvalid("lifetimeMin must be > 0 and <= lifetimeMax")
	}
	if c.MaxPlacements <= 0 {
		return ErrInvalid("maxPlacements must be > 0")
	}
	if c.SupportEnabled && c.SupportAmount <= 0 {
		return ErrInvalid("supportAmount must be > 0 when support is enabled")
	}
	if !validInterval(c.IntervalMin, c.IntervalMax) {
		return ErrInvalid("intervalMin must be > 0 and <= intervalMax")
	}
	return nil
}

// Validate 检查深度参数。
func (c DepthConfig) Validate() error {
	if c.OrderCount <= 0 {
		return ErrInvalid("orderCount must be > 0")
	}
	if c.Height < 2 {
		return ErrInvalid("height must be >= 2")
	}
	if c.AmountMin <= 0 || c.AmountMax < c.AmountMin {
		return ErrInvalid("amountMin must be > 0 and <= amountMax")
	}
	if c.BuyProbability < 0 || c.BuyProbability > 1 {
		return ErrInvalid("buyProbability must be in [0, 1]")
	}
	if c.OvershootPercent < 0 {
		return ErrInvalid("overshootPercent must be >= 0")
	}
	if !validInterval(c.IntervalMin, c.IntervalMax) {
		return ErrInvalid("intervalMin must be > 0 and <= intervalMax")
	}
	return nil
}

// Validate 检查价格推动参数。
func (c PriceMakerConfig) Validate() error {
	switch c.Policy {
	case PolicySpread, PolicyOrderBook, PolicyOptimal:
	default:
		return ErrInvalid(fmt.Sprintf("policy %q must be spread, orderbook or optimal", c.Policy))
	}
	if c.AmountMin <= 0 || c.AmountMax < c.AmountMin {
		return ErrInvalid("amountMin must be > 0 and <= amountMax")
	}
	if c.BuyProbability < 0 || c.BuyProbability > 1 {
		return ErrInvalid("buyProbability must be in [0, 1]")
	}
	if c.CustomSpreadPercent <= 0 {
		return ErrInvalid("customSpreadPercent must be > 0")
	}
	if c.BookFraction <= 0 || c.BookFraction > 1 {
		return ErrInvalid("bookFraction must be in (0, 1]")
	}
	if c.MaxBuyAmount < 0 || c.MaxSellAmount < 0 {
		return ErrInvalid("maxBuyAmount/maxSellAmount must be >= 0")
	}
	if c.OrderLifetime <= 0 {
		return ErrInvalid("orderLifetime must be > 0")
	}
	if !validInterval(c.IntervalMin, c.IntervalMax) {
		return ErrInvalid("intervalMin must be > 0 and <= intervalMax")
	}
	return nil
}
