package config

import (
	"time"

	"liquidity-maker-go/infrastructure/logger"
)

// ApplyDefaults 为零值字段填充默认值。只填零值不合法的字段，RandomizePercent 之类的 0 保持原样。
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Exchange.Kind == "" {
		cfg.Exchange.Kind = "paper"
	}
	if cfg.Exchange.RateLimit <= 0 {
		cfg.Exchange.RateLimit = 5
	}
	if cfg.Exchange.Burst <= 0 {
		cfg.Exchange.Burst = 5
	}

	if cfg.Logger.Level == "" {
		def := logger.DefaultConfig()
		def.OutputFile = cfg.Logger.OutputFile
		def.ErrorFile = cfg.Logger.ErrorFile
		if len(cfg.Logger.Outputs) > 0 {
			def.Outputs = cfg.Logger.Outputs
		}
		if cfg.Logger.Format != "" {
			def.Format = cfg.Logger.Format
		}
		cfg.Logger = def
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Store.Path == "" && !cfg.Store.InMemory {
		cfg.Store.Path = "data/orders"
	}
	if cfg.Alert.ThrottleInterval <= 0 {
		cfg.Alert.ThrottleInterval = time.Hour
	}
	if cfg.Rates.Source == "" {
		cfg.Rates.Source = "static"
	}
	if cfg.Rates.TTL <= 0 {
		cfg.Rates.TTL = 5 * time.Minute
	}
	if cfg.HotReload.Cooldown <= 0 {
		cfg.HotReload.Cooldown = 5 * time.Second
	}

	cfg.PriceWatcher.applyDefaults()
	cfg.Liquidity.applyDefaults()
	cfg.Depth.applyDefaults()
	cfg.PriceMaker.applyDefaults()
}

func (c *PriceWatcherConfig) applyDefaults() {
	if c.Source == "" {
		c.Source = SourcePair
	}
	if c.Policy == "" {
		c.Policy = PolicySmart
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	if c.WarnChangePercent <= 0 {
		c.WarnChangePercent = 20
	}
	if c.AlertInterval <= 0 {
		c.AlertInterval = time.Hour
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = 30 * time.Second
	}
	if c.IntervalMax <= 0 {
		c.IntervalMax = 60 * time.Second
	}
}

func (c *LiquidityConfig) applyDefaults() {
	if c.Trend == "" {
		c.Trend = TrendMiddle
	}
	if c.LifetimeMin <= 0 {
		c.LifetimeMin = 7 * time.Minute
	}
	if c.LifetimeMax <= 0 {
		c.LifetimeMax = 7 * time.Hour
	}
	if c.MaxPlacements <= 0 {
		c.MaxPlacements = 20
	}
	if c.BandMaxAge <= 0 {
		c.BandMaxAge = 10 * time.Minute
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = 30 * time.Second
	}
	if c.IntervalMax <= 0 {
		c.IntervalMax = 90 * time.Second
	}
}

func (c *DepthConfig) applyDefaults() {
	if c.Height <= 0 {
		c.Height = 10
	}
	if c.BuyProbability <= 0 {
		c.BuyProbability = 0.5
	}
	if c.OvershootPercent <= 0 {
		c.OvershootPercent = 21
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = 2 * time.Second
	}
	if c.IntervalMax <= 0 {
		c.IntervalMax = 3 * time.Second
	}
}

func (c *PriceMakerConfig) applyDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyOptimal
	}
	if c.BuyProbability <= 0 {
		c.BuyProbability = 0.5
	}
	if c.CustomSpreadPercent <= 0 {
		c.CustomSpreadPercent = 2
	}
	if c.BookFraction <= 0 {
		c.BookFraction = 0.5
	}
	if c.WideSpreadPercent <= 0 {
		c.WideSpreadPercent = 1
	}
	if c.OrderLifetime <= 0 {
		c.OrderLifetime = time.Minute
	}
	if c.IntervalMin <= 0 {
		c.IntervalMin = time.Minute
	}
	if c.IntervalMax <= 0 {
		c.IntervalMax = 3 * time.Minute
	}
}
