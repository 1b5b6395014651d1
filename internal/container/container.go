package container

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"liquidity-maker-go/config"
	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/alert"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/internal/clock"
	hotconfig "liquidity-maker-go/internal/config"
	"liquidity-maker-go/internal/engine"
	"liquidity-maker-go/internal/store"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/order"
	"liquidity-maker-go/pricerange"
	"liquidity-maker-go/rates"
	"liquidity-maker-go/strategy"
	"liquidity-maker-go/strategy/depth"
	"liquidity-maker-go/strategy/liquidity"
	"liquidity-maker-go/strategy/pricemaker"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string
	pair       gateway.Pair

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	store   *store.Store
	rates   rates.Converter

	// 交易所网关
	paper    *gateway.Paper
	exchange gateway.Exchange

	// 核心服务
	orders     *order.Manager
	reconciler *order.Reconciler
	watcher    *pricerange.Watcher
	liquidity  *liquidity.Planner
	depth      *depth.Builder
	priceMaker *pricemaker.Maker
	group      *engine.Group
	reloader   *hotconfig.HotReloader

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 读取配置文件创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg, configPath), nil
}

// NewFromConfig 使用已加载的配置；configPath 仅用于热更新。
func NewFromConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	pair, err := gateway.ParsePair(c.cfg.Pair)
	if err != nil {
		return err
	}
	c.pair = pair

	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(ctx); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.buildHotReload(); err != nil {
		return fmt.Errorf("build hot reload failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("pair", c.pair.String()),
		zap.Strings("loops", c.group.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	if c.cfg.Metrics.Enabled {
		c.monitor = monitor.New(monitor.DefaultConfig())
	}

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger.Named("alert"))}
	if c.cfg.Alert.Console {
		channels = append(channels, alert.NewConsoleChannel("console"))
	}
	if tg := c.cfg.Alert.Telegram; tg.Enabled {
		channels = append(channels, alert.NewTelegramChannel("telegram", alert.TelegramConfig{
			Token:   tg.Token,
			ChatID:  tg.ChatID,
			BaseURL: tg.BaseURL,
		}))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.ThrottleInterval)
	c.alerts.SetMonitor(c.monitor)

	c.store, err = store.Open(store.Options{Path: c.cfg.Store.Path, InMemory: c.cfg.Store.InMemory})
	if err != nil {
		return fmt.Errorf("open order store failed: %w", err)
	}

	switch c.cfg.Rates.Source {
	case "http":
		c.rates = rates.NewConverter(rates.NewHTTPSource(rates.HTTPConfig{
			BaseURL: c.cfg.Rates.BaseURL,
			APIKey:  c.cfg.Rates.APIKey,
			TTL:     c.cfg.Rates.TTL,
		}))
	default:
		c.rates = rates.NewConverter(rates.NewStatic(c.cfg.Rates.Static))
	}

	c.logger.Info("infrastructure built",
		zap.Bool("metrics", c.monitor != nil),
		zap.Strings("alert_channels", c.alerts.GetChannels()),
		zap.String("rates", c.cfg.Rates.Source))
	return nil
}

// buildGateway 目前只有纸面交易所：按配置灌入余额和盘口，外面再包一层限速。
func (c *Container) buildGateway(ctx context.Context) error {
	c.paper = gateway.NewPaper()
	for code, free := range c.cfg.Exchange.Paper.Balances {
		c.paper.SetBalance(code, free)
	}
	for key, book := range c.cfg.Exchange.Paper.Books {
		pair, err := gateway.ParsePair(key)
		if err != nil {
			return fmt.Errorf("paper book %q: %w", key, err)
		}
		c.paper.SetBook(pair.String(), levels(book.Bids), levels(book.Asks))
	}
	// 精度全为零视为未配置，纸面交易所不提供市场信息
	if prec := c.cfg.Precision; prec != (config.PrecisionConfig{}) {
		c.paper.SetMarketInfo(gateway.MarketInfo{
			Pair:           c.pair.String(),
			PriceDecimals:  prec.PriceDecimals,
			AmountDecimals: prec.AmountDecimals,
			MinAmount:      prec.MinAmount,
			MinQuote:       prec.MinQuote,
		})
	}

	limited := gateway.NewLimited(c.paper,
		gateway.NewTokenBucketLimiter(c.cfg.Exchange.RateLimit, c.cfg.Exchange.Burst), c.monitor)
	c.exchange = limited

	c.orders = order.NewManager(c.exchange, c.store, c.logger.Named("orders"), c.monitor, clock.Real)
	c.reconciler = order.NewReconciler(c.exchange, c.store, c.logger.Named("reconciler"), c.monitor, clock.Real)

	info, err := gateway.NewMarketCache(limited).Get(ctx, c.pair.String())
	switch {
	case err == nil:
		c.orders.SetPrecision(c.pair.String(), order.PrecisionFromInfo(info))
	case errors.Is(err, gateway.ErrNotFound):
		c.logger.Warn("no market info for pair, prices and amounts are not rounded", zap.String("pair", c.pair.String()))
	default:
		return err
	}

	c.logger.Info("gateway built",
		zap.String("kind", c.cfg.Exchange.Kind),
		zap.Float64("rate_limit", c.cfg.Exchange.RateLimit),
		zap.Int32("price_decimals", info.PriceDecimals),
		zap.Int32("amount_decimals", info.AmountDecimals))
	return nil
}

func levels(in []config.LevelConfig) []market.Level {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		out = append(out, market.Level{Price: l.Price, Amount: l.Amount})
	}
	return out
}

func (c *Container) buildCoreServices() error {
	rnd := xrand.New()
	deps := strategy.Deps{
		Pair:       c.pair,
		Exchange:   c.exchange,
		Orders:     c.orders,
		Reconciler: c.reconciler,
		Alerts:     c.alerts,
		Log:        c.logger,
		Monitor:    c.monitor,
		Rand:       rnd,
		Clock:      clock.Real,
		Rates:      c.rates,
	}

	src, err := pricerange.NewSource(c.cfg.PriceWatcher, c.exchange, c.pair.Quote, c.rates, clock.Real)
	switch {
	case err == nil:
		c.watcher = pricerange.NewWatcher(c.cfg.PriceWatcher, src, c.alerts, c.logger, c.monitor, rnd, clock.Real)
		deps.Band = c.watcher
	case c.cfg.PriceWatcher.Enabled:
		return fmt.Errorf("price watcher source: %w", err)
	default:
		c.logger.Info("price watcher not configured, strategies run without price range")
	}

	c.liquidity = liquidity.New(c.cfg.Liquidity, deps)
	c.depth = depth.New(c.cfg.Depth, deps)
	c.priceMaker = pricemaker.New(c.cfg.PriceMaker, deps)
	c.priceMaker.SetLiquidity(c.liquidity)

	c.group = engine.NewGroup(c.logger)
	if c.watcher != nil {
		c.group.Add(engine.NewLoop(c.watcher, c.cfg.PriceWatcher.IntervalMin, c.logger, c.monitor))
	}
	c.group.Add(engine.NewLoop(c.liquidity, c.cfg.Liquidity.IntervalMin, c.logger, c.monitor))
	c.group.Add(engine.NewLoop(c.depth, c.cfg.Depth.IntervalMin, c.logger, c.monitor))
	c.group.Add(engine.NewLoop(c.priceMaker, c.cfg.PriceMaker.IntervalMin, c.logger, c.monitor))

	c.logger.Info("core services built",
		zap.Bool("price_watcher", c.cfg.PriceWatcher.Enabled),
		zap.Bool("liquidity", c.cfg.Liquidity.Enabled),
		zap.Bool("depth", c.cfg.Depth.Enabled),
		zap.Bool("pricemaker", c.cfg.PriceMaker.Enabled))
	return nil
}

// buildHotReload 重新加载后把各策略的配置段推给对应组件。
func (c *Container) buildHotReload() error {
	if !c.cfg.HotReload.Enabled || c.configPath == "" {
		return nil
	}
	r, err := hotconfig.NewHotReloader(c.configPath, hotconfig.HotReloadConfig{
		Enabled:      true,
		CooldownTime: c.cfg.HotReload.Cooldown,
	}, c.logger)
	if err != nil {
		return err
	}
	r.RegisterApplier("liquidity", hotconfig.ApplierFunc(func(cfg config.AppConfig) error {
		c.liquidity.Apply(cfg.Liquidity)
		return nil
	}))
	r.RegisterApplier("depth", hotconfig.ApplierFunc(func(cfg config.AppConfig) error {
		c.depth.Apply(cfg.Depth)
		return nil
	}))
	r.RegisterApplier("pricemaker", hotconfig.ApplierFunc(func(cfg config.AppConfig) error {
		c.priceMaker.Apply(cfg.PriceMaker)
		return nil
	}))
	r.RegisterApplier("price_watcher", hotconfig.ApplierFunc(c.applyWatcher))
	c.reloader = r
	return nil
}

func (c *Container) applyWatcher(cfg config.AppConfig) error {
	if c.watcher == nil {
		if cfg.PriceWatcher.Enabled {
			return errors.New("price watcher was not configured at startup, restart required")
		}
		return nil
	}
	cur, next := c.cfg.PriceWatcher, cfg.PriceWatcher
	if cur.Source != next.Source || cur.SourcePair != next.SourcePair || cur.Policy != next.Policy ||
		cur.FixedLow != next.FixedLow || cur.FixedHigh != next.FixedHigh || cur.FixedCoin != next.FixedCoin {
		c.logger.Warn("price source changed, restart required to switch it",
			zap.String("source", next.Source),
			zap.String("source_pair", next.SourcePair))
	}
	c.watcher.Apply(next)
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.monitor != nil {
		c.lifecycle.Register(&metricsServer{
			addr:    c.cfg.Metrics.Addr,
			handler: c.monitor.Handler(),
			logger:  c.logger,
		})
	}
	if c.reloader != nil {
		c.lifecycle.Register(&reloaderComponent{reloader: c.reloader})
	}
	c.lifecycle.Register(&engineComponent{group: c.group, logger: c.logger})
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	// 循环首次执行前要先等一个间隔，价格区间在这里先刷新一次
	if c.watcher != nil && c.watcher.IsEnabled() {
		if err := c.group.RunNow(ctx, c.watcher.Name()); err != nil {
			c.logger.Warn("initial price range refresh failed", zap.Error(err))
		}
	}

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 停止所有组件。挂单保持原样，重启后由对账接管。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if cerr := c.store.Close(); cerr != nil {
		c.logger.LogError(cerr, map[string]interface{}{"action": "close_store"})
		err = cerr
	}

	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Band 当前价格区间；未配置价格监控时返回零值。
func (c *Container) Band() pricerange.Band {
	if c.watcher == nil {
		return pricerange.Band{}
	}
	return c.watcher.Band()
}

// RunNow 手动触发一次指定循环（price_watcher / liquidity / depth / pricemaker）。
func (c *Container) RunNow(ctx context.Context, loop string) error {
	return c.group.RunNow(ctx, loop)
}

// Loops 已注册的循环名。
func (c *Container) Loops() []string {
	return c.group.Names()
}

// Paper 纸面交易所，便于外部注入行情。
func (c *Container) Paper() *gateway.Paper {
	return c.paper
}

// Orders 订单记录存储。
func (c *Container) Orders() order.Store {
	return c.store
}
