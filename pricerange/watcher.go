// Package pricerange 维护防御性的 [low, high] 参考价格区间。
//
// 区间来自外部来源（参考交易对或固定价格），每次计算时两端各做小幅随机化。
// 连续失败达到阈值后区间被标记为过期（IsActual=false），并发出限流告警。
package pricerange

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidity-maker-go/config"
	"liquidity-maker-go/infrastructure/alert"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
)

// 告警限流 key
const (
	AlertKeyStale  = "pricewatch:stale"
	AlertKeyChange = "pricewatch:change"
)

// Band 当前价格区间。零值表示还没有数据。
type Band struct {
	Low             float64
	High            float64
	IsActual        bool
	SourceTimestamp time.Time
	UpdatedAt       time.Time
}

// Time 区间数据的时间，来源未给出时间戳时取计算时间。
func (b Band) Time() time.Time {
	if b.SourceTimestamp.IsZero() {
		return b.UpdatedAt
	}
	return b.SourceTimestamp
}

// Age 距离来源数据时间的时长。
func (b Band) Age(now time.Time) time.Duration {
	ts := b.Time()
	if ts.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(ts)
}

// Usable 区间有效且数据不早于 maxAge。
func (b Band) Usable(now time.Time, maxAge time.Duration) bool {
	return b.IsActual && b.Low > 0 && b.High > b.Low && (maxAge <= 0 || b.Age(now) <= maxAge)
}

func (b Band) Contains(price float64) bool {
	return price >= b.Low && price <= b.High
}

// Clamp 把价格压进区间。
func (b Band) Clamp(price float64) float64 {
	return math.Min(math.Max(price, b.Low), b.High)
}

func (b Band) Width() float64 { return b.High - b.Low }

// Reader 只读访问区间，供策略使用。
type Reader interface {
	Band() Band
}

// Watcher 周期性刷新价格区间。单写多读。
type Watcher struct {
	src    Source
	alerts *alert.Manager
	log    *logger.Logger
	mon    *monitor.Monitor
	rnd    xrand.Source
	clock  clock.Clock

	mu       sync.RWMutex
	cfg      config.PriceWatcherConfig
	band     Band
	failures int
}

func NewWatcher(cfg config.PriceWatcherConfig, src Source, alerts *alert.Manager, log *logger.Logger, mon *monitor.Monitor, rnd xrand.Source, clk clock.Clock) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	if rnd == nil {
		rnd = xrand.New()
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Watcher{
		src:    src,
		alerts: alerts,
		log:    log.Named("price_watcher"),
		mon:    mon,
		rnd:    rnd,
		clock:  clk,
		cfg:    cfg,
	}
}

func (w *Watcher) Name() string { return "price_watcher" }

func (w *Watcher) IsEnabled() bool {
	return w.config().Enabled
}

// Apply 热更新参数。来源本身（交易对、固定价）在启动时确定，不随热更新切换。
func (w *Watcher) Apply(cfg config.PriceWatcherConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cfg = cfg
}

func (w *Watcher) config() config.PriceWatcherConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// NextDelay 下一次刷新前的随机等待。
func (w *Watcher) NextDelay() time.Duration {
	cfg := w.config()
	return xrand.DurationBetween(w.rnd, cfg.IntervalMin, cfg.IntervalMax)
}

// Band 返回区间副本。
func (w *Watcher) Band() Band {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.band
}

func (w *Watcher) IsActual() bool {
	return w.Band().IsActual
}

// Failures 当前连续失败次数。
func (w *Watcher) Failures() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.failures
}

// RunOnce 刷新一次区间。来源失败在内部处理，只有配置错误会返回。
func (w *Watcher) RunOnce(ctx context.Context) error {
	cfg := w.config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	q, err := w.src.Fetch(ctx)
	if err == nil && !q.valid() {
		err = ErrNoQuote
	}
	if err != nil {
		w.fail(cfg, err)
		return nil
	}
	w.succeed(cfg, q)
	return nil
}

func (w *Watcher) fail(cfg config.PriceWatcherConfig, err error) {
	w.mu.Lock()
	w.failures++
	failures := w.failures
	wasActual := w.band.IsActual
	if failures >= cfg.FailureThreshold {
		w.band.IsActual = false
	}
	band := w.band
	w.mu.Unlock()

	w.mon.UpdateBand(band.Low, band.High, band.IsActual)
	fields := []zap.Field{
		zap.String("source", w.src.Name()),
		zap.Int("failures", failures),
		zap.Int("threshold", cfg.FailureThreshold),
		zap.Error(err),
	}
	if failures < cfg.FailureThreshold {
		w.log.Warn("price source failed, keeping previous range", fields...)
		return
	}
	if wasActual {
		w.log.Error("price range marked stale", fields...)
	} else {
		w.log.Warn("price range still stale", fields...)
	}
	if aerr := w.alerts.SendAlert(alert.Alert{
		Level:    alert.LevelError,
		Message:  "price range is stale",
		Key:      AlertKeyStale,
		Interval: cfg.AlertInterval,
		Fields: map[string]interface{}{
			"source":   w.src.Name(),
			"failures": failures,
			"error":    err.Error(),
		},
	}); aerr != nil {
		w.log.Warn("send alert failed", zap.Error(aerr))
	}
}

func (w *Watcher) succeed(cfg config.PriceWatcherConfig, q Quote) {
	low, high := w.randomize(cfg.RandomizePercent, q.Low, q.High)
	now := w.clock.Now()

	w.mu.Lock()
	prev := w.band
	w.band = Band{
		Low:             low,
		High:            high,
		IsActual:        true,
		SourceTimestamp: q.Timestamp,
		UpdatedAt:       now,
	}
	w.failures = 0
	w.mu.Unlock()

	w.mon.UpdateBand(low, high, true)
	fields := []zap.Field{
		zap.String("source", w.src.Name()),
		zap.Float64("low", low),
		zap.Float64("high", high),
		zap.Float64("prev_low", prev.Low),
		zap.Float64("prev_high", prev.High),
	}
	if prev.Low > 0 && !prev.IsActual {
		w.log.Info("price range recovered", fields...)
	}

	change := math.Max(changePercent(prev.Low, low), changePercent(prev.High, high))
	if prev.Low > 0 && change > cfg.WarnChangePercent {
		w.log.Warn("price range changed sharply", append(fields, zap.Float64("change_percent", change))...)
		if err := w.alerts.SendAlert(alert.Alert{
			Level:   alert.LevelWarning,
			Message: "price range changed sharply",
			Key:     AlertKeyChange,
			Fields: map[string]interface{}{
				"source":         w.src.Name(),
				"low":            low,
				"high":           high,
				"prev_low":       prev.Low,
				"prev_high":      prev.High,
				"change_percent": change,
			},
		}); err != nil {
			w.log.Warn("send alert failed", zap.Error(err))
		}
		return
	}
	w.log.Info("price range updated", fields...)
}

// randomize 两端各偏移 ±percent%；结果 low >= high 时放弃随机化。
func (w *Watcher) randomize(percent, low, high float64) (float64, float64) {
	if percent <= 0 {
		return low, high
	}
	rl := low * (1 + xrand.Between(w.rnd, -percent, percent)/100)
	rh := high * (1 + xrand.Between(w.rnd, -percent, percent)/100)
	if rl <= 0 || rl >= rh {
		return low, high
	}
	return rl, rh
}

func changePercent(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return math.Abs(cur-prev) / prev * 100
}
