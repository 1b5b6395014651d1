// Package depth 在盘口前几档之间持续补充小额挂单，让盘口看起来有厚度。
package depth

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidity-maker-go/config"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/order"
	"liquidity-maker-go/strategy"
)

// 每档深度对应的最长生命周期
const lifetimeStep = 1500 * time.Millisecond

// Builder 盘口深度策略：每轮最多补一笔。
type Builder struct {
	d   strategy.Deps
	log *logger.Logger

	mu  sync.RWMutex
	cfg config.DepthConfig
}

func New(cfg config.DepthConfig, d strategy.Deps) *Builder {
	d = d.WithDefaults()
	return &Builder{d: d, log: d.Log.Named("depth"), cfg: cfg}
}

func (b *Builder) Name() string { return "depth" }

func (b *Builder) IsEnabled() bool { return b.Config().Enabled }

func (b *Builder) Apply(cfg config.DepthConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

func (b *Builder) Config() config.DepthConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *Builder) NextDelay() time.Duration {
	cfg := b.Config()
	return xrand.DurationBetween(b.d.Rand, cfg.IntervalMin, cfg.IntervalMax)
}

// RunOnce 对账、关闭到期订单，不足 OrderCount 时补一笔。
func (b *Builder) RunOnce(ctx context.Context) error {
	cfg := b.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	recs, err := b.d.ActiveOrders(ctx, order.PurposeDepth)
	if err != nil {
		return err
	}
	recs = b.d.CloseExpired(ctx, recs)
	if len(recs) >= cfg.OrderCount {
		b.log.Debug("depth target met", zap.Int("active", len(recs)))
		return nil
	}

	snap, m, err := b.d.Analyze(ctx, market.Options{})
	if errors.Is(err, strategy.ErrNoMetrics) {
		b.log.Warn("order book has no usable metrics, cycle skipped", zap.String("pair", b.d.Pair.String()))
		return nil
	}
	if err != nil {
		return err
	}

	side := market.SideSell
	if xrand.Chance(b.d.Rand, cfg.BuyProbability) {
		side = market.SideBuy
	}
	price, pos, ok := b.price(cfg, side, snap, m)
	if !ok {
		b.log.Debug("not enough levels for depth order", zap.String("side", string(side)))
		return nil
	}

	amount := xrand.Between(b.d.Rand, cfg.AmountMin, cfg.AmountMax)
	wallet, err := b.d.LoadWallet(ctx)
	if err != nil {
		return err
	}
	coin, cost := b.d.Pair.Base, amount
	if side == market.SideBuy {
		coin, cost = b.d.Pair.Quote, amount*price
	}
	if !wallet.Reserve(coin, cost) {
		b.d.InsufficientBalance(coin, order.PurposeDepth, cost, wallet.Free(coin))
		return nil
	}

	_, err = b.d.Orders.Place(ctx, order.PlaceSpec{
		Pair:     b.d.Pair.String(),
		Side:     side,
		Purpose:  order.PurposeDepth,
		Price:    price,
		Amount:   amount,
		Lifetime: lifetime(cfg, pos),
	})
	if errors.Is(err, order.ErrBelowMinimum) {
		b.log.Debug("depth order below exchange minimum", zap.Float64("price", price), zap.Float64("amount", amount))
		return nil
	}
	return err
}

// price 在第 pos-1 与 pos 档之间取随机价（pos 从 1 计）。
// 价格越出有效区间时改为区间边缘附近的随机价，且不越过对手方最优价。
func (b *Builder) price(cfg config.DepthConfig, side market.Side, snap *market.Snapshot, m *market.Metrics) (float64, int, bool) {
	levels := snap.Bids
	if side == market.SideSell {
		levels = snap.Asks
	}
	levels = market.MergeLevels(levels)
	n := cfg.Height
	if len(levels) < n {
		n = len(levels)
	}
	if n < 2 {
		return 0, 0, false
	}
	pos := xrand.IntBetween(b.d.Rand, 2, n)
	a, c := levels[pos-2].Price, levels[pos-1].Price
	price := xrand.Between(b.d.Rand, math.Min(a, c), math.Max(a, c))

	band, ok := b.d.ActiveBand(0)
	if !ok || band.Contains(price) {
		return price, pos, true
	}
	edge := band.High
	if price < band.Low {
		edge = band.Low
	}
	o := cfg.OvershootPercent
	shifted := edge + band.Width()*xrand.Between(b.d.Rand, -o, o)/100
	switch {
	case side == market.SideBuy && shifted >= m.LowestAsk:
		shifted = m.HighestBid
	case side == market.SideSell && shifted <= m.HighestBid:
		shifted = m.LowestAsk
	}
	if !(shifted > 0) {
		return 0, 0, false
	}
	b.log.Debug("depth price moved into band",
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("shifted", shifted),
		zap.Float64("band_low", band.Low),
		zap.Float64("band_high", band.High))
	return shifted, pos, true
}

// lifetime 越深的档位挂得越久：OrderCount×1.5s×√(pos/Height)，至少 1 秒。
func lifetime(cfg config.DepthConfig, pos int) time.Duration {
	max := time.Duration(cfg.OrderCount) * lifetimeStep
	d := time.Duration(float64(max) * math.Sqrt(float64(pos)/float64(cfg.Height)))
	if d < time.Second {
		d = time.Second
	}
	return d
}
