// Package liquidity 在平均价附近的价差带内维持固定规模的买卖挂单。
package liquidity

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
	"liquidity-maker-go/pricerange"
	"liquidity-maker-go/strategy"
)

// 最后一笔小于目标的这个比例时视为已达标，避免挂出碎单
const dustFraction = 0.001

// Planner 流动性策略。
type Planner struct {
	d   strategy.Deps
	log *logger.Logger

	mu  sync.RWMutex
	cfg config.LiquidityConfig

	// 盘口买一卖一及其最近一次变化的时间
	priceMu    sync.Mutex
	lastBid    float64
	lastAsk    float64
	priceSince time.Time
}

func New(cfg config.LiquidityConfig, d strategy.Deps) *Planner {
	d = d.WithDefaults()
	return &Planner{d: d, log: d.Log.Named("liquidity"), cfg: cfg}
}

// bookPriceSince 返回当前买一卖一首次出现的时间。
// 盘口价格不变时保留原时间，快照没有时间戳时用本地时钟。
func (p *Planner) bookPriceSince(snap *market.Snapshot, m *market.Metrics) time.Time {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = p.d.Clock.Now()
	}
	p.priceMu.Lock()
	defer p.priceMu.Unlock()
	if p.priceSince.IsZero() || m.HighestBid != p.lastBid || m.LowestAsk != p.lastAsk {
		p.lastBid, p.lastAsk, p.priceSince = m.HighestBid, m.LowestAsk, ts
	}
	return p.priceSince
}

func (p *Planner) Name() string { return "liquidity" }

func (p *Planner) IsEnabled() bool { return p.Config().Enabled }

// Apply 热更新参数，下一轮生效。
func (p *Planner) Apply(cfg config.LiquidityConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Planner) Config() config.LiquidityConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Planner) NextDelay() time.Duration {
	cfg := p.Config()
	return xrand.DurationBetween(p.d.Rand, cfg.IntervalMin, cfg.IntervalMax)
}

// cycle 一轮内的计算结果。
type cycle struct {
	cfg    config.LiquidityConfig
	m      *market.Metrics
	band   pricerange.Band
	bandOK bool

	low, high           float64 // 价差带
	innerLow, innerHigh float64 // 内侧禁区（只约束非支撑单）
}

func newCycle(cfg config.LiquidityConfig, m *market.Metrics, band pricerange.Band, bandOK bool) *cycle {
	avg := m.AveragePrice
	return &cycle{
		cfg:       cfg,
		m:         m,
		band:      band,
		bandOK:    bandOK,
		low:       avg * (1 - cfg.SpreadPercent/200),
		high:      avg * (1 + cfg.SpreadPercent/200),
		innerLow:  avg * (1 - cfg.InnerSpreadPercent/200),
		innerHigh: avg * (1 + cfg.InnerSpreadPercent/200),
	}
}

// outOfRange 价格在价差带外，或（非支撑单）落在内侧禁区。
func (c *cycle) outOfRange(price float64, support bool) bool {
	if price < c.low || price > c.high {
		return true
	}
	if support || c.cfg.InnerSpreadPercent <= 0 {
		return false
	}
	return price > c.innerLow && price < c.innerHigh
}

// reference 按趋势选择的参考价。
func (c *cycle) reference() float64 {
	switch c.cfg.Trend {
	case config.TrendUptrend:
		return c.m.UptrendPrice
	case config.TrendDowntrend:
		return c.m.DowntrendPrice
	default:
		return c.m.MiddlePrice
	}
}

// crosses 价格会与对手盘立即成交。
func (c *cycle) crosses(side market.Side, price float64) bool {
	if side == market.SideBuy {
		return price >= c.m.LowestAsk
	}
	return price <= c.m.HighestBid
}

// price 参考价 ±SpreadPercent/2 范围内的随机价：买单在参考价下方，卖单在上方。
// 有可用价格区间时压进区间；结果会吃单或下一轮就会被关闭时返回 false。
func (c *cycle) price(rnd xrand.Source, side market.Side) (float64, bool) {
	ref := c.reference()
	half := c.cfg.SpreadPercent / 200
	var lo, hi float64
	if side == market.SideBuy {
		lo = math.Max(ref*(1-half), c.low)
		hi = math.Min(ref, c.innerLow)
		if lo > hi {
			lo = hi
		}
	} else {
		lo = math.Max(ref, c.innerHigh)
		hi = math.Min(ref*(1+half), c.high)
		if lo > hi {
			hi = lo
		}
	}
	price := xrand.Between(rnd, lo, hi)
	if c.bandOK {
		price = c.band.Clamp(price)
	}
	if !(price > 0) || c.crosses(side, price) || c.outOfRange(price, false) {
		return 0, false
	}
	return price, true
}

// RunOnce 对账、关闭到期和越界订单，然后补足买卖两侧的目标量。
func (p *Planner) RunOnce(ctx context.Context) error {
	cfg := p.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	recs, err := p.d.ActiveOrders(ctx, order.PurposeLiquidity)
	if err != nil {
		return err
	}
	recs = p.d.CloseExpired(ctx, recs)

	snap, m, err := p.d.Analyze(ctx, market.Options{CustomSpreadPercent: cfg.SpreadPercent})
	if errors.Is(err, strategy.ErrNoMetrics) {
		p.log.Warn("order book has no usable metrics, cycle skipped", zap.String("pair", p.d.Pair.String()))
		return nil
	}
	if err != nil {
		return err
	}

	band, bandOK := p.d.ActiveBand(cfg.BandMaxAge)
	if since := p.bookPriceSince(snap, m); bandOK && band.Time().Before(since) {
		p.log.Debug("price range older than book price, not clamping",
			zap.Time("range_time", band.Time()),
			zap.Time("book_price_since", since))
		bandOK = false
	}
	c := newCycle(cfg, m, band, bandOK)
	recs = p.d.CloseWhere(ctx, recs, order.StateOutOfRange, func(r *order.Record) bool {
		return c.outOfRange(r.Price, r.IsSupport())
	})

	wallet, err := p.d.LoadWallet(ctx)
	if err != nil {
		return err
	}

	placedQuote := p.fill(ctx, c, recs, wallet)
	if cfg.SupportEnabled {
		placedQuote += p.support(ctx, c, recs, wallet)
	}
	p.report(ctx, placedQuote, len(recs))
	return nil
}

// fill 交替补足买卖两侧，返回本轮新挂的计价币总额。
func (p *Planner) fill(ctx context.Context, c *cycle, recs []*order.Record, wallet *strategy.Wallet) float64 {
	var buyQuote, sellBase float64
	for _, r := range recs {
		if r.IsSupport() {
			continue
		}
		if r.Side == market.SideBuy {
			buyQuote += r.Remaining * r.Price
		} else {
			sellBase += r.Remaining
		}
	}

	var placedQuote float64
	placements := 0
	done := map[market.Side]bool{}
	sides := []market.Side{market.SideBuy, market.SideSell}
	for placements < c.cfg.MaxPlacements {
		progressed := false
		for _, side := range sides {
			if done[side] || placements >= c.cfg.MaxPlacements {
				continue
			}
			target, have := c.cfg.SellBaseAmount, sellBase
			if side == market.SideBuy {
				target, have = c.cfg.BuyQuoteAmount, buyQuote
			}
			need := target - have
			if target <= 0 || need <= target*dustFraction {
				done[side] = true
				continue
			}

			price, ok := c.price(p.d.Rand, side)
			if !ok {
				p.log.Debug("no valid liquidity price", zap.String("side", string(side)))
				done[side] = true
				continue
			}
			size := math.Min(xrand.Between(p.d.Rand, target/7, target/2), need)
			amount := size
			if side == market.SideBuy {
				amount = size / price
			}

			rec, err := p.place(ctx, wallet, order.PlaceSpec{
				Pair:     p.d.Pair.String(),
				Side:     side,
				Purpose:  order.PurposeLiquidity,
				Price:    price,
				Amount:   amount,
				Lifetime: xrand.DurationBetween(p.d.Rand, c.cfg.LifetimeMin, c.cfg.LifetimeMax),
			})
			if rec == nil {
				done[side] = true
				if err != nil && !errors.Is(err, order.ErrBelowMinimum) && !errors.Is(err, errNoFunds) {
					// 交易所拒单或网络错误，本轮不再下单
					return placedQuote
				}
				continue
			}
			placements++
			progressed = true
			placedQuote += rec.QuoteAmount
			if side == market.SideBuy {
				buyQuote += rec.QuoteAmount
			} else {
				sellBase += rec.BaseAmount
			}
		}
		if !progressed {
			break
		}
	}
	if placements >= c.cfg.MaxPlacements {
		p.log.Info("liquidity placement cap reached", zap.Int("placements", placements))
	}
	return placedQuote
}

// support 每侧维持一笔贴近买一/卖一内侧的支撑单。
func (p *Planner) support(ctx context.Context, c *cycle, recs []*order.Record, wallet *strategy.Wallet) float64 {
	if c.m.Spread <= 0 {
		return 0
	}
	have := map[market.Side]bool{}
	for _, r := range recs {
		if r.IsSupport() {
			have[r.Side] = true
		}
	}

	var placedQuote float64
	for _, side := range []market.Side{market.SideBuy, market.SideSell} {
		if have[side] {
			continue
		}
		offset := c.m.Spread * xrand.Between(p.d.Rand, 0.05, 0.2)
		price := c.m.HighestBid + offset
		if side == market.SideSell {
			price = c.m.LowestAsk - offset
		}
		if c.bandOK {
			price = c.band.Clamp(price)
		}
		if c.crosses(side, price) || c.outOfRange(price, true) {
			p.log.Debug("support price rejected", zap.String("side", string(side)), zap.Float64("price", price))
			continue
		}
		rec, _ := p.place(ctx, wallet, order.PlaceSpec{
			Pair:       p.d.Pair.String(),
			Side:       side,
			Purpose:    order.PurposeLiquidity,
			SubPurpose: order.SubPurposeSupport,
			Price:      price,
			Amount:     c.cfg.SupportAmount,
			Lifetime:   xrand.DurationBetween(p.d.Rand, c.cfg.LifetimeMin, c.cfg.LifetimeMax),
		})
		if rec != nil {
			placedQuote += rec.QuoteAmount
		}
	}
	return placedQuote
}

var errNoFunds = errors.New("insufficient balance")

// place 预留余额后下单。余额不足时告警并返回 errNoFunds。
func (p *Planner) place(ctx context.Context, wallet *strategy.Wallet, spec order.PlaceSpec) (*order.Record, error) {
	coin, cost := p.d.Pair.Base, spec.Amount
	if spec.Side == market.SideBuy {
		coin, cost = p.d.Pair.Quote, spec.Amount*spec.Price
	}
	if !wallet.Reserve(coin, cost) {
		p.d.InsufficientBalance(coin, order.PurposeLiquidity, cost, wallet.Free(coin))
		return nil, errNoFunds
	}
	rec, err := p.d.Orders.Place(ctx, spec)
	if err != nil {
		p.log.Warn("place liquidity order failed",
			zap.String("side", string(spec.Side)),
			zap.String("sub_purpose", spec.SubPurpose),
			zap.Float64("price", spec.Price),
			zap.Float64("amount", spec.Amount),
			zap.Error(err))
		if rec == nil {
			wallet.Release(coin, cost)
		}
	}
	return rec, err
}

// report 本轮汇总；有汇率服务时附带美元估值。
func (p *Planner) report(ctx context.Context, placedQuote float64, kept int) {
	if placedQuote <= 0 {
		p.log.Debug("liquidity targets met", zap.Int("active", kept))
		return
	}
	fields := []zap.Field{
		zap.Int("kept", kept),
		zap.Float64("placed_quote", placedQuote),
		zap.String("quote", p.d.Pair.Quote),
	}
	if p.d.Rates != nil {
		if conv, err := p.d.Rates.Convert(ctx, p.d.Pair.Quote, "USD", placedQuote); err == nil {
			fields = append(fields, zap.Float64("placed_usd", conv.OutAmount))
		}
	}
	p.log.Info("liquidity orders placed", fields...)
}
