// Package pricemaker 通过小额自成交或吃单把价格往选定方向推动。
package pricemaker

import (
	"context"
	"errors"
	"fmt"
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

// CapWindow MaxBuyAmount / MaxSellAmount 的统计窗口。
const CapWindow = 24 * time.Hour

// 价差内成交价相对本方最优价的偏移（占价差的比例）
const (
	spreadFracMin  = 0.2
	spreadFracMax  = 0.8
	carefulFracMin = 0.02
	carefulFracMax = 0.2
)

// Enabler 用于查询流动性策略是否启用。
type Enabler interface {
	IsEnabled() bool
}

// Maker 价格推动策略。
type Maker struct {
	d   strategy.Deps
	log *logger.Logger

	mu        sync.RWMutex
	cfg       config.PriceMakerConfig
	liquidity Enabler
}

func New(cfg config.PriceMakerConfig, d strategy.Deps) *Maker {
	d = d.WithDefaults()
	return &Maker{d: d, log: d.Log.Named("pricemaker"), cfg: cfg}
}

func (p *Maker) Name() string { return "pricemaker" }

func (p *Maker) IsEnabled() bool { return p.Config().Enabled }

func (p *Maker) Apply(cfg config.PriceMakerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Maker) Config() config.PriceMakerConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetLiquidity 流动性策略启用时降低价差内成交的概率。
func (p *Maker) SetLiquidity(l Enabler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity = l
}

func (p *Maker) liquidityEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.liquidity != nil && p.liquidity.IsEnabled()
}

func (p *Maker) NextDelay() time.Duration {
	cfg := p.Config()
	return xrand.DurationBetween(p.d.Rand, cfg.IntervalMin, cfg.IntervalMax)
}

// inSpreadProbability optimal 策略下选择价差内成交的概率：价差越窄越高。
func inSpreadProbability(spreadPercent, wideSpreadPercent float64, liquidity bool) float64 {
	p := 1.0
	if wideSpreadPercent > 0 && spreadPercent > 0 {
		p = 1 / (1 + spreadPercent/wideSpreadPercent)
	}
	if liquidity {
		p /= 2
	}
	return p
}

// quote 本轮的决策输入。
type quote struct {
	side   market.Side
	amount float64
	bid    float64 // 可能已被价格区间收窄
	ask    float64
	forced bool    // 区间收窄了价差，只能在价差内成交
	worst  float64 // 吃单可接受的最差价，0 为不限
	m      *market.Metrics
	snap   *market.Snapshot
}

// RunOnce 对账、关闭到期订单，然后按策略推动一次价格。
func (p *Maker) RunOnce(ctx context.Context) error {
	cfg := p.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	recs, err := p.d.ActiveOrders(ctx, order.PurposePriceMaker)
	if err != nil {
		return err
	}
	p.d.CloseExpired(ctx, recs)

	q := quote{side: market.SideSell}
	if xrand.Chance(p.d.Rand, cfg.BuyProbability) {
		q.side = market.SideBuy
	}
	q.snap, q.m, err = p.d.Analyze(ctx, market.Options{CustomSpreadPercent: cfg.CustomSpreadPercent})
	if errors.Is(err, strategy.ErrNoMetrics) {
		p.log.Warn("order book has no usable metrics, cycle skipped", zap.String("pair", p.d.Pair.String()))
		return nil
	}
	if err != nil {
		return err
	}
	q.bid, q.ask = q.m.HighestBid, q.m.LowestAsk

	if band, ok := p.d.ActiveBand(0); ok {
		if q.side == market.SideBuy && band.High <= q.bid || q.side == market.SideSell && band.Low >= q.ask {
			p.d.Refuse("pricemaker:band:"+string(q.side),
				fmt.Sprintf("price maker %s refused: market is outside the price range", q.side),
				map[string]interface{}{
					"side":      string(q.side),
					"bid":       q.bid,
					"ask":       q.ask,
					"band_low":  band.Low,
					"band_high": band.High,
				})
			return nil
		}
		lo, hi := math.Max(q.bid, band.Low), math.Min(q.ask, band.High)
		q.forced = lo != q.bid || hi != q.ask
		q.bid, q.ask = lo, hi
		q.worst = band.High
		if q.side == market.SideSell {
			q.worst = band.Low
		}
	}
	q.amount = xrand.Between(p.d.Rand, cfg.AmountMin, cfg.AmountMax)

	inSpread := q.forced
	switch cfg.Policy {
	case config.PolicySpread:
		inSpread = true
	case config.PolicyOptimal:
		if !inSpread {
			inSpread = xrand.Chance(p.d.Rand, inSpreadProbability(q.m.SpreadPercent, cfg.WideSpreadPercent, p.liquidityEnabled()))
		}
	}

	if inSpread {
		price, ok := p.spreadPrice(cfg, q)
		if ok {
			return p.ExecuteInSpread(ctx, cfg, q.side, price, q.amount)
		}
		if cfg.Policy == config.PolicySpread || q.forced {
			p.log.LogRisk("cycle_refused", map[string]interface{}{
				"reason": "no room in spread",
				"policy": cfg.Policy,
				"forced": q.forced,
				"bid":    q.bid,
				"ask":    q.ask,
			})
			return nil
		}
		p.log.Debug("no room in spread, executing in order book")
	}
	return p.ExecuteInOrderBook(ctx, cfg, q.side, q.amount, q.snap, q.m, q.worst)
}

// spreadPrice 价差内的随机价，已按本方精度舍入；舍入后不再严格位于价差内时返回 false。
func (p *Maker) spreadPrice(cfg config.PriceMakerConfig, q quote) (float64, bool) {
	spread := q.ask - q.bid
	if !(spread > 0) {
		return 0, false
	}
	lo, hi := spreadFracMin, spreadFracMax
	if cfg.Careful && q.m.SpreadPercent > cfg.WideSpreadPercent {
		lo, hi = carefulFracMin, carefulFracMax
	}
	offset := spread * xrand.Between(p.d.Rand, lo, hi)
	price := q.bid + offset
	if q.side == market.SideSell {
		price = q.ask - offset
	}
	price = p.d.Orders.Precision(p.d.Pair.String()).RoundPrice(price, q.side)
	return price, price > q.bid && price < q.ask
}

// ExecuteInSpread 先挂对手方向的单，再按同一价格下本方单与之成交。
// 第二笔失败时撤掉本交易对全部活跃的价格推动单。
func (p *Maker) ExecuteInSpread(ctx context.Context, cfg config.PriceMakerConfig, side market.Side, price, amount float64) error {
	pair := p.d.Pair.String()
	amount = p.d.Orders.Precision(pair).RoundAmount(amount)

	wallet, err := p.d.LoadWallet(ctx)
	if err != nil {
		return err
	}
	cost := amount * price
	if !wallet.Reserve(p.d.Pair.Quote, cost) {
		p.d.InsufficientBalance(p.d.Pair.Quote, order.PurposePriceMaker, cost, wallet.Free(p.d.Pair.Quote))
		return nil
	}
	if !wallet.Reserve(p.d.Pair.Base, amount) {
		p.d.InsufficientBalance(p.d.Pair.Base, order.PurposePriceMaker, amount, wallet.Free(p.d.Pair.Base))
		return nil
	}

	spec := order.PlaceSpec{
		Pair:     pair,
		Side:     side.Opposite(),
		Purpose:  order.PurposePriceMaker,
		Price:    price,
		Amount:   amount,
		Lifetime: cfg.OrderLifetime,
	}
	first, err := p.d.Orders.Place(ctx, spec)
	if first == nil {
		if errors.Is(err, order.ErrBelowMinimum) {
			p.log.Debug("price maker order below exchange minimum", zap.Float64("price", price), zap.Float64("amount", amount))
			return nil
		}
		return err
	}

	spec.Side = side
	second, err := p.d.Orders.Place(ctx, spec)
	if second == nil {
		p.log.Warn("second leg failed, unwinding price maker orders",
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Float64("amount", amount),
			zap.String("first_leg", first.ID),
			zap.Error(err))
		p.unwind(ctx)
		return fmt.Errorf("price maker second leg: %w", err)
	}

	p.log.Info("price maker executed in spread",
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("amount", amount),
		zap.String("first_leg", first.ID),
		zap.String("second_leg", second.ID))
	return nil
}

func (p *Maker) unwind(ctx context.Context) {
	recs, err := p.d.Orders.Store().Find(ctx, order.Filter{
		Pair:       p.d.Pair.String(),
		Purpose:    order.PurposePriceMaker,
		ActiveOnly: true,
	})
	if err != nil {
		p.log.LogError(err, map[string]interface{}{"op": "unwind_find"})
		return
	}
	closed, err := p.d.Orders.CloseAll(ctx, recs, order.StateCancelled)
	if err != nil {
		p.log.LogError(err, map[string]interface{}{"op": "unwind_close", "closed": closed})
		return
	}
	p.log.Info("price maker orders unwound", zap.Int("closed", closed))
}

// ExecuteInOrderBook 按盘口流动性吃单：数量不超过 BookFraction × 自定义价差带内的对手盘，
// 价格取能完全成交的那一档，并受 24 小时累计上限约束。
// worst 非 0 时只吃不劣于该价的档位（买单不高于、卖单不低于），数量也以这些档位为上限。
func (p *Maker) ExecuteInOrderBook(ctx context.Context, cfg config.PriceMakerConfig, side market.Side, amount float64, snap *market.Snapshot, m *market.Metrics, worst float64) error {
	levels, avail := snap.Asks, m.Custom.AskAmount
	limit := cfg.MaxBuyAmount
	if side == market.SideSell {
		levels, avail = snap.Bids, m.Custom.BidAmount
		limit = cfg.MaxSellAmount
	}
	levels = market.MergeLevels(levels)
	if avail <= 0 && len(levels) > 0 {
		avail = levels[0].Amount
	}
	size := math.Min(amount, cfg.BookFraction*avail)

	if worst > 0 {
		var inside float64
		kept := levels[:0:0]
		for _, l := range levels {
			if side == market.SideBuy && l.Price > worst || side == market.SideSell && l.Price < worst {
				break
			}
			kept = append(kept, l)
			inside += l.Amount
		}
		if len(kept) == 0 {
			p.d.Refuse("pricemaker:band:"+string(side),
				fmt.Sprintf("price maker %s refused: no liquidity inside the price range", side),
				map[string]interface{}{
					"side":  string(side),
					"worst": worst,
				})
			return nil
		}
		levels = kept
		size = math.Min(size, inside)
	}
	if len(levels) == 0 {
		return nil
	}

	if limit > 0 {
		used, err := p.usedAmount(ctx, side)
		if err != nil {
			return err
		}
		left := limit - used
		if left <= 0 {
			p.d.Refuse("pricemaker:limit:"+string(side),
				fmt.Sprintf("price maker %s limit for %s reached", side, CapWindow),
				map[string]interface{}{
					"side":  string(side),
					"used":  used,
					"limit": limit,
				})
			return nil
		}
		size = math.Min(size, left)
	}

	price := levels[len(levels)-1].Price
	var cum float64
	for _, l := range levels {
		cum += l.Amount
		if cum >= size {
			price = l.Price
			break
		}
	}

	wallet, err := p.d.LoadWallet(ctx)
	if err != nil {
		return err
	}
	coin, cost := p.d.Pair.Base, size
	if side == market.SideBuy {
		coin, cost = p.d.Pair.Quote, size*price
	}
	if !wallet.Reserve(coin, cost) {
		p.d.InsufficientBalance(coin, order.PurposePriceMaker, cost, wallet.Free(coin))
		return nil
	}

	rec, err := p.d.Orders.Place(ctx, order.PlaceSpec{
		Pair:     p.d.Pair.String(),
		Side:     side,
		Purpose:  order.PurposePriceMaker,
		Price:    price,
		Amount:   size,
		Lifetime: cfg.OrderLifetime,
	})
	if rec == nil {
		if errors.Is(err, order.ErrBelowMinimum) {
			p.log.Debug("price maker order below exchange minimum", zap.Float64("price", price), zap.Float64("amount", size))
			return nil
		}
		return err
	}
	p.log.Info("price maker executed in order book",
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("amount", size),
		zap.Float64("available", avail),
		zap.Float64("worst", worst),
		zap.String("order_id", rec.ID))
	return nil
}

// usedAmount 窗口内本方向价格推动单的下单总量（基础币）。
func (p *Maker) usedAmount(ctx context.Context, side market.Side) (float64, error) {
	recs, err := p.d.Orders.Store().Find(ctx, order.Filter{
		Pair:    p.d.Pair.String(),
		Purpose: order.PurposePriceMaker,
		Side:    side,
		Since:   p.d.Clock.Now().Add(-CapWindow),
	})
	if err != nil {
		return 0, fmt.Errorf("load price maker history: %w", err)
	}
	var used float64
	for _, r := range recs {
		used += r.BaseAmount
	}
	return used, nil
}
