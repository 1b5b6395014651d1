// Package strategy 定义策略的统一接口和各策略共用的下单/对账流程。
// 具体策略在子包中实现，本包不引用子包。
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/alert"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/order"
	"liquidity-maker-go/pricerange"
	"liquidity-maker-go/rates"
)

// ErrNoMetrics 盘口为空或交叉，本周期跳过。
var ErrNoMetrics = errors.New("strategy: order book has no usable metrics")

// BalanceAlertInterval 余额不足告警的最小间隔。
const BalanceAlertInterval = time.Hour

// TradingStrategy 调度器驱动的策略。
type TradingStrategy interface {
	Name() string
	IsEnabled() bool
	RunOnce(ctx context.Context) error
}

// Deps 策略的构造期依赖。Band 和 Rates 可以为 nil。
type Deps struct {
	Pair       gateway.Pair
	Exchange   gateway.Exchange
	Orders     *order.Manager
	Reconciler *order.Reconciler
	Band       pricerange.Reader
	Alerts     *alert.Manager
	Log        *logger.Logger
	Monitor    *monitor.Monitor
	Rand       xrand.Source
	Clock      clock.Clock
	Rates      rates.Converter
}

// WithDefaults 补齐可选依赖。
func (d Deps) WithDefaults() Deps {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Rand == nil {
		d.Rand = xrand.New()
	}
	if d.Clock == nil {
		d.Clock = clock.Real
	}
	return d
}

// ActiveOrders 读取本策略的活跃记录并与交易所对账，返回对账后仍活跃的记录。
func (d Deps) ActiveOrders(ctx context.Context, purpose order.Purpose) ([]*order.Record, error) {
	recs, err := d.Orders.Store().Find(ctx, order.Filter{
		Pair:       d.Pair.String(),
		Purpose:    purpose,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s orders: %w", purpose, err)
	}
	return d.Reconciler.Reconcile(ctx, d.Pair.String(), recs), nil
}

// CloseWhere 关闭满足条件的记录，返回仍然活跃的记录。撤单结果不确定的记录保留，下轮重试。
func (d Deps) CloseWhere(ctx context.Context, recs []*order.Record, target order.State, match func(*order.Record) bool) []*order.Record {
	kept := recs[:0:0]
	for _, rec := range recs {
		if !match(rec) {
			kept = append(kept, rec)
			continue
		}
		closed, err := d.Orders.Close(ctx, rec, target)
		if err != nil {
			d.Log.Warn("close order failed",
				zap.String("order_id", rec.ID),
				zap.String("purpose", string(rec.Purpose)),
				zap.String("target", string(target)),
				zap.Error(err))
		}
		if !closed {
			kept = append(kept, rec)
		}
	}
	return kept
}

// CloseExpired 关闭到期记录。
func (d Deps) CloseExpired(ctx context.Context, recs []*order.Record) []*order.Record {
	now := d.Clock.Now()
	return d.CloseWhere(ctx, recs, order.StateExpired, func(r *order.Record) bool {
		return r.Expired(now)
	})
}

// Analyze 拉取盘口并计算指标。
func (d Deps) Analyze(ctx context.Context, opts market.Options) (*market.Snapshot, *market.Metrics, error) {
	snap, err := d.Exchange.GetOrderBook(ctx, d.Pair.String())
	if err != nil {
		return nil, nil, fmt.Errorf("fetch order book: %w", err)
	}
	m, ok := market.Analyze(snap, opts, d.Rand)
	if !ok {
		return snap, nil, ErrNoMetrics
	}
	d.Monitor.UpdateBook(m.SpreadPercent, m.SmartBid, m.SmartAsk)
	return snap, m, nil
}

// ActiveBand 返回可用的价格区间：已激活且数据不早于 maxAge（0 表示不限）。
func (d Deps) ActiveBand(maxAge time.Duration) (pricerange.Band, bool) {
	if d.Band == nil {
		return pricerange.Band{}, false
	}
	b := d.Band.Band()
	return b, b.Usable(d.Clock.Now(), maxAge)
}

// InsufficientBalance 记录余额不足；告警按 币种+用途 限流。
func (d Deps) InsufficientBalance(coin string, purpose order.Purpose, need, free float64) {
	fields := map[string]interface{}{
		"coin":    coin,
		"purpose": string(purpose),
		"need":    need,
		"free":    free,
		"pair":    d.Pair.String(),
	}
	d.Log.LogRisk("insufficient_balance", fields)
	if err := d.Alerts.SendAlert(alert.Alert{
		Level:    alert.LevelWarning,
		Message:  fmt.Sprintf("not enough %s for %s orders", coin, purpose),
		Key:      "balance:" + string(purpose) + ":" + coin,
		Interval: BalanceAlertInterval,
		Fields:   fields,
	}); err != nil {
		d.Log.Warn("send alert failed", zap.Error(err))
	}
}

// Refuse 记录拒绝执行本周期的原因，并发送按 key 限流的告警。
func (d Deps) Refuse(key, message string, fields map[string]interface{}) {
	d.Log.LogRisk("cycle_refused", withReason(fields, message))
	if err := d.Alerts.SendAlert(alert.Alert{
		Level:    alert.LevelWarning,
		Message:  message,
		Key:      key,
		Interval: BalanceAlertInterval,
		Fields:   fields,
	}); err != nil {
		d.Log.Warn("send alert failed", zap.Error(err))
	}
}

func withReason(fields map[string]interface{}, reason string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["reason"] = reason
	return out
}

// IsTransient 交易所临时错误，本轮放弃即可。
func IsTransient(err error) bool {
	return errors.Is(err, gateway.ErrTransient)
}
