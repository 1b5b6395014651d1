package gateway

import (
	"context"
	"sync"
	"time"

	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/market"
)

// Limited 串行化并限速地转发交易所调用，同时记录请求指标。
// 多个策略共享同一个适配器时，由它保证任一时刻只有一个请求在途。
type Limited struct {
	next    Exchange
	limiter RateLimiter
	mon     *monitor.Monitor
	mu      sync.Mutex
}

// NewLimited limiter 为 nil 时只做串行化。
func NewLimited(next Exchange, limiter RateLimiter, mon *monitor.Monitor) *Limited {
	return &Limited{next: next, limiter: limiter, mon: mon}
}

func (l *Limited) call(ctx context.Context, action string, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	start := time.Now()
	l.mon.RecordRESTRequest(action)
	err := fn()
	l.mon.RecordRESTLatency(action, time.Since(start).Seconds())
	if err != nil {
		l.mon.RecordRESTError(action)
	}
	return err
}

func (l *Limited) GetOrderBook(ctx context.Context, pair string) (s *market.Snapshot, err error) {
	err = l.call(ctx, "get_order_book", func() error {
		s, err = l.next.GetOrderBook(ctx, pair)
		return err
	})
	return s, err
}

func (l *Limited) GetOpenOrders(ctx context.Context, pair string) (orders []OpenOrder, err error) {
	err = l.call(ctx, "get_open_orders", func() error {
		orders, err = l.next.GetOpenOrders(ctx, pair)
		return err
	})
	return orders, err
}

func (l *Limited) GetBalances(ctx context.Context) (balances []Balance, err error) {
	err = l.call(ctx, "get_balances", func() error {
		balances, err = l.next.GetBalances(ctx)
		return err
	})
	return balances, err
}

func (l *Limited) PlaceOrder(ctx context.Context, req PlaceRequest) (res PlaceResult, err error) {
	err = l.call(ctx, "place_order", func() error {
		res, err = l.next.PlaceOrder(ctx, req)
		return err
	})
	return res, err
}

func (l *Limited) CancelOrder(ctx context.Context, id string, side market.Side, pair string) (out CancelOutcome, err error) {
	err = l.call(ctx, "cancel_order", func() error {
		out, err = l.next.CancelOrder(ctx, id, side, pair)
		return err
	})
	return out, err
}

// GetMarketInfo 下层适配器不支持时返回 ErrNotFound。
func (l *Limited) GetMarketInfo(ctx context.Context, pair string) (info MarketInfo, err error) {
	p, ok := l.next.(MarketInfoProvider)
	if !ok {
		return MarketInfo{}, ErrNotFound
	}
	err = l.call(ctx, "get_market_info", func() error {
		info, err = p.GetMarketInfo(ctx, pair)
		return err
	})
	return info, err
}
