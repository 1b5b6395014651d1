package gateway

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// MarketCache 按交易对懒加载市场信息。
// 同一交易对并发请求时只有一个调用真正访问交易所，其余等待其结果；失败不缓存。
type MarketCache struct {
	provider MarketInfoProvider
	group    singleflight.Group

	mu    sync.RWMutex
	items map[string]MarketInfo
}

func NewMarketCache(provider MarketInfoProvider) *MarketCache {
	return &MarketCache{
		provider: provider,
		items:    make(map[string]MarketInfo),
	}
}

func (c *MarketCache) cached(pair string) (MarketInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.items[pair]
	return info, ok
}

// Get 返回缓存的市场信息，未命中时加载。
func (c *MarketCache) Get(ctx context.Context, pair string) (MarketInfo, error) {
	if info, ok := c.cached(pair); ok {
		return info, nil
	}
	ch := c.group.DoChan(pair, func() (interface{}, error) {
		// 排队期间可能已被上一次加载写入
		if info, ok := c.cached(pair); ok {
			return info, nil
		}
		info, err := c.provider.GetMarketInfo(ctx, pair)
		if err != nil {
			return MarketInfo{}, fmt.Errorf("load market info %s: %w", pair, err)
		}
		c.mu.Lock()
		c.items[pair] = info
		c.mu.Unlock()
		return info, nil
	})
	select {
	case res := <-ch:
		return res.Val.(MarketInfo), res.Err
	case <-ctx.Done():
		return MarketInfo{}, ctx.Err()
	}
}

// Invalidate 丢弃某交易对的缓存。
func (c *MarketCache) Invalidate(pair string) {
	c.mu.Lock()
	delete(c.items, pair)
	c.mu.Unlock()
}
