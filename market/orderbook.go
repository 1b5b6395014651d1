package market

import (
	"sort"
	"sync"
	"time"
)

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回对手方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Level 一档价格。
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// Snapshot 订单簿快照：Bids 按价格降序，Asks 按价格升序。只读使用。
type Snapshot struct {
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// HighestBid 买一价，无买单时为 0。
func (s *Snapshot) HighestBid() float64 {
	if s == nil || len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// LowestAsk 卖一价，无卖单时为 0。
func (s *Snapshot) LowestAsk() float64 {
	if s == nil || len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Valid 两侧均非空且买一 < 卖一。
func (s *Snapshot) Valid() bool {
	if s == nil || len(s.Bids) == 0 || len(s.Asks) == 0 {
		return false
	}
	return s.Bids[0].Price > 0 && s.Bids[0].Price < s.Asks[0].Price
}

// MergeLevels 合并相邻同价档位，返回新切片，入参不变。
func MergeLevels(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if n := len(out); n > 0 && samePrice(out[n-1].Price, l.Price) {
			out[n-1].Amount += l.Amount
			continue
		}
		out = append(out, l)
	}
	return out
}

// OrderBook 维护简单的价格->数量映射。
type OrderBook struct {
	mu   sync.RWMutex
	bids map[float64]float64 // price -> qty
	asks map[float64]float64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

// ApplyDelta 应用增量更新，qty 为 0 表示删除该档。
func (ob *OrderBook) ApplyDelta(bidDelta map[float64]float64, askDelta map[float64]float64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for p, q := range bidDelta {
		if q <= 0 {
			delete(ob.bids, p)
		} else {
			ob.bids[p] = q
		}
	}
	for p, q := range askDelta {
		if q <= 0 {
			delete(ob.asks, p)
		} else {
			ob.asks[p] = q
		}
	}
}

// Take 从指定一侧扣减数量，返回实际扣减量。
func (ob *OrderBook) Take(side Side, price, qty float64) float64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	m := ob.asks
	if side == SideBuy {
		m = ob.bids
	}
	have, ok := m[price]
	if !ok {
		return 0
	}
	if qty >= have {
		delete(m, price)
		return have
	}
	m[price] = have - qty
	return qty
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid float64, bestAsk float64) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	for p := range ob.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range ob.asks {
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Snapshot 导出排序后的快照，limit<=0 表示全部档位。
func (ob *OrderBook) Snapshot(limit int, ts time.Time) *Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return &Snapshot{
		Bids:      sortedLevels(ob.bids, true, limit),
		Asks:      sortedLevels(ob.asks, false, limit),
		Timestamp: ts,
	}
}

func sortedLevels(m map[float64]float64, desc bool, limit int) []Level {
	levels := make([]Level, 0, len(m))
	for p, q := range m {
		levels = append(levels, Level{Price: p, Amount: q})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if limit > 0 && len(levels) > limit {
		levels = levels[:limit]
	}
	return levels
}
