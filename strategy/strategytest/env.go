// Package strategytest 为策略测试搭建纸面交易所、内存存储和固定时钟。
package strategytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/alert"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/order"
	"liquidity-maker-go/pricerange"
	"liquidity-maker-go/strategy"
)

// Pair 测试交易对
const Pair = "ADM/USDT"

// Start 测试时钟的起点
var Start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Env 一套完整的策略依赖。
type Env struct {
	Paper      *gateway.Paper
	Store      *order.MemoryStore
	Orders     *order.Manager
	Reconciler *order.Reconciler
	Alerts     *alert.Manager
	Channel    *alert.MockChannel
	Clock      *clock.Manual
	Band       *BandStub
	Deps       strategy.Deps
}

// New 余额充足、无精度限制、盘口为空的环境。
func New(t testing.TB, rnd xrand.Source) *Env {
	t.Helper()
	pair, err := gateway.ParsePair(Pair)
	if err != nil {
		t.Fatalf("parse pair: %v", err)
	}
	if rnd == nil {
		rnd = xrand.NewSeeded(1)
	}

	paper := gateway.NewPaper()
	paper.SetBalance(pair.Base, 1e9)
	paper.SetBalance(pair.Quote, 1e9)

	clk := clock.NewManual(Start)
	paper.SetClock(clk.Now)
	store := order.NewMemoryStore()
	ch := alert.NewMockChannel("mock")
	alerts := alert.NewManager([]alert.Channel{ch}, time.Hour)
	alerts.Throttler().SetClock(clk.Now)
	band := &BandStub{}

	orders := order.NewManager(paper, store, nil, nil, clk)
	rec := order.NewReconciler(paper, store, nil, nil, clk)

	return &Env{
		Paper:      paper,
		Store:      store,
		Orders:     orders,
		Reconciler: rec,
		Alerts:     alerts,
		Channel:    ch,
		Clock:      clk,
		Band:       band,
		Deps: strategy.Deps{
			Pair:       pair,
			Exchange:   paper,
			Orders:     orders,
			Reconciler: rec,
			Band:       band,
			Alerts:     alerts,
			Rand:       rnd,
			Clock:      clk,
		}.WithDefaults(),
	}
}

// SetBook 设置外部盘口。
func (e *Env) SetBook(bids, asks []market.Level) {
	e.Paper.SetBook(Pair, bids, asks)
}

// Records 某用途的全部记录（含已关闭）。
func (e *Env) Records(t testing.TB, purpose order.Purpose) []*order.Record {
	t.Helper()
	recs, err := e.Store.Find(context.Background(), order.Filter{Pair: Pair, Purpose: purpose})
	if err != nil {
		t.Fatalf("find records: %v", err)
	}
	return recs
}

// Active 某用途的活跃记录。
func (e *Env) Active(t testing.TB, purpose order.Purpose) []*order.Record {
	t.Helper()
	recs, err := e.Store.Find(context.Background(), order.Filter{Pair: Pair, Purpose: purpose, ActiveOnly: true})
	if err != nil {
		t.Fatalf("find records: %v", err)
	}
	return recs
}

// BandStub 可手动设置的价格区间。
type BandStub struct {
	mu   sync.RWMutex
	band pricerange.Band
}

func (b *BandStub) Set(band pricerange.Band) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.band = band
}

func (b *BandStub) Band() pricerange.Band {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.band
}
