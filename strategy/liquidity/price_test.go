package liquidity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"liquidity-maker-go/config"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/pricerange"
	"liquidity-maker-go/strategy"
)

func testMetrics() *market.Metrics {
	return &market.Metrics{
		HighestBid:     99,
		LowestAsk:      101,
		Spread:         2,
		AveragePrice:   100,
		MiddlePrice:    100,
		UptrendPrice:   100.8,
		DowntrendPrice: 99.2,
	}
}

func TestPriceFollowsTrend(t *testing.T) {
	tests := []struct {
		trend string
		side  market.Side
		rnd   xrand.Fixed
		want  float64
	}{
		{config.TrendMiddle, market.SideSell, 0, 100},
		{config.TrendMiddle, market.SideBuy, 1, 100},
		{config.TrendUptrend, market.SideSell, 0, 100.8},
		{config.TrendUptrend, market.SideBuy, 1, 100},
		{config.TrendDowntrend, market.SideBuy, 1, 99.2},
		{config.TrendDowntrend, market.SideSell, 0, 100},
		{config.TrendMiddle, market.SideBuy, 0, 98},
	}
	for _, tt := range tests {
		t.Run(tt.trend+"_"+string(tt.side), func(t *testing.T) {
			c := newCycle(config.LiquidityConfig{SpreadPercent: 4, Trend: tt.trend}, testMetrics(), pricerange.Band{}, false)
			got, ok := c.price(tt.rnd, tt.side)
			assert.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPriceRejectsCrossing(t *testing.T) {
	m := testMetrics()
	m.HighestBid = 100.5
	c := newCycle(config.LiquidityConfig{SpreadPercent: 4, Trend: config.TrendMiddle}, m, pricerange.Band{}, false)
	_, ok := c.price(xrand.Fixed(0), market.SideSell)
	assert.False(t, ok)
}

func TestOutOfRange(t *testing.T) {
	c := newCycle(config.LiquidityConfig{SpreadPercent: 4, InnerSpreadPercent: 1}, testMetrics(), pricerange.Band{}, false)
	assert.True(t, c.outOfRange(97.9, false))
	assert.True(t, c.outOfRange(102.1, true))
	assert.True(t, c.outOfRange(100.2, false))
	assert.False(t, c.outOfRange(100.2, true))
	assert.False(t, c.outOfRange(99.4, false))
}

func TestBookPriceSinceTracksTopOfBookChanges(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewManual(t0)
	p := New(config.LiquidityConfig{}, strategy.Deps{Clock: clk})
	m := testMetrics()

	assert.Equal(t, t0, p.bookPriceSince(&market.Snapshot{Timestamp: t0}, m))
	// 价格未变，保留首次出现的时间
	assert.Equal(t, t0, p.bookPriceSince(&market.Snapshot{Timestamp: t0.Add(time.Minute)}, m))

	moved := *m
	moved.HighestBid = 99.5
	t2 := t0.Add(2 * time.Minute)
	assert.Equal(t, t2, p.bookPriceSince(&market.Snapshot{Timestamp: t2}, &moved))

	// 快照无时间戳时用本地时钟
	clk.Advance(5 * time.Minute)
	assert.Equal(t, t0.Add(5*time.Minute), p.bookPriceSince(&market.Snapshot{}, m))
}
