package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmartPriceSkipsThinTop(t *testing.T) {
	asks := []Level{{Price: 101, Amount: 0.001}, {Price: 102, Amount: 5}, {Price: 103, Amount: 5}, {Price: 104, Amount: 5}, {Price: 105, Amount: 5}}
	total := 20.001
	got := SmartPrice(asks, total, DefaultSmartPriceParams())
	assert.Equal(t, 102.0, got, "薄挂单不应成为智能价")
}

func TestSmartPriceStopsWhenGrowthDeclines(t *testing.T) {
	bids := make([]Level, 0, 100)
	for i := 0; i < 100; i++ {
		bids = append(bids, Level{Price: 100 - float64(i)*0.1, Amount: 1})
	}
	got := SmartPrice(bids, 100, DefaultSmartPriceParams())
	assert.InDelta(t, 99.8, got, 1e-9)
}

func TestSmartPriceBoundedByCeiling(t *testing.T) {
	bids := []Level{{Price: 100, Amount: 0.5}, {Price: 99, Amount: 0.5}, {Price: 98, Amount: 10}, {Price: 97, Amount: 89}}
	got := SmartPrice(bids, 100, SmartPriceParams{Base: 1, Ceiling: 10})
	// 累计到 98 时占比 11% 超过上限
	assert.Equal(t, 98.0, got)
}

func TestSmartPriceEdgeCases(t *testing.T) {
	assert.Zero(t, SmartPrice(nil, 10, SmartPriceParams{}))
	assert.Zero(t, SmartPrice([]Level{{Price: 1, Amount: 1}}, 0, SmartPriceParams{}))
	// 遍历结束未命中时取最后一档
	assert.Equal(t, 99.0, SmartPrice([]Level{{Price: 100, Amount: 0.1}, {Price: 99, Amount: 0.1}}, 1000, SmartPriceParams{}))
}

func TestCleanPriceSkipsCheater(t *testing.T) {
	bids := []Level{{Price: 100, Amount: 1}, {Price: 99.9, Amount: 1}, {Price: 99.5, Amount: 0.5}, {Price: 99, Amount: 97.5}}
	smart := SmartPrice(bids, 100, DefaultSmartPriceParams())
	require.Equal(t, 99.5, smart)

	clean, err := CleanPrice(bids, 100, smart, DefaultCleanKoef, false)
	require.NoError(t, err)
	assert.Equal(t, 99.9, clean)
	assert.GreaterOrEqual(t, clean, smart, "买盘干净价不得越过智能价")
}

func TestCleanPriceNeverPassesSmart(t *testing.T) {
	asks := []Level{{Price: 101, Amount: 0.01}, {Price: 101.5, Amount: 0.01}, {Price: 110, Amount: 100}}
	smart := SmartPrice(asks, 100.02, DefaultSmartPriceParams())
	require.Equal(t, 110.0, smart)

	clean, err := CleanPrice(asks, 100.02, smart, DefaultCleanKoef, true)
	require.NoError(t, err)
	assert.LessOrEqual(t, clean, smart)
	assert.Equal(t, 110.0, clean)
}

func TestCleanPriceRejectsBadSmart(t *testing.T) {
	_, err := CleanPrice([]Level{{Price: 1, Amount: 1}}, 1, 0, DefaultCleanKoef, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestQuoteHunterExcludesOwnOrders(t *testing.T) {
	bids := []Level{{Price: 100, Amount: 1}, {Price: 99, Amount: 2}, {Price: 98, Amount: 10}}
	own := []OwnOrder{{Side: SideBuy, Price: 100, Amount: 1}, {Side: SideSell, Price: 99, Amount: 2}}

	table := QuoteHunter(bids, own, 0)
	require.Len(t, table, 2)
	assert.Equal(t, 99.0, table[0].Price)
	assert.Zero(t, table[0].Koef)
	assert.InDelta(t, 12.0, table[1].CumulativeAmount, 1e-12)
	assert.InDelta(t, 1178.0, table[1].CumulativeQuote, 1e-9)
	assert.True(t, table[1].Optimal)
	assert.False(t, table[0].Optimal)

	// 下限以上只剩顶档，没有最优行
	table = QuoteHunter(bids, own, 98.5)
	require.Len(t, table, 1)
	assert.False(t, table[0].Optimal)
}
