package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-maker-go/market"
)

const testPair = "ADM/USDT"

func newTestPaper() *Paper {
	p := NewPaper()
	p.SetBook(testPair,
		[]market.Level{{Price: 99, Amount: 10}, {Price: 98, Amount: 20}},
		[]market.Level{{Price: 101, Amount: 10}, {Price: 102, Amount: 20}},
	)
	p.SetBalance("USDT", 10000)
	p.SetBalance("ADM", 1000)
	return p
}

func TestPaperRestingOrderAppearsInBook(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideBuy, Price: 100, Amount: 3})
	require.NoError(t, err)
	require.True(t, res.OK())

	snap, err := p.GetOrderBook(ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.HighestBid())
	assert.Equal(t, 3.0, snap.Bids[0].Amount)

	bals, err := p.GetBalances(ctx)
	require.NoError(t, err)
	usdt := FindBalance(bals, "usdt")
	assert.InDelta(t, 9700, usdt.Free, 1e-9)
	assert.InDelta(t, 300, usdt.Frozen, 1e-9)
}

func TestPaperSelfTradeInsideSpread(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	sell, err := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideSell, Price: 100, Amount: 2})
	require.NoError(t, err)
	buy, err := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideBuy, Price: 100, Amount: 2})
	require.NoError(t, err)

	s, _ := p.Order(sell.OrderID)
	b, _ := p.Order(buy.OrderID)
	assert.Equal(t, StatusFilled, s.Status)
	assert.Equal(t, StatusFilled, b.Status)

	bals, _ := p.GetBalances(ctx)
	assert.InDelta(t, 10000, FindBalance(bals, "USDT").Total, 1e-9)
	assert.InDelta(t, 1000, FindBalance(bals, "ADM").Total, 1e-9)
}

func TestPaperCrossingOrderTakesExternalLiquidity(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideBuy, Price: 102, Amount: 15})
	require.NoError(t, err)
	o, _ := p.Order(res.OrderID)
	assert.Equal(t, StatusFilled, o.Status)

	snap, _ := p.GetOrderBook(ctx, testPair)
	assert.Equal(t, 102.0, snap.LowestAsk())
	assert.Equal(t, 15.0, snap.Asks[0].Amount)

	bals, _ := p.GetBalances(ctx)
	// 10*101 + 5*102，挂单价 102 冻结的差额退回
	assert.InDelta(t, 10000-1520, FindBalance(bals, "USDT").Free, 1e-9)
	assert.InDelta(t, 1015, FindBalance(bals, "ADM").Free, 1e-9)
}

func TestPaperInsufficientBalance(t *testing.T) {
	p := newTestPaper()
	res, err := p.PlaceOrder(context.Background(), PlaceRequest{Pair: testPair, Side: market.SideSell, Price: 105, Amount: 5000})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, res.Message, "insufficient ADM")
}

func TestPaperCancelOutcomes(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()
	res, _ := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideSell, Price: 110, Amount: 1})

	out, err := p.CancelOrder(ctx, res.OrderID, market.SideSell, testPair)
	require.NoError(t, err)
	assert.Equal(t, CancelDone, out)

	out, err = p.CancelOrder(ctx, res.OrderID, market.SideSell, testPair)
	require.NoError(t, err)
	assert.Equal(t, CancelGone, out)

	out, err = p.CancelOrder(ctx, "X", market.SideSell, testPair)
	require.NoError(t, err)
	assert.Equal(t, CancelGone, out)

	p.FailNext(OpCancel, 1)
	out, err = p.CancelOrder(ctx, "X", market.SideSell, testPair)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Equal(t, CancelUnknown, out)

	bals, _ := p.GetBalances(ctx)
	assert.InDelta(t, 1000, FindBalance(bals, "ADM").Free, 1e-9)
}

func TestPaperOpenOrdersAndFill(t *testing.T) {
	p := newTestPaper()
	ctx := context.Background()
	res, _ := p.PlaceOrder(ctx, PlaceRequest{Pair: testPair, Side: market.SideBuy, Price: 95, Amount: 4})

	require.NoError(t, p.Fill(res.OrderID, 1))
	open, err := p.GetOpenOrders(ctx, testPair)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, StatusPartiallyFilled, open[0].Status)
	assert.Equal(t, 3.0, open[0].AmountLeft)

	p.Hide(res.OrderID)
	open, _ = p.GetOpenOrders(ctx, testPair)
	assert.Empty(t, open)
	assert.Equal(t, 2, p.Calls(OpOpenOrders))
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("adm/usdt")
	require.NoError(t, err)
	assert.Equal(t, "ADM", pair.Base)
	assert.Equal(t, "ADM/USDT", pair.String())

	for _, bad := range []string{"", "ADM", "ADM/", "/USDT", "A/B/C"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}
