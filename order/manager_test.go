package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/market"
)

const testPair = "ADM/USDT"

var testStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newPaper() *gateway.Paper {
	p := gateway.NewPaper()
	p.SetBook(testPair,
		[]market.Level{{Price: 0.0099, Amount: 10000}},
		[]market.Level{{Price: 0.0101, Amount: 10000}},
	)
	p.SetBalance("USDT", 1000)
	p.SetBalance("ADM", 100000)
	return p
}

func newTestManager(ex gateway.Exchange) (*Manager, *MemoryStore, *clock.Manual) {
	store := NewMemoryStore()
	clk := clock.NewManual(testStart)
	return NewManager(ex, store, nil, nil, clk), store, clk
}

func TestManagerPlaceCreatesRecord(t *testing.T) {
	paper := newPaper()
	m, store, _ := newTestManager(paper)
	m.SetPrecision(testPair, NewPrecision(6, 0, 1, 0))

	rec, err := m.Place(context.Background(), PlaceSpec{
		Pair: testPair, Side: market.SideBuy, Purpose: PurposeLiquidity,
		Price: 0.00995123, Amount: 1000.7, Lifetime: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.009951, rec.Price)
	assert.Equal(t, 1000.0, rec.BaseAmount)
	assert.Equal(t, rec.BaseAmount, rec.Remaining)
	assert.Equal(t, StateOpen, rec.State)
	assert.Equal(t, testStart.Add(time.Hour), rec.ExpiresAt)

	stored, ok := store.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, PurposeLiquidity, stored.Purpose)
}

func TestManagerPlaceRejected(t *testing.T) {
	paper := newPaper()
	m, store, _ := newTestManager(paper)

	_, err := m.Place(context.Background(), PlaceSpec{Pair: testPair, Side: market.SideBuy, Purpose: PurposeDepth, Price: 0.0099, Amount: 1e9})
	assert.True(t, errors.Is(err, ErrRejected))

	paper.FailNext(gateway.OpPlace, 1)
	_, err = m.Place(context.Background(), PlaceSpec{Pair: testPair, Side: market.SideBuy, Purpose: PurposeDepth, Price: 0.0099, Amount: 10})
	assert.True(t, errors.Is(err, gateway.ErrTransient))

	all, _ := store.Find(context.Background(), Filter{})
	assert.Empty(t, all)
}

func TestManagerCloseOutcomes(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, _ := newTestManager(paper)

	rec, err := m.Place(ctx, PlaceSpec{Pair: testPair, Side: market.SideSell, Purpose: PurposeDepth, Price: 0.0105, Amount: 100})
	require.NoError(t, err)

	paper.FailNext(gateway.OpCancel, 1)
	ok, err := m.Close(ctx, rec, StateExpired)
	assert.False(t, ok)
	assert.Error(t, err)
	assert.True(t, rec.Active())

	ok, err = m.Close(ctx, rec, StateExpired)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateExpired, rec.State)
	assert.False(t, rec.NotFound)
	stored, _ := store.Get(rec.ID)
	assert.True(t, stored.Closed)

	ghost := &Record{ID: "ghost", Pair: testPair, Side: market.SideBuy, Purpose: PurposeDepth, State: StateOpen}
	require.NoError(t, store.Create(ctx, ghost))
	n, err := m.CloseAll(ctx, []*Record{ghost, rec}, StateOutOfRange)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StateUnknown, ghost.State)
	assert.True(t, ghost.NotFound)
}
