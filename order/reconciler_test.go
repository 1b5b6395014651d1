package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/market"
)

func placeN(t *testing.T, m *Manager, n int) []*Record {
	t.Helper()
	recs := make([]*Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := m.Place(context.Background(), PlaceSpec{
			Pair: testPair, Side: market.SideBuy, Purpose: PurposeLiquidity,
			Price: 0.0095 - float64(i)*0.0001, Amount: 100,
		})
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func TestReconcileMissingRecordIsClosed(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	live := placeN(t, m, 1)[0]
	x := &Record{ID: "X", Pair: testPair, Side: market.SideBuy, Purpose: PurposeLiquidity, Remaining: 5, State: StateOpen}
	require.NoError(t, store.Create(ctx, x))

	active := rec.Reconcile(ctx, testPair, []*Record{live, x})
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	stored, _ := store.Get("X")
	assert.True(t, stored.Closed)
	assert.True(t, stored.NotFound)
	assert.Equal(t, StateUnknown, stored.State)
	assert.Equal(t, 1, paper.Calls(gateway.OpOpenOrders))
}

func TestReconcileHiddenOrderCancelled(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	r := placeN(t, m, 1)[0]
	paper.Hide(r.ID)

	active := rec.Reconcile(ctx, testPair, []*Record{r})
	assert.Empty(t, active)
	assert.Equal(t, StateCancelled, r.State)
	assert.True(t, r.NotFound)
	o, _ := paper.Order(r.ID)
	assert.Equal(t, gateway.StatusClosed, o.Status)
}

func TestReconcileInconclusiveCancelKeepsRecord(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	_, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	x := &Record{ID: "X", Pair: testPair, Side: market.SideBuy, Purpose: PurposeDepth, State: StateOpen}
	require.NoError(t, store.Create(ctx, x))
	paper.FailNext(gateway.OpCancel, 1)

	active := rec.Reconcile(ctx, testPair, []*Record{x})
	require.Len(t, active, 1)
	assert.True(t, x.Active())
	assert.Equal(t, StateOpen, x.State)
}

func TestReconcilePartialAndFilled(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	recs := placeN(t, m, 2)
	require.NoError(t, paper.Fill(recs[0].ID, 40))
	require.NoError(t, paper.Fill(recs[1].ID, 100))

	active := rec.Reconcile(ctx, testPair, recs)
	require.Len(t, active, 1)
	assert.Equal(t, StatePartiallyFilled, recs[0].State)
	assert.Equal(t, 60.0, recs[0].Remaining)
	assert.Equal(t, StateFilled, recs[1].State)
	assert.True(t, recs[1].Closed)

	stored, _ := store.Get(recs[0].ID)
	assert.Equal(t, 60.0, stored.Remaining)
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	recs := placeN(t, m, 3)
	require.NoError(t, paper.Fill(recs[2].ID, 10))

	first := rec.Reconcile(ctx, testPair, recs)
	before := rec.GetStatistics().ConflictsResolved
	snapshot := make([]Record, len(first))
	for i, r := range first {
		snapshot[i] = *r
	}

	second := rec.Reconcile(ctx, testPair, first)
	require.Len(t, second, len(first))
	for i, r := range second {
		assert.Equal(t, snapshot[i], *r)
	}
	assert.Equal(t, before, rec.GetStatistics().ConflictsResolved)
}

func TestReconcileFetchFailureReturnsInput(t *testing.T) {
	ctx := context.Background()
	paper := newPaper()
	m, store, clk := newTestManager(paper)
	rec := NewReconciler(paper, store, nil, nil, clk)

	recs := placeN(t, m, 2)
	paper.FailNext(gateway.OpOpenOrders, 1)

	out := rec.Reconcile(ctx, testPair, recs)
	assert.Equal(t, recs, out)
	assert.Equal(t, 0, paper.Calls(gateway.OpCancel))
	assert.Equal(t, int64(1), rec.GetStatistics().FetchFailures)
}
