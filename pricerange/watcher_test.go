package pricerange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-maker-go/config"
	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/alert"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/rates"
)

var errSourceDown = errors.New("source down")

type stubSource struct {
	mu    sync.Mutex
	quote Quote
	err   error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(context.Context) (Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote, s.err
}

func (s *stubSource) set(q Quote, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote, s.err = q, err
}

func testConfig() config.PriceWatcherConfig {
	cfg := config.PriceWatcherConfig{
		Enabled:    true,
		Source:     config.SourcePair,
		SourcePair: "ADM/BTC",
	}
	cfg.Policy = config.PolicyTop
	cfg.FailureThreshold = 10
	cfg.WarnChangePercent = 20
	cfg.AlertInterval = time.Hour
	cfg.IntervalMin = time.Second
	cfg.IntervalMax = 2 * time.Second
	return cfg
}

func newTestWatcher(t *testing.T, cfg config.PriceWatcherConfig, src Source, rnd xrand.Source) (*Watcher, *alert.MockChannel, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	ch := alert.NewMockChannel("mock")
	mgr := alert.NewManager([]alert.Channel{ch}, time.Hour)
	mgr.Throttler().SetClock(clk.Now)
	return NewWatcher(cfg, src, mgr, nil, nil, rnd, clk), ch, clk
}

func TestWatcherStaleAfterThresholdAlertsOnce(t *testing.T) {
	src := &stubSource{quote: Quote{Low: 0.01, High: 0.012}}
	w, ch, clk := newTestWatcher(t, testConfig(), src, xrand.Fixed(0.5))
	ctx := context.Background()

	assert.False(t, w.IsActual(), "no data yet")
	require.NoError(t, w.RunOnce(ctx))
	require.True(t, w.IsActual())
	first := w.Band()

	src.set(Quote{}, errSourceDown)
	for i := 1; i <= 11; i++ {
		clk.Advance(time.Minute)
		require.NoError(t, w.RunOnce(ctx))
		if i < 10 {
			assert.True(t, w.IsActual(), "failure %d keeps previous band", i)
			assert.Equal(t, first, w.Band())
		}
	}

	assert.False(t, w.IsActual())
	assert.Equal(t, 11, w.Failures())
	assert.Equal(t, 1, ch.CountKey(AlertKeyStale))
	assert.Equal(t, first.Low, w.Band().Low, "stale band keeps last values")

	// 恢复后重新激活，计数清零
	src.set(Quote{Low: 0.0101, High: 0.0121}, nil)
	require.NoError(t, w.RunOnce(ctx))
	assert.True(t, w.IsActual())
	assert.Zero(t, w.Failures())

	// 一小时后再次过期才会再告警
	src.set(Quote{}, errSourceDown)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.RunOnce(ctx))
	}
	assert.Equal(t, 1, ch.CountKey(AlertKeyStale))
	clk.Advance(time.Hour)
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 2, ch.CountKey(AlertKeyStale))
}

func TestWatcherRandomizesEdges(t *testing.T) {
	cfg := testConfig()
	cfg.RandomizePercent = 1
	src := &stubSource{quote: Quote{Low: 100, High: 110}}
	// Between(-1, 1): 0.75 → +0.5%, 0.25 → -0.5%
	w, _, _ := newTestWatcher(t, cfg, src, xrand.NewSequence(0.75, 0.25))

	require.NoError(t, w.RunOnce(context.Background()))
	b := w.Band()
	assert.InDelta(t, 100.5, b.Low, 1e-9)
	assert.InDelta(t, 109.45, b.High, 1e-9)
}

func TestWatcherRandomizeFallback(t *testing.T) {
	cfg := testConfig()
	cfg.RandomizePercent = 1
	src := &stubSource{quote: Quote{Low: 100, High: 100.1}}
	// low +0.98%, high -1%：交叉，退回原值
	w, _, _ := newTestWatcher(t, cfg, src, xrand.NewSequence(0.99, 0))

	require.NoError(t, w.RunOnce(context.Background()))
	b := w.Band()
	assert.Equal(t, 100.0, b.Low)
	assert.Equal(t, 100.1, b.High)
}

func TestWatcherLargeChangeAlert(t *testing.T) {
	src := &stubSource{quote: Quote{Low: 100, High: 110}}
	w, ch, _ := newTestWatcher(t, testConfig(), src, xrand.Fixed(0.5))
	ctx := context.Background()

	require.NoError(t, w.RunOnce(ctx))
	assert.Zero(t, ch.Count(), "first band is not a change")

	src.set(Quote{Low: 105, High: 115}, nil)
	require.NoError(t, w.RunOnce(ctx))
	assert.Zero(t, ch.CountKey(AlertKeyChange))

	src.set(Quote{Low: 130, High: 140}, nil)
	require.NoError(t, w.RunOnce(ctx))
	assert.Equal(t, 1, ch.CountKey(AlertKeyChange))
	assert.Equal(t, 130.0, w.Band().Low)
}

func TestWatcherRejectsInvalidQuote(t *testing.T) {
	src := &stubSource{quote: Quote{Low: 110, High: 100}}
	w, _, _ := newTestWatcher(t, testConfig(), src, xrand.Fixed(0.5))

	require.NoError(t, w.RunOnce(context.Background()))
	assert.False(t, w.IsActual())
	assert.Equal(t, 1, w.Failures())
}

func TestWatcherConfigError(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 0
	w, _, _ := newTestWatcher(t, cfg, &stubSource{}, xrand.Fixed(0.5))

	err := w.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, config.IsInvalid(err))
}

func TestBandHelpers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := Band{Low: 10, High: 20, IsActual: true, SourceTimestamp: now.Add(-time.Minute)}

	assert.True(t, b.Contains(15))
	assert.False(t, b.Contains(21))
	assert.Equal(t, 10.0, b.Clamp(3))
	assert.Equal(t, 20.0, b.Clamp(30))
	assert.Equal(t, 10.0, b.Width())
	assert.True(t, b.Usable(now, 5*time.Minute))
	assert.False(t, b.Usable(now, 30*time.Second))
	assert.False(t, Band{}.Usable(now, 0))
	assert.Equal(t, now.Add(-time.Minute), b.Time())
	assert.Equal(t, now, Band{UpdatedAt: now}.Time())
}

func TestPairSourcePolicies(t *testing.T) {
	paper := gateway.NewPaper()
	paper.SetBook("ADM/BTC",
		[]market.Level{{Price: 0.00000020, Amount: 0.001}, {Price: 0.00000019, Amount: 1000}},
		[]market.Level{{Price: 0.00000022, Amount: 1000}},
	)
	conv := rates.NewConverter(rates.NewStatic(map[string]float64{"BTC": 50000, "USDT": 1}))

	top, err := NewPairSource(paper, "ADM/BTC", "USDT", config.PolicyTop, conv, nil)
	require.NoError(t, err)
	q, err := top.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.01, q.Low, 1e-12)
	assert.InDelta(t, 0.011, q.High, 1e-12)
	assert.False(t, q.Timestamp.IsZero())

	smart, err := NewPairSource(paper, "ADM/BTC", "USDT", config.PolicySmart, conv, nil)
	require.NoError(t, err)
	q, err = smart.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0095, q.Low, 1e-12, "thin top bid is skipped")

	_, err = NewPairSource(paper, "ADM/BTC", "USDT", "vwap", conv, nil)
	assert.Error(t, err)
}

func TestPairSourceErrors(t *testing.T) {
	paper := gateway.NewPaper()
	conv := rates.NewConverter(rates.NewStatic(map[string]float64{"BTC": 50000, "USDT": 1}))
	src, err := NewPairSource(paper, "ADM/BTC", "USDT", config.PolicyTop, conv, nil)
	require.NoError(t, err)

	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	paper.SetBook("ADM/BTC", []market.Level{{Price: 1, Amount: 1}}, nil)
	_, err = src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoQuote)

	paper.SetBook("ADM/BTC", []market.Level{{Price: 1, Amount: 1}}, []market.Level{{Price: 2, Amount: 1}})
	noRate := rates.NewConverter(rates.NewStatic(map[string]float64{"USDT": 1}))
	src, err = NewPairSource(paper, "ADM/BTC", "USDT", config.PolicyTop, noRate, nil)
	require.NoError(t, err)
	_, err = src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFixedSource(t *testing.T) {
	conv := rates.NewConverter(rates.NewStatic(map[string]float64{"USD": 1, "USDT": 0.5}))
	src := NewFixedSource(0.01, 0.02, "USD", "USDT", conv, clock.NewManual(time.Unix(0, 0)))

	q, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.02, q.Low, 1e-12)
	assert.InDelta(t, 0.04, q.High, 1e-12)
	assert.Equal(t, "fixed:USD", src.Name())
}
