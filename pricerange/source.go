package pricerange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"liquidity-maker-go/config"
	"liquidity-maker-go/gateway"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/internal/xrand"
	"liquidity-maker-go/market"
	"liquidity-maker-go/rates"
)

// ErrNoQuote 来源没有给出可用的价格。
var ErrNoQuote = errors.New("pricerange: no usable quote")

// Quote 来源给出的区间，已换算成本地计价币。
type Quote struct {
	Low       float64
	High      float64
	Timestamp time.Time
}

func (q Quote) valid() bool {
	return q.Low > 0 && q.High > q.Low && !math.IsInf(q.High, 0)
}

// Source 价格区间来源。
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Quote, error)
}

// PairSource 取参考交易对（通常在另一家交易所）的买一卖一或 smart 价，换算成本地计价币。
type PairSource struct {
	ex         gateway.Exchange
	pair       gateway.Pair
	localQuote string
	policy     string
	conv       rates.Converter
	params     market.SmartPriceParams
	clock      clock.Clock
}

// NewPairSource policy 为 top 或 smart。
func NewPairSource(ex gateway.Exchange, sourcePair, localQuote, policy string, conv rates.Converter, clk clock.Clock) (*PairSource, error) {
	p, err := gateway.ParsePair(sourcePair)
	if err != nil {
		return nil, err
	}
	if policy != config.PolicyTop && policy != config.PolicySmart {
		return nil, config.ErrInvalid(fmt.Sprintf("unknown price policy %q", policy))
	}
	if clk == nil {
		clk = clock.Real
	}
	return &PairSource{
		ex:         ex,
		pair:       p,
		localQuote: localQuote,
		policy:     policy,
		conv:       conv,
		params:     market.DefaultSmartPriceParams(),
		clock:      clk,
	}, nil
}

func (s *PairSource) Name() string { return s.policy + ":" + s.pair.String() }

func (s *PairSource) Fetch(ctx context.Context) (Quote, error) {
	snap, err := s.ex.GetOrderBook(ctx, s.pair.String())
	if err != nil {
		return Quote{}, fmt.Errorf("fetch %s order book: %w", s.pair, err)
	}
	// 趋势价不参与区间计算，固定随机源即可
	m, ok := market.Analyze(snap, market.Options{SmartPrice: s.params}, xrand.Fixed(0.5))
	if !ok {
		return Quote{}, fmt.Errorf("%s order book: %w", s.pair, ErrNoQuote)
	}
	low, high := m.HighestBid, m.LowestAsk
	if s.policy == config.PolicySmart {
		low, high = m.SmartBid, m.SmartAsk
	}

	conv, err := s.conv.Convert(ctx, s.pair.Quote, s.localQuote, 1)
	if err != nil {
		return Quote{}, err
	}
	if !(conv.Rate > 0) {
		return Quote{}, fmt.Errorf("rate %s->%s: %w", s.pair.Quote, s.localQuote, ErrNoQuote)
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	return Quote{Low: low * conv.Rate, High: high * conv.Rate, Timestamp: ts}, nil
}

// FixedSource 以第三种币（例如 USD）标价的固定区间。
type FixedSource struct {
	low, high  float64
	coin       string
	localQuote string
	conv       rates.Converter
	clock      clock.Clock
}

func NewFixedSource(low, high float64, coin, localQuote string, conv rates.Converter, clk clock.Clock) *FixedSource {
	if clk == nil {
		clk = clock.Real
	}
	return &FixedSource{low: low, high: high, coin: coin, localQuote: localQuote, conv: conv, clock: clk}
}

func (s *FixedSource) Name() string { return "fixed:" + s.coin }

func (s *FixedSource) Fetch(ctx context.Context) (Quote, error) {
	conv, err := s.conv.Convert(ctx, s.coin, s.localQuote, 1)
	if err != nil {
		return Quote{}, err
	}
	if !(conv.Rate > 0) {
		return Quote{}, fmt.Errorf("rate %s->%s: %w", s.coin, s.localQuote, ErrNoQuote)
	}
	return Quote{Low: s.low * conv.Rate, High: s.high * conv.Rate, Timestamp: s.clock.Now()}, nil
}

// NewSource 按配置创建来源。
func NewSource(cfg config.PriceWatcherConfig, ex gateway.Exchange, localQuote string, conv rates.Converter, clk clock.Clock) (Source, error) {
	switch cfg.Source {
	case config.SourcePair:
		return NewPairSource(ex, cfg.SourcePair, localQuote, cfg.Policy, conv, clk)
	case config.SourceFixed:
		return NewFixedSource(cfg.FixedLow, cfg.FixedHigh, cfg.FixedCoin, localQuote, conv, clk), nil
	default:
		return nil, config.ErrInvalid(fmt.Sprintf("unknown price source %q", cfg.Source))
	}
}
