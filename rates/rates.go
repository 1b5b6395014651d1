// Package rates 提供币种之间的汇率换算。
package rates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// ErrUnknownRate 没有该币种的报价。
var ErrUnknownRate = errors.New("rates: unknown rate")

// Conversion 换算结果；失败时两个字段都是 NaN。
type Conversion struct {
	OutAmount float64
	Rate      float64
}

func failed() Conversion {
	return Conversion{OutAmount: math.NaN(), Rate: math.NaN()}
}

// Converter 把 amount 个 from 换算成 to。
type Converter interface {
	Convert(ctx context.Context, from, to string, amount float64) (Conversion, error)
}

// PriceSource 返回币种的美元价格。
type PriceSource interface {
	USDPrice(ctx context.Context, code string) (float64, error)
}

// SourceConverter 通过美元价格做交叉换算。
type SourceConverter struct {
	src PriceSource
}

func NewConverter(src PriceSource) *SourceConverter {
	return &SourceConverter{src: src}
}

func (c *SourceConverter) Convert(ctx context.Context, from, to string, amount float64) (Conversion, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return Conversion{OutAmount: amount, Rate: 1}, nil
	}
	fromUSD, err := c.src.USDPrice(ctx, from)
	if err != nil {
		return failed(), fmt.Errorf("convert %s->%s: %w", from, to, err)
	}
	toUSD, err := c.src.USDPrice(ctx, to)
	if err != nil {
		return failed(), fmt.Errorf("convert %s->%s: %w", from, to, err)
	}
	if !(fromUSD > 0) || !(toUSD > 0) {
		return failed(), fmt.Errorf("convert %s->%s: %w", from, to, ErrUnknownRate)
	}
	rate := fromUSD / toUSD
	return Conversion{OutAmount: amount * rate, Rate: rate}, nil
}

// Static 固定的美元价格表，dry-run 和测试用。
type Static struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewStatic(prices map[string]float64) *Static {
	s := &Static{prices: make(map[string]float64, len(prices))}
	for code, p := range prices {
		s.prices[strings.ToUpper(code)] = p
	}
	return s
}

// Set 更新某币种价格。
func (s *Static) Set(code string, usd float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(code)] = usd
}

func (s *Static) USDPrice(_ context.Context, code string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("%s: %w", code, ErrUnknownRate)
	}
	return p, nil
}
