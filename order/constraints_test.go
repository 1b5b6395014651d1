package order

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/market"
)

func TestPrecisionRounding(t *testing.T) {
	p := PrecisionFromInfo(gateway.MarketInfo{PriceDecimals: 4, AmountDecimals: 0, MinAmount: 1, MinQuote: 0.5})

	assert.Equal(t, 0.0123, p.RoundPrice(0.012399, market.SideBuy))
	assert.Equal(t, 0.0124, p.RoundPrice(0.012301, market.SideSell))
	assert.Equal(t, 0.0123, p.RoundPrice(0.0123, market.SideSell))
	assert.Equal(t, 41.0, p.RoundAmount(41.99))
}

func TestPrecisionValidate(t *testing.T) {
	p := NewPrecision(4, 0, 1, 0.5)
	assert.NoError(t, p.Validate(0.0125, 40))
	assert.True(t, errors.Is(p.Validate(0.0125, 0), ErrBelowMinimum))
	assert.True(t, errors.Is(p.Validate(1, 0.5), ErrBelowMinimum))
	assert.True(t, errors.Is(p.Validate(0.0125, 20), ErrBelowMinimum), "20*0.0125 < 0.5")
}

func TestZeroPrecisionKeepsValues(t *testing.T) {
	var p Precision
	assert.Equal(t, 0.123456789, p.RoundPrice(0.123456789, market.SideBuy))
	assert.Equal(t, 1.23456789, p.RoundAmount(1.23456789))
	assert.NoError(t, p.Validate(0.1, 0.0001))
}
