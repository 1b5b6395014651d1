package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/market"
)

// ErrBelowMinimum 数量或金额低于交易所最小限制。
var ErrBelowMinimum = errors.New("order below exchange minimum")

// Precision 交易对的价格/数量精度与最小下单限制。零值不做任何舍入和校验。
type Precision struct {
	PriceDecimals  int32
	AmountDecimals int32
	MinAmount      float64
	MinQuote       float64
	set            bool
}

// NewPrecision 构造精度规则。
func NewPrecision(priceDecimals, amountDecimals int32, minAmount, minQuote float64) Precision {
	return Precision{
		PriceDecimals:  priceDecimals,
		AmountDecimals: amountDecimals,
		MinAmount:      minAmount,
		MinQuote:       minQuote,
		set:            true,
	}
}

// PrecisionFromInfo 由交易所市场信息构造。
func PrecisionFromInfo(info gateway.MarketInfo) Precision {
	return NewPrecision(info.PriceDecimals, info.AmountDecimals, info.MinAmount, info.MinQuote)
}

// RoundPrice 买单向下、卖单向上取整，保证舍入不会让订单更激进。
func (p Precision) RoundPrice(price float64, side market.Side) float64 {
	if !p.set {
		return price
	}
	d := decimal.NewFromFloat(price)
	if side == market.SideBuy {
		d = d.RoundFloor(p.PriceDecimals)
	} else {
		d = d.RoundCeil(p.PriceDecimals)
	}
	return d.InexactFloat64()
}

// RoundAmount 数量截断到交易所步长。
func (p Precision) RoundAmount(amount float64) float64 {
	if !p.set {
		return amount
	}
	return decimal.NewFromFloat(amount).Truncate(p.AmountDecimals).InexactFloat64()
}

// Validate 检查数量与名义金额是否满足最小限制。
func (p Precision) Validate(price, amount float64) error {
	if !(amount > 0) || !(price > 0) {
		return fmt.Errorf("price %.8f amount %.8f: %w", price, amount, ErrBelowMinimum)
	}
	if p.MinAmount > 0 && amount < p.MinAmount {
		return fmt.Errorf("amount %.8f < minAmount %.8f: %w", amount, p.MinAmount, ErrBelowMinimum)
	}
	if quote := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(amount)); p.MinQuote > 0 && quote.LessThan(decimal.NewFromFloat(p.MinQuote)) {
		return fmt.Errorf("quote %s < minQuote %.8f: %w", quote.String(), p.MinQuote, ErrBelowMinimum)
	}
	return nil
}
