// Package gateway 定义交易所适配器接口，以及限速装饰器、市场信息缓存和纸面交易所。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"liquidity-maker-go/market"
)

var (
	// ErrTransient 网络/限流等临时错误，本轮放弃，下一轮重试。
	ErrTransient = errors.New("gateway: transient error")
	// ErrNotFound 交易对或订单不存在。
	ErrNotFound = errors.New("gateway: not found")
)

// OrderStatus 交易所侧订单状态。
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusClosed          OrderStatus = "closed"
)

// OpenOrder 交易所返回的挂单。
type OpenOrder struct {
	ID         string
	Pair       string
	Side       market.Side
	Price      float64
	Amount     float64
	AmountLeft float64
	Status     OrderStatus
}

// Balance 单币种余额。
type Balance struct {
	Code   string
	Free   float64
	Frozen float64
	Total  float64
}

// PlaceRequest 限价单请求。
type PlaceRequest struct {
	Pair   string
	Side   market.Side
	Price  float64
	Amount float64
}

// PlaceResult OrderID 为空表示下单失败，Message 保留交易所原因。
type PlaceResult struct {
	OrderID string
	Message string
}

// OK 下单成功。
func (r PlaceResult) OK() bool { return r.OrderID != "" }

// CancelOutcome 撤单结果。
type CancelOutcome int

const (
	// CancelUnknown 结果不确定，订单保持活跃，下一轮再试。
	CancelUnknown CancelOutcome = iota
	// CancelDone 已撤销。
	CancelDone
	// CancelGone 交易所已不认识该订单（成交或早已撤销）。
	CancelGone
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelDone:
		return "done"
	case CancelGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Exchange 交易所适配器。所有方法都可能阻塞在网络上，必须传入 ctx。
type Exchange interface {
	GetOrderBook(ctx context.Context, pair string) (*market.Snapshot, error)
	GetOpenOrders(ctx context.Context, pair string) ([]OpenOrder, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error)
	CancelOrder(ctx context.Context, id string, side market.Side, pair string) (CancelOutcome, error)
}

// MarketInfo 交易对的精度与最小下单限制。
type MarketInfo struct {
	Pair           string
	PriceDecimals  int32
	AmountDecimals int32
	MinAmount      float64
	MinQuote       float64
}

// MarketInfoProvider 可选接口，适配器能查询交易对规则时实现。
type MarketInfoProvider interface {
	GetMarketInfo(ctx context.Context, pair string) (MarketInfo, error)
}

// Pair 交易对，格式 BASE/QUOTE。
type Pair struct {
	Base  string
	Quote string
}

// ParsePair 解析 "ADM/USDT"。
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q", s)
	}
	return Pair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

func (p Pair) String() string { return p.Base + "/" + p.Quote }

// FindBalance 按币种查找余额，不存在时返回零值。
func FindBalance(balances []Balance, code string) Balance {
	code = strings.ToUpper(code)
	for _, b := range balances {
		if strings.ToUpper(b.Code) == code {
			return b
		}
	}
	return Balance{Code: code}
}
