package strategy

import (
	"context"
	"fmt"
	"strings"
)

// Wallet 本周期的可用余额快照。一轮只拉取一次余额，下单前在本地扣减。
type Wallet struct {
	free map[string]float64
}

// LoadWallet 拉取余额。
func (d Deps) LoadWallet(ctx context.Context) (*Wallet, error) {
	balances, err := d.Exchange.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	w := &Wallet{free: make(map[string]float64, len(balances))}
	for _, b := range balances {
		w.free[strings.ToUpper(b.Code)] += b.Free
	}
	return w, nil
}

// Free 可用余额。
func (w *Wallet) Free(coin string) float64 {
	return w.free[strings.ToUpper(coin)]
}

// Reserve 余额足够时扣减并返回 true。
func (w *Wallet) Reserve(coin string, amount float64) bool {
	coin = strings.ToUpper(coin)
	if w.free[coin] < amount {
		return false
	}
	w.free[coin] -= amount
	return true
}

// Release 归还之前预留的余额（下单失败时）。
func (w *Wallet) Release(coin string, amount float64) {
	w.free[strings.ToUpper(coin)] += amount
}
