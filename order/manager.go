package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/internal/clock"
	"liquidity-maker-go/market"
)

// ErrRejected 交易所拒绝下单（返回了空订单号）。
var ErrRejected = errors.New("order rejected")

// PlaceSpec 下单参数。
type PlaceSpec struct {
	Pair       string
	Side       market.Side
	Purpose    Purpose
	SubPurpose string
	Price      float64
	Amount     float64
	Lifetime   time.Duration
}

// Manager 通过交易所下单/撤单，并维护对应的本地记录。
type Manager struct {
	ex    gateway.Exchange
	store Store
	sm    *StateMachine
	log   *logger.Logger
	mon   *monitor.Monitor
	clock clock.Clock

	mu        sync.RWMutex
	precision map[string]Precision
}

func NewManager(ex gateway.Exchange, store Store, log *logger.Logger, mon *monitor.Monitor, clk clock.Clock) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Manager{
		ex:        ex,
		store:     store,
		sm:        NewStateMachine(),
		log:       log,
		mon:       mon,
		clock:     clk,
		precision: make(map[string]Precision),
	}
}

// SetPrecision 设置交易对的精度规则。
func (m *Manager) SetPrecision(pair string, p Precision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.precision[pair] = p
}

// Precision 返回交易对的精度规则，未设置时为零值（不舍入）。
func (m *Manager) Precision(pair string) Precision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.precision[pair]
}

// Store 返回底层记录存储。
func (m *Manager) Store() Store {
	return m.store
}

// Place 按精度舍入后下单，成功则创建记录。
// 返回 ErrBelowMinimum、ErrRejected 或交易所错误；记录写入失败时仍返回已下的订单。
func (m *Manager) Place(ctx context.Context, spec PlaceSpec) (*Record, error) {
	prec := m.Precision(spec.Pair)
	price := prec.RoundPrice(spec.Price, spec.Side)
	amount := prec.RoundAmount(spec.Amount)
	if err := prec.Validate(price, amount); err != nil {
		return nil, err
	}

	res, err := m.ex.PlaceOrder(ctx, gateway.PlaceRequest{Pair: spec.Pair, Side: spec.Side, Price: price, Amount: amount})
	if err != nil {
		m.mon.RecordPlaceFailure(string(spec.Purpose))
		return nil, fmt.Errorf("place %s %s order: %w", spec.Purpose, spec.Side, err)
	}
	if !res.OK() {
		m.mon.RecordPlaceFailure(string(spec.Purpose))
		return nil, fmt.Errorf("place %s %s order: %s: %w", spec.Purpose, spec.Side, res.Message, ErrRejected)
	}

	now := m.clock.Now()
	rec := &Record{
		ID:          res.OrderID,
		Pair:        spec.Pair,
		Side:        spec.Side,
		Purpose:     spec.Purpose,
		SubPurpose:  spec.SubPurpose,
		Price:       price,
		BaseAmount:  amount,
		QuoteAmount: price * amount,
		Remaining:   amount,
		CreatedAt:   now,
		UpdatedAt:   now,
		State:       StateOpen,
	}
	if spec.Lifetime > 0 {
		rec.ExpiresAt = now.Add(spec.Lifetime)
	}
	m.mon.RecordOrderPlaced(string(spec.Purpose), string(spec.Side))
	m.log.LogOrder("placed", rec.ID, map[string]interface{}{
		"pair":        rec.Pair,
		"side":        string(rec.Side),
		"purpose":     string(rec.Purpose),
		"sub_purpose": rec.SubPurpose,
		"price":       rec.Price,
		"amount":      rec.BaseAmount,
		"expires_at":  rec.ExpiresAt,
	})
	if err := m.store.Create(ctx, rec); err != nil {
		return rec, fmt.Errorf("store placed order %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Close 撤单并把记录标记为 target 状态。
// 撤单结果不确定时记录保持活跃并返回 false，下一轮重试。
func (m *Manager) Close(ctx context.Context, rec *Record, target State) (bool, error) {
	out, err := m.ex.CancelOrder(ctx, rec.ID, rec.Side, rec.Pair)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", rec.ID, err)
	}
	switch out {
	case gateway.CancelDone:
		m.apply(rec, target, false)
	case gateway.CancelGone:
		m.apply(rec, StateUnknown, true)
	default:
		m.log.LogOrder("cancel_inconclusive", rec.ID, map[string]interface{}{"purpose": string(rec.Purpose)})
		return false, nil
	}
	m.mon.RecordOrderClosed(string(rec.Purpose), string(rec.State))
	m.log.LogOrder("closed", rec.ID, map[string]interface{}{
		"purpose":   string(rec.Purpose),
		"state":     string(rec.State),
		"outcome":   out.String(),
		"not_found": rec.NotFound,
	})
	if err := m.store.Save(ctx, rec); err != nil {
		return true, fmt.Errorf("save closed order %s: %w", rec.ID, err)
	}
	return true, nil
}

// CloseAll 逐个关闭，返回成功关闭的数量和遇到的最后一个错误。
func (m *Manager) CloseAll(ctx context.Context, records []*Record, target State) (int, error) {
	closed := 0
	var lastErr error
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		ok, err := m.Close(ctx, rec, target)
		if ok {
			closed++
		}
		if err != nil {
			lastErr = err
		}
	}
	return closed, lastErr
}

func (m *Manager) apply(rec *Record, to State, notFound bool) {
	if err := m.sm.ValidateTransition(rec.State, to); err != nil {
		m.log.Warn("unexpected order transition", logFields(rec, err)...)
	}
	now := m.clock.Now()
	rec.Update(func(r *Record) {
		r.State = to
		r.Closed = true
		r.NotFound = r.NotFound || notFound
		r.UpdatedAt = now
	})
}
