package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
	"liquidity-maker-go/internal/clock"
)

// Reconciler 订单对账器：用交易所挂单列表校正本地记录。
type Reconciler struct {
	ex    gateway.Exchange
	store Store
	sm    *StateMachine
	log   *logger.Logger
	mon   *monitor.Monitor
	clock clock.Clock

	mu sync.RWMutex
	// 统计信息
	totalReconciliations int64
	conflictsResolved    int64
	fetchFailures        int64
	lastReconcileTime    time.Time
}

func NewReconciler(ex gateway.Exchange, store Store, log *logger.Logger, mon *monitor.Monitor, clk clock.Clock) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Reconciler{
		ex:    ex,
		store: store,
		sm:    NewStateMachine(),
		log:   log,
		mon:   mon,
		clock: clk,
	}
}

// Reconcile 对一批本地活跃记录执行一次对账，返回仍然活跃的记录。
//
// 每次调用只拉取一次挂单列表；拉取失败时原样返回输入，不做任何处理。
//   - 交易所无此订单：尝试撤单。撤单成功记 cancelled，已不存在记 unknown，两者都关闭并标记 NotFound；
//     结果不确定则保持活跃，下轮再试。
//   - new：保持活跃。
//   - partially_filled：交易所剩余量小于本地剩余量时缩小 Remaining，状态改为部分成交。
//   - filled / closed：记为 filled 并关闭。
//
// 被修改的记录都会写回存储。外部没有变化时重复调用不产生任何修改。
func (r *Reconciler) Reconcile(ctx context.Context, pair string, records []*Record) []*Record {
	r.mu.Lock()
	r.totalReconciliations++
	r.lastReconcileTime = r.clock.Now()
	r.mu.Unlock()

	if len(records) == 0 {
		return records
	}

	remote, err := r.ex.GetOpenOrders(ctx, pair)
	if err != nil {
		r.mu.Lock()
		r.fetchFailures++
		r.mu.Unlock()
		r.mon.RecordReconcile("fetch_failed")
		r.log.Warn("fetch open orders failed, reconciliation skipped", zap.String("pair", pair), zap.Error(err))
		return records
	}
	byID := make(map[string]gateway.OpenOrder, len(remote))
	for _, o := range remote {
		byID[o.ID] = o
	}

	active := make([]*Record, 0, len(records))
	for _, rec := range records {
		if !rec.Active() {
			continue
		}
		o, found := byID[rec.ID]
		if !found {
			if r.cancelMissing(ctx, rec) {
				continue
			}
			active = append(active, rec)
			continue
		}
		switch o.Status {
		case gateway.StatusFilled, gateway.StatusClosed:
			r.transition(ctx, rec, StateFilled, func(x *Record) {
				x.Remaining = 0
				x.Closed = true
			})
			r.mon.RecordReconcile("filled")
			r.mon.RecordOrderClosed(string(rec.Purpose), string(StateFilled))
			continue
		case gateway.StatusPartiallyFilled:
			if o.AmountLeft < rec.Remaining {
				left := o.AmountLeft
				r.transition(ctx, rec, StatePartiallyFilled, func(x *Record) {
					x.Remaining = left
				})
				r.mon.RecordReconcile("partially_filled")
			}
		}
		active = append(active, rec)
	}
	return active
}

// cancelMissing 处理交易所列表中缺失的订单，返回记录是否已关闭。
func (r *Reconciler) cancelMissing(ctx context.Context, rec *Record) bool {
	out, err := r.ex.CancelOrder(ctx, rec.ID, rec.Side, rec.Pair)
	if err != nil {
		r.log.Warn("cancel missing order failed", logFields(rec, err)...)
		r.mon.RecordReconcile("cancel_failed")
		return false
	}
	switch out {
	case gateway.CancelDone:
		r.transition(ctx, rec, StateCancelled, func(x *Record) {
			x.Closed = true
			x.NotFound = true
		})
	case gateway.CancelGone:
		r.transition(ctx, rec, StateUnknown, func(x *Record) {
			x.Closed = true
			x.NotFound = true
		})
	default:
		r.mon.RecordReconcile("cancel_unknown")
		return false
	}
	r.mon.RecordReconcile("missing_" + out.String())
	r.mon.RecordOrderClosed(string(rec.Purpose), string(rec.State))
	return true
}

func (r *Reconciler) transition(ctx context.Context, rec *Record, to State, mutate func(*Record)) {
	if err := r.sm.ValidateTransition(rec.State, to); err != nil {
		r.log.Warn("unexpected order transition", logFields(rec, err)...)
	}
	from := rec.State
	now := r.clock.Now()
	rec.Update(func(x *Record) {
		x.State = to
		x.UpdatedAt = now
		mutate(x)
	})
	r.mu.Lock()
	r.conflictsResolved++
	r.mu.Unlock()

	r.log.LogOrder("reconciled", rec.ID, map[string]interface{}{
		"purpose":   string(rec.Purpose),
		"from":      string(from),
		"to":        string(to),
		"remaining": rec.Remaining,
		"not_found": rec.NotFound,
	})
	if err := r.store.Save(ctx, rec); err != nil {
		r.log.LogError(err, map[string]interface{}{"order_id": rec.ID, "op": "save_reconciled"})
	}
}

// GetStatistics 获取对账统计信息
func (r *Reconciler) GetStatistics() ReconcilerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return ReconcilerStats{
		TotalReconciliations: r.totalReconciliations,
		ConflictsResolved:    r.conflictsResolved,
		FetchFailures:        r.fetchFailures,
		LastReconcileTime:    r.lastReconcileTime,
	}
}

// ReconcilerStats 对账统计信息
type ReconcilerStats struct {
	TotalReconciliations int64
	ConflictsResolved    int64
	FetchFailures        int64
	LastReconcileTime    time.Time
}

func logFields(rec *Record, err error) []zap.Field {
	return []zap.Field{
		zap.String("order_id", rec.ID),
		zap.String("purpose", string(rec.Purpose)),
		zap.String("state", string(rec.State)),
		zap.Error(err),
	}
}
