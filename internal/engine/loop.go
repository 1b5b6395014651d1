// Package engine 调度各个策略与价格监控的周期任务。
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liquidity-maker-go/gateway"
	"liquidity-maker-go/infrastructure/logger"
	"liquidity-maker-go/infrastructure/monitor"
)

var (
	// ErrBusy 上一次迭代还没结束。
	ErrBusy = errors.New("engine: iteration in progress")
	// ErrDisabled 任务未启用。
	ErrDisabled = errors.New("engine: task disabled")
	// ErrPanic 迭代中发生 panic，已恢复。
	ErrPanic = errors.New("engine: iteration panicked")
)

// Task 周期任务。
type Task interface {
	Name() string
	IsEnabled() bool
	RunOnce(ctx context.Context) error
}

// Pacer 自带节奏的任务，每次迭代后返回下一次的等待时间。
type Pacer interface {
	NextDelay() time.Duration
}

// Statistics 循环统计信息
type Statistics struct {
	StartTime       time.Time
	TotalIterations int64
	TotalErrors     int64
	TotalSkips      int64
	LastRunTime     time.Time
	LastError       string
}

// Loop 单个任务的调度循环：睡眠 → 检查启用与重入 → 执行一次。
// 同一时刻最多一个迭代，定时触发和手动 RunNow 共用同一把原子锁。
type Loop struct {
	task     Task
	interval time.Duration
	log      *logger.Logger
	mon      *monitor.Monitor

	running atomic.Bool

	mu    sync.RWMutex
	stats Statistics
}

// NewLoop interval 用于未实现 Pacer 的任务。
func NewLoop(task Task, interval time.Duration, log *logger.Logger, mon *monitor.Monitor) *Loop {
	if log == nil {
		log = logger.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Loop{
		task:     task,
		interval: interval,
		log:      log.Named("loop").Named(task.Name()),
		mon:      mon,
	}
}

func (l *Loop) Name() string { return l.task.Name() }

// Run 先等待一个间隔再执行，之后按节奏循环，直到 ctx 结束。迭代错误不会让循环退出。
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.stats.StartTime = time.Now()
	l.mu.Unlock()
	l.log.Info("loop started")

	timer := time.NewTimer(l.delay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped")
			return nil
		case <-timer.C:
			switch err := l.RunNow(ctx); {
			case errors.Is(err, ErrDisabled):
				l.log.Debug("task disabled, iteration postponed")
			case errors.Is(err, ErrBusy):
				l.log.Info("previous iteration still running, iteration postponed")
			}
			timer.Reset(l.delay())
		}
	}
}

// RunNow 立即执行一次迭代。任务未启用返回 ErrDisabled，正在执行返回 ErrBusy，
// 否则返回迭代本身的错误（已记录日志）。
func (l *Loop) RunNow(ctx context.Context) error {
	if !l.task.IsEnabled() {
		l.skip("disabled")
		return ErrDisabled
	}
	if !l.running.CompareAndSwap(false, true) {
		l.skip("busy")
		return ErrBusy
	}
	defer l.running.Store(false)
	return l.iterate(ctx)
}

func (l *Loop) iterate(ctx context.Context) (err error) {
	id := uuid.NewString()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			l.log.Error("iteration panicked",
				zap.String("iteration", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
		elapsed := time.Since(start)
		l.mon.RecordIteration(l.Name(), elapsed.Seconds())
		l.record(start, err)

		switch {
		case err == nil:
			l.log.Debug("iteration done", zap.String("iteration", id), zap.Duration("elapsed", elapsed))
		case errors.Is(err, gateway.ErrTransient):
			l.log.Warn("iteration aborted by transient exchange error",
				zap.String("iteration", id), zap.Error(err))
		default:
			l.mon.RecordLoopError(l.Name())
			l.log.Error("iteration failed",
				zap.String("iteration", id), zap.Duration("elapsed", elapsed), zap.Error(err))
		}
	}()
	return l.task.RunOnce(ctx)
}

func (l *Loop) delay() time.Duration {
	if p, ok := l.task.(Pacer); ok {
		if d := p.NextDelay(); d > 0 {
			return d
		}
	}
	return l.interval
}

func (l *Loop) skip(reason string) {
	l.mon.RecordSkip(l.Name(), reason)
	l.mu.Lock()
	l.stats.TotalSkips++
	l.mu.Unlock()
}

func (l *Loop) record(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.TotalIterations++
	l.stats.LastRunTime = at
	if err != nil {
		l.stats.TotalErrors++
		l.stats.LastError = err.Error()
	}
}

// GetStatistics 获取统计信息
func (l *Loop) GetStatistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}
