package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidity-maker-go/infrastructure/logger"
	hotconfig "liquidity-maker-go/internal/config"
	"liquidity-maker-go/internal/engine"
)

const (
	// 停机时等待循环退出的上限
	stopTimeout = 10 * time.Second
	// 指标服务优雅关闭的上限
	shutdownTimeout = 5 * time.Second
)

// Lifecycle 可启停的组件。
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动组件，逆序停止。
type LifecycleManager struct {
	mu         sync.RWMutex
	components []Lifecycle
}

func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{}
}

func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 任一组件启动失败时停止已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			return fmt.Errorf("start %s: %w", component.Name(), err)
		}
	}
	return nil
}

func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.components[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// metricsServer 暴露 /metrics 的 HTTP 服务。
type metricsServer struct {
	addr    string
	handler http.Handler
	logger  *logger.Logger

	mu  sync.Mutex
	srv *http.Server
}

func (s *metricsServer) Name() string { return "metrics_server" }

func (s *metricsServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	srv := &http.Server{Addr: s.addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.LogError(err, map[string]interface{}{"component": s.Name(), "action": "listen"})
		}
	}()
	return nil
}

func (s *metricsServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.srv = nil
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("metrics server stopped")
	return nil
}

func (s *metricsServer) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return errors.New("not started")
	}
	return nil
}

// reloaderComponent 配置热更新
type reloaderComponent struct {
	reloader *hotconfig.HotReloader
}

func (r *reloaderComponent) Name() string                    { return "config_reloader" }
func (r *reloaderComponent) Start(ctx context.Context) error { return r.reloader.Start(ctx) }
func (r *reloaderComponent) Stop() error                     { return r.reloader.Stop() }
func (r *reloaderComponent) Health() error                   { return nil }

// engineComponent 在后台运行全部调度循环，Stop 时取消并等待退出。
type engineComponent struct {
	group  *engine.Group
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (e *engineComponent) Name() string { return "engine" }

func (e *engineComponent) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan error, 1)
	go func() {
		e.done <- e.group.Run(ctx)
	}()
	return nil
}

func (e *engineComponent) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	e.cancel = nil
	select {
	case err := <-e.done:
		return err
	case <-time.After(stopTimeout):
		e.logger.Warn("timeout waiting for loops to stop", zap.Duration("timeout", stopTimeout))
		return fmt.Errorf("engine stop timed out after %s", stopTimeout)
	}
}

func (e *engineComponent) Health() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil {
		return errors.New("not started")
	}
	select {
	case err := <-e.done:
		e.done <- err
		return fmt.Errorf("exited: %v", err)
	default:
		return nil
	}
}
