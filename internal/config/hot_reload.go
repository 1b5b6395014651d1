package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "liquidity-maker-go/config"
	"liquidity-maker-go/infrastructure/logger"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// Applier 接收重新加载后的完整配置，只取自己关心的部分。
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc 函数适配器
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

// HotReloader 配置热更新器。
// 监听配置文件所在目录（编辑器保存时常常是 rename+create），文件变化后重新加载并校验，
// 校验失败时保留旧配置。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	appliers   map[string]Applier
	load       func(path string) (appconfig.AppConfig, error)
	log        *logger.Logger
	now        func() time.Time
	lastReload time.Time
	reloads    int
	mu         sync.RWMutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		appliers:   make(map[string]Applier),
		load:       appconfig.LoadWithEnvOverrides,
		log:        log.Named("hot_reload"),
		now:        time.Now,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(name string, applier Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go h.watch(ctx)

	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	if !h.config.Enabled {
		return h.watcher.Close()
	}
	h.stopOnce.Do(func() { close(h.stopChan) })

	// 等待 goroutine 结束（带超时）
	select {
	case <-h.doneChan:
	case <-time.After(1 * time.Second):
		// 超时，可能 watch goroutine 没有启动
	}

	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.Reload()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload 重新加载配置并推送给所有应用器；冷却期内的变化被忽略。
// 返回是否真正执行了重载。
func (h *HotReloader) Reload() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if !h.lastReload.IsZero() && now.Sub(h.lastReload) < h.config.CooldownTime {
		return false
	}

	cfg, err := h.load(h.configPath)
	if err != nil {
		h.log.Warn("config reload rejected, keeping previous config", zap.String("path", h.configPath), zap.Error(err))
		return false
	}

	names := make([]string, 0, len(h.appliers))
	for name := range h.appliers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.appliers[name].Apply(cfg); err != nil {
			h.log.Warn("config section not applied", zap.String("section", name), zap.Error(err))
		}
	}

	h.lastReload = now
	h.reloads++
	h.log.Info("config reloaded", zap.String("path", h.configPath), zap.Strings("sections", names))
	return true
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// Reloads 成功重载次数
func (h *HotReloader) Reloads() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads
}
