package alert

import (
	"fmt"
	"sync"
	"time"

	"liquidity-maker-go/infrastructure/monitor"
)

// 告警级别
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     string                 // "INFO", "WARNING", "ERROR", "CRITICAL"
	Message   string                 // 告警消息
	Key       string                 // 限流key，为空时使用 Level:Message
	Interval  time.Duration          // 本条告警的限流间隔，0 表示使用管理器默认值
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

func (a Alert) throttleKey() string {
	if a.Key != "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s", a.Level, a.Message)
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器
type Manager struct {
	channels []Channel
	throttle *Throttler
	mon      *monitor.Monitor
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// SetClock 替换时间源，测试用。
func (t *Throttler) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Now 返回限流器当前时间
func (t *Throttler) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now()
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	return t.AllowEvery(key, t.interval)
}

// AllowEvery 以指定间隔检查是否允许发送
func (t *Throttler) AllowEvery(key string, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	lastTime, exists := t.lastSent[key]

	if !exists || now.Sub(lastTime) >= interval {
		t.lastSent[key] = now
		return true
	}

	return false
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SetMonitor 设置指标收集器
func (m *Manager) SetMonitor(mon *monitor.Monitor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mon = mon
}

// Throttler 返回内部限流器
func (m *Manager) Throttler() *Throttler {
	return m.throttle
}

// SendAlert 发送告警。被限流时返回 nil 且不发送。
func (m *Manager) SendAlert(alert Alert) error {
	if m == nil {
		return nil
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.throttle.Now()
	}

	interval := alert.Interval
	if interval <= 0 {
		interval = m.throttle.interval
	}
	if !m.throttle.AllowEvery(alert.throttleKey(), interval) {
		return nil // 被限流，静默忽略
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// 发送到所有通道
	var lastErr error
	successCount := 0

	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}
	if successCount > 0 {
		m.mon.RecordAlert(alert.Level)
	}

	// 如果所有通道都失败，返回最后一个错误
	if successCount == 0 && lastErr != nil {
		return lastErr
	}

	return nil
}

// GetChannels 获取所有通道
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}
