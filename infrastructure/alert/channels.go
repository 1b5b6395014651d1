package alert

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"liquidity-maker-go/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{log: log, name: name}
}

// Send 发送告警到日志
func (c *LogChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("level", alert.Level),
		zap.String("key", alert.Key),
		zap.Time("alert_ts", alert.Timestamp),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelError, LevelCritical:
		c.log.Error(alert.Message, fields...)
	case LevelWarning:
		c.log.Warn(alert.Message, fields...)
	default:
		c.log.Info(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// ConsoleChannel 控制台告警通道（彩色输出）
type ConsoleChannel struct {
	name string
}

// NewConsoleChannel 创建控制台告警通道
func NewConsoleChannel(name string) *ConsoleChannel {
	return &ConsoleChannel{
		name: name,
	}
}

// Send 发送告警到控制台（带颜色）
func (c *ConsoleChannel) Send(alert Alert) error {
	colorReset := "\033[0m"
	colorCode := colorReset

	switch alert.Level {
	case LevelInfo:
		colorCode = "\033[32m" // 绿色
	case LevelWarning:
		colorCode = "\033[33m" // 黄色
	case LevelError:
		colorCode = "\033[31m" // 红色
	case LevelCritical:
		colorCode = "\033[35m" // 紫色
	}

	fmt.Printf("%s[%s]%s %s - %s%s\n",
		colorCode,
		alert.Level,
		colorReset,
		alert.Timestamp.Format("2006-01-02 15:04:05"),
		alert.Message,
		formatFields(alert.Fields, " | "),
	)
	return nil
}

// Name 返回通道名称
func (c *ConsoleChannel) Name() string {
	return c.name
}

// TelegramChannel 通过 Telegram Bot API 发送告警
type TelegramChannel struct {
	name   string
	chatID string
	client *resty.Client
}

// TelegramConfig Telegram 通道配置
type TelegramConfig struct {
	Token   string
	ChatID  string
	BaseURL string // 默认 https://api.telegram.org
	Timeout time.Duration
}

// NewTelegramChannel 创建 Telegram 告警通道
func NewTelegramChannel(name string, cfg TelegramConfig) *TelegramChannel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/bot" + cfg.Token).
		SetTimeout(cfg.Timeout)
	return &TelegramChannel{name: name, chatID: cfg.ChatID, client: client}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send 调用 sendMessage
func (c *TelegramChannel) Send(alert Alert) error {
	text := fmt.Sprintf("[%s] %s%s", alert.Level, alert.Message, formatFields(alert.Fields, "\n"))
	var out telegramResponse
	resp, err := c.client.R().
		SetBody(map[string]interface{}{
			"chat_id":                  c.chatID,
			"text":                     text,
			"disable_web_page_preview": true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !resp.IsSuccess() || !out.OK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), out.Description)
	}
	return nil
}

// Name 返回通道名称
func (c *TelegramChannel) Name() string {
	return c.name
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	alerts    []Alert
	shouldErr bool
	mu        sync.Mutex
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{
		name:   name,
		alerts: make([]Alert, 0),
	}
}

// Send 记录告警（用于测试验证）
func (c *MockChannel) Send(alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// CountKey 返回指定限流key的告警数量
func (c *MockChannel) CountKey(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.alerts {
		if a.Key == key {
			n++
		}
	}
	return n
}

// 字段按key排序，输出稳定
func formatFields(fields map[string]interface{}, sep string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(sep)
		fmt.Fprintf(&b, "%s=%v", k, fields[k])
	}
	return b.String()
}
