package rates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSource 从行情服务拉取美元价格，结果缓存 TTL。
//
// 接口返回 {"success":true,"result":{"ADM/USD":0.0213,"USDT/USD":1.0}}。
type HTTPSource struct {
	client *resty.Client
	path   string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	prices    map[string]float64
	fetchedAt time.Time
}

type ratesResponse struct {
	Success bool               `json:"success"`
	Result  map[string]float64 `json:"result"`
	Error   string             `json:"error"`
}

// HTTPConfig HTTP 汇率源配置。
type HTTPConfig struct {
	BaseURL string
	Path    string
	APIKey  string
	TTL     time.Duration
	Timeout time.Duration
}

func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Path == "" {
		cfg.Path = "/get"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPSource{
		client: client,
		path:   cfg.Path,
		ttl:    cfg.TTL,
		now:    time.Now,
	}
}

func (s *HTTPSource) USDPrice(ctx context.Context, code string) (float64, error) {
	prices, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	p, ok := prices[strings.ToUpper(code)+"/USD"]
	if !ok {
		return 0, fmt.Errorf("%s: %w", code, ErrUnknownRate)
	}
	return p, nil
}

// load 缓存过期才请求；请求失败时沿用旧缓存（若有）。
func (s *HTTPSource) load(ctx context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prices != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.prices, nil
	}

	var body ratesResponse
	resp, err := s.client.R().SetContext(ctx).SetResult(&body).Get(s.path)
	if err == nil && !resp.IsSuccess() {
		err = fmt.Errorf("rates http status %d", resp.StatusCode())
	}
	if err == nil && !body.Success {
		err = fmt.Errorf("rates service error: %s", body.Error)
	}
	if err != nil {
		if s.prices != nil {
			return s.prices, nil
		}
		return nil, err
	}

	prices := make(map[string]float64, len(body.Result))
	for k, v := range body.Result {
		prices[strings.ToUpper(k)] = v
	}
	s.prices = prices
	s.fetchedAt = s.now()
	return prices, nil
}
