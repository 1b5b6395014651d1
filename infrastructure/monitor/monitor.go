package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器。
// 所有记录方法对 nil 接收者安全，测试和未开启指标时可直接传 nil。
type Monitor struct {
	registry *prometheus.Registry

	// 调度循环
	loopIterations *prometheus.CounterVec
	loopSkips      *prometheus.CounterVec
	loopErrors     *prometheus.CounterVec
	loopDuration   *prometheus.HistogramVec

	// 订单
	ordersPlaced  *prometheus.CounterVec
	ordersClosed  *prometheus.CounterVec
	placeFailures *prometheus.CounterVec
	reconciled    *prometheus.CounterVec

	// 价格区间
	bandLow    prometheus.Gauge
	bandHigh   prometheus.Gauge
	bandActual prometheus.Gauge

	// 盘口
	spreadPercent prometheus.Gauge
	smartBid      prometheus.Gauge
	smartAsk      prometheus.Gauge

	// 交易所请求
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec

	alertsSent *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "liquidity",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		loopIterations: counterVec("loop_iterations_total", "调度循环执行次数", "loop"),
		loopSkips:      counterVec("loop_skips_total", "调度循环跳过次数", "loop", "reason"),
		loopErrors:     counterVec("loop_errors_total", "调度循环出错次数", "loop"),
		loopDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "loop_duration_seconds",
			Help:      "单次迭代耗时（秒）",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"loop"}),

		ordersPlaced:  counterVec("orders_placed_total", "下单成功总数", "purpose", "side"),
		ordersClosed:  counterVec("orders_closed_total", "关闭订单总数", "purpose", "state"),
		placeFailures: counterVec("place_failures_total", "下单失败总数", "purpose"),
		reconciled:    counterVec("reconcile_outcomes_total", "对账结果", "outcome"),

		bandLow:    gauge("price_band_low", "价格区间下沿"),
		bandHigh:   gauge("price_band_high", "价格区间上沿"),
		bandActual: gauge("price_band_actual", "价格区间是否有效(1=有效)"),

		spreadPercent: gauge("spread_percent", "当前价差百分比"),
		smartBid:      gauge("smart_bid", "智能买价"),
		smartAsk:      gauge("smart_ask", "智能卖价"),

		restRequests: counterVec("rest_requests_total", "REST请求总数", "action"),
		restErrors:   counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rest_latency_seconds",
			Help:      "REST请求延迟（秒）",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		alertsSent: counterVec("alerts_sent_total", "发送告警总数", "level"),
	}
}

// 调度相关方法
func (m *Monitor) RecordIteration(loop string, seconds float64) {
	if m == nil {
		return
	}
	m.loopIterations.WithLabelValues(loop).Inc()
	m.loopDuration.WithLabelValues(loop).Observe(seconds)
}

func (m *Monitor) RecordSkip(loop, reason string) {
	if m == nil {
		return
	}
	m.loopSkips.WithLabelValues(loop, reason).Inc()
}

func (m *Monitor) RecordLoopError(loop string) {
	if m == nil {
		return
	}
	m.loopErrors.WithLabelValues(loop).Inc()
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(purpose, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(purpose, side).Inc()
}

func (m *Monitor) RecordOrderClosed(purpose, state string) {
	if m == nil {
		return
	}
	m.ordersClosed.WithLabelValues(purpose, state).Inc()
}

func (m *Monitor) RecordPlaceFailure(purpose string) {
	if m == nil {
		return
	}
	m.placeFailures.WithLabelValues(purpose).Inc()
}

func (m *Monitor) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

// UpdateBand 更新价格区间
func (m *Monitor) UpdateBand(low, high float64, actual bool) {
	if m == nil {
		return
	}
	m.bandLow.Set(low)
	m.bandHigh.Set(high)
	if actual {
		m.bandActual.Set(1)
	} else {
		m.bandActual.Set(0)
	}
}

// UpdateBook 更新盘口指标
func (m *Monitor) UpdateBook(spreadPercent, smartBid, smartAsk float64) {
	if m == nil {
		return
	}
	m.spreadPercent.Set(spreadPercent)
	m.smartBid.Set(smartBid)
	m.smartAsk.Set(smartAsk)
}

// 系统相关方法
func (m *Monitor) RecordRESTRequest(action string) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	if m == nil {
		return
	}
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	if m == nil {
		return
	}
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

func (m *Monitor) RecordAlert(level string) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(level).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
