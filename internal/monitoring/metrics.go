package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 信件指标
	LettersCreated prometheus.Counter
	LettersUpdated prometheus.Counter
	LettersDeleted prometheus.Counter

	// 密钥与订阅指标
	KeysCreated       prometheus.Counter
	KeysDeleted       prometheus.Counter
	SubscriptionsMade prometheus.Counter

	// 通知队列指标
	NotificationsEnqueued  prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsRetried   prometheus.Counter
	NotificationsDropped   prometheus.Counter
	QueueDepth             prometheus.Gauge
	DeliveryDuration       prometheus.Histogram

	// WebSocket 连接
	WebSocketClients prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，使用独立注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterdrop_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "letterdrop_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		LettersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_letters_created_total",
			Help: "Total number of letters created",
		}),
		LettersUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_letters_updated_total",
			Help: "Total number of letters updated",
		}),
		LettersDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_letters_deleted_total",
			Help: "Total number of letters deleted",
		}),

		KeysCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_keys_created_total",
			Help: "Total number of keys created",
		}),
		KeysDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_keys_deleted_total",
			Help: "Total number of keys deleted",
		}),
		SubscriptionsMade: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_subscriptions_total",
			Help: "Total number of subscribe requests accepted",
		}),

		NotificationsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_notifications_enqueued_total",
			Help: "Total number of notification jobs enqueued",
		}),
		NotificationsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_notifications_delivered_total",
			Help: "Total number of notification emails delivered",
		}),
		NotificationsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_notifications_retried_total",
			Help: "Total number of failed deliveries kept for retry",
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_notifications_dropped_total",
			Help: "Total number of notification jobs dropped after max retries",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "letterdrop_notification_queue_depth",
			Help: "Number of jobs waiting in the notification queue",
		}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "letterdrop_notification_delivery_seconds",
			Help:    "Duration of a single SMTP delivery",
			Buckets: prometheus.DefBuckets,
		}),

		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "letterdrop_websocket_clients",
			Help: "Number of connected websocket clients",
		}),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterdrop_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "letterdrop_panics_total",
			Help: "Total number of recovered panics",
		}),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "letterdrop_rate_limit_blocks_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLetter 按事件类型记录信件变更
func (m *Metrics) RecordLetter(eventType string) {
	if m == nil {
		return
	}
	switch eventType {
	case "letter.created":
		m.LettersCreated.Inc()
	case "letter.updated":
		m.LettersUpdated.Inc()
	case "letter.deleted":
		m.LettersDeleted.Inc()
	}
}

// RecordKeyCreated 记录密钥创建
func (m *Metrics) RecordKeyCreated() {
	if m == nil {
		return
	}
	m.KeysCreated.Inc()
}

// RecordKeyDeleted 记录密钥删除
func (m *Metrics) RecordKeyDeleted() {
	if m == nil {
		return
	}
	m.KeysDeleted.Inc()
}

// RecordSubscription 记录订阅
func (m *Metrics) RecordSubscription() {
	if m == nil {
		return
	}
	m.SubscriptionsMade.Inc()
}

// RecordEnqueued 记录入队
func (m *Metrics) RecordEnqueued() {
	if m == nil {
		return
	}
	m.NotificationsEnqueued.Inc()
}

// RecordDelivery 记录一次投递结果
func (m *Metrics) RecordDelivery(duration time.Duration, delivered, dropped bool) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(duration.Seconds())
	switch {
	case delivered:
		m.NotificationsDelivered.Inc()
	case dropped:
		m.NotificationsDropped.Inc()
	default:
		m.NotificationsRetried.Inc()
	}
}

// UpdateQueueDepth 更新队列长度
func (m *Metrics) UpdateQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// AddWebSocketClients 调整 WebSocket 连接数
func (m *Metrics) AddWebSocketClients(delta int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Add(float64(delta))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
