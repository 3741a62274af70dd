// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Webhook取り込みとディスパッチャーから利用する。
type MetricsCollector interface {
	RecordWebhookReceived(provider string)
	RecordWebhookValid(provider string)
	RecordWebhookInvalid(provider string, code string)
	RecordWebhookLatency(provider string, duration time.Duration)
	RecordDispatchExecuted(provider string)
	RecordDispatchThrottled(provider string)
	RecordDispatchFailed(provider string)
	SetQueueDepth(provider string, depth int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookReceived   *prometheus.CounterVec
	webhookValid      *prometheus.CounterVec
	webhookInvalid    *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
	dispatchExecuted  *prometheus.CounterVec
	dispatchThrottled *prometheus.CounterVec
	dispatchFailed    *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_webhook_received_total",
			Help: "プロバイダー別のWebhook受信数",
		}, []string{"provider"}),
		webhookValid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_webhook_valid_total",
			Help: "プロバイダー別のWebhook検証成功数",
		}, []string{"provider"}),
		webhookInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_webhook_invalid_total",
			Help: "プロバイダーと拒否分類別のWebhook検証失敗数",
		}, []string{"provider", "code"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetsync_webhook_latency_seconds",
			Help:    "Webhook検証処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		dispatchExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_dispatch_executed_total",
			Help: "プロバイダー別のディスパッチ実行数",
		}, []string{"provider"}),
		dispatchThrottled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_dispatch_throttled_total",
			Help: "プロバイダー別のレート制限による待機数",
		}, []string{"provider"}),
		dispatchFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsync_dispatch_failed_total",
			Help: "プロバイダー別のリトライ上限到達数",
		}, []string{"provider"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetsync_dispatch_queue_depth",
			Help: "プロバイダー別のディスパッチキュー滞留数",
		}, []string{"provider"}),
	}

	reg.MustRegister(
		c.webhookReceived,
		c.webhookValid,
		c.webhookInvalid,
		c.webhookLatency,
		c.dispatchExecuted,
		c.dispatchThrottled,
		c.dispatchFailed,
		c.queueDepth,
	)

	return c
}

// RecordWebhookReceived はWebhook受信を記録する。
func (c *Collector) RecordWebhookReceived(provider string) {
	c.webhookReceived.WithLabelValues(provider).Inc()
}

// RecordWebhookValid はWebhook検証成功を記録する。
func (c *Collector) RecordWebhookValid(provider string) {
	c.webhookValid.WithLabelValues(provider).Inc()
}

// RecordWebhookInvalid はWebhook検証失敗を理由つきで記録する。
func (c *Collector) RecordWebhookInvalid(provider string, code string) {
	c.webhookInvalid.WithLabelValues(provider, code).Inc()
}

// RecordWebhookLatency はWebhook検証のレイテンシを記録する。
func (c *Collector) RecordWebhookLatency(provider string, duration time.Duration) {
	c.webhookLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordDispatchExecuted はディスパッチ実行を記録する。
func (c *Collector) RecordDispatchExecuted(provider string) {
	c.dispatchExecuted.WithLabelValues(provider).Inc()
}

// RecordDispatchThrottled はレート制限による待機を記録する。
func (c *Collector) RecordDispatchThrottled(provider string) {
	c.dispatchThrottled.WithLabelValues(provider).Inc()
}

// RecordDispatchFailed はリトライ上限到達を記録する。
func (c *Collector) RecordDispatchFailed(provider string) {
	c.dispatchFailed.WithLabelValues(provider).Inc()
}

// SetQueueDepth はキュー滞留数を記録する。
func (c *Collector) SetQueueDepth(provider string, depth int) {
	c.queueDepth.WithLabelValues(provider).Set(float64(depth))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
