// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッションサービスとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordSessionCreated(difficulty string)
	RecordSessionJoined()
	RecordJoinConflict()
	RecordSessionEnded()
	RecordProviderCall(operation string, duration time.Duration, err error)
	RecordHTTPRequest(method, route, status string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsCreated *prometheus.CounterVec
	sessionsJoined  prometheus.Counter
	joinConflicts   prometheus.Counter
	sessionsEnded   prometheus.Counter
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepair_sessions_created_total",
			Help: "作成されたセッションの合計数",
		}, []string{"difficulty"}),
		sessionsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepair_sessions_joined_total",
			Help: "参加者が確定したセッションの合計数",
		}),
		joinConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepair_join_conflicts_total",
			Help: "同時参加で条件付き更新に敗れた回数",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codepair_sessions_ended_total",
			Help: "終了したセッションの合計数",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepair_provider_calls_total",
			Help: "ルームプロバイダー呼び出しの操作・結果別の回数",
		}, []string{"operation", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codepair_provider_call_duration_seconds",
			Help:    "ルームプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codepair_http_requests_total",
			Help: "HTTPリクエストのメソッド・ルート・ステータス別の回数",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codepair_http_request_duration_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionsJoined,
		c.joinConflicts,
		c.sessionsEnded,
		c.providerCalls,
		c.providerLatency,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// RecordSessionCreated はセッション作成を難易度別に記録する。
func (c *Collector) RecordSessionCreated(difficulty string) {
	c.sessionsCreated.WithLabelValues(difficulty).Inc()
}

// RecordSessionJoined は参加の成功を記録する。
func (c *Collector) RecordSessionJoined() {
	c.sessionsJoined.Inc()
}

// RecordJoinConflict は参加競合を記録する。
func (c *Collector) RecordJoinConflict() {
	c.joinConflicts.Inc()
}

// RecordSessionEnded はセッション終了を記録する。
func (c *Collector) RecordSessionEnded() {
	c.sessionsEnded.Inc()
}

// RecordProviderCall はルームプロバイダー呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.providerCalls.WithLabelValues(operation, result).Inc()
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest はHTTPリクエストを記録する。
func (c *Collector) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
