// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ディレクトリクライアントや認証サービスから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordTokenRefresh(outcome string)
	RecordDirectoryCall(op string, outcome string)
	RecordDirectoryLatency(op string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins           *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	directoryCalls   *prometheus.CounterVec
	directoryLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_login_total",
			Help: "OAuthログインの結果別合計数",
		}, []string{"outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_token_refresh_total",
			Help: "サービス資格情報トークンのリフレッシュ結果別合計数",
		}, []string{"outcome"}),
		directoryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_directory_call_total",
			Help: "ディレクトリAPI呼び出しの操作・結果別合計数",
		}, []string{"op", "outcome"}),
		directoryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_directory_latency_seconds",
			Help:    "ディレクトリAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		c.logins,
		c.tokenRefreshes,
		c.directoryCalls,
		c.directoryLatency,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordDirectoryCall はディレクトリAPI呼び出しの結果を記録する。
func (c *Collector) RecordDirectoryCall(op string, outcome string) {
	c.directoryCalls.WithLabelValues(op, outcome).Inc()
}

// RecordDirectoryLatency はディレクトリAPI呼び出しのレイテンシを記録する。
func (c *Collector) RecordDirectoryLatency(op string, duration time.Duration) {
	c.directoryLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
