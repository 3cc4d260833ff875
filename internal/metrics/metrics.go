// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordAuthAttempt(op, result string)
	RecordProfileSave()
	RecordProfileUpdate()
	RecordProfileDelete()
	RecordPublicView()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordSessionsCleaned(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts    *prometheus.CounterVec
	profileSaves    prometheus.Counter
	profileUpdates  prometheus.Counter
	profileDeletes  prometheus.Counter
	publicViews     prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	sessionsCleaned prometheus.Counter
}

// 実装確認
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeid_auth_attempts_total",
			Help: "認証操作の試行数（操作種別・結果別）",
		}, []string{"op", "result"}),
		profileSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeid_profile_saves_total",
			Help: "プロフィール保存の合計数",
		}),
		profileUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeid_profile_updates_total",
			Help: "プロフィール部分更新の合計数",
		}),
		profileDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeid_profile_deletes_total",
			Help: "プロフィール削除の合計数",
		}),
		publicViews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeid_public_views_total",
			Help: "公開URL経由のプロフィール閲覧数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeid_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeid_request_latency_seconds",
			Help:    "HTTPリクエスト処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeid_sessions_cleaned_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.profileSaves,
		c.profileUpdates,
		c.profileDeletes,
		c.publicViews,
		c.httpStatus,
		c.requestLatency,
		c.sessionsCleaned,
	)

	return c
}

// RecordAuthAttempt は認証操作（signup/login/logout）の試行を結果付きで記録する。
func (c *Collector) RecordAuthAttempt(op, result string) {
	c.authAttempts.WithLabelValues(op, result).Inc()
}

// RecordProfileSave はプロフィール保存を記録する。
func (c *Collector) RecordProfileSave() {
	c.profileSaves.Inc()
}

// RecordProfileUpdate はプロフィール部分更新を記録する。
func (c *Collector) RecordProfileUpdate() {
	c.profileUpdates.Inc()
}

// RecordProfileDelete はプロフィール削除を記録する。
func (c *Collector) RecordProfileDelete() {
	c.profileDeletes.Inc()
}

// RecordPublicView は公開URL経由の閲覧を記録する。
func (c *Collector) RecordPublicView() {
	c.publicViews.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理のレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int) {
	c.sessionsCleaned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
