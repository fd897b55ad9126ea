// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry はGoランタイムとプロセスのメトリクスを登録済みのレジストリを返す。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Collector はPrometheusメトリクスを収集する実装。
// auth.Metrics、ratelimit.Metrics、cleanup.Recorderを満たす。
type Collector struct {
	sessionsCreated    prometheus.Counter
	sessionValidations *prometheus.CounterVec
	sessionsRenewed    prometheus.Counter
	callbacks          *prometheus.CounterVec
	registrations      *prometheus.CounterVec
	rateLimitExceeded  *prometheus.CounterVec
	sessionsSwept      prometheus.Counter
	sweepLatency       prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allergyboard_sessions_created_total",
			Help: "発行したセッションの合計数",
		}),
		sessionValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allergyboard_session_validations_total",
			Help: "セッション検証の結果別の合計数",
		}, []string{"result"}),
		sessionsRenewed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allergyboard_sessions_renewed_total",
			Help: "有効期限を延長したセッションの合計数",
		}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allergyboard_oauth_callbacks_total",
			Help: "OAuthコールバックのプロバイダー・結果別の合計数",
		}, []string{"provider", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allergyboard_registrations_total",
			Help: "登録完了リクエストの結果別の合計数",
		}, []string{"result"}),
		rateLimitExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allergyboard_rate_limit_exceeded_total",
			Help: "レート制限超過の機能別の合計数",
		}, []string{"feature"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allergyboard_sessions_swept_total",
			Help: "定期削除した期限切れセッションの合計数",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "allergyboard_session_sweep_duration_seconds",
			Help:    "期限切れセッション削除の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "allergyboard_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sessionsCreated,
		c.sessionValidations,
		c.sessionsRenewed,
		c.callbacks,
		c.registrations,
		c.rateLimitExceeded,
		c.sessionsSwept,
		c.sweepLatency,
		c.httpStatus,
	)

	return c
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated() {
	c.sessionsCreated.Inc()
}

// RecordSessionValidation はセッション検証の結果（valid, expired, not_found）を記録する。
func (c *Collector) RecordSessionValidation(result string) {
	c.sessionValidations.WithLabelValues(result).Inc()
}

// RecordSessionRenewed はセッション延長を記録する。
func (c *Collector) RecordSessionRenewed() {
	c.sessionsRenewed.Inc()
}

// RecordCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordCallback(provider, outcome string) {
	c.callbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordRegistration は登録完了の結果を記録する。
func (c *Collector) RecordRegistration(result string) {
	c.registrations.WithLabelValues(result).Inc()
}

// RecordRateLimitExceeded はレート制限超過を記録する。
func (c *Collector) RecordRateLimitExceeded(feature string) {
	c.rateLimitExceeded.WithLabelValues(feature).Inc()
}

// RecordSessionsSwept は定期削除したセッション数と所要時間を記録する。
func (c *Collector) RecordSessionsSwept(count int64, duration time.Duration) {
	c.sessionsSwept.Add(float64(count))
	c.sweepLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のメトリクスの収集に失敗しても残りを返し、エラーはslogに出す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// SetupMetricsRoute はワーカー用に /metrics と /health だけを持つハンドラーを返す。
// /health はコンテナのhealthcheckサブコマンドが叩く。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	return mux
}
