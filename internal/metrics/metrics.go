// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は認証フローのPrometheusメトリクスを収集する。
// auth.MetricsRecorderを実装する。
type Collector struct {
	loginSuccess    prometheus.Counter
	loginFailure    *prometheus.CounterVec
	usersCreated    prometheus.Counter
	callbackLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_login_success_total",
			Help: "ログイン成功の合計数",
		}),
		loginFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_login_failure_total",
			Help: "ログイン失敗の合計数（失敗理由別）",
		}, []string{"reason"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_users_created_total",
			Help: "初回ログインで作成されたユーザーの合計数",
		}),
		callbackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_callback_latency_seconds",
			Help:    "OAuthコールバック処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.loginSuccess,
		c.loginFailure,
		c.usersCreated,
		c.callbackLatency,
		c.httpStatus,
	)

	return c
}

// RecordLoginSuccess はログイン成功を記録する。初回ログインの場合は作成数も加算する。
func (c *Collector) RecordLoginSuccess(created bool) {
	c.loginSuccess.Inc()
	if created {
		c.usersCreated.Inc()
	}
}

// RecordLoginFailure はログイン失敗を失敗理由付きで記録する。
func (c *Collector) RecordLoginFailure(reason string) {
	c.loginFailure.WithLabelValues(reason).Inc()
}

// RecordCallbackLatency はコールバック処理のレイテンシを記録する。
func (c *Collector) RecordCallbackLatency(d time.Duration) {
	c.callbackLatency.Observe(d.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// HTTPStatusMiddleware はレスポンスのステータスコードをCollectorに記録するミドルウェアを返す。
func HTTPStatusMiddleware(c *Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}
