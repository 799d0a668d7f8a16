// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証方式ラベル
const (
	StrategySession = "session"
	StrategyJWT     = "jwt"
)

// AuthRecorder は認証イベントを記録するインターフェース。
// サービス層とミドルウェアから利用する。
type AuthRecorder interface {
	RecordRegistration(strategy string)
	RecordLogin(strategy string, success bool)
	RecordRefresh(success bool)
	RecordRateLimited()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	rateLimited    prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_registrations_total",
			Help: "認証方式別のユーザー登録数",
		}, []string{"strategy"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "認証方式・結果別のログイン試行数",
		}, []string{"strategy", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_token_refreshes_total",
			Help: "結果別のアクセストークン再発行数",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_login_rate_limited_total",
			Help: "レート制限により拒否されたログイン試行数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.refreshes,
		c.rateLimited,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordRegistration はユーザー登録を記録する。
func (c *Collector) RecordRegistration(strategy string) {
	c.registrations.WithLabelValues(strategy).Inc()
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(strategy string, success bool) {
	c.logins.WithLabelValues(strategy, result(success)).Inc()
}

// RecordRefresh はアクセストークン再発行の結果を記録する。
func (c *Collector) RecordRefresh(success bool) {
	c.refreshes.WithLabelValues(result(success)).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Nop は何も記録しないAuthRecorder。
type Nop struct{}

func (Nop) RecordRegistration(string)          {}
func (Nop) RecordLogin(string, bool)           {}
func (Nop) RecordRefresh(bool)                 {}
func (Nop) RecordRateLimited()                 {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のメトリクス収集に失敗しても、取得できた分は返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

var (
	_ AuthRecorder = (*Collector)(nil)
	_ AuthRecorder = Nop{}
)
