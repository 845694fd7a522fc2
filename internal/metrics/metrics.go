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
// 認証サービスとHTTP層から利用する。
type MetricsCollector interface {
	RecordChallengeIssued(success bool)
	RecordVerification(outcome string)
	RecordOracleLatency(operation string, duration time.Duration)
	RecordUserCreated()
	RecordStoreError(operation string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	challenges    *prometheus.CounterVec
	verifications *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
	usersCreated  prometheus.Counter
	storeErrors   *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletauth_challenges_issued_total",
			Help: "チャレンジ発行の合計数（結果別）",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletauth_verifications_total",
			Help: "チャレンジ検証の合計数（結果別）",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletauth_oracle_latency_seconds",
			Help:    "オラクル呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walletauth_users_created_total",
			Help: "作成されたユーザーレコードの合計数",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletauth_store_errors_total",
			Help: "ユーザーストア操作の失敗数（操作別）",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walletauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.challenges,
		c.verifications,
		c.oracleLatency,
		c.usersCreated,
		c.storeErrors,
		c.httpStatus,
	)

	return c
}

// RecordChallengeIssued はチャレンジ発行の結果を記録する。
func (c *Collector) RecordChallengeIssued(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.challenges.WithLabelValues(result).Inc()
}

// RecordVerification は検証結果（pending, authenticated, rejected, failed）を記録する。
func (c *Collector) RecordVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordOracleLatency はオラクル呼び出しのレイテンシを記録する。
func (c *Collector) RecordOracleLatency(operation string, duration time.Duration) {
	c.oracleLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUserCreated はユーザー作成を記録する。
func (c *Collector) RecordUserCreated() {
	c.usersCreated.Inc()
}

// RecordStoreError はストア操作の失敗を記録する。
func (c *Collector) RecordStoreError(operation string) {
	c.storeErrors.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordChallengeIssued(bool)                {}
func (Nop) RecordVerification(string)                 {}
func (Nop) RecordOracleLatency(string, time.Duration) {}
func (Nop) RecordUserCreated()                        {}
func (Nop) RecordStoreError(string)                   {}
func (Nop) RecordHTTPStatus(int)                      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
