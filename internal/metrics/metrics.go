// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 完了記録が拒否された理由のラベル値。
const (
	RejectAlreadyCompleted = "already_completed"
	RejectForbidden        = "forbidden"
	RejectNotFound         = "not_found"
)

// HabitRecorder は習慣サービスが利用するメトリクス記録インターフェース。
type HabitRecorder interface {
	RecordHabitCreated()
	RecordHabitDeleted(count int)
	RecordCompletion()
	RecordCompletionRejected(reason string)
}

// FetchRecorder はブログフェッチワーカーが利用するメトリクス記録インターフェース。
type FetchRecorder interface {
	RecordFetchSuccess(sourceID string)
	RecordFetchFailure(sourceID string, reason string)
	RecordParseFailure(sourceID string)
	RecordFetchHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordPostsUpserted(count int)
}

// HTTPRecorder はHTTPミドルウェアが利用するメトリクス記録インターフェース。
type HTTPRecorder interface {
	RecordRequest(method, route string, statusCode int, duration time.Duration)
	RecordRateLimited(limiter string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	habitsCreated      prometheus.Counter
	habitsDeleted      prometheus.Counter
	completions        prometheus.Counter
	completionRejected *prometheus.CounterVec

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec

	fetchSuccess    prometheus.Counter
	fetchFail       *prometheus.CounterVec
	parseFail       prometheus.Counter
	fetchHTTPStatus *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	postsUpserted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		habitsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_habits_created_total",
			Help: "作成された習慣の合計数",
		}),
		habitsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_habits_deleted_total",
			Help: "削除された習慣の合計数",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_completions_total",
			Help: "記録された完了の合計数",
		}),
		completionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitloop_completion_rejected_total",
			Help: "拒否された完了リクエストの理由別合計数",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitloop_http_requests_total",
			Help: "HTTPリクエストのルート・ステータス別合計数",
		}, []string{"method", "route", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "habitloop_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitloop_rate_limited_total",
			Help: "レート制限で拒否されたリクエストの合計数",
		}, []string{"limiter"}),
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_blog_fetch_success_total",
			Help: "ブログフィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitloop_blog_fetch_fail_total",
			Help: "ブログフィードフェッチ失敗の理由別合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_blog_parse_fail_total",
			Help: "ブログフィードパース失敗の合計数",
		}),
		fetchHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "habitloop_blog_fetch_http_status_total",
			Help: "ブログフィードフェッチのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "habitloop_blog_fetch_latency_seconds",
			Help:    "ブログフィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "habitloop_blog_posts_upserted_total",
			Help: "アップサートされたブログ記事の合計数",
		}),
	}

	reg.MustRegister(
		c.habitsCreated,
		c.habitsDeleted,
		c.completions,
		c.completionRejected,
		c.requests,
		c.requestDuration,
		c.rateLimited,
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.fetchHTTPStatus,
		c.fetchLatency,
		c.postsUpserted,
	)

	return c
}

// RecordHabitCreated は習慣の作成を記録する。
func (c *Collector) RecordHabitCreated() {
	c.habitsCreated.Inc()
}

// RecordHabitDeleted は削除された習慣数を記録する。
func (c *Collector) RecordHabitDeleted(count int) {
	c.habitsDeleted.Add(float64(count))
}

// RecordCompletion は完了の記録成功を記録する。
func (c *Collector) RecordCompletion() {
	c.completions.Inc()
}

// RecordCompletionRejected は完了リクエストの拒否を理由別に記録する。
func (c *Collector) RecordCompletionRejected(reason string) {
	c.completionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest はHTTPリクエストの結果と処理時間を記録する。
// routeにはchiのルートパターンを渡し、IDごとにラベルが増えないようにする。
func (c *Collector) RecordRequest(method, route string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(limiter string) {
	c.rateLimited.WithLabelValues(limiter).Inc()
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess(sourceID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFetchFailure(sourceID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(sourceID string) {
	c.parseFail.Inc()
}

// RecordFetchHTTPStatus はフェッチ時のHTTPステータスコードを記録する。
func (c *Collector) RecordFetchHTTPStatus(statusCode int) {
	c.fetchHTTPStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordPostsUpserted はアップサートされた記事数を記録する。
func (c *Collector) RecordPostsUpserted(count int) {
	c.postsUpserted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ HabitRecorder = (*Collector)(nil)
	_ FetchRecorder = (*Collector)(nil)
	_ HTTPRecorder  = (*Collector)(nil)
)
