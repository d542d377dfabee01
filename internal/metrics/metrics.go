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
// 関連付けコーディネーターやコマンド処理、HTTP層から利用する。
type MetricsCollector interface {
	RecordAssociationBegun()
	RecordAssociationCompleted()
	RecordAssociationFailure(stage string)
	RecordCommand(command string)
	RecordUpstreamError(upstream, kind string)
	RecordUpstreamLatency(upstream string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	associationsBegun     prometheus.Counter
	associationsCompleted prometheus.Counter
	associationFailures   *prometheus.CounterVec
	commands              *prometheus.CounterVec
	upstreamErrors        *prometheus.CounterVec
	upstreamLatency       *prometheus.HistogramVec
	httpStatus            *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		associationsBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnatbot_associations_begun_total",
			Help: "送信した関連付けリンクの合計数",
		}),
		associationsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xnatbot_associations_completed_total",
			Help: "完了した関連付けの合計数",
		}),
		associationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnatbot_association_failures_total",
			Help: "段階別の関連付け失敗数",
		}, []string{"stage"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnatbot_commands_total",
			Help: "サブコマンド別の実行数",
		}, []string{"command"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnatbot_upstream_errors_total",
			Help: "外部サービス呼び出しの失敗数",
		}, []string{"upstream", "kind"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xnatbot_upstream_latency_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnatbot_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.associationsBegun,
		c.associationsCompleted,
		c.associationFailures,
		c.commands,
		c.upstreamErrors,
		c.upstreamLatency,
		c.httpStatus,
	)

	return c
}

// RecordAssociationBegun はリンク送信を記録する。
func (c *Collector) RecordAssociationBegun() {
	c.associationsBegun.Inc()
}

// RecordAssociationCompleted は関連付け完了を記録する。
func (c *Collector) RecordAssociationCompleted() {
	c.associationsCompleted.Inc()
}

// RecordAssociationFailure は関連付けの失敗を段階（begin, exchange, complete）ごとに記録する。
func (c *Collector) RecordAssociationFailure(stage string) {
	c.associationFailures.WithLabelValues(stage).Inc()
}

// RecordCommand はサブコマンドの実行を記録する。
func (c *Collector) RecordCommand(command string) {
	c.commands.WithLabelValues(command).Inc()
}

// RecordUpstreamError は外部呼び出しの失敗を記録する。kindはtimeoutまたはerror。
func (c *Collector) RecordUpstreamError(upstream, kind string) {
	c.upstreamErrors.WithLabelValues(upstream, kind).Inc()
}

// RecordUpstreamLatency は外部呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(upstream string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordAssociationBegun()                     {}
func (NopCollector) RecordAssociationCompleted()                 {}
func (NopCollector) RecordAssociationFailure(string)             {}
func (NopCollector) RecordCommand(string)                        {}
func (NopCollector) RecordUpstreamError(string, string)          {}
func (NopCollector) RecordUpstreamLatency(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
