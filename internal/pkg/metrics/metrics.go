// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fraudguard"

// 消息处理结果
const (
	OutcomeProcessed    = "processed"
	OutcomeFailed       = "failed"
	OutcomeDropped      = "dropped"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

// CAS 结果
const (
	CASApplied  = "applied"
	CASConflict = "conflict"
)

// Metrics 汇总两个服务共用的 Prometheus 指标。
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	DecisionsTotal   *prometheus.CounterVec
	CASTotal         *prometheus.CounterVec
	ResultsTotal     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
}

// New 在给定的 Registerer 上注册所有指标。
// 生产环境传 prometheus.DefaultRegisterer，测试传 prometheus.NewRegistry()。
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Kafka messages handled, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		DecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Fraud decisions computed, by resulting status.",
		}, []string{"status"}),
		CASTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_total",
			Help:      "Conditional status updates, by result.",
		}, []string{"result"}),
		ResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_results_total",
			Help:      "Decision results reconciled by the transaction owner, by outcome.",
		}, []string{"outcome"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent in the lookup, decide, update and publish pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
