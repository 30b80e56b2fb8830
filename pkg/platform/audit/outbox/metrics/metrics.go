package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the audit outbox relay.
type Metrics struct {
	Pending         prometheus.Gauge
	Dead            prometheus.Gauge
	PublishedTotal  *prometheus.CounterVec
	PublishFailures prometheus.Counter
	DeadLettered    prometheus.Counter
	BatchDuration   prometheus.Histogram
	BatchSize       prometheus.Histogram
	PurgedTotal     prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "iam_audit_outbox_pending",
			Help: "Unpublished audit entries still eligible for relay",
		}),
		Dead: f.NewGauge(prometheus.GaugeOpts{
			Name: "iam_audit_outbox_dead",
			Help: "Unpublished audit entries that exhausted their attempts",
		}),
		PublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_audit_outbox_published_total",
			Help: "Audit entries relayed to Kafka by action",
		}, []string{"action"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "iam_audit_outbox_publish_failures_total",
			Help: "Audit outbox claim or publish failures",
		}),
		DeadLettered: f.NewCounter(prometheus.CounterOpts{
			Name: "iam_audit_outbox_dead_lettered_total",
			Help: "Audit entries that failed their final attempt",
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iam_audit_outbox_batch_duration_seconds",
			Help:    "Time taken to relay one claimed batch",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iam_audit_outbox_batch_size",
			Help:    "Entries claimed per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		PurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "iam_audit_outbox_purged_total",
			Help: "Published audit entries removed by retention",
		}),
	}
}
