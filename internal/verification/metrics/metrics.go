package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks provider verification outcomes. Provider labels use the
// base provider type so parameterized labels do not explode cardinality.
type Metrics struct {
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	GroupsSkippedTotal   *prometheus.CounterVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_provider_verifications_total",
			Help: "Provider verifications by provider and outcome",
		}, []string{"provider", "outcome"}),
		VerificationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iam_provider_verification_duration_seconds",
			Help:    "Time spent inside a provider's Verify call",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		GroupsSkippedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_provider_verifications_skipped_total",
			Help: "Provider types not run because an earlier provider in the platform group timed out",
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordOutcome(provider, outcome string) {
	m.VerificationsTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveDuration(provider string, seconds float64) {
	m.VerificationDuration.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) RecordSkipped(provider string) {
	m.GroupsSkippedTotal.WithLabelValues(provider).Inc()
}
