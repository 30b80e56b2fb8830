package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the issuance pipeline end to end.
type Metrics struct {
	CredentialsIssued  *prometheus.CounterVec
	IssuanceFailures   *prometheus.CounterVec
	ChallengesIssued   *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram
	RequestedTypeCount prometheus.Histogram
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CredentialsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_credentials_issued_total",
			Help: "Credentials signed, by signature type",
		}, []string{"signature_type"}),
		IssuanceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_credential_issuance_failures_total",
			Help: "Verified facts that could not be turned into a credential",
		}, []string{"signature_type"}),
		ChallengesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_challenges_issued_total",
			Help: "Challenge credentials issued, by signature type",
		}, []string{"signature_type"}),
		PipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iam_verify_pipeline_duration_seconds",
			Help:    "Verification, issuance and ban check for one request",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		RequestedTypeCount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iam_verify_requested_types",
			Help:    "Provider types requested per verify call",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
	}
}
