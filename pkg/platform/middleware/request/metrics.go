package request

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Verify requests wait on every provider, so buckets reach past 30s.
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iam_http_request_duration_seconds",
			Help:    "Duration of IAM HTTP requests by route and status",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route", "status"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "iam_http_requests_in_flight",
			Help: "Number of IAM HTTP requests being served",
		}),
	}
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.Duration.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
}
