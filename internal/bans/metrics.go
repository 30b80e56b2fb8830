package bans

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal *prometheus.CounterVec
	BannedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_ban_checks_total",
			Help: "Batched ban registry checks by result",
		}, []string{"result"}),
		BannedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "iam_banned_credentials_total",
			Help: "Credentials withheld because the registry reported a ban",
		}),
	}
}
