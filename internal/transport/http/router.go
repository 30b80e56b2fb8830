// Package httptransport assembles the public router. Handlers delegate to
// domain services; only transport concerns live here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	request "iam/pkg/platform/middleware/request"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Metrics        *request.Metrics
	// Gatherer backs /metrics; nil leaves the endpoint unmounted.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the middleware stack, the health routes and the API.
// Health probes and /metrics bypass the request timeout and body limit.
func NewRouter(cfg RouterConfig, logger *slog.Logger, health Registrar, api ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(request.ClientIP)
	r.Use(request.Logger(logger))

	health.Register(r)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if cfg.Metrics != nil {
			r.Use(request.Instrument(cfg.Metrics))
		}
		if cfg.RequestTimeout > 0 {
			r.Use(request.Timeout(cfg.RequestTimeout))
		}
		if cfg.MaxBodyBytes > 0 {
			r.Use(request.BodyLimit(cfg.MaxBodyBytes))
		}
		r.Use(request.ContentTypeJSON)
		for _, reg := range api {
			reg.Register(r)
		}
	})

	return r
}
