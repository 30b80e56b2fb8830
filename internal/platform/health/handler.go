// Package health serves the liveness and readiness probes of the IAM service.
//
// Readiness fans out to every registered dependency check concurrently. A
// failing required dependency (the ban registry, the signing oracle) takes the
// instance out of rotation; a failing degradable one (the nullifier cache, the
// audit relay) is reported but keeps it ready.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"iam/pkg/platform/httputil"
)

const checkTimeout = 2 * time.Second

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc reports a dependency as healthy by returning nil.
type CheckFunc func(ctx context.Context) error

type dependency struct {
	name       string
	check      CheckFunc
	degradable bool
}

type Handler struct {
	startTime   time.Time
	environment string
	now         func() time.Time

	mu   sync.RWMutex
	deps []dependency
}

func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
		now:         time.Now,
	}
}

// RegisterCheck adds a dependency the service cannot answer without.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.register(dependency{name: name, check: check})
}

// RegisterDegradable adds a dependency whose failure is reported but does not
// fail readiness.
func (h *Handler) RegisterDegradable(name string, check CheckFunc) {
	h.register(dependency{name: name, check: check, degradable: true})
}

func (h *Handler) register(d dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.deps {
		if h.deps[i].name == d.name {
			h.deps[i] = d
			return
		}
	}
	h.deps = append(h.deps, d)
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HandleReadiness answers 503 only when a required dependency is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			results[i] = h.run(r.Context(), d)
			return nil
		})
	}
	_ = g.Wait()

	response := ReadinessResponse{Status: "ready", Checks: make(map[string]CheckResult, len(deps))}
	code := http.StatusOK
	for i, d := range deps {
		res := results[i]
		response.Checks[d.name] = res
		if res.Status == "up" {
			continue
		}
		if d.degradable {
			if response.Status == "ready" {
				response.Status = "degraded"
			}
			continue
		}
		response.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, code, response)
}

func (h *Handler) run(ctx context.Context, d dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := h.now()
	err := d.check(ctx)
	res := CheckResult{Status: "up", LatencyMS: h.now().Sub(start).Milliseconds()}
	if err != nil {
		res.Status = "down"
		res.Error = err.Error()
	}
	return res
}

type StatusResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Environment   string   `json:"environment"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Timestamp     string   `json:"timestamp"`
	Dependencies  []string `json:"dependencies"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		names = append(names, d.name)
	}
	h.mu.RUnlock()

	now := h.now()
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
		Dependencies:  names,
	})
}
