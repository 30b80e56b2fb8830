// Package circuit guards the outbound dependencies of the pipeline (ban
// registry, signing oracle, OPRF relay) with a three-state breaker.
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChange reports a transition caused by a recorded outcome.
type StateChange struct {
	Opened bool
	Closed bool
}

// Metrics exports breaker state per dependency. One instance serves every breaker.
type Metrics struct {
	State    *prometheus.GaugeVec
	Rejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iam_circuit_state",
			Help: "Breaker state per dependency: 0 closed, 1 half open, 2 open",
		}, []string{"dependency"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iam_circuit_rejected_total",
			Help: "Calls rejected without reaching the dependency",
		}, []string{"dependency"}),
	}
}

// Breaker opens after FailureThreshold consecutive failures. Once the cooldown
// has elapsed it goes half open and admits one probe at a time;
// SuccessThreshold consecutive probe successes close it, a failed probe
// reopens it.
type Breaker struct {
	mu               sync.Mutex
	state            State
	name             string
	failureCount     int
	successCount     int
	probing          bool
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
	metrics          *Metrics
}

type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures that open the circuit. Default 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive probe successes that close the circuit. Default 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithCooldown sets how long an open circuit rejects calls before probing. Default 10s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 2,
		cooldown:         10 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.publish()
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// State reports the current state; an open breaker past its cooldown reads
// as half open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// advance moves an open breaker to half open once the cooldown has passed.
// Callers hold mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
		b.successCount = 0
		b.probing = false
		b.publish()
	}
}

// Allow reports whether a call may proceed now and, when half open, reserves
// the single probe slot. Every allowed call must be followed by Record*.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			b.reject()
			return false
		}
		b.probing = true
		return true
	default:
		b.reject()
		return false
	}
}

func (b *Breaker) RecordFailure() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount = 0
	switch b.state {
	case StateHalfOpen:
		b.trip()
		return StateChange{}
	case StateOpen:
		b.openedAt = b.now()
		return StateChange{}
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.trip()
		return StateChange{Opened: true}
	}
	return StateChange{}
}

func (b *Breaker) RecordSuccess() StateChange {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		b.failureCount = 0
		return StateChange{}
	}
	b.probing = false
	b.successCount++
	if b.successCount < b.successThreshold {
		return StateChange{}
	}
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.publish()
	return StateChange{Closed: true}
}

// Execute runs fn when the breaker allows it and records the outcome.
// Errors for which countable returns false (caller mistakes, 4xx) do not trip
// the breaker. A nil countable counts every error.
func (b *Breaker) Execute(fn func() error, countable func(error) bool) (StateChange, error) {
	if !b.Allow() {
		return StateChange{}, ErrOpen
	}
	err := fn()
	if err != nil && (countable == nil || countable(err)) {
		return b.RecordFailure(), err
	}
	return b.RecordSuccess(), err
}

// Reset closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
	b.publish()
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failureCount = 0
	b.probing = false
	b.publish()
}

func (b *Breaker) publish() {
	if b.metrics != nil {
		b.metrics.State.WithLabelValues(b.name).Set(float64(b.state))
	}
}

func (b *Breaker) reject() {
	if b.metrics != nil {
		b.metrics.Rejected.WithLabelValues(b.name).Inc()
	}
}
