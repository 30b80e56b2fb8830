// Package orchestrator runs the requested provider types for one request:
// platform groups in parallel, the types inside a group one after another.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"iam/internal/platform/tracer"
	"iam/internal/verification/metrics"
	"iam/internal/verification/models"
	"iam/internal/verification/providers"
)

const (
	// MaxErrorLength caps the joined provider error text.
	MaxErrorLength = 1000

	msgUnableToVerify = "Unable to verify provider"

	codeExecutionFailed = 400
	codeNotVerified     = 403
)

// Outcome classifies a VerifyTypeResult.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	// OutcomeRejected: the provider ran and said no.
	OutcomeRejected Outcome = "rejected"
	// OutcomeTimedOut: the provider reported an upstream timeout.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeSkipped: never run, an earlier type in the group timed out.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed: the provider errored or panicked.
	OutcomeFailed Outcome = "execution_failed"
)

// VerifyTypeResult is the verdict for one requested label.
type VerifyTypeResult struct {
	// Type is the label as requested, parameters included.
	Type    string
	Result  models.VerifiedResult
	Outcome Outcome
	// Code and Error are set for every outcome except OutcomeVerified.
	Code  int
	Error string
}

func (r VerifyTypeResult) Verified() bool {
	return r.Outcome == OutcomeVerified
}

// Verifier runs one provider type. Satisfied by *providers.Registry.
type Verifier interface {
	Verify(ctx context.Context, providerType string, payload models.RequestPayload, pctx *providers.Context) (*models.VerifiedResult, error)
}

type Orchestrator struct {
	verifier            Verifier
	tracer              tracer.Tracer
	metrics             *metrics.Metrics
	logger              *slog.Logger
	maxConcurrentGroups int
}

type Option func(*Orchestrator)

func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMaxConcurrentGroups bounds how many platform groups run at once. Zero means unbounded.
func WithMaxConcurrentGroups(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrentGroups = n
	}
}

func New(verifier Verifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		verifier: verifier,
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// VerifyTypes returns one result per label across all groups, grouped in
// input group order. It never fails as a whole; every failure is a result.
func (o *Orchestrator) VerifyTypes(ctx context.Context, groups [][]string, payload models.RequestPayload) []VerifyTypeResult {
	ctx, span := o.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrAddressHash, tracer.HashAddress(payload.Address)),
		tracer.Int64(tracer.AttrGroupCount, int64(len(groups))),
	)
	defer span.End(nil)

	perGroup := make([][]VerifyTypeResult, len(groups))

	var g errgroup.Group
	if o.maxConcurrentGroups > 0 {
		g.SetLimit(o.maxConcurrentGroups)
	}
	for i, group := range groups {
		g.Go(func() error {
			perGroup[i] = o.verifyGroup(ctx, group, payload)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // group funcs never return errors

	var out []VerifyTypeResult
	for _, results := range perGroup {
		out = append(out, results...)
	}
	return out
}

// verifyGroup runs one platform's types in order with a shared Context.
// After a timeout the remaining types are reported as skipped.
func (o *Orchestrator) verifyGroup(ctx context.Context, group []string, payload models.RequestPayload) []VerifyTypeResult {
	ctx, span := o.tracer.Start(ctx, tracer.SpanVerifyGroup, tracer.Int64(tracer.AttrGroupSize, int64(len(group))))
	defer span.End(nil)

	pctx := providers.NewContext()
	results := make([]VerifyTypeResult, 0, len(group))
	timeoutMessage := ""

	for _, label := range group {
		if timeoutMessage != "" {
			results = append(results, skipped(label, timeoutMessage))
			if o.metrics != nil {
				o.metrics.RecordSkipped(metricLabel(label))
			}
			continue
		}

		r := o.verifyType(ctx, label, payload, pctx)
		results = append(results, r)
		if r.Outcome == OutcomeTimedOut {
			timeoutMessage = r.Error
			span.AddEvent("group.stopped", tracer.String(tracer.AttrProviderType, label))
		}
	}
	return results
}

func (o *Orchestrator) verifyType(ctx context.Context, label string, payload models.RequestPayload, pctx *providers.Context) VerifyTypeResult {
	rt, err := providers.ParseRequestedType(label)
	if err != nil {
		o.logger.WarnContext(ctx, "invalid provider type requested", "type", label, "error", err)
		return o.record(label, failed(label))
	}

	ctx, span := o.tracer.Start(ctx, tracer.SpanVerifyProvider, tracer.String(tracer.AttrProviderType, rt.ProviderType()))
	start := time.Now()
	res, err := o.call(ctx, rt.ProviderType(), rt.Apply(payload), pctx)
	if o.metrics != nil {
		o.metrics.ObserveDuration(rt.ProviderType(), time.Since(start).Seconds())
	}

	var r VerifyTypeResult
	switch {
	case err != nil:
		o.logger.WarnContext(ctx, "provider verification failed",
			"type", label,
			"category", providers.GetCategory(err),
			"error", err,
		)
		r = failed(label)
	case res == nil:
		err = fmt.Errorf("provider %s returned no result", rt.ProviderType())
		o.logger.WarnContext(ctx, "provider verification failed", "type", label, "error", err)
		r = failed(label)
	default:
		r = fromResult(label, *res)
	}

	span.SetAttributes(tracer.String(tracer.AttrOutcome, string(r.Outcome)), tracer.Bool(tracer.AttrTimedOut, r.Outcome == OutcomeTimedOut))
	span.End(err)
	return o.record(label, r)
}

// call invokes the provider, turning a panic into an error.
func (o *Orchestrator) call(ctx context.Context, providerType string, payload models.RequestPayload, pctx *providers.Context) (res *models.VerifiedResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("provider %s panicked: %v", providerType, p)
		}
	}()
	return o.verifier.Verify(ctx, providerType, payload, pctx)
}

func (o *Orchestrator) record(label string, r VerifyTypeResult) VerifyTypeResult {
	if o.metrics != nil {
		o.metrics.RecordOutcome(metricLabel(label), string(r.Outcome))
	}
	return r
}

func fromResult(label string, res models.VerifiedResult) VerifyTypeResult {
	if res.Valid {
		return VerifyTypeResult{Type: label, Result: res, Outcome: OutcomeVerified}
	}
	outcome := OutcomeRejected
	if res.TimedOut {
		outcome = OutcomeTimedOut
	}
	return VerifyTypeResult{
		Type:    label,
		Result:  res,
		Outcome: outcome,
		Code:    codeNotVerified,
		Error:   joinErrors(res.Errors),
	}
}

func failed(label string) VerifyTypeResult {
	return VerifyTypeResult{
		Type:    label,
		Result:  models.VerifiedResult{Valid: false},
		Outcome: OutcomeFailed,
		Code:    codeExecutionFailed,
		Error:   msgUnableToVerify,
	}
}

func skipped(label, timeoutMessage string) VerifyTypeResult {
	return VerifyTypeResult{
		Type:    label,
		Result:  models.VerifiedResult{Valid: false, Errors: []string{timeoutMessage}},
		Outcome: OutcomeSkipped,
		Code:    codeNotVerified,
		Error:   timeoutMessage,
	}
}

// joinErrors joins provider errors with ", " and caps the result at
// MaxErrorLength characters.
func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return msgUnableToVerify
	}
	joined := strings.Join(errs, ", ")
	if runes := []rune(joined); len(runes) > MaxErrorLength {
		return string(runes[:MaxErrorLength])
	}
	return joined
}

func metricLabel(label string) string {
	base, _, _ := strings.Cut(label, "#")
	return base
}
