// Package service is the issuance pipeline: verify the requested provider
// types, issue a credential for every verified fact, then withhold banned
// credentials.
package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"iam/internal/credential/issuer"
	cmodels "iam/internal/credential/models"
	"iam/internal/issuance/metrics"
	"iam/internal/verification/models"
	"iam/internal/verification/orchestrator"
	dErrors "iam/pkg/domain-errors"
	"iam/pkg/platform/audit"
	"iam/pkg/platform/privacy"
	"iam/pkg/requestcontext"
)

const msgIssuanceFailed = "Unable to produce a verifiable credential"

// Orchestrator runs provider verification. Implemented by *orchestrator.Orchestrator.
type Orchestrator interface {
	VerifyTypes(ctx context.Context, groups [][]string, payload models.RequestPayload) []orchestrator.VerifyTypeResult
}

// CredentialIssuer is implemented by *issuer.Issuer.
type CredentialIssuer interface {
	IssueCredential(ctx context.Context, req issuer.Request) (*cmodels.Credential, error)
	IssueChallenge(ctx context.Context, req issuer.ChallengeRequest) (*cmodels.Credential, error)
}

// BanFilter is implemented by *bans.Filter.
type BanFilter interface {
	Apply(ctx context.Context, responses []cmodels.CredentialResponseBody) ([]cmodels.CredentialResponseBody, error)
}

// Grouper maps requested types to platform groups. Implemented by *platforms.Catalog.
type Grouper interface {
	Group(types []string) [][]string
}

type Service struct {
	orchestrator     Orchestrator
	issuer           CredentialIssuer
	bans             BanFilter
	grouper          Grouper
	audit            audit.Emitter
	metrics          *metrics.Metrics
	logger           *slog.Logger
	maxParallelIssue int
}

type Option func(*Service)

func WithAudit(e audit.Emitter) Option {
	return func(s *Service) {
		s.audit = e
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMaxParallelIssuance bounds concurrent signing calls per request.
func WithMaxParallelIssuance(n int) Option {
	return func(s *Service) {
		s.maxParallelIssue = n
	}
}

func New(orch Orchestrator, iss CredentialIssuer, bans BanFilter, grouper Grouper, opts ...Option) *Service {
	s := &Service{
		orchestrator:     orch,
		issuer:           iss,
		bans:             bans,
		grouper:          grouper,
		audit:            audit.NopEmitter{},
		logger:           slog.Default(),
		maxParallelIssue: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify groups the payload's requested types by platform and runs the pipeline.
func (s *Service) Verify(ctx context.Context, payload models.RequestPayload) ([]cmodels.CredentialResponseBody, error) {
	types := payload.RequestedTypes()
	if len(types) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "Invalid payload")
	}
	return s.VerifyProvidersAndIssueCredentials(ctx, s.grouper.Group(types), payload.Address, payload)
}

// VerifyProvidersAndIssueCredentials returns one response per requested
// type. Per-type failures are values in the result; only a ban registry
// failure fails the call.
func (s *Service) VerifyProvidersAndIssueCredentials(ctx context.Context, groups [][]string, address string, payload models.RequestPayload) ([]cmodels.CredentialResponseBody, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.PipelineDuration.Observe(time.Since(start).Seconds())
		}
	}()

	results := s.orchestrator.VerifyTypes(ctx, groups, payload)
	if s.metrics != nil {
		s.metrics.RequestedTypeCount.Observe(float64(len(results)))
	}

	issued := s.issueAll(ctx, results, address, payload.UsesEIP712())

	filtered, err := s.bans.Apply(ctx, issued)
	if err != nil {
		s.logger.ErrorContext(ctx, "ban check failed",
			"request_id", requestcontext.RequestID(ctx),
			"address", privacy.RedactAddress(address),
			"error", err,
		)
		return nil, err
	}

	s.emitOutcomes(ctx, results, issued, filtered, address)
	return filtered, nil
}

// issueAll issues credentials for the verified results in parallel. One
// failure never affects the others.
func (s *Service) issueAll(ctx context.Context, results []orchestrator.VerifyTypeResult, address string, eip712 bool) []cmodels.CredentialResponseBody {
	out := make([]cmodels.CredentialResponseBody, len(results))

	var g errgroup.Group
	if s.maxParallelIssue > 0 {
		g.SetLimit(s.maxParallelIssue)
	}
	for i, r := range results {
		if !r.Verified() {
			out[i] = cmodels.CredentialResponseBody{Code: r.Code, Error: r.Error}
			continue
		}
		g.Go(func() error {
			out[i] = s.issueOne(ctx, r, address, eip712)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // issueOne never returns errors

	return out
}

func (s *Service) issueOne(ctx context.Context, r orchestrator.VerifyTypeResult, address string, eip712 bool) cmodels.CredentialResponseBody {
	record := cmodels.NewFactRecord(r.Type, r.Result.Record)
	cred, err := s.issuer.IssueCredential(ctx, issuer.Request{
		Address:          address,
		Record:           record,
		ExpiresInSeconds: r.Result.ExpiresInSeconds,
		EIP712:           eip712,
	})
	label := signatureLabel(eip712)
	if err != nil {
		s.logger.ErrorContext(ctx, "credential issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"type", r.Type,
			"signature_type", label,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.IssuanceFailures.WithLabelValues(label).Inc()
		}
		return cmodels.CredentialResponseBody{Code: 500, Error: msgIssuanceFailed}
	}
	if s.metrics != nil {
		s.metrics.CredentialsIssued.WithLabelValues(label).Inc()
	}
	return cmodels.CredentialResponseBody{Record: record, Credential: cred}
}

// IssueChallenge returns a challenge credential for payload.Type.
func (s *Service) IssueChallenge(ctx context.Context, payload models.RequestPayload) (*cmodels.Credential, error) {
	if payload.Type == "" || payload.Address == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "Unable to verify payload")
	}
	eip712 := payload.UsesEIP712()
	cred, err := s.issuer.IssueChallenge(ctx, issuer.ChallengeRequest{
		Address: payload.Address,
		Type:    payload.Type,
		EIP712:  eip712,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "challenge issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"type", payload.Type,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, msgIssuanceFailed)
	}
	if s.metrics != nil {
		s.metrics.ChallengesIssued.WithLabelValues(signatureLabel(eip712)).Inc()
	}
	s.emit(ctx, audit.Event{
		Action:   audit.ActionChallengeIssued,
		Provider: payload.Type,
		Subject:  privacy.RedactAddress(payload.Address),
	})
	return cred, nil
}

// emitOutcomes records one audit event per requested type, in one batch.
func (s *Service) emitOutcomes(ctx context.Context, results []orchestrator.VerifyTypeResult, issued, filtered []cmodels.CredentialResponseBody, address string) {
	subject := privacy.RedactAddress(address)
	events := make([]audit.Event, 0, len(results))
	for i, r := range results {
		event := audit.Event{Provider: r.Type, Subject: subject}
		switch {
		case filtered[i].HasCredential():
			event.Action = audit.ActionCredentialIssued
			event.CredentialHash = filtered[i].Credential.CredentialSubject.Hash
		case issued[i].HasCredential():
			event.Action = audit.ActionCredentialBanned
			event.CredentialHash = issued[i].Credential.CredentialSubject.Hash
			event.Reason = filtered[i].Error
		case r.Verified():
			event.Action = audit.ActionIssuanceFailed
			event.Reason = filtered[i].Error
		default:
			event.Action = audit.ActionVerificationFailed
			event.Reason = string(r.Outcome)
		}
		events = append(events, event)
	}
	s.emit(ctx, events...)
}

func (s *Service) emit(ctx context.Context, events ...audit.Event) {
	now := time.Now()
	requestID := requestcontext.RequestID(ctx)
	for i := range events {
		events[i].Timestamp = now
		events[i].RequestID = requestID
	}
	if err := s.audit.Emit(ctx, events...); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed",
			"events", len(events),
			"request_id", requestID,
			"error", err,
		)
	}
}

func signatureLabel(eip712 bool) string {
	if eip712 {
		return "EIP712"
	}
	return "Ed25519"
}
