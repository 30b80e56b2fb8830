// Package bans checks issued credentials against the external ban registry
// and replaces banned ones with a 403 error.
package bans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"iam/internal/credential/models"
	"iam/internal/platform/tracer"
	dErrors "iam/pkg/domain-errors"
)

// ErrBanServiceIntegrity means the registry did not answer for a submitted
// nullifier. The whole batch is rejected.
var ErrBanServiceIntegrity = errors.New("ban registry response is incomplete")

// Ban is the registry's verdict for one hash or nullifier.
type Ban struct {
	Hash     string `json:"hash"`
	IsBanned bool   `json:"is_banned"`
	EndTime  string `json:"end_time,omitempty"`
	BanType  string `json:"ban_type,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Message is the error text returned in place of a banned credential.
func (b Ban) Message() string {
	end := b.EndTime
	if end == "" {
		end = "indefinite"
	}
	msg := fmt.Sprintf("Credential is banned. Type=%s, End=%s", b.BanType, end)
	if b.Reason != "" {
		msg += ", Reason=" + b.Reason
	}
	return msg
}

// CheckItem is one entry of the check-bans request. Only the hash, provider
// and subject DID leave the service.
type CheckItem struct {
	CredentialSubject CheckSubject `json:"credentialSubject"`
}

type CheckSubject struct {
	Hash     string `json:"hash"`
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// Registry answers ban checks. Implemented by *Client.
type Registry interface {
	CheckBans(ctx context.Context, items []CheckItem) ([]Ban, error)
}

type Filter struct {
	registry Registry
	tracer   tracer.Tracer
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Filter)

func WithTracer(t tracer.Tracer) Option {
	return func(f *Filter) {
		f.tracer = t
	}
}

func WithMetrics(m *Metrics) Option {
	return func(f *Filter) {
		f.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		f.logger = logger
	}
}

func NewFilter(registry Registry, opts ...Option) *Filter {
	f := &Filter{
		registry: registry,
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply returns responses with banned credentials replaced by 403 errors.
// Responses without a credential pass through. Registry failures and
// incomplete registry answers fail the batch.
func (f *Filter) Apply(ctx context.Context, responses []models.CredentialResponseBody) (_ []models.CredentialResponseBody, err error) {
	items := checkItems(responses)
	if len(items) == 0 {
		return responses, nil
	}

	ctx, span := f.tracer.Start(ctx, tracer.SpanBanCheck, tracer.Int64(tracer.AttrBatchSize, int64(len(items))))
	defer func() { span.End(err) }()

	bans, err := f.registry.CheckBans(ctx, items)
	if err != nil {
		f.record("unavailable")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ban registry unavailable")
	}

	byHash := make(map[string]Ban, len(bans))
	for _, b := range bans {
		byHash[b.Hash] = b
	}

	out := make([]models.CredentialResponseBody, len(responses))
	banned := 0
	for i, resp := range responses {
		if !resp.HasCredential() {
			out[i] = resp
			continue
		}
		ban, found, err := firstBan(resp.Credential.CredentialSubject.BanKeys(), byHash)
		if err != nil {
			f.record("integrity_error")
			f.logger.ErrorContext(ctx, "ban registry answer incomplete", "provider", resp.Credential.CredentialSubject.Provider, "error", err)
			return nil, err
		}
		if !found {
			out[i] = resp
			continue
		}
		banned++
		out[i] = models.CredentialResponseBody{Code: 403, Error: ban.Message()}
		f.logger.InfoContext(ctx, "credential banned",
			"provider", resp.Credential.CredentialSubject.Provider,
			"ban_type", ban.BanType,
		)
	}

	span.SetAttributes(tracer.Int64(tracer.AttrBanned, int64(banned)))
	f.record("ok")
	if f.metrics != nil && banned > 0 {
		f.metrics.BannedTotal.Add(float64(banned))
	}
	return out, nil
}

// firstBan returns the first banning verdict among keys. Every key must be
// present in byHash.
func firstBan(keys []string, byHash map[string]Ban) (Ban, bool, error) {
	for _, k := range keys {
		ban, ok := byHash[k]
		if !ok {
			return Ban{}, false, dErrors.Wrapf(ErrBanServiceIntegrity, dErrors.CodeInvariantViolation,
				"Ban not found for nullifier %s. This should not happen.", k)
		}
		if ban.IsBanned {
			return ban, true, nil
		}
	}
	return Ban{}, false, nil
}

func checkItems(responses []models.CredentialResponseBody) []CheckItem {
	var items []CheckItem
	for _, resp := range responses {
		if !resp.HasCredential() {
			continue
		}
		subject := resp.Credential.CredentialSubject
		for _, k := range subject.BanKeys() {
			items = append(items, CheckItem{CredentialSubject: CheckSubject{
				Hash:     k,
				Provider: subject.Provider,
				ID:       subject.ID,
			}})
		}
	}
	return items
}

func (f *Filter) record(result string) {
	if f.metrics != nil {
		f.metrics.ChecksTotal.WithLabelValues(result).Inc()
	}
}
