// Package issuer turns verified fact records into signed credentials.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"iam/internal/credential/keys"
	"iam/internal/credential/models"
	"iam/internal/credential/nullifier"
	"iam/internal/credential/signer"
	"iam/internal/platform/tracer"
)

const (
	// DefaultCredentialTTL applies when the provider set no expiry.
	DefaultCredentialTTL = 30 * 24 * time.Hour
	// ChallengeTTL is the validity of challenge credentials.
	ChallengeTTL = 60 * time.Second

	contextCredentials = "https://www.w3.org/2018/credentials/v1"
	contextStatusList  = "https://w3id.org/vc/status-list/2021/v1"
	schemaText         = "https://schema.org/Text"
)

var ErrEIP712Unavailable = errors.New("EIP-712 issuance is not configured")

// Issuer assembles credentials and has them signed. Ed25519 credentials are
// hashed with the static key; EIP-712 credentials are hashed and signed with
// the primary rotating key and carry one nullifier per current key version.
type Issuer struct {
	keys    *keys.Manager
	ed25519 signer.Signer
	eip712  signer.Signer
	oprf    nullifier.Generator
	ttl     time.Duration
	now     func() time.Time
	tracer  tracer.Tracer
}

type Option func(*Issuer)

// WithEIP712Signer enables EIP-712 issuance.
func WithEIP712Signer(s signer.Signer) Option {
	return func(i *Issuer) {
		i.eip712 = s
	}
}

// WithOPRF adds the OPRF nullifier to EIP-712 credentials.
func WithOPRF(g nullifier.Generator) Option {
	return func(i *Issuer) {
		i.oprf = g
	}
}

func WithCredentialTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(i *Issuer) {
		i.tracer = t
	}
}

func New(km *keys.Manager, ed25519 signer.Signer, opts ...Option) *Issuer {
	i := &Issuer{
		keys:    km,
		ed25519: ed25519,
		ttl:     DefaultCredentialTTL,
		now:     time.Now,
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Request is one fact record to certify for an address.
type Request struct {
	Address string
	Record  models.FactRecord
	// ExpiresInSeconds overrides the default validity when positive.
	ExpiresInSeconds int
	EIP712           bool
}

// IssueCredential builds, hashes and signs the credential for req.
func (i *Issuer) IssueCredential(ctx context.Context, req Request) (_ *models.Credential, err error) {
	ctx, span := i.tracer.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrProviderType, req.Record.Type()),
		tracer.String(tracer.AttrSignature, signatureLabel(req.EIP712)),
	)
	defer func() { span.End(err) }()

	validity := validityFor(req.ExpiresInSeconds, i.ttl)

	if req.EIP712 {
		return i.issueEIP712(ctx, req, validity)
	}
	return i.issueEd25519(ctx, req, validity)
}

// maxValidity caps upstream lifetime overrides; larger values would overflow
// time.Duration.
const maxValidity = 10 * 365 * 24 * time.Hour

func validityFor(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	if int64(seconds) > int64(maxValidity/time.Second) {
		return maxValidity
	}
	return time.Duration(seconds) * time.Second
}

func (i *Issuer) issueEd25519(ctx context.Context, req Request, validity time.Duration) (*models.Credential, error) {
	hash, err := req.Record.Hash([]byte(i.keys.Ed25519()))
	if err != nil {
		return nil, fmt.Errorf("hash record: %w", err)
	}
	cred := i.envelope(validity, models.CredentialSubject{
		Context:  []map[string]string{{"hash": schemaText, "provider": schemaText}},
		ID:       SubjectDID(req.Address),
		Provider: req.Record.Type(),
		Hash:     hash,
	})
	return i.sign(ctx, i.ed25519, signer.Request{Credential: cred})
}

func (i *Issuer) issueEIP712(ctx context.Context, req Request, validity time.Duration) (*models.Credential, error) {
	if i.eip712 == nil {
		return nil, ErrEIP712Unavailable
	}
	current, err := i.keys.CurrentEIP712()
	if err != nil {
		return nil, err
	}
	primary := current[0]

	hash, err := req.Record.Hash(primary.Secret())
	if err != nil {
		return nil, fmt.Errorf("hash record: %w", err)
	}

	var extra []nullifier.Generator
	if i.oprf != nil {
		extra = append(extra, i.oprf)
	}
	nullifiers, err := nullifier.ForKeys(current, extra...).Generate(ctx, req.Record)
	if err != nil {
		return nil, fmt.Errorf("generate nullifiers: %w", err)
	}

	cred := i.envelope(validity, models.CredentialSubject{
		Context: map[string]string{
			"hash":       schemaText,
			"provider":   schemaText,
			"nullifiers": schemaText,
		},
		ID:         SubjectDID(req.Address),
		Provider:   req.Record.Type(),
		Hash:       hash,
		Nullifiers: nullifiers,
	}, contextStatusList)
	return i.sign(ctx, i.eip712, signer.Request{Credential: cred, KeyVersion: primary.Version, Document: signer.DocumentStamp})
}

// ChallengeRequest asks for a short-lived credential carrying a challenge
// the wallet will sign.
type ChallengeRequest struct {
	Address string
	Type    string
	EIP712  bool
}

// IssueChallenge returns a 60 second credential embedding a fresh challenge.
func (i *Issuer) IssueChallenge(ctx context.Context, req ChallengeRequest) (*models.Credential, error) {
	cred := i.envelope(ChallengeTTL, models.CredentialSubject{
		Context: map[string]string{
			"provider":  schemaText,
			"challenge": schemaText,
			"address":   schemaText,
		},
		ID:        ChallengeDID(req.Address, req.Type),
		Provider:  "challenge-" + req.Type,
		Challenge: ChallengeText(req.Type),
		Address:   req.Address,
	})

	if !req.EIP712 {
		return i.sign(ctx, i.ed25519, signer.Request{Credential: cred})
	}
	if i.eip712 == nil {
		return nil, ErrEIP712Unavailable
	}
	primary, err := i.keys.PrimaryEIP712()
	if err != nil {
		return nil, err
	}
	return i.sign(ctx, i.eip712, signer.Request{Credential: cred, KeyVersion: primary.Version, Document: signer.DocumentChallenge})
}

func (i *Issuer) envelope(validity time.Duration, subject models.CredentialSubject, extraContexts ...string) models.Credential {
	now := i.now()
	return models.Credential{
		Context:           append([]string{contextCredentials}, extraContexts...),
		Type:              []string{"VerifiableCredential"},
		IssuanceDate:      models.FormatTime(now),
		ExpirationDate:    models.FormatTime(now.Add(validity)),
		CredentialSubject: subject,
	}
}

func (i *Issuer) sign(ctx context.Context, s signer.Signer, req signer.Request) (*models.Credential, error) {
	signed, err := s.Sign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}
	return &signed, nil
}

func signatureLabel(eip712 bool) string {
	if eip712 {
		return "EIP712"
	}
	return "Ed25519"
}

// SubjectDID is the pkh DID on Ethereum mainnet for address.
func SubjectDID(address string) string {
	return "did:pkh:eip155:1:" + address
}

// ChallengeDID identifies a challenge credential for one address and type.
func ChallengeDID(address, providerType string) string {
	return ChallengeSubjectPrefix(address) + providerType
}

// ChallengeSubjectPrefix is the part of a challenge DID naming the wallet.
func ChallengeSubjectPrefix(address string) string {
	return "did:ethr:" + address + "#challenge-"
}

// ChallengeText is the message the wallet signs to prove control.
func ChallengeText(providerType string) string {
	return fmt.Sprintf("I commit that this wallet is under my control and that I wish to verify my %s account.\n\nNonce: %s",
		providerType, uuid.NewString())
}
