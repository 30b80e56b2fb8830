package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"iam/internal/credential/models"
	"iam/pkg/platform/circuit"
)

const maxSignerResponseBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteSigner asks the signing oracle for EIP-712 proofs. The oracle holds
// the versioned keys and fills in the issuer DID and proof for the version
// requested.
type RemoteSigner struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  HTTPDoer
	breaker *circuit.Breaker
	logger  *slog.Logger
	now     func() time.Time
}

type RemoteOption func(*RemoteSigner)

func WithHTTPClient(c HTTPDoer) RemoteOption {
	return func(s *RemoteSigner) {
		s.client = c
	}
}

func WithBreaker(b *circuit.Breaker) RemoteOption {
	return func(s *RemoteSigner) {
		s.breaker = b
	}
}

func WithLogger(logger *slog.Logger) RemoteOption {
	return func(s *RemoteSigner) {
		s.logger = logger
	}
}

func WithRemoteClock(now func() time.Time) RemoteOption {
	return func(s *RemoteSigner) {
		s.now = now
	}
}

func NewRemote(url, apiKey string, timeout time.Duration, opts ...RemoteOption) *RemoteSigner {
	s := &RemoteSigner{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
		breaker: circuit.New("signer"),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type signRequest struct {
	Credential   models.Credential `json:"credential"`
	KeyVersion   int               `json:"keyVersion"`
	Document     Document          `json:"document"`
	ProofPurpose string            `json:"proofPurpose"`
}

type signResponse struct {
	Credential models.Credential `json:"credential"`
}

// statusError is a non-2xx oracle answer. Only 5xx trips the breaker.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("signing oracle returned status %d", e.status)
}

func countable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return true
}

func (s *RemoteSigner) Sign(ctx context.Context, req Request) (models.Credential, error) {
	var out signResponse
	err := s.execute(ctx, "/sign", signRequest{
		Credential:   req.Credential,
		KeyVersion:   req.KeyVersion,
		Document:     req.Document,
		ProofPurpose: proofPurpose,
	}, &out)
	if err != nil {
		return models.Credential{}, err
	}

	signed := out.Credential
	if signed.Proof == nil || signed.Issuer == "" {
		return models.Credential{}, fmt.Errorf("%w: oracle returned an unsigned credential", ErrInvalidProof)
	}
	if signed.CredentialSubject.Hash != req.Credential.CredentialSubject.Hash ||
		signed.CredentialSubject.ID != req.Credential.CredentialSubject.ID ||
		signed.CredentialSubject.Provider != req.Credential.CredentialSubject.Provider {
		return models.Credential{}, fmt.Errorf("%w: oracle altered the credential subject", ErrInvalidProof)
	}
	return signed, nil
}

type verifyRequest struct {
	Credential models.Credential `json:"credential"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Verify asks the oracle whether cred carries one of its EIP-712 proofs.
// Expiry is checked locally.
func (s *RemoteSigner) Verify(ctx context.Context, cred models.Credential) error {
	if cred.Proof == nil || cred.Proof.Type != ProofEIP712 {
		return ErrInvalidProof
	}
	var out verifyResponse
	if err := s.execute(ctx, "/verify", verifyRequest{Credential: cred}, &out); err != nil {
		return err
	}
	if !out.Valid {
		return ErrInvalidProof
	}
	if cred.Expired(s.now()) {
		return fmt.Errorf("%w: expired", ErrInvalidProof)
	}
	return nil
}

// execute runs one oracle call behind the circuit breaker.
func (s *RemoteSigner) execute(ctx context.Context, path string, body, out any) error {
	change, err := s.breaker.Execute(func() error {
		return s.post(ctx, path, body, out)
	}, countable)
	if change.Opened {
		s.logger.WarnContext(ctx, "signing oracle circuit opened", "error", err)
	}
	if change.Closed {
		s.logger.InfoContext(ctx, "signing oracle circuit closed")
	}
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	return err
}

func (s *RemoteSigner) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxSignerResponseBytes)) //nolint:errcheck // drain for connection reuse
		return &statusError{status: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSignerResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode oracle response: %w", err)
	}
	return nil
}
