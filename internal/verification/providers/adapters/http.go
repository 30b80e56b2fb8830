package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"iam/internal/verification/models"
	"iam/internal/verification/providers"
)

const maxResponseBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPCheck is a provider backed by an upstream check service that speaks
// the stamp check contract: POST <BaseURL>/verify with the address, type and
// proofs, answering with a VerifiedResult document.
type HTTPCheck struct {
	providerType string
	baseURL      string
	apiKey       string
	timeout      time.Duration
	client       HTTPDoer
}

type HTTPCheckConfig struct {
	Type       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

func NewHTTPCheck(cfg HTTPCheckConfig) *HTTPCheck {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		// The deadline comes from the request context, not the client.
		client = &http.Client{}
	}
	return &HTTPCheck{
		providerType: cfg.Type,
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		timeout:      cfg.Timeout,
		client:       client,
	}
}

func (a *HTTPCheck) Type() string {
	return a.providerType
}

type checkRequest struct {
	Address string            `json:"address"`
	Type    string            `json:"type"`
	Proofs  map[string]string `json:"proofs,omitempty"`
}

type checkResponse struct {
	Valid            bool              `json:"valid"`
	Record           map[string]string `json:"record"`
	Errors           []string          `json:"errors"`
	ExpiresInSeconds int               `json:"expiresInSeconds"`
}

// Verify calls the upstream check. An expired deadline, or an upstream 408
// or 504, yields an invalid result flagged TimedOut rather than an error.
func (a *HTTPCheck) Verify(ctx context.Context, payload models.RequestPayload, _ *providers.Context) (*models.VerifiedResult, error) {
	body, err := json.Marshal(checkRequest{
		Address: payload.Address,
		Type:    payload.Type,
		Proofs:  payload.Proofs,
	})
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, a.providerType, "failed to marshal request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, a.providerType, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return a.timedOut(), nil
		}
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, a.providerType, "failed to execute request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return a.timedOut(), nil
		}
		return nil, providers.NewProviderError(providers.ErrorBadData, a.providerType, "failed to read response", err)
	}

	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return a.timedOut(), nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, providers.NewProviderError(providers.ErrorAuthentication, a.providerType,
			fmt.Sprintf("authentication failed: %d", resp.StatusCode), nil)
	case http.StatusTooManyRequests:
		return nil, providers.NewProviderError(providers.ErrorRateLimited, a.providerType, "rate limit exceeded", nil)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, a.providerType,
			fmt.Sprintf("provider unavailable: %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewProviderError(providers.ErrorBadData, a.providerType,
			fmt.Sprintf("unexpected status: %d", resp.StatusCode), nil)
	}

	var parsed checkResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, providers.NewProviderError(providers.ErrorBadData, a.providerType, "failed to parse response", err)
	}

	result := &models.VerifiedResult{
		Valid:            parsed.Valid,
		Record:           parsed.Record,
		Errors:           parsed.Errors,
		ExpiresInSeconds: parsed.ExpiresInSeconds,
	}
	// A valid answer with no identifying fact cannot be hashed into a credential.
	if result.Valid && !result.HasIdentifyingFact() {
		return nil, providers.NewProviderError(providers.ErrorBadData, a.providerType, "valid result without record", nil)
	}
	return result, nil
}

func (a *HTTPCheck) timedOut() *models.VerifiedResult {
	return &models.VerifiedResult{
		Valid:    false,
		Errors:   []string{providers.TimeoutMessage(a.providerType)},
		TimedOut: true,
	}
}
