package bans

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

	"iam/pkg/platform/circuit"
)

const (
	checkBansPath       = "/internal/check-bans"
	maxRegistryResponse = 4 << 20
)

var ErrRegistryUnavailable = errors.New("ban registry unavailable")

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the scorer's ban registry.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   HTTPDoer
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(c HTTPDoer) ClientOption {
	return func(cl *Client) {
		cl.client = c
	}
}

func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(cl *Client) {
		cl.breaker = b
	}
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func NewClient(endpoint, apiKey string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		client:   &http.Client{},
		breaker:  circuit.New("ban-registry"),
		logger:   slog.Default(),
	}
	if c.timeout == 0 {
		c.timeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckBans posts every item in one request.
func (c *Client) CheckBans(ctx context.Context, items []CheckItem) ([]Ban, error) {
	var bans []Ban
	change, err := c.breaker.Execute(func() error {
		var callErr error
		bans, callErr = c.post(ctx, items)
		return callErr
	}, nil)
	if change.Opened {
		c.logger.WarnContext(ctx, "ban registry circuit opened", "error", err)
	}
	if change.Closed {
		c.logger.InfoContext(ctx, "ban registry circuit closed")
	}
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%w: circuit open", ErrRegistryUnavailable)
	}
	return bans, err
}

func (c *Client) post(ctx context.Context, items []CheckItem) ([]Ban, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode ban check: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+checkBansPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ban check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	var bans []Ban
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRegistryResponse)).Decode(&bans); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRegistryUnavailable, err)
	}
	return bans, nil
}
