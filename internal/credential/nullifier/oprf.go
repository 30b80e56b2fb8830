package nullifier

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"iam/internal/credential/models"
	"iam/pkg/platform/circuit"
)

const (
	// OPRFPrefix tags nullifiers produced through the OPRF relay.
	OPRFPrefix = "oprf"

	cacheKeyPrefix   = "iam:oprf:"
	hkdfInfo         = "iam oprf nullifier"
	tokenTTL         = time.Minute
	maxRelayResponse = 64 << 10
)

var ErrRelayUnavailable = errors.New("oprf relay unavailable")

// Cache stores finished nullifiers keyed by the record digest.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OPRFGenerator sends the SHA-256 digest of the canonical record to an OPRF
// relay and hashes the relay's output with a local secret. The relay never
// sees the record, and the nullifier cannot be recomputed without both the
// relay key and the local secret.
type OPRFGenerator struct {
	relayURL    string
	clientKey   ed25519.PrivateKey
	localSecret []byte
	timeout     time.Duration
	cacheTTL    time.Duration
	cache       Cache
	client      HTTPDoer
	breaker     *circuit.Breaker
	logger      *slog.Logger
	now         func() time.Time
}

type OPRFConfig struct {
	RelayURL  string
	ClientKey ed25519.PrivateKey
	// LocalSecret is input keying material; the hashing key is derived from it.
	LocalSecret string
	Timeout     time.Duration
	CacheTTL    time.Duration
}

type OPRFOption func(*OPRFGenerator)

func WithCache(c Cache) OPRFOption {
	return func(g *OPRFGenerator) {
		g.cache = c
	}
}

func WithHTTPClient(c HTTPDoer) OPRFOption {
	return func(g *OPRFGenerator) {
		g.client = c
	}
}

func WithBreaker(b *circuit.Breaker) OPRFOption {
	return func(g *OPRFGenerator) {
		g.breaker = b
	}
}

func WithLogger(logger *slog.Logger) OPRFOption {
	return func(g *OPRFGenerator) {
		g.logger = logger
	}
}

func WithClock(now func() time.Time) OPRFOption {
	return func(g *OPRFGenerator) {
		g.now = now
	}
}

func NewOPRFGenerator(cfg OPRFConfig, opts ...OPRFOption) (*OPRFGenerator, error) {
	if cfg.RelayURL == "" || cfg.ClientKey == nil || cfg.LocalSecret == "" {
		return nil, errors.New("oprf generator needs a relay URL, client key and local secret")
	}
	secret, err := deriveSecret(cfg.LocalSecret)
	if err != nil {
		return nil, err
	}
	g := &OPRFGenerator{
		relayURL:    cfg.RelayURL,
		clientKey:   cfg.ClientKey,
		localSecret: secret,
		timeout:     cfg.Timeout,
		cacheTTL:    cfg.CacheTTL,
		client:      &http.Client{},
		breaker:     circuit.New("oprf-relay"),
		logger:      slog.Default(),
		now:         time.Now,
	}
	if g.timeout == 0 {
		g.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func deriveSecret(ikm string) ([]byte, error) {
	out := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(ikm), nil, []byte(hkdfInfo)), out); err != nil {
		return nil, fmt.Errorf("derive oprf secret: %w", err)
	}
	return out, nil
}

func (g *OPRFGenerator) Generate(ctx context.Context, record models.FactRecord) (string, error) {
	canonical, err := record.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("oprf nullifier: %w", err)
	}
	digest := sha256.Sum256(canonical)
	cacheKey := cacheKeyPrefix + hex.EncodeToString(digest[:])

	if g.cache != nil {
		cached, ok, err := g.cache.Get(ctx, cacheKey)
		if err != nil {
			g.logger.WarnContext(ctx, "oprf cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var output []byte
	change, err := g.breaker.Execute(func() error {
		var callErr error
		output, callErr = g.evaluate(ctx, digest[:])
		return callErr
	}, nil)
	if change.Opened {
		g.logger.WarnContext(ctx, "oprf relay circuit opened", "error", err)
	}
	if errors.Is(err, circuit.ErrOpen) {
		return "", fmt.Errorf("%w: circuit open", ErrRelayUnavailable)
	}
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(g.localSecret)
	h.Write(output)
	nullifier := OPRFPrefix + ":" + base64.StdEncoding.EncodeToString(h.Sum(nil))

	if g.cache != nil {
		if err := g.cache.Set(ctx, cacheKey, nullifier, g.cacheTTL); err != nil {
			g.logger.WarnContext(ctx, "oprf cache write failed", "error", err)
		}
	}
	return nullifier, nil
}

type evaluateRequest struct {
	Input string `json:"input"`
}

type evaluateResponse struct {
	Output string `json:"output"`
}

func (g *OPRFGenerator) evaluate(ctx context.Context, digest []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	token, err := g.token()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(evaluateRequest{Input: base64.StdEncoding.EncodeToString(digest)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.relayURL+"/oprf", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRelayUnavailable, resp.StatusCode)
	}
	var out evaluateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRelayResponse)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	output, err := base64.StdEncoding.DecodeString(out.Output)
	if err != nil || len(output) == 0 {
		return nil, errors.New("relay returned an empty or malformed output")
	}
	return output, nil
}

// token is a short-lived EdDSA JWT proving the request comes from this client.
func (g *OPRFGenerator) token() (string, error) {
	now := g.now()
	claims := jwt.RegisteredClaims{
		Issuer:    "iam",
		Audience:  jwt.ClaimStrings{g.relayURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(g.clientKey)
	if err != nil {
		return "", fmt.Errorf("sign relay token: %w", err)
	}
	return signed, nil
}
