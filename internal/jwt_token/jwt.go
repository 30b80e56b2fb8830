// Package jwttoken validates the access tokens the scorer mints after a
// wallet signs in. A valid token stands in for a challenge credential on
// the verify endpoint.
package jwttoken

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "iam/pkg/domain-errors"
)

const didPrefix = "did:pkh:eip155:1:"

var ethAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// AccessTokenClaims are the claims of a scorer access token. DID names the
// wallet as did:pkh:eip155:1:<address>.
type AccessTokenClaims struct {
	DID string `json:"did"`
	jwt.RegisteredClaims
}

// Address returns the lower-cased wallet address carried by the DID claim.
func (c *AccessTokenClaims) Address() (string, error) {
	addr, ok := strings.CutPrefix(c.DID, didPrefix)
	if !ok || !ethAddress.MatchString(addr) {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	return strings.ToLower(addr), nil
}

// JWTService handles JWT creation and validation. Tokens are HS256 with a
// secret shared with the scorer.
type JWTService struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
	now        func() time.Time
}

type Option func(*JWTService)

// WithIssuer requires tokens to carry this iss claim.
func WithIssuer(issuer string) Option {
	return func(s *JWTService) {
		s.issuer = issuer
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		s.now = now
	}
}

func NewJWTService(signingKey string, tokenTTL time.Duration, opts ...Option) *JWTService {
	s := &JWTService{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAccessToken mints a token for address. The scorer does this in
// production; tokengen and tests use it locally.
func (s *JWTService) GenerateAccessToken(address string) (string, error) {
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		DID: didPrefix + strings.ToLower(address),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*AccessTokenClaims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "empty token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*AccessTokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// AddressFromToken validates tokenString and returns the wallet it was
// issued for.
func (s *JWTService) AddressFromToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Address()
}

// ExtractBearerToken returns the token of a "Bearer <token>" header, or ""
// when the header carries no bearer credentials.
func ExtractBearerToken(authHeader string) string {
	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}
