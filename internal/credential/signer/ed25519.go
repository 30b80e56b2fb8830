package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"iam/internal/credential/models"
)

// Detached JWS header with an unencoded payload (RFC 7797).
const detachedHeader = `{"alg":"EdDSA","b64":false,"crit":["b64"]}`

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(detachedHeader))

type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	D   string `json:"d,omitempty"`
}

// ParseEd25519JWK reads an OKP/Ed25519 private JWK.
func ParseEd25519JWK(raw string) (ed25519.PrivateKey, error) {
	var k jwk
	if err := json.Unmarshal([]byte(raw), &k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if k.Kty != "OKP" || k.Crv != "Ed25519" {
		return nil, fmt.Errorf("%w: expected OKP/Ed25519, got %s/%s", ErrInvalidKey, k.Kty, k.Crv)
	}
	seed, err := base64.RawURLEncoding.DecodeString(k.D)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: bad private key component", ErrInvalidKey)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if k.X != "" && k.X != base64.RawURLEncoding.EncodeToString(priv.Public().(ed25519.PublicKey)) {
		return nil, fmt.Errorf("%w: public component does not match private key", ErrInvalidKey)
	}
	return priv, nil
}

// EncodeEd25519JWK renders key as a private JWK, the IAM_JWK format.
func EncodeEd25519JWK(key ed25519.PrivateKey) string {
	b, _ := json.Marshal(jwk{ //nolint:errcheck // fixed struct
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(key.Public().(ed25519.PublicKey)),
		D:   base64.RawURLEncoding.EncodeToString(key.Seed()),
	})
	return string(b)
}

// DIDFromPublicKey builds the did:jwk identifier for pub.
func DIDFromPublicKey(pub ed25519.PublicKey) string {
	b, _ := json.Marshal(jwk{Kty: "OKP", Crv: "Ed25519", X: base64.RawURLEncoding.EncodeToString(pub)}) //nolint:errcheck // fixed struct
	return "did:jwk:" + base64.RawURLEncoding.EncodeToString(b)
}

// Ed25519Signer signs credentials with the service's static Ed25519 key
// using a detached EdDSA JWS over the credential JSON.
type Ed25519Signer struct {
	key ed25519.PrivateKey
	did string
	now func() time.Time
}

type Ed25519Option func(*Ed25519Signer)

func WithEd25519Clock(now func() time.Time) Ed25519Option {
	return func(s *Ed25519Signer) {
		s.now = now
	}
}

func NewEd25519(rawJWK string, opts ...Ed25519Option) (*Ed25519Signer, error) {
	key, err := ParseEd25519JWK(rawJWK)
	if err != nil {
		return nil, err
	}
	s := &Ed25519Signer{
		key: key,
		did: DIDFromPublicKey(key.Public().(ed25519.PublicKey)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Ed25519Signer) IssuerDID() string {
	return s.did
}

func (s *Ed25519Signer) VerificationMethod() string {
	return s.did + "#0"
}

func (s *Ed25519Signer) Sign(_ context.Context, req Request) (models.Credential, error) {
	cred := req.Credential
	cred.Issuer = s.did
	cred.Proof = nil

	payload, err := json.Marshal(cred)
	if err != nil {
		return models.Credential{}, fmt.Errorf("encode credential: %w", err)
	}
	sig, err := jwt.SigningMethodEdDSA.Sign(encodedHeader+"."+string(payload), s.key)
	if err != nil {
		return models.Credential{}, fmt.Errorf("sign credential: %w", err)
	}

	cred.Proof = &models.Proof{
		Type:               ProofEd25519,
		Created:            models.FormatTime(s.now()),
		ProofPurpose:       proofPurpose,
		VerificationMethod: s.VerificationMethod(),
		JWS:                encodedHeader + ".." + base64.RawURLEncoding.EncodeToString(sig),
	}
	return cred, nil
}

// Verify checks that cred was signed by this signer and is unexpired.
func (s *Ed25519Signer) Verify(cred models.Credential) error {
	if cred.Proof == nil || cred.Proof.Type != ProofEd25519 || cred.Issuer != s.did {
		return ErrInvalidProof
	}
	header, sigPart, ok := strings.Cut(cred.Proof.JWS, "..")
	if !ok || header != encodedHeader {
		return ErrInvalidProof
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return ErrInvalidProof
	}

	unsigned := cred
	unsigned.Proof = nil
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := jwt.SigningMethodEdDSA.Verify(header+"."+string(payload), sig, s.key.Public()); err != nil {
		return ErrInvalidProof
	}
	if cred.Expired(s.now()) {
		return fmt.Errorf("%w: expired", ErrInvalidProof)
	}
	return nil
}
