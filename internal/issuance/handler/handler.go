// Package handler exposes the issuance pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"iam/internal/credential/issuer"
	cmodels "iam/internal/credential/models"
	"iam/internal/credential/signer"
	"iam/internal/credential/wallet"
	jwttoken "iam/internal/jwt_token"
	"iam/internal/verification/models"
	dErrors "iam/pkg/domain-errors"
	"iam/pkg/platform/httputil"
	"iam/pkg/platform/privacy"
	"iam/pkg/requestcontext"
)

type Service interface {
	Verify(ctx context.Context, payload models.RequestPayload) ([]cmodels.CredentialResponseBody, error)
	IssueChallenge(ctx context.Context, payload models.RequestPayload) (*cmodels.Credential, error)
}

// TokenValidator resolves a scorer access token to the wallet it was minted for.
type TokenValidator interface {
	AddressFromToken(token string) (string, error)
}

type Handler struct {
	service    Service
	challenges signer.Verifier
	tokens     TokenValidator
	logger     *slog.Logger
}

func New(service Service, challenges signer.Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:    service,
		challenges: challenges,
		logger:     logger,
	}
}

// WithTokenValidator enables scorer access tokens on the verify endpoint.
func (h *Handler) WithTokenValidator(v TokenValidator) *Handler {
	h.tokens = v
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/v0.0.0/challenge", h.HandleChallenge)
	r.Post("/api/v0.0.0/verify", h.HandleVerify)
}

// HandleChallenge implements POST /api/v0.0.0/challenge.
// Input: { "payload": { "address": "0x...", "type": "Github", "signatureType": "EIP712" } }
// Output: { "credential": { ... } }
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ChallengeRequest](w, r, h.logger)
	if !ok {
		return
	}

	cred, err := h.service.IssueChallenge(ctx, req.Payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue challenge",
			"error", err,
			"type", req.Payload.Type,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ChallengeResponse{Credential: cred})
}

// HandleVerify implements POST /api/v0.0.0/verify.
// Input: { "challenge": { ... }, "signedChallenge": "0x...", "payload": { "address": "0x...", "types": ["Github"], "proofs": { ... } } }
// Output: one credential response per requested type. A single failed type
// is answered with its own status code.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger)
	if !ok {
		return
	}

	address, err := h.authenticate(ctx, r.Header.Get("Authorization"), req)
	if err != nil {
		h.logger.WarnContext(ctx, "verify request rejected",
			"error", err,
			"address", privacy.RedactAddress(req.Payload.Address),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	payload := req.Payload
	payload.Address = address
	responses, err := h.service.Verify(ctx, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification pipeline failed",
			"error", err,
			"address", privacy.RedactAddress(address),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	if len(responses) == 1 && responses[0].Failed() {
		httputil.WriteJSON(w, responses[0].Code, responses[0])
		return
	}
	httputil.WriteJSON(w, http.StatusOK, responses)
}

// authenticate returns the address credentials are issued to. A valid
// scorer token wins; otherwise the request must carry a live challenge
// credential issued by this service, signed by the wallet it names.
func (h *Handler) authenticate(ctx context.Context, authHeader string, req *VerifyRequest) (string, error) {
	if token := jwttoken.ExtractBearerToken(authHeader); token != "" && h.tokens != nil {
		address, err := h.tokens.AddressFromToken(token)
		if err == nil {
			return address, nil
		}
		h.logger.WarnContext(ctx, "scorer token rejected, falling back to challenge",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}

	challenge := req.Challenge
	if challenge == nil {
		return "", dErrors.New(dErrors.CodeUnauthorized, "Missing challenge - provide either JWT token or challenge credential")
	}
	if err := h.challenges.Verify(ctx, *challenge); err != nil {
		if errors.Is(err, signer.ErrUnavailable) {
			return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "Unable to verify challenge")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "Invalid challenge")
	}
	if challenge.CredentialSubject.Challenge == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "Invalid challenge")
	}
	if req.SignedChallenge == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "Missing signedChallenge")
	}

	address, err := wallet.RecoverAddress(challenge.CredentialSubject.Challenge, req.SignedChallenge)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "Unable to verify payload signer")
	}

	isSigner := hasPrefixFold(challenge.CredentialSubject.ID, issuer.ChallengeSubjectPrefix(address))
	isType := challenge.CredentialSubject.Provider == "challenge-"+req.Payload.Type
	if !isSigner || !isType {
		var failed []string
		if !isSigner {
			failed = append(failed, "signer")
		}
		if !isType {
			failed = append(failed, "provider")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "Invalid challenge '"+strings.Join(failed, "' and '")+"'")
	}
	return address, nil
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
