package handler

import (
	"strings"

	cmodels "iam/internal/credential/models"
	"iam/internal/verification/models"
	dErrors "iam/pkg/domain-errors"
	"iam/pkg/validation"
)

// VerifyRequest is the body of POST /api/v0.0.0/verify. Challenge and
// SignedChallenge (the wallet's personal_sign over the challenge text) are
// required unless the caller presents a scorer access token.
type VerifyRequest struct {
	Challenge       *cmodels.Credential   `json:"challenge,omitempty"`
	SignedChallenge string                `json:"signedChallenge,omitempty"`
	Payload         models.RequestPayload `json:"payload"`
}

type payloadRules struct {
	Address string `json:"address" validate:"omitempty,eth_addr"`
	Type    string `json:"type" validate:"max=256"`
}

func (r *VerifyRequest) Normalize() {
	normalizePayload(&r.Payload)
}

func (r *VerifyRequest) Validate() error {
	if len(r.Payload.RequestedTypes()) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "Invalid payload")
	}
	return validation.Validate(payloadRules{Address: r.Payload.Address, Type: r.Payload.Type})
}

// ChallengeRequest is the body of POST /api/v0.0.0/challenge.
type ChallengeRequest struct {
	Payload models.RequestPayload `json:"payload"`
}

type challengeRules struct {
	Address string `json:"address" validate:"required,eth_addr"`
	Type    string `json:"type" validate:"required,max=256"`
}

func (r *ChallengeRequest) Normalize() {
	normalizePayload(&r.Payload)
}

func (r *ChallengeRequest) Validate() error {
	if r.Payload.Address == "" || r.Payload.Type == "" {
		return dErrors.New(dErrors.CodeBadRequest, "Unable to verify payload")
	}
	return validation.Validate(challengeRules{Address: r.Payload.Address, Type: r.Payload.Type})
}

// ChallengeResponse wraps the issued challenge credential.
type ChallengeResponse struct {
	Credential *cmodels.Credential `json:"credential"`
}

// normalizePayload trims identifiers and drops blank requested types.
func normalizePayload(p *models.RequestPayload) {
	p.Address = strings.TrimSpace(p.Address)
	p.Type = strings.TrimSpace(p.Type)
	if p.Types == nil {
		return
	}
	types := p.Types[:0:0]
	for _, t := range p.Types {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	p.Types = types
}
