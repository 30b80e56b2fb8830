package audit

import (
	"context"
	"time"
)

// Action names an auditable step of the issuance pipeline.
type Action string

const (
	ActionCredentialIssued   Action = "credential_issued"
	ActionCredentialBanned   Action = "credential_banned"
	ActionIssuanceFailed     Action = "credential_issuance_failed"
	ActionChallengeIssued    Action = "challenge_issued"
	ActionVerificationFailed Action = "provider_verification_failed"
)

// Event is emitted from the pipeline to capture issuance decisions. It never
// carries provider records; addresses are redacted before they get here.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         Action    `json:"action"`
	Provider       string    `json:"provider"`
	CredentialHash string    `json:"credential_hash,omitempty"`
	Subject        string    `json:"subject"`
	Reason         string    `json:"reason,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}

// Emitter records audit events. Events of one call belong to one request
// and are stored together. Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, events ...Event) error
}

// NopEmitter drops events; used when no database is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, ...Event) error { return nil }
