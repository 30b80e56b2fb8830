// Package models holds the request and result types shared by providers,
// the orchestrator and the issuance pipeline.
package models

import "maps"

// SignatureType selects the proof format of issued credentials.
type SignatureType string

const (
	SignatureEd25519 SignatureType = "Ed25519"
	SignatureEIP712  SignatureType = "EIP712"
)

// Proof keys written by parameterized provider types.
const (
	ProofAllowList     = "allowList"
	ProofConditionName = "conditionName"
	ProofConditionHash = "conditionHash"
)

// RequestPayload is the verification request as received from the client.
// Providers read proofs and type-specific parameters from it; they never
// mutate it in place.
type RequestPayload struct {
	Type          string            `json:"type"`
	Types         []string          `json:"types,omitempty"`
	Address       string            `json:"address"`
	Version       string            `json:"version"`
	Proofs        map[string]string `json:"proofs,omitempty"`
	SignatureType SignatureType     `json:"signatureType,omitempty"`
	Challenge     string            `json:"challenge,omitempty"`
	Issuer        string            `json:"issuer,omitempty"`
}

// RequestedTypes returns Types when present, otherwise the single Type.
func (p RequestPayload) RequestedTypes() []string {
	if len(p.Types) > 0 {
		return p.Types
	}
	if p.Type == "" {
		return nil
	}
	return []string{p.Type}
}

// UsesEIP712 reports whether the client asked for EIP-712 proofs.
func (p RequestPayload) UsesEIP712() bool {
	return p.SignatureType == SignatureEIP712
}

// WithType returns a copy of p addressed to a single provider type.
// Proofs are cloned so later WithProofs calls never alias.
func (p RequestPayload) WithType(t string) RequestPayload {
	out := p
	out.Type = t
	out.Types = nil
	out.Proofs = maps.Clone(p.Proofs)
	return out
}

// WithProofs returns a copy of p with extra proofs merged over the existing ones.
func (p RequestPayload) WithProofs(extra map[string]string) RequestPayload {
	out := p
	out.Proofs = make(map[string]string, len(p.Proofs)+len(extra))
	maps.Copy(out.Proofs, p.Proofs)
	maps.Copy(out.Proofs, extra)
	return out
}

// VerifiedResult is what a provider reports for one type.
type VerifiedResult struct {
	Valid bool `json:"valid"`
	// Record holds the provider facts that identify the account. When valid,
	// at least one value must be non-empty.
	Record map[string]string `json:"record,omitempty"`
	Errors []string          `json:"errors,omitempty"`
	// ExpiresInSeconds overrides the default credential validity.
	ExpiresInSeconds int `json:"expiresInSeconds,omitempty"`
	// TimedOut marks a result produced because an upstream deadline expired.
	// The orchestrator stops the rest of the platform group on it.
	TimedOut bool `json:"-"`
}

// HasIdentifyingFact reports whether at least one record value is non-empty.
func (r VerifiedResult) HasIdentifyingFact() bool {
	for _, v := range r.Record {
		if v != "" {
			return true
		}
	}
	return false
}
