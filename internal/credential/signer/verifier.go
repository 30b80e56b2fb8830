package signer

import (
	"context"
	"fmt"

	"iam/internal/credential/models"
)

// Verifier checks that a credential was issued by this service.
type Verifier interface {
	Verify(ctx context.Context, cred models.Credential) error
}

// ProofVerifier dispatches on the proof type. EIP-712 proofs need the
// signing oracle; without one they are rejected.
type ProofVerifier struct {
	ed25519 *Ed25519Signer
	remote  *RemoteSigner
}

func NewProofVerifier(ed *Ed25519Signer, remote *RemoteSigner) *ProofVerifier {
	return &ProofVerifier{ed25519: ed, remote: remote}
}

func (v *ProofVerifier) Verify(ctx context.Context, cred models.Credential) error {
	if cred.Proof == nil {
		return ErrInvalidProof
	}
	switch cred.Proof.Type {
	case ProofEd25519:
		return v.ed25519.Verify(cred)
	case ProofEIP712:
		if v.remote == nil {
			return fmt.Errorf("%w: no EIP-712 verifier configured", ErrInvalidProof)
		}
		return v.remote.Verify(ctx, cred)
	default:
		return fmt.Errorf("%w: unsupported proof type %q", ErrInvalidProof, cred.Proof.Type)
	}
}
