// Package signer attaches proofs to credentials. Ed25519 proofs are produced
// locally; EIP-712 proofs come from a remote signing oracle that holds the
// rotating keys.
package signer

import (
	"context"
	"errors"

	"iam/internal/credential/models"
)

//go:generate mockgen -source=signer.go -destination=mocks/signer_mock.go -package=mocks Signer

// Document selects the EIP-712 typed-data document a credential is signed as.
type Document string

const (
	DocumentStamp     Document = "stamp"
	DocumentChallenge Document = "challenge"
)

// Proof types.
const (
	ProofEd25519 = "Ed25519Signature2018"
	ProofEIP712  = "EthereumEip712Signature2021"

	proofPurpose = "assertionMethod"
)

// Request is one credential to sign. KeyVersion is meaningful for EIP-712
// signing only.
type Request struct {
	Credential models.Credential
	KeyVersion int
	Document   Document
}

// Signer returns the credential with issuer and proof populated.
type Signer interface {
	Sign(ctx context.Context, req Request) (models.Credential, error)
}

var (
	ErrInvalidKey   = errors.New("invalid signing key")
	ErrInvalidProof = errors.New("invalid credential proof")
	ErrUnavailable  = errors.New("signing oracle unavailable")
)
