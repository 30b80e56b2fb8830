package providers

import (
	"fmt"
	"strings"

	"iam/internal/verification/models"
)

// Base types that accept parameters in their label.
const (
	TypeAllowList     = "AllowList"
	TypeDeveloperList = "DeveloperList"
)

// Kind tags a RequestedType.
type Kind int

const (
	KindPlain Kind = iota
	KindAllowList
	KindDeveloperList
)

// RequestedType is a requested label parsed once into its variant.
//
//	"Github"                      -> KindPlain
//	"AllowList#<id>"              -> KindAllowList{ID}
//	"DeveloperList#<name>#<hash>" -> KindDeveloperList{ConditionName, ConditionHash}
type RequestedType struct {
	Label         string
	Kind          Kind
	ID            string
	ConditionName string
	ConditionHash string
}

// ParseRequestedType splits a label into its variant. Parameterized labels
// with missing parameters are rejected with ErrInvalidType. Segments past the
// last parameter are ignored.
func ParseRequestedType(label string) (RequestedType, error) {
	rt := RequestedType{Label: label, Kind: KindPlain}

	parts := strings.Split(label, "#")
	if len(parts) == 1 {
		return rt, nil
	}
	switch parts[0] {
	case TypeAllowList:
		if parts[1] == "" {
			return rt, fmt.Errorf("%w: %q has an empty list id", ErrInvalidType, label)
		}
		rt.Kind = KindAllowList
		rt.ID = parts[1]
	case TypeDeveloperList:
		if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
			return rt, fmt.Errorf("%w: %q needs a condition name and hash", ErrInvalidType, label)
		}
		rt.Kind = KindDeveloperList
		rt.ConditionName = parts[1]
		rt.ConditionHash = parts[2]
	}
	return rt, nil
}

// ProviderType is the registry key the label dispatches to.
func (t RequestedType) ProviderType() string {
	switch t.Kind {
	case KindAllowList:
		return TypeAllowList
	case KindDeveloperList:
		return TypeDeveloperList
	default:
		return t.Label
	}
}

// Apply returns a copy of payload carrying this variant's parameters as proofs.
func (t RequestedType) Apply(payload models.RequestPayload) models.RequestPayload {
	out := payload.WithType(t.ProviderType())
	switch t.Kind {
	case KindAllowList:
		return out.WithProofs(map[string]string{models.ProofAllowList: t.ID})
	case KindDeveloperList:
		return out.WithProofs(map[string]string{
			models.ProofConditionName: t.ConditionName,
			models.ProofConditionHash: t.ConditionHash,
		})
	default:
		return out
	}
}
