package providers

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for provider adapters.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorProviderOutage ErrorCategory = "provider_outage"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// ProviderError wraps a failure to run a check. It is never used for a
// check that ran and came back negative; that is a VerifiedResult.
type ProviderError struct {
	Category     ErrorCategory
	ProviderType string
	Message      string
	Underlying   error
	Retryable    bool
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderType, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderType, e.Category, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// NewProviderError classifies timeouts, outages and rate limits as retryable.
func NewProviderError(category ErrorCategory, providerType, message string, underlying error) *ProviderError {
	return &ProviderError{
		Category:     category,
		ProviderType: providerType,
		Message:      message,
		Underlying:   underlying,
		Retryable:    category == ErrorTimeout || category == ErrorProviderOutage || category == ErrorRateLimited,
	}
}

func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory returns ErrorInternal for errors that are not ProviderErrors.
func GetCategory(err error) ErrorCategory {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}

// TimeoutMessage is the error text reported when an upstream deadline expires.
func TimeoutMessage(providerType string) string {
	return fmt.Sprintf("Request timeout while verifying %s.", providerType)
}

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrInvalidType      = errors.New("invalid provider type")
)
