// Package domainerrors carries failure categories across the pipeline so the
// transport layer can pick a status without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_failed"
	CodeTooLarge     Code = "payload_too_large"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeConflict     Code = "conflict"

	// Upstream failures: providers, the ban registry, the signing oracle.
	CodeTimeout     Code = "timeout"
	CodeUnavailable Code = "unavailable"

	CodeInternal Code = "internal_error"
	// A collaborator broke a contract the pipeline relies on, e.g. the ban
	// registry omitted a verdict.
	CodeInvariantViolation Code = "invariant_violation"
	// Key material or signing configuration is unusable.
	CodeMisconfigured Code = "misconfigured"
)

// Error is a failure with a stable code. Message is safe to return to callers;
// Err is kept for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code, so errors.Is(err, &Error{Code: CodeTimeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a message to err. A code already carried by err wins over code.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		code = existing.Code
	}
	return &Error{Code: code, Message: msg, Err: err}
}

func Wrapf(err error, code Code, format string, args ...any) error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
