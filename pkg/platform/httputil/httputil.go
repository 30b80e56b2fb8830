// Package httputil holds the JSON request and response helpers shared by
// every handler.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "iam/pkg/domain-errors"
)

// ErrorBody is the error envelope. It matches the failed credential response
// so clients parse one shape.
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding error cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError answers with the status for err's domain code. Messages of
// foreign errors are never exposed.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(dErrors.CodeOf(err))

	message := "Unexpected server error"
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Error()
	}
	WriteJSON(w, status, ErrorBody{Error: message, Code: status})
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeBadRequest:         http.StatusBadRequest,
	dErrors.CodeValidation:         http.StatusBadRequest,
	dErrors.CodeTooLarge:           http.StatusRequestEntityTooLarge,
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeForbidden:          http.StatusForbidden,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeUnavailable:        http.StatusServiceUnavailable,
	dErrors.CodeInvariantViolation: http.StatusInternalServerError,
	dErrors.CodeMisconfigured:      http.StatusInternalServerError,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor maps a domain code to an HTTP status; unknown codes are 500.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
