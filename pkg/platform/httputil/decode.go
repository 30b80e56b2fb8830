package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "iam/pkg/domain-errors"
	"iam/pkg/requestcontext"
)

// Normalizable requests are cleaned up (trimmed, lower-cased) before validation.
type Normalizable interface {
	Normalize()
}

type Validatable interface {
	Validate() error
}

// Decode reads a JSON body into T, then normalizes and validates it.
// Failures are domain errors ready for WriteError.
func Decode[T any](r *http.Request) (*T, error) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, dErrors.Wrapf(err, dErrors.CodeTooLarge, "Request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "Request body is empty")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "Invalid request body")
		}
	}

	if n, ok := any(&req).(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
	}
	return &req, nil
}

// DecodeAndPrepare is Decode for handlers: on failure the error response is
// already written and ok is false.
//
//	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	req, err := Decode[T](r)
	if err != nil {
		ctx := r.Context()
		logger.WarnContext(ctx, "rejected request body",
			"error", err,
			"code", dErrors.CodeOf(err),
			"path", r.URL.Path,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
