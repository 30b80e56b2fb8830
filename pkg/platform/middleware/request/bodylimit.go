package request

import (
	"net/http"
	"strconv"
)

// BodyLimit caps request bodies. A declared Content-Length over the limit is
// refused up front; streamed bodies fail on read with *http.MaxBytesError.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	tooLarge := []byte(`{"error":"Request body exceeds ` + strconv.FormatInt(maxBytes, 10) + ` bytes","code":413}`)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write(tooLarge) //nolint:errcheck // headers already sent
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
