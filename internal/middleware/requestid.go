// Package middleware provides HTTP middleware for the audit API.
package middleware

import (
	"context"
	"net/http"

	"policyaudit/internal/domain"
)

type requestIDKey struct{}

const maxRequestIDLen = 128

// RequestID assigns a request ID to every request so API calls can be
// correlated with the decision records they create. A well-formed incoming
// X-Request-ID header is reused; anything else is replaced with a UUIDv7,
// matching the id scheme of the records themselves. The ID is echoed on the
// response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = domain.NewID()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// validRequestID restricts caller-supplied IDs to a safe alphabet. Request
// IDs end up in log lines and stored records, so control characters and
// markup must never pass through.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
