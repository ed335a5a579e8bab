package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/daap14/pagelease/internal/api/response"
	"github.com/daap14/pagelease/internal/api/validation"
	"github.com/daap14/pagelease/internal/auth"
)

const fingerprintKey contextKey = "fingerprint"

// BearerToken is middleware that checks the Authorization bearer token
// against a static token. Missing or invalid tokens return 401; an
// unconfigured token returns 503.
func BearerToken(token *auth.StaticToken) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Bearer token is required", requestID)
				return
			}

			if err := token.Verify(strings.TrimSpace(raw)); err != nil {
				if errors.Is(err, auth.ErrNotConfigured) {
					response.Err(w, http.StatusServiceUnavailable, response.CodeNotConfigured, "Token is not configured", requestID)
					return
				}
				response.Err(w, http.StatusUnauthorized, response.CodeUnauthorized, "Invalid bearer token", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Fingerprint is middleware that requires the X-Fingerprint header and
// stores the trimmed value in the request context.
func Fingerprint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())

		fp := r.Header.Get("X-Fingerprint")
		if fieldErrors := validation.Fingerprint("X-Fingerprint", fp); len(fieldErrors) > 0 {
			response.ErrWithDetails(w, http.StatusUnauthorized, response.CodeUnauthorized, "X-Fingerprint header is required", fieldErrors, requestID)
			return
		}

		ctx := context.WithValue(r.Context(), fingerprintKey, strings.TrimSpace(fp))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetFingerprint retrieves the caller's fingerprint from the request context.
func GetFingerprint(ctx context.Context) string {
	if fp, ok := ctx.Value(fingerprintKey).(string); ok {
		return fp
	}
	return ""
}
