package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/jordanhubbard/llmgateway/internal/auth"
)

// authMiddleware extracts the bearer token from the Authorization header,
// verifies it against the store, and stores the resolved Principal in the
// request context for downstream handlers (§4.1, §6).
func authMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey, ok := bearerToken(r)
			if !ok {
				writeWireError(w, http.StatusUnauthorized, kindAuthentication, "missing or malformed Authorization header", "")
				return
			}

			principal, err := verifier.Verify(r.Context(), rawKey)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenDisabled), errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrUserBanned):
					writeWireError(w, http.StatusForbidden, kindPermission, err.Error(), "")
				case errors.Is(err, auth.ErrInvalidToken):
					writeWireError(w, http.StatusUnauthorized, kindAuthentication, err.Error(), "")
				default:
					writeWireError(w, http.StatusServiceUnavailable, kindServiceUnavail, "auth lookup failed", "")
				}
				return
			}

			ctx := withPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	raw := strings.TrimPrefix(h, prefix)
	if raw == "" {
		return "", false
	}
	return raw, true
}

// adminAuthMiddleware gates the /admin/v1 plane behind a single operator
// bearer token, compared in constant time.
func adminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(h, prefix) {
				writeWireError(w, http.StatusUnauthorized, kindAuthentication, "missing or malformed Authorization header", "")
				return
			}
			provided := strings.TrimPrefix(h, prefix)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeWireError(w, http.StatusForbidden, kindPermission, "invalid admin token", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bodySizeLimit caps the request body the handler is willing to read.
func bodySizeLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
