package middleware

import (
	"log/slog"
	"net/http"

	"github.com/rezkam/taskstream/internal/auth"
	"github.com/rezkam/taskstream/internal/infrastructure/http/response"
)

// Auth is HTTP middleware for bearer token authentication. Every API route
// is scoped to the authenticated user; there is no anonymous access.
type Auth struct {
	verifier *auth.TokenVerifier
}

// NewAuth creates a new auth middleware.
func NewAuth(verifier *auth.TokenVerifier) *Auth {
	return &Auth{verifier: verifier}
}

// Validate is a Chi middleware that validates JWTs from the Authorization
// header and stores the authenticated user ID in the request context.
func (a *Auth) Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			slog.WarnContext(r.Context(), "authentication failed: missing token",
				"path", r.URL.Path,
				"method", r.Method)
			response.Unauthorized(w, "missing Authorization header")
			return
		}

		userID, err := a.verifier.Verify(token)
		if err != nil {
			slog.WarnContext(r.Context(), "authentication failed: invalid token",
				"path", r.URL.Path,
				"method", r.Method)
			response.Unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}
