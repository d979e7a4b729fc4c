package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/redact"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
)

// AuthMiddleware provides bearer token authentication for routes.
type AuthMiddleware struct {
	tokenService auth.TokenService
}

// NewAuthMiddleware creates a new AuthMiddleware. A nil token service
// disables authentication: every request passes through unauthenticated.
func NewAuthMiddleware(tokenService auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// Enabled reports whether requests are authenticated.
func (m *AuthMiddleware) Enabled() bool {
	return m.tokenService != nil
}

// Authenticate validates the bearer token from the Authorization header and
// adds its claims to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.tokenService.ValidateToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Token expired", err)
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrMissingToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
					shared.WithElevatedLogLevel())
			default:
				logger.FromContext(r.Context()).Error("failed to validate token", "error", redact.Error(err))
				shared.RespondWithError(w, r, http.StatusInternalServerError, "Authentication error")
			}
			return
		}

		log := logger.FromContext(r.Context()).With("subject", claims.Subject, "token_id", claims.ID)
		ctx := logger.WithLogger(shared.WithClaims(r.Context(), claims), log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated requests whose token does not grant
// scope. It passes everything through when authentication is disabled.
func (m *AuthMiddleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := shared.GetClaims(r.Context())
			if !ok {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !claims.Allows(scope) {
				shared.RespondWithErrorAndLog(w, r, http.StatusForbidden, "Insufficient scope",
					auth.ErrInsufficientScope, shared.WithElevatedLogLevel())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
