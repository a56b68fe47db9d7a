package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/apperr"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/models"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// TokenVerifier checks a bearer token and returns the identity it carries.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

// AuthMiddleware handles bearer token verification for authenticated endpoints.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier TokenVerifier, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// RequireAuth rejects requests without a valid Authorization: Bearer token.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := crypto.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "token required")
			return
		}

		identity, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Warn().
				Str("type", "security").
				Str("event", "invalid_token").
				Str("ip", RealIP(r)).
				Str("endpoint", r.URL.Path).
				Err(err).
				Msg("rejected bearer token")
			jsonError(w, http.StatusUnauthorized, apperr.UserMessage(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// GetIdentityFromContext retrieves the authenticated identity from context.
func GetIdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
