package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stockpilot/stockpilot/internal/platform/httpx"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// UserLookup resolves the stored user behind a token's claims.
type UserLookup interface {
	FindByID(ctx context.Context, tenantID, userID int64) (*User, error)
}

// Middleware wires the JWT guard and role checks for HTTP handlers.
type Middleware struct {
	Issuer *TokenIssuer
	Users  UserLookup
	Logger *slog.Logger
}

// NewMiddleware constructs the middleware.
func NewMiddleware(issuer *TokenIssuer, users UserLookup, logger *slog.Logger) *Middleware {
	return &Middleware{Issuer: issuer, Users: users, Logger: logger}
}

// Authenticate verifies the bearer token, checks the user still exists
// and is active, and stores the actor in context. The role comes from
// the stored record, not the claims, so deactivation and demotion take
// effect before the token expires.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Message(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := m.Issuer.Parse(token)
		if err != nil {
			httpx.Message(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		user, err := m.Users.FindByID(r.Context(), claims.TenantID, claims.UserID)
		if err != nil {
			httpx.Message(w, http.StatusUnauthorized, "account no longer valid")
			return
		}
		if !user.IsActive {
			httpx.Message(w, http.StatusUnauthorized, "account is deactivated")
			return
		}
		actor := shared.Actor{
			UserID:   user.ID,
			TenantID: user.TenantID,
			Role:     user.Role,
		}
		ctx := shared.ContextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole ensures the actor holds one of the given roles.
func RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if !actor.Role.OneOf(roles...) {
				httpx.Message(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
