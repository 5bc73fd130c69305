package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockpilot/stockpilot/internal/shared"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Email: "ada@acme.test", Role: shared.RoleManager}

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.EqualValues(t, 7, claims.UserID)
	require.EqualValues(t, 3, claims.TenantID)
	require.Equal(t, shared.RoleManager, claims.Role)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Role: shared.RoleStaff}

	// NewTokenIssuer clamps ttl to a default, so build the expired issuer directly.
	expired := &TokenIssuer{secret: []byte("test-secret"), ttl: -time.Minute}
	token, err := expired.Issue(user)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	require.Error(t, err)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Role: shared.RoleStaff}

	token, err := other.Issue(user)
	require.NoError(t, err)

	_, err = issuer.Parse(token)
	require.Error(t, err)
}

// stubUserLookup serves stored users to the middleware.
type stubUserLookup struct {
	users map[int64]*User
}

func (s *stubUserLookup) FindByID(ctx context.Context, tenantID, userID int64) (*User, error) {
	user, ok := s.users[userID]
	if !ok || user.TenantID != tenantID {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func TestAuthenticateMiddlewareAttachesActor(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Role: shared.RoleOwner, IsActive: true}
	mw := NewMiddleware(issuer, &stubUserLookup{users: map[int64]*User{7: user}}, slog.Default())

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	var seen shared.Actor
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 7, seen.UserID)
	require.EqualValues(t, 3, seen.TenantID)
	require.Equal(t, shared.RoleOwner, seen.Role)
}

func TestAuthenticateMiddlewareRejectsMissingToken(t *testing.T) {
	mw := NewMiddleware(NewTokenIssuer("test-secret", time.Hour), &stubUserLookup{}, slog.Default())

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateMiddlewareRejectsDeactivatedUser(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Role: shared.RoleStaff, IsActive: true}
	lookup := &stubUserLookup{users: map[int64]*User{7: user}}
	mw := NewMiddleware(issuer, lookup, slog.Default())

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Deactivation locks the account out even with a live token.
	user.IsActive = false
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// So does removing the account entirely.
	delete(lookup.users, 7)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateMiddlewareUsesStoredRole(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &User{ID: 7, TenantID: 3, Role: shared.RoleManager, IsActive: true}
	mw := NewMiddleware(issuer, &stubUserLookup{users: map[int64]*User{7: user}}, slog.Default())

	token, err := issuer.Issue(user)
	require.NoError(t, err)

	// Demoted after the token was issued.
	user.Role = shared.RoleStaff

	var seen shared.Actor
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, shared.RoleStaff, seen.Role)
}

func TestRequireRoleBlocksInsufficientRole(t *testing.T) {
	handler := RequireRole(shared.RoleOwner, shared.RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := shared.ContextWithActor(req.Context(), shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleStaff})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(shared.RoleOwner, shared.RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := shared.ContextWithActor(req.Context(), shared.Actor{UserID: 1, TenantID: 1, Role: shared.RoleManager})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	require.Equal(t, http.StatusNoContent, rr.Code)
}
