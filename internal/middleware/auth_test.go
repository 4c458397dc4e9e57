package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

func protectedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	pair, err := m.IssueTokens(model.Actor{UserID: 42, Role: model.RoleSeller})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		actor, ok := GetActorFromContext(r.Context())
		if !ok {
			t.Fatalf("actor not in context")
		}
		if actor.UserID != 42 || actor.Role != model.RoleSeller {
			t.Fatalf("actor from context = %+v, want 42/SELLER", actor)
		}
		id, _ := GetUserIDFromContext(r.Context())
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
	})

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), protectedRequest(pair.AccessToken))

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	pair, err := m.IssueTokens(model.Actor{UserID: 7, Role: model.RoleCustomer})
	require.NoError(t, err)
	foreign, err := other.IssueTokens(model.Actor{UserID: 7, Role: model.RoleCustomer})
	require.NoError(t, err)

	expired := NewAuthMiddleware("test-secret")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, err := expired.IssueTokens(model.Actor{UserID: 7, Role: model.RoleCustomer})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             model.RoleAdmin,
		TokenType:        tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7"},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "no header", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "refresh token used as access", token: pair.RefreshToken},
		{name: "foreign secret", token: foreign.AccessToken},
		{name: "expired", token: stale.AccessToken},
		{name: "alg none", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			m.Middleware(next).ServeHTTP(w, protectedRequest(tt.token))

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Refresh(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	pair, err := m.IssueTokens(model.Actor{UserID: 5, Role: model.RoleAdmin})
	require.NoError(t, err)

	next, actor, err := m.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, model.Actor{UserID: 5, Role: model.RoleAdmin}, actor)

	got, err := m.Authenticate(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	_, _, err = m.Refresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(model.RoleAdmin, model.RoleSeller)(next)

	tests := []struct {
		name  string
		actor *model.Actor
		want  int
	}{
		{name: "admin", actor: &model.Actor{UserID: 1, Role: model.RoleAdmin}, want: http.StatusNoContent},
		{name: "seller", actor: &model.Actor{UserID: 2, Role: model.RoleSeller}, want: http.StatusNoContent},
		{name: "customer", actor: &model.Actor{UserID: 3, Role: model.RoleCustomer}, want: http.StatusForbidden},
		{name: "anonymous", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.actor != nil {
				r = r.WithContext(WithActor(r.Context(), *tt.actor))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
