package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/generic"
)

var secret = []byte("test-secret")

func captureActor(got *generic.Actor, seen *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_NoToken(t *testing.T) {
	var actor generic.Actor
	var seen bool
	handler := NewMiddleware(secret).Wrap(captureActor(&actor, &seen))

	req := httptest.NewRequest(http.MethodGet, "/api/mensualidades", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.False(t, seen)
}

func TestMiddleware_ExemptPath(t *testing.T) {
	var actor generic.Actor
	var seen bool
	handler := NewMiddleware(secret, "/health").Wrap(captureActor(&actor, &seen))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, seen, "no identity on exempt paths")
}

func TestMiddleware_AttachesActor(t *testing.T) {
	tests := []struct {
		role       Role
		privileged bool
	}{
		{RoleRepresentante, false},
		{RoleStaff, true},
		{RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			token, err := IssueToken(secret, "user-1", tt.role, time.Hour)
			require.NoError(t, err)

			var actor generic.Actor
			var seen bool
			handler := NewMiddleware(secret).Wrap(captureActor(&actor, &seen))

			req := httptest.NewRequest(http.MethodGet, "/api/mensualidades", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			require.Equal(t, http.StatusOK, resp.Code)
			require.True(t, seen)
			assert.Equal(t, "user-1", actor.ID)
			assert.Equal(t, string(tt.role), actor.Role)
			assert.Equal(t, tt.privileged, actor.Privileged)
		})
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	sign := func(claims Claims, key []byte) string {
		t.Helper()
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", sign(Claims{Role: "admin", RegisteredClaims: valid}, []byte("other"))},
		{"expired", sign(Claims{Role: "admin", RegisteredClaims: expired}, secret)},
		{"unknown role", sign(Claims{Role: "superuser", RegisteredClaims: valid}, secret)},
		{"missing subject", sign(Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}, secret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJWT(tt.token, secret)
			assert.Error(t, err)
		})
	}
}
