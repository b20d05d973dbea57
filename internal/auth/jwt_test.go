package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "admin-secret-that-is-32-chars-long!"

func TestVerifier_SignAndValidate(t *testing.T) {
	v := NewVerifier(testSecret)

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Sign("ops@example.com", RoleAdmin, time.Minute)
		require.NoError(t, err)

		claims, err := v.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", claims.Subject)
		assert.Equal(t, RoleAdmin, claims.Role)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := v.Validate("invalid-token")
		assert.Error(t, err)
	})

	t.Run("other secret fails", func(t *testing.T) {
		token, err := NewVerifier("another-secret-that-is-32-chars-long").Sign("x", RoleAdmin, time.Minute)
		require.NoError(t, err)
		_, err = v.Validate(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		token, err := v.Sign("x", RoleAdmin, -time.Second)
		require.NoError(t, err)
		_, err = v.Validate(token)
		assert.Error(t, err)
	})
}

func TestRequireAdmin(t *testing.T) {
	v := NewVerifier(testSecret)
	adminToken, err := v.Sign("ops", RoleAdmin, time.Minute)
	require.NoError(t, err)
	userToken, err := v.Sign("alice", "user", time.Minute)
	require.NoError(t, err)

	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"non-admin", "Bearer " + userToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/plans", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireAdmin(v)(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen.Subject)
}

func TestRequireAdmin_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	RequireAdmin(nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plans", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
