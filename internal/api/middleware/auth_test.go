package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/atelier-shop/internal/auth"
)

func newTokens() *auth.Service {
	return auth.NewService("test-secret-key-for-testing-purposes", 15*time.Minute)
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestExtractToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", ExtractToken(req))

	// Cookie wins over header.
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	assert.Equal(t, "cookie-token", ExtractToken(req))
}

func TestAuth_MissingToken(t *testing.T) {
	called := false
	handler := Auth(newTokens())(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuth_InvalidToken(t *testing.T) {
	called := false
	handler := Auth(newTokens())(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuth_ValidTokenAddsClaims(t *testing.T) {
	tokens := newTokens()
	token, _, err := tokens.Issue("user-1", "a@example.com", auth.RoleCustomer)
	require.NoError(t, err)

	var gotUserID string
	handler := Auth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "user-1", gotUserID)
}

func TestOptionalAuth(t *testing.T) {
	tokens := newTokens()
	token, _, err := tokens.Issue("user-1", "a@example.com", auth.RoleCustomer)
	require.NoError(t, err)

	var gotUserID string
	handler := OptionalAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
	}))

	// No token: the request passes through anonymously.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotUserID)

	// Garbage token: still anonymous, never a 401.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotUserID)

	// Valid token: claims are attached.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-1", gotUserID)
}

func TestRequireRole(t *testing.T) {
	tokens := newTokens()

	customerToken, _, err := tokens.Issue("user-1", "a@example.com", auth.RoleCustomer)
	require.NoError(t, err)
	adminToken, _, err := tokens.Issue("admin", "s@example.com", auth.RoleAdmin)
	require.NoError(t, err)

	called := false
	handler := Auth(tokens)(RequireRole(auth.RoleAdmin)(okHandler(&called)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+customerToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestIsAdmin_WithoutClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, IsAdmin(req.Context()))
	assert.Empty(t, GetUserID(req.Context()))
}
