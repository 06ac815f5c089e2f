package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService("test-secret-key-for-testing-purposes", 15*time.Minute)
}

func TestIssueAndVerify(t *testing.T) {
	service := newTestService()

	token, expiresAt, err := service.Issue("user-123", "test@example.com", RoleCustomer)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))
	assert.True(t, expiresAt.Before(time.Now().Add(16*time.Minute)))

	claims, err := service.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, RoleCustomer, claims.Role)
	assert.Equal(t, "user-123", claims.Subject)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, _, err := newTestService().Issue("user-1", "a@example.com", RoleAdmin)
	require.NoError(t, err)

	other := NewService("a-completely-different-secret-key!!", 15*time.Minute)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := newTestService().Verify("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = newTestService().Verify("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	service := NewService("test-secret-key-for-testing-purposes", -time.Minute)

	token, _, err := service.Issue("user-1", "a@example.com", RoleCustomer)
	require.NoError(t, err)

	_, err = service.Verify(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_RejectsUnsignedAlgorithm(t *testing.T) {
	claims := Claims{
		UserID: "user-1",
		Role:   RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestService().Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
