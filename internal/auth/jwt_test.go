package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

func TestJWTServiceGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-secret")
	user := &models.User{ID: "user-1", Role: models.RoleAdmin}

	token, err := svc.Generate(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, role, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, models.RoleAdmin, role)
}

func TestJWTServiceValidateRejectsWrongSecret(t *testing.T) {
	svc := NewJWTService("secret-a")
	other := NewJWTService("secret-b")
	token, err := svc.Generate(&models.User{ID: "user-1", Role: models.RoleUser})
	require.NoError(t, err)

	_, _, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTServiceValidateRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret")
	claims := Claims{
		Role: models.RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(svc.secret)
	require.NoError(t, err)

	_, _, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "correct horse battery staple"))
	assert.False(t, VerifyPassword(hash, "wrong password"))
}

func TestNewOpaqueTokenHashIsDeterministic(t *testing.T) {
	token, hash, err := NewOpaqueToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, HashToken(token), hash)

	token2, _, err := NewOpaqueToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}
