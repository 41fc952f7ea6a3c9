package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "auditor-1",
			Issuer:    "audit-query",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{"auditor"},
	}
}

func TestJWTValidator(t *testing.T) {
	ctx := context.Background()
	validator := NewJWTValidator(testSecret, "audit-query")

	t.Run("valid token", func(t *testing.T) {
		claims, err := validator.ValidateToken(ctx, signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
		require.NoError(t, err)
		assert.Equal(t, "auditor-1", claims.Subject)
		assert.True(t, claims.HasRole("auditor"))
		assert.False(t, claims.HasRole("admin"))
	})

	t.Run("expired token", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

		_, err := validator.ValidateToken(ctx, signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := validator.ValidateToken(ctx, signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := validClaims()
		c.Issuer = "someone-else"

		_, err := validator.ValidateToken(ctx, signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("any issuer when unset", func(t *testing.T) {
		c := validClaims()
		c.Issuer = "someone-else"

		_, err := NewJWTValidator(testSecret, "").ValidateToken(ctx, signToken(t, jwt.SigningMethodHS256, []byte(testSecret), c))
		assert.NoError(t, err)
	})

	t.Run("other signing method", func(t *testing.T) {
		_, err := validator.ValidateToken(ctx, signToken(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()))
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := validator.ValidateToken(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
