package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lwie/models"
)

func TestJWTRoundTrip(t *testing.T) {
	user := &models.User{TokenVersion: 3}
	user.ID = 42

	token, err := GenerateJWTToken(user, "jwt-secret")
	require.NoError(t, err)

	claims, err := ParseJWTToken(token, "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, 3, claims.TokenVersion)
	assert.Equal(t, "lwie", claims.Issuer)
}

func TestParseJWTTokenRejects(t *testing.T) {
	user := &models.User{}
	user.ID = 1
	token, err := GenerateJWTToken(user, "jwt-secret")
	require.NoError(t, err)

	_, err = ParseJWTToken(token, "other-secret")
	assert.Error(t, err, "wrong key")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	_, err = ParseJWTToken(signed, "jwt-secret")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseJWTToken(none, "jwt-secret")
	assert.Error(t, err, "alg none must not be accepted")
}
