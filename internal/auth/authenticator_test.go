package auth

import (
	"testing"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)

	return tokenString
}

func TestAuthenticator_AuthenticateJWT(t *testing.T) {
	authenticator := NewAuthenticator("test-secret")

	t.Run("valid jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "chat",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.NoError(t, err)
		assert.NotNil(t, auth)
		assert.Equal(t, chat.UserId(42), auth.UserId)
	})

	t.Run("invalid jwt signature", func(t *testing.T) {
		tokenString := signToken(t, "invalid-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "chat",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.IsType(t, ierr.Error{}, err)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, err.(ierr.Error).Code)
	})

	t.Run("expired jwt", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(-time.Hour).Unix(),
			"iat": time.Now().Add(-2 * time.Hour).Unix(),
			"aud": "chat",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.Equal(t, ierr.ErrorCodeUnauthenticated, ierr.CodeOf(err))
	})

	t.Run("wrong audience", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "42",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "broadcaster",
		})

		_, err := authenticator.AuthenticateJWT(tokenString)

		assert.Equal(t, ierr.ErrorCodeUnauthenticated, ierr.CodeOf(err))
	})

	t.Run("missing subject", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "chat",
		})

		auth, err := authenticator.AuthenticateJWT(tokenString)

		assert.Error(t, err)
		assert.Nil(t, auth)
		assert.Equal(t, ierr.ErrorCodeInvalidArgument, ierr.CodeOf(err))
	})

	t.Run("non numeric subject", func(t *testing.T) {
		tokenString := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "test-user",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
			"aud": "chat",
		})

		_, err := authenticator.AuthenticateJWT(tokenString)

		assert.Equal(t, ierr.ErrorCodeInvalidArgument, ierr.CodeOf(err))
	})
}
