package services

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	clock := quartz.NewMock(t)
	verifier := NewTokenVerifier("secret", time.Hour, clock)

	token, expiresAt, err := verifier.IssueToken("user-42")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

	userID, err := verifier.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestTokenVerifier_Rejects(t *testing.T) {
	clock := quartz.NewMock(t)
	verifier := NewTokenVerifier("secret", time.Hour, clock)

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.VerifyToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenVerifier("other", time.Hour, clock)
		token, _, err := other.IssueToken("user-42")
		require.NoError(t, err)
		_, err = verifier.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := verifier.IssueToken("user-42")
		require.NoError(t, err)
		clock.Advance(2 * time.Hour).MustWait(context.Background())
		_, err = verifier.VerifyToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no subject", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": clock.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = verifier.VerifyToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no expiry", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-42"})
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = verifier.VerifyToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
