package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier resolves the user id carried by a bearer token. Tokens are
// minted by the identity service; IssueToken exists for tooling and tests.
type TokenVerifier struct {
	secret []byte
	expiry time.Duration
	clock  quartz.Clock
}

func NewTokenVerifier(secret string, expiry time.Duration, clock quartz.Clock) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		expiry: expiry,
		clock:  clock,
	}
}

func (v *TokenVerifier) IssueToken(userID string) (string, time.Time, error) {
	now := v.clock.Now()
	expiresAt := now.Add(v.expiry)
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.NewString(),
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken returns the token's subject.
func (v *TokenVerifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return v.clock.Now() }), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	userID, err := token.Claims.GetSubject()
	if err != nil || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
