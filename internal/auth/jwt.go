// Package auth issues and verifies the bearer tokens that protect the
// administrative API, and hashes account passwords. Device session
// tokens are a separate mechanism and never pass through here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"keygate/internal/store"
)

// ErrInvalidToken covers every verification failure: bad signature,
// expired, malformed claims.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the JWT payload for an administrative session.
type Claims struct {
	UserID int64      `json:"uid"`
	Role   store.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies administrative JWTs.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. The clock is injectable for tests;
// pass nil for wall time.
func NewTokenIssuer(secret []byte, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: now}
}

// Issue signs a token for the given user.
func (i *TokenIssuer) Issue(userID int64, role store.Role) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
