// Package auth issues and validates the session tokens handed out by
// the authentication endpoints. Sessions are stateless HS256 JWTs; the
// durable session mirror in the kv store only carries the profile so a
// restarted process can restore "who is signed in".
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Haleem001/agrivault/internal/clock"
	"github.com/Haleem001/agrivault/internal/model"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the session claims carried by issued tokens.
type Claims struct {
	UserType string `json:"user_type"`
	FullName string `json:"full_name"`
	jwt.RegisteredClaims
}

// Tokens issues and validates session JWTs with a shared HS256 key.
type Tokens struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokens creates a token issuer. A nil clk falls back to the real
// clock.
func NewTokens(key []byte, issuer string, ttl time.Duration, clk clock.Clock) *Tokens {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tokens{key: key, issuer: issuer, ttl: ttl, clock: clk}
}

// Issue creates a signed session token for the given profile.
func (t *Tokens) Issue(p model.Profile) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		UserType: string(p.UserType),
		FullName: p.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token, returning its claims.
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
