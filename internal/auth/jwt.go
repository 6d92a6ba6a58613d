package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService handles token signing and verification for admin principals.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper with the given secret and expiry. A
// zero expiry issues tokens with no expiration claim.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Claims is the admin token's claim set: a subject plus a coarse role,
// deliberately smaller than a full user profile since the admin API has no
// concept of end users, only operators and service accounts.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for p.
func (s *JWTService) Generate(p Principal) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(p.Subject) == "" {
		return "", fmt.Errorf("principal subject required")
	}

	claims := Claims{
		Role: strings.TrimSpace(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.Subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT and returns the principal embedded
// in it.
func (s *JWTService) Validate(token string) (Principal, error) {
	if s == nil || len(s.secret) == 0 {
		return Principal{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}
