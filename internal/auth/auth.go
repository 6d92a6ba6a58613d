// Package auth implements bearer-token authentication for the Admin API
// (C8): JWT issuance and validation for operator/service principals, and
// the HTTP middleware that enforces it on every route except /health and
// /metrics.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal identifies whoever presented a valid token: an operator, or a
// service account acting on an operator's behalf.
type Principal struct {
	Subject string
	Role    string
}

// Config configures the admin auth Service from internal/config.AuthConfig.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service validates bearer tokens presented to the admin API. A zero-value
// Service (or a nil *Service) has auth disabled, matching the "mode: none"
// configuration.
type Service struct {
	mu  sync.RWMutex
	jwt *JWTService
}

// NewService constructs an auth Service. An empty JWTSecret leaves the
// service disabled: Enabled() reports false and every route runs
// unauthenticated, which is only appropriate for local development
// (config.AuthConfig.Mode == "none").
func NewService(cfg Config) *Service {
	s := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		s.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	return s
}

// Enabled reports whether bearer-token checks should run.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jwt != nil
}

// IssueToken signs a token for the given principal; the package tests use
// it to mint tokens.
func (s *Service) IssueToken(p Principal) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	s.mu.RLock()
	jwt := s.jwt
	s.mu.RUnlock()
	if jwt == nil {
		return "", ErrAuthDisabled
	}
	return jwt.Generate(p)
}

// ValidateToken validates a bearer token and returns the principal it
// identifies.
func (s *Service) ValidateToken(token string) (Principal, error) {
	if s == nil {
		return Principal{}, ErrAuthDisabled
	}
	s.mu.RLock()
	jwt := s.jwt
	s.mu.RUnlock()
	if jwt == nil {
		return Principal{}, ErrAuthDisabled
	}
	return jwt.Validate(token)
}
