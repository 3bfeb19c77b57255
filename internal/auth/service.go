// Package auth guards internal/httpapi's secondary HTTP surface with a
// bearer-token check. A prior
// version is a full user/client-credential login service (bcrypt
// passwords, client-secret grants, JWT issuance and validation against a
// user store); bunctl only needs a service-to-service guard in front of
// an already-trusted HTTP surface (the real control channel is the
// Unix-socket/named-pipe protocol), so this package keeps the same
// JWT-issuance shape but drops the login/user-store machinery entirely —
// Issue mints a token for an operator-supplied subject, and RequireBearer
// is the only thing callers need to protect a route.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bunctl/bunctl/internal/store"
)

// ErrInvalidToken covers every way Validate can reject a bearer token:
// bad signature, expired, malformed, or revoked in the backing store.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Service issues and validates bearer tokens guarding internal/httpapi.
// It never holds passwords: a token's
// subject is whatever string the operator names when issuing it (e.g. a
// CI system or another bunctl instance), not a username looked up in a
// user store.
type Service struct {
	tokens    store.TokenStore
	jwtSecret []byte
	tokenTTL  time.Duration
}

// Config configures a Service.
type Config struct {
	JWTSecret string        // random 32-byte secret generated if empty
	TokenTTL  time.Duration // defaults to 24h
}

// New builds a Service backed by tokens for revocation tracking.
func New(tokens store.TokenStore, cfg Config) (*Service, error) {
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("auth: generate jwt secret: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{tokens: tokens, jwtSecret: secret, tokenTTL: ttl}, nil
}

// Issue mints a signed bearer token for subject and records it in the
// token store so it can later be revoked.
func (s *Service) Issue(ctx context.Context, subject string) (store.Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		Issuer:    "bunctl",
		ID:        generateJTI(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return store.Token{}, fmt.Errorf("auth: sign token: %w", err)
	}

	tok := store.Token{Value: signed, Subject: subject, IssuedAt: now, ExpiresAt: expiresAt}
	if err := s.tokens.Create(ctx, tok); err != nil {
		return store.Token{}, fmt.Errorf("auth: persist token: %w", err)
	}
	return tok, nil
}

// Validate verifies tokenString's signature and expiry, then confirms it
// hasn't been revoked in the token store, returning the subject it was
// issued for.
func (s *Service) Validate(ctx context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	if _, err := s.tokens.Get(ctx, tokenString); err != nil {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// Revoke removes a token from the store, so Validate rejects it even if
// it hasn't expired yet.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	return s.tokens.Revoke(ctx, tokenString)
}

func generateJTI() string {
	return uuid.NewString()
}
