package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is wrapped inside the AuthError returned when the
// bearer token's exp claim has already passed.
var ErrTokenExpired = errors.New("bearer token expired")

// TokenClaims holds the claims the agent cares about from its own
// bearer token. The token is issued and verified by the backend; the
// agent only inspects it to fail fast before a round trip.
type TokenClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// inspectToken parses the token without verifying the signature and
// returns its claims. Returns nil for an empty or unparseable token;
// signature verification is the backend's job.
func inspectToken(token string) *TokenClaims {
	if token == "" {
		return nil
	}
	claims := &TokenClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// expired reports whether the claims carry an exp in the past.
func (c *TokenClaims) expired(now time.Time) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return now.After(c.ExpiresAt.Time)
}
