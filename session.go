package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is how long an OAuth session credential stays valid.
// Unlike MCP tokens, sessions are short-lived; a client re-runs the
// consent flow when one expires.
const DefaultSessionTTL = time.Hour

const sessionIssuer = "mcp-auth-gateway"

// ErrInvalidSession covers every way a session credential can fail to
// verify; the validator folds it into the unauthenticated outcome.
var ErrInvalidSession = errors.New("invalid or expired session token")

// SessionIssuer mints and verifies the HS256-signed bearer credential
// handed to OAuth clients after a completed consent flow. Sessions are
// stateless: identity claims ride in the token, nothing is stored.
type SessionIssuer struct {
	key []byte
	ttl time.Duration
}

// NewSessionIssuer derives the signing key from the gateway master secret.
func NewSessionIssuer(secret []byte, ttl time.Duration) (*SessionIssuer, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	key, err := deriveKey(secret, "mcp-auth-gateway/oauth-session/v1")
	if err != nil {
		return nil, err
	}
	return &SessionIssuer{key: key, ttl: ttl}, nil
}

// TTL returns the configured session lifetime.
func (s *SessionIssuer) TTL() time.Duration { return s.ttl }

// Issue signs a session token for the given identity claims.
func (s *SessionIssuer) Issue(email, name string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  sessionIssuer,
		"sub":  email,
		"name": name,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, returning the identity
// claims. The email may legitimately be empty if the upstream provider
// returned none; the validator handles that case.
func (s *SessionIssuer) Verify(tokenString string) (email, name string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	}, jwt.WithIssuer(sessionIssuer))
	if err != nil || !token.Valid {
		return "", "", ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidSession
	}
	email, _ = claims["sub"].(string)
	name, _ = claims["name"].(string)
	return email, name, nil
}
