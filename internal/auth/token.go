package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "blurcast"

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrForeignSession = errors.New("token was issued for another pipeline session")
	ErrUnknownScope   = errors.New("unknown scope")
)

// Scope is one thing a token holder may do with the pipeline
type Scope string

const (
	// ScopeView allows watching the outbound preview and reading status
	ScopeView Scope = "preview:view"
	// ScopeToggle allows turning blur on and off
	ScopeToggle Scope = "blur:toggle"
)

// AllScopes is what a full login grants
var AllScopes = []Scope{ScopeView, ScopeToggle}

// ParseScope validates a scope name
func ParseScope(name string) (Scope, error) {
	s := Scope(name)
	if !slices.Contains(AllScopes, s) {
		return "", fmt.Errorf("%w %q", ErrUnknownScope, name)
	}
	return s, nil
}

// Claims carry the subject, the pipeline session the token is bound to and
// the granted scopes
type Claims struct {
	Session string  `json:"sid"`
	Scopes  []Scope `json:"scp"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants scope
func (c *Claims) Allows(scope Scope) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// sessionTokens signs and verifies tokens bound to one pipeline session, so
// tokens from an earlier run stop working even with a fixed secret
type sessionTokens struct {
	key     []byte
	ttl     time.Duration
	session string
	now     func() time.Time
}

func newSessionTokens(secret string, ttl time.Duration, session string) (*sessionTokens, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &sessionTokens{key: key, ttl: ttl, session: session, now: time.Now}, nil
}

func (t *sessionTokens) issue(subject string, scopes []Scope) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := &Claims{
		Session: t.session,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *sessionTokens) verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case claims.Session != t.session:
		return nil, ErrForeignSession
	}
	return claims, nil
}
