// Package token issues and verifies the short-lived access tokens the
// engine returns next to a refresh token.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer and Audience are fixed for the whole deployment; verification
// rejects anything else.
const (
	Issuer   = "authcore"
	Audience = "coverdesk"
)

var (
	// ErrTokenInvalid covers every parse/verify failure. Callers never
	// learn whether the signature, issuer, audience, or expiry was the
	// problem.
	ErrTokenInvalid = errors.New("token: invalid access token")
)

// Claims is the access-token payload. Permissions carry the flattened
// "resource:action:scope" strings.
type Claims struct {
	Email       string   `json:"email"`
	Org         string   `json:"org"`
	Role        string   `json:"role"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens with a symmetric key.
type Manager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewManager validates the key and TTL up front so a misconfigured
// deployment fails at startup, not on the first login.
func NewManager(key []byte, ttl time.Duration, now func() time.Time) (*Manager, error) {
	if len(key) < 32 {
		return nil, errors.New("token: signing key must be at least 256 bits")
	}
	if ttl <= 0 || ttl > time.Hour {
		return nil, errors.New("token: access TTL must be in (0, 1h]")
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{key: key, ttl: ttl, now: now}, nil
}

// Issue signs a token for the subject with the given jti.
func (m *Manager) Issue(subject, email, org, role string, permissions []string, jti string) (string, error) {
	issuedAt := m.now()
	claims := Claims{
		Email:       email,
		Org:         org,
		Role:        role,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

// Verify parses tokenStr and returns its claims, or ErrTokenInvalid.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// TTL exposes the configured access-token lifetime for cookie Max-Age.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
