// Package session issues and verifies the signed, time-limited tokens the
// extension presents on every backend call. Tokens are HS256 JWTs and are
// never stored server-side.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultIssuer = "web-clipper"

	tokenType = "session"
)

var (
	ErrSecretNotConfigured = errors.New("session signing secret is not configured")
	ErrInvalidToken        = errors.New("invalid session token")
	ErrExpired             = errors.New("session token expired")
)

// Claims is the payload of a session token. Subject carries the member email.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with a shared secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithIssuer overrides DefaultIssuer.
func WithIssuer(issuer string) Option {
	return func(m *Manager) { m.issuer = issuer }
}

// WithClock overrides the time source for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. An empty secret is accepted here; Issue and
// Verify report ErrSecretNotConfigured until a secret is supplied.
func NewManager(secret string, opts ...Option) *Manager {
	m := &Manager{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the lifetime given to newly issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Configured reports whether a signing secret is present.
func (m *Manager) Configured() bool {
	return len(m.secret) > 0
}

// Issue returns a signed token for subject along with its lifetime in seconds.
func (m *Manager) Issue(subject string) (string, int64, error) {
	if !m.Configured() {
		return "", 0, ErrSecretNotConfigured
	}

	now := m.now()
	claims := Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, int64(m.ttl.Seconds()), nil
}

// Verify checks the signature, algorithm, issuer and expiry of token and
// returns its subject. A token is rejected once now reaches its expiry.
// Segments must be canonical base64 so that no two encodings share a signature.
func (m *Manager) Verify(token string) (string, error) {
	if !m.Configured() {
		return "", ErrSecretNotConfigured
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Type != tokenType || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
