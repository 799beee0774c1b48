// Package auth implements session token issuing and verification.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidSession signals a missing, malformed, expired or badly signed token.
var ErrInvalidSession = errors.New("invalid session")

// Session identifies an authenticated dashboard user within one tenant.
type Session struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	// Role is the membership role claimed by the token. Handlers still verify
	// it against the members table; the claim only scopes the session.
	Role string
}

type sessionClaims struct {
	TenantID string `json:"tid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	key []byte
	ttl time.Duration
}

// NewManager creates a Manager with the given signing key and session TTL.
func NewManager(signingKey string, ttl time.Duration) (*Manager, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("session signing key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be > 0")
	}
	return &Manager{key: []byte(signingKey), ttl: ttl}, nil
}

// Issue creates a signed token for the session.
func (m *Manager) Issue(s Session, now time.Time) (string, error) {
	claims := sessionClaims{
		TenantID: s.TenantID.String(),
		Role:     s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the embedded session.
func (m *Manager) Verify(tokenString string) (Session, error) {
	if tokenString == "" {
		return Session{}, ErrInvalidSession
	}
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Session{}, ErrInvalidSession
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Session{}, ErrInvalidSession
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Session{}, ErrInvalidSession
	}
	return Session{UserID: userID, TenantID: tenantID, Role: claims.Role}, nil
}

type sessionKey struct{}

// WithSession stores the session in the context.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext retrieves the session placed by the auth middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
