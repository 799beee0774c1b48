package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// connectStateTTL bounds how long a consent redirect may stay pending.
const connectStateTTL = 15 * time.Minute

// ConnectState binds an OAuth consent round trip to one location. It travels
// through Google's redirect as the opaque state parameter.
type ConnectState struct {
	TenantID   uuid.UUID
	LocationID uuid.UUID
}

type stateClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// IssueState signs a connect-state token for the OAuth consent flow.
func (m *Manager) IssueState(cs ConnectState, now time.Time) (string, error) {
	claims := stateClaims{
		TenantID: cs.TenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cs.LocationID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(connectStateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign connect state: %w", err)
	}
	return signed, nil
}

// VerifyState parses and validates a connect-state token.
func (m *Manager) VerifyState(tokenString string) (ConnectState, error) {
	if tokenString == "" {
		return ConnectState{}, ErrInvalidSession
	}
	var claims stateClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return ConnectState{}, ErrInvalidSession
	}
	locationID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ConnectState{}, ErrInvalidSession
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return ConnectState{}, ErrInvalidSession
	}
	return ConnectState{TenantID: tenantID, LocationID: locationID}, nil
}
