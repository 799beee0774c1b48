package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsemetrics/localpulse/internal/store"
)

// LocationStore implements store.LocationRepository using Postgres.
type LocationStore struct {
	pool Querier
}

// NewLocationStore creates a LocationStore over the provided pool.
func NewLocationStore(pool Querier) (*LocationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LocationStore{pool: pool}, nil
}

// GetLocation loads one location scoped to the tenant.
func (s *LocationStore) GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (store.Location, error) {
	query := `
		SELECT id, tenant_id, google_name, title, oauth_status, refresh_token, created_at, updated_at
		FROM locations
		WHERE tenant_id = $1 AND id = $2;
	`
	var loc store.Location
	err := s.pool.QueryRow(ctx, query, tenantID, locationID).Scan(
		&loc.ID,
		&loc.TenantID,
		&loc.GoogleName,
		&loc.Title,
		&loc.OAuthStatus,
		&loc.RefreshToken,
		&loc.CreatedAt,
		&loc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Location{}, store.ErrNotFound
		}
		return store.Location{}, fmt.Errorf("get location: %w", err)
	}
	return loc, nil
}

// ListLocations returns the tenant's locations ordered by title.
func (s *LocationStore) ListLocations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]store.Location, error) {
	query := `
		SELECT id, tenant_id, google_name, title, oauth_status, refresh_token, created_at, updated_at
		FROM locations
		WHERE tenant_id = $1
		ORDER BY title
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []store.Location
	for rows.Next() {
		var loc store.Location
		if err := rows.Scan(
			&loc.ID,
			&loc.TenantID,
			&loc.GoogleName,
			&loc.Title,
			&loc.OAuthStatus,
			&loc.RefreshToken,
			&loc.CreatedAt,
			&loc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return out, nil
}

// UpdateOAuth stores the connection status and refresh token.
func (s *LocationStore) UpdateOAuth(ctx context.Context, locationID uuid.UUID, status store.OAuthStatus, refreshToken string, at time.Time) error {
	query := `
		UPDATE locations
		SET oauth_status = $1, refresh_token = $2, updated_at = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, status, refreshToken, at, locationID)
	if err != nil {
		return fmt.Errorf("update location oauth: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
