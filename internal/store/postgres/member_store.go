package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pulsemetrics/localpulse/internal/store"
)

// MemberStore implements store.MemberRepository using Postgres.
type MemberStore struct {
	pool Querier
}

// NewMemberStore creates a MemberStore over the provided pool.
func NewMemberStore(pool Querier) (*MemberStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &MemberStore{pool: pool}, nil
}

// GetMember loads the membership row for (tenant, user).
func (s *MemberStore) GetMember(ctx context.Context, tenantID, userID uuid.UUID) (store.Member, error) {
	query := `
		SELECT tenant_id, user_id, role, created_at
		FROM members
		WHERE tenant_id = $1 AND user_id = $2;
	`
	var m store.Member
	err := s.pool.QueryRow(ctx, query, tenantID, userID).Scan(
		&m.TenantID,
		&m.UserID,
		&m.Role,
		&m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Member{}, store.ErrNotFound
		}
		return store.Member{}, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}
