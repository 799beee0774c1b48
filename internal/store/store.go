package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Role describes what a member may do inside a tenant.
type Role string

// Membership roles persisted in members.role.
const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanManageLocations reports whether the role may trigger syncs and connect
// locations. Members are read-only.
func (r Role) CanManageLocations() bool {
	return r == RoleOwner || r == RoleAdmin
}

// OAuthStatus tracks whether a location has completed Google authorization.
type OAuthStatus string

// OAuth connection states persisted in locations.oauth_status.
const (
	OAuthPending   OAuthStatus = "pending"
	OAuthConnected OAuthStatus = "connected"
	OAuthRevoked   OAuthStatus = "revoked"
)

// Tenant scopes dashboard data to one customer organization.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Member links a user to a tenant with a role.
type Member struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	Role      Role
	CreatedAt time.Time
}

// Location models a connected Google Business Profile listing.
type Location struct {
	ID uuid.UUID
	// TenantID is the owning customer organization.
	TenantID uuid.UUID
	// GoogleName is the resource name in the Business Profile API
	// (e.g. locations/1234567890).
	GoogleName string
	// Title is the listing's display name.
	Title       string
	OAuthStatus OAuthStatus
	// RefreshToken is empty until the OAuth callback completes.
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SyncRunStatus mirrors the sync_runs status column.
type SyncRunStatus string

// Sync run statuses persisted in sync_runs.status.
const (
	SyncRunning SyncRunStatus = "running"
	SyncSuccess SyncRunStatus = "success"
	SyncError   SyncRunStatus = "error"
)

// SyncRun records one execution of the location sync pipeline.
type SyncRun struct {
	ID         uuid.UUID
	LocationID uuid.UUID
	StartedAt  time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	Status     SyncRunStatus
	// MetricRows and ReviewRows count persisted rows for the run.
	MetricRows int64
	ReviewRows int64
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// MetricRow is one day of insight data for a location.
type MetricRow struct {
	LocationID uuid.UUID
	Day        time.Time
	// Metric is the insight name (e.g. CALL_CLICKS, WEBSITE_CLICKS).
	Metric string
	Value  int64
}

// Review is one customer review attached to a location.
type Review struct {
	LocationID uuid.UUID
	// GoogleID is the review resource name, used as the upsert key.
	GoogleID  string
	Rating    int
	Comment   string
	Author    string
	CreatedAt time.Time
}

// MemberRepository resolves tenant membership for authorization checks.
type MemberRepository interface {
	// GetMember loads the membership row or returns ErrNotFound.
	GetMember(ctx context.Context, tenantID, userID uuid.UUID) (Member, error)
}

// LocationRepository persists Business Profile locations.
type LocationRepository interface {
	// GetLocation loads a location by ID within a tenant or returns ErrNotFound.
	GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (Location, error)
	// ListLocations returns the tenant's locations ordered by title.
	ListLocations(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Location, error)
	// UpdateOAuth stores the connection status and refresh token after the
	// callback completes or a revocation is observed.
	UpdateOAuth(ctx context.Context, locationID uuid.UUID, status OAuthStatus, refreshToken string, at time.Time) error
}

// SyncRepository persists sync runs and their fetched rows.
type SyncRepository interface {
	// CreateRun inserts a running sync_runs row.
	CreateRun(ctx context.Context, run SyncRun) error
	// CompleteRun marks the run finished with counters and optional error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status SyncRunStatus, metricRows, reviewRows int64, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (SyncRun, error)
	// UpsertMetrics applies daily metric rows keyed on (location, day, metric).
	UpsertMetrics(ctx context.Context, rows []MetricRow) error
	// UpsertReviews applies review rows keyed on (location, google_id).
	UpsertReviews(ctx context.Context, rows []Review) error
	// ListMetrics returns recent metric rows for a location, newest first.
	ListMetrics(ctx context.Context, locationID uuid.UUID, since time.Time, limit int) ([]MetricRow, error)
}
