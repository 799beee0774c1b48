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

// SyncStore implements store.SyncRepository using Postgres.
type SyncStore struct {
	pool Querier
}

// NewSyncStore creates a SyncStore over the provided pool.
func NewSyncStore(pool Querier) (*SyncStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SyncStore{pool: pool}, nil
}

// CreateRun inserts a running sync_runs row.
func (s *SyncStore) CreateRun(ctx context.Context, run store.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, location_id, started_at, status)
		VALUES ($1, $2, $3, $4);
	`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.LocationID, run.StartedAt, run.Status); err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with counters and optional error.
func (s *SyncStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.SyncRunStatus,
	metricRows, reviewRows int64,
	errMsg *string,
) error {
	query := `
		UPDATE sync_runs
		SET finished_at = $1, status = $2, metric_rows = $3, review_rows = $4, error_message = $5
		WHERE id = $6;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, metricRows, reviewRows, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads a single sync run.
func (s *SyncStore) GetRun(ctx context.Context, runID uuid.UUID) (store.SyncRun, error) {
	query := `
		SELECT id, location_id, started_at, finished_at, status, metric_rows, review_rows, error_message
		FROM sync_runs
		WHERE id = $1;
	`
	var run store.SyncRun
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.LocationID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.MetricRows,
		&run.ReviewRows,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SyncRun{}, store.ErrNotFound
		}
		return store.SyncRun{}, fmt.Errorf("get sync run: %w", err)
	}
	return run, nil
}

// UpsertMetrics applies daily metric rows keyed on (location, day, metric).
func (s *SyncStore) UpsertMetrics(ctx context.Context, rows []store.MetricRow) error {
	query := `
		INSERT INTO location_metrics (location_id, day, metric, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, day, metric) DO UPDATE
		SET value = EXCLUDED.value;
	`
	for _, row := range rows {
		if _, err := s.pool.Exec(ctx, query, row.LocationID, row.Day, row.Metric, row.Value); err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", row.Metric, row.Day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// UpsertReviews applies review rows keyed on (location, google_id).
func (s *SyncStore) UpsertReviews(ctx context.Context, rows []store.Review) error {
	query := `
		INSERT INTO location_reviews (location_id, google_id, rating, comment, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_id, google_id) DO UPDATE
		SET rating = EXCLUDED.rating, comment = EXCLUDED.comment;
	`
	for _, row := range rows {
		if _, err := s.pool.Exec(ctx, query, row.LocationID, row.GoogleID, row.Rating, row.Comment, row.Author, row.CreatedAt); err != nil {
			return fmt.Errorf("upsert review %s: %w", row.GoogleID, err)
		}
	}
	return nil
}

// ListMetrics returns recent metric rows for a location, newest first.
func (s *SyncStore) ListMetrics(ctx context.Context, locationID uuid.UUID, since time.Time, limit int) ([]store.MetricRow, error) {
	query := `
		SELECT location_id, day, metric, value
		FROM location_metrics
		WHERE location_id = $1 AND day >= $2
		ORDER BY day DESC, metric
		LIMIT $3;
	`
	rows, err := s.pool.Query(ctx, query, locationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	defer rows.Close()

	var out []store.MetricRow
	for rows.Next() {
		var row store.MetricRow
		if err := rows.Scan(&row.LocationID, &row.Day, &row.Metric, &row.Value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return out, nil
}
