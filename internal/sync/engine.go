// Package sync pulls performance metrics and reviews from the Business
// Profile API and persists them, recording each execution as a sync run.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/metrics"
	"github.com/pulsemetrics/localpulse/internal/progress"
	"github.com/pulsemetrics/localpulse/internal/publisher"
	"github.com/pulsemetrics/localpulse/internal/store"
)

// DefaultLookback bounds how far back daily metrics are requested.
const DefaultLookback = 30 * 24 * time.Hour

// CompletedTopic receives one message per finished sync run.
const CompletedTopic = "sync.completed"

// ProfileClient is the slice of the Business Profile client the engine needs.
type ProfileClient interface {
	Refresh(ctx context.Context, refreshToken string) (gbp.Token, error)
	FetchDailyMetrics(ctx context.Context, accessToken, googleName string, since time.Time) ([]gbp.DailyMetric, error)
	FetchReviews(ctx context.Context, accessToken, googleName string) ([]gbp.Review, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Engine runs the sync pipeline for one location at a time.
type Engine struct {
	syncs    store.SyncRepository
	profile  ProfileClient
	pub      publisher.Publisher
	emitter  progress.Emitter
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger
	lookback time.Duration
}

// Options wires the engine's collaborators. Publisher and Emitter are
// optional; a nil value disables that output.
type Options struct {
	Syncs     store.SyncRepository
	Profile   ProfileClient
	Publisher publisher.Publisher
	Emitter   progress.Emitter
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
	Lookback  time.Duration
}

// NewEngine builds an Engine from Options.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	return &Engine{
		syncs:    opts.Syncs,
		profile:  opts.Profile,
		pub:      opts.Publisher,
		emitter:  opts.Emitter,
		clock:    opts.Clock,
		ids:      opts.IDs,
		logger:   opts.Logger,
		lookback: opts.Lookback,
	}
}

// CompletedMessage is the payload published when a run finishes.
type CompletedMessage struct {
	RunID      string `json:"run_id"`
	LocationID string `json:"location_id"`
	Status     string `json:"status"`
	MetricRows int64  `json:"metric_rows"`
	ReviewRows int64  `json:"review_rows"`
	FinishedAt string `json:"finished_at"`
}

// SyncLocation executes one sync run for the given location: refresh the
// access token, fetch daily metrics and reviews, upsert both, and finalize
// the run row. The returned SyncRun reflects the final state even on error.
func (e *Engine) SyncLocation(ctx context.Context, loc store.Location) (store.SyncRun, error) {
	if loc.OAuthStatus != store.OAuthConnected {
		return store.SyncRun{}, fmt.Errorf("location %s is not connected (status %s)", loc.ID, loc.OAuthStatus)
	}

	runID, err := e.ids.NewRawID()
	if err != nil {
		return store.SyncRun{}, fmt.Errorf("mint run id: %w", err)
	}

	startedAt := e.clock.Now()
	run := store.SyncRun{
		ID:         runID,
		LocationID: loc.ID,
		StartedAt:  startedAt,
		Status:     store.SyncRunning,
	}
	if err := e.syncs.CreateRun(ctx, run); err != nil {
		return store.SyncRun{}, fmt.Errorf("create sync run: %w", err)
	}
	e.emit(progress.Event{
		RunID:      progress.UUIDToBytes(runID),
		LocationID: progress.UUIDToBytes(loc.ID),
		TS:         startedAt,
		Stage:      progress.StageRunStart,
	})

	metricRows, reviewRows, syncErr := e.collect(ctx, runID, loc)
	finishedAt := e.clock.Now()
	run.FinishedAt = &finishedAt
	run.MetricRows = metricRows
	run.ReviewRows = reviewRows

	if syncErr != nil {
		msg := syncErr.Error()
		run.Status = store.SyncError
		run.ErrorMessage = &msg
		if err := e.syncs.CompleteRun(ctx, runID, finishedAt, store.SyncError, metricRows, reviewRows, &msg); err != nil {
			e.logger.Error("finalize failed sync run", zap.String("run_id", runID.String()), zap.Error(err))
		}
		e.finish(ctx, run, progress.StageRunError, finishedAt.Sub(startedAt), msg)
		return run, syncErr
	}

	run.Status = store.SyncSuccess
	if err := e.syncs.CompleteRun(ctx, runID, finishedAt, store.SyncSuccess, metricRows, reviewRows, nil); err != nil {
		return run, fmt.Errorf("finalize sync run: %w", err)
	}
	e.finish(ctx, run, progress.StageRunDone, finishedAt.Sub(startedAt), "")
	return run, nil
}

func (e *Engine) collect(ctx context.Context, runID uuid.UUID, loc store.Location) (metricRows, reviewRows int64, err error) {
	token, err := e.profile.Refresh(ctx, loc.RefreshToken)
	if err != nil {
		return 0, 0, fmt.Errorf("refresh access token: %w", err)
	}

	since := e.clock.Now().Add(-e.lookback)

	fetchStart := e.clock.Now()
	daily, err := e.profile.FetchDailyMetrics(ctx, token.AccessToken, loc.GoogleName, since)
	if err != nil {
		return 0, 0, err
	}
	rows := make([]store.MetricRow, 0, len(daily))
	for _, d := range daily {
		rows = append(rows, store.MetricRow{
			LocationID: loc.ID,
			Day:        d.Day,
			Metric:     d.Metric,
			Value:      int64(d.Value),
		})
	}
	if err := e.syncs.UpsertMetrics(ctx, rows); err != nil {
		return 0, 0, fmt.Errorf("upsert metrics: %w", err)
	}
	metricRows = int64(len(rows))
	metrics.ObserveSyncRows("metrics", metricRows)
	e.emit(progress.Event{
		RunID:      progress.UUIDToBytes(runID),
		LocationID: progress.UUIDToBytes(loc.ID),
		TS:         e.clock.Now(),
		Stage:      progress.StageFetch,
		Kind:       "metrics",
		Rows:       metricRows,
		Dur:        e.clock.Now().Sub(fetchStart),
	})

	fetchStart = e.clock.Now()
	reviews, err := e.profile.FetchReviews(ctx, token.AccessToken, loc.GoogleName)
	if err != nil {
		return metricRows, 0, err
	}
	reviewStoreRows := make([]store.Review, 0, len(reviews))
	for _, r := range reviews {
		reviewStoreRows = append(reviewStoreRows, store.Review{
			LocationID: loc.ID,
			GoogleID:   r.GoogleID,
			Rating:     r.Rating,
			Comment:    r.Comment,
			Author:     r.Author,
			CreatedAt:  r.CreatedAt,
		})
	}
	if err := e.syncs.UpsertReviews(ctx, reviewStoreRows); err != nil {
		return metricRows, 0, fmt.Errorf("upsert reviews: %w", err)
	}
	reviewRows = int64(len(reviewStoreRows))
	metrics.ObserveSyncRows("reviews", reviewRows)
	e.emit(progress.Event{
		RunID:      progress.UUIDToBytes(runID),
		LocationID: progress.UUIDToBytes(loc.ID),
		TS:         e.clock.Now(),
		Stage:      progress.StageFetch,
		Kind:       "reviews",
		Rows:       reviewRows,
		Dur:        e.clock.Now().Sub(fetchStart),
	})

	return metricRows, reviewRows, nil
}

func (e *Engine) finish(ctx context.Context, run store.SyncRun, stage progress.Stage, dur time.Duration, note string) {
	metrics.ObserveSyncRun(string(run.Status))
	e.emit(progress.Event{
		RunID:      progress.UUIDToBytes(run.ID),
		LocationID: progress.UUIDToBytes(run.LocationID),
		TS:         e.clock.Now(),
		Stage:      stage,
		Dur:        dur,
		Note:       note,
	})
	if e.pub == nil {
		return
	}
	msg := CompletedMessage{
		RunID:      run.ID.String(),
		LocationID: run.LocationID.String(),
		Status:     string(run.Status),
		MetricRows: run.MetricRows,
		ReviewRows: run.ReviewRows,
	}
	if run.FinishedAt != nil {
		msg.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	if _, err := e.pub.Publish(ctx, CompletedTopic, msg); err != nil {
		e.logger.Warn("publish sync completion", zap.String("run_id", msg.RunID), zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}
