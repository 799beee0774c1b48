package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/metrics"
	"github.com/pulsemetrics/localpulse/internal/progress"
	"github.com/pulsemetrics/localpulse/internal/publisher/memory"
	"github.com/pulsemetrics/localpulse/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixedIDs struct {
	id uuid.UUID
}

func (g fixedIDs) NewRawID() (uuid.UUID, error) {
	return g.id, nil
}

type fakeProfile struct {
	refreshErr error
	metricsErr error
	reviewsErr error
	daily      []gbp.DailyMetric
	reviews    []gbp.Review

	refreshedWith string
}

func (f *fakeProfile) Refresh(_ context.Context, refreshToken string) (gbp.Token, error) {
	f.refreshedWith = refreshToken
	if f.refreshErr != nil {
		return gbp.Token{}, f.refreshErr
	}
	return gbp.Token{AccessToken: "at", RefreshToken: refreshToken}, nil
}

func (f *fakeProfile) FetchDailyMetrics(context.Context, string, string, time.Time) ([]gbp.DailyMetric, error) {
	if f.metricsErr != nil {
		return nil, f.metricsErr
	}
	return f.daily, nil
}

func (f *fakeProfile) FetchReviews(context.Context, string, string) ([]gbp.Review, error) {
	if f.reviewsErr != nil {
		return nil, f.reviewsErr
	}
	return f.reviews, nil
}

type fakeSyncRepo struct {
	created   []store.SyncRun
	completed []completeCall
	metrics   []store.MetricRow
	reviews   []store.Review

	createErr   error
	completeErr error
	upsertErr   error
}

type completeCall struct {
	runID      uuid.UUID
	status     store.SyncRunStatus
	metricRows int64
	reviewRows int64
	errMsg     *string
}

func (r *fakeSyncRepo) CreateRun(_ context.Context, run store.SyncRun) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, run)
	return nil
}

func (r *fakeSyncRepo) CompleteRun(_ context.Context, runID uuid.UUID, _ time.Time, status store.SyncRunStatus, metricRows, reviewRows int64, errMsg *string) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	r.completed = append(r.completed, completeCall{runID, status, metricRows, reviewRows, errMsg})
	return nil
}

func (r *fakeSyncRepo) GetRun(context.Context, uuid.UUID) (store.SyncRun, error) {
	return store.SyncRun{}, store.ErrNotFound
}

func (r *fakeSyncRepo) UpsertMetrics(_ context.Context, rows []store.MetricRow) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.metrics = append(r.metrics, rows...)
	return nil
}

func (r *fakeSyncRepo) UpsertReviews(_ context.Context, rows []store.Review) error {
	r.reviews = append(r.reviews, rows...)
	return nil
}

func (r *fakeSyncRepo) ListMetrics(context.Context, uuid.UUID, time.Time, int) ([]store.MetricRow, error) {
	return nil, nil
}

type captureEmitter struct {
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.events = append(c.events, evt)
}

func connectedLocation() store.Location {
	return store.Location{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		GoogleName:   "locations/123",
		Title:        "Downtown Cafe",
		OAuthStatus:  store.OAuthConnected,
		RefreshToken: "stored-rt",
	}
}

func newTestEngine(repo *fakeSyncRepo, profile *fakeProfile, pub *memory.Publisher, emitter *captureEmitter) *Engine {
	return NewEngine(Options{
		Syncs:     repo,
		Profile:   profile,
		Publisher: pub,
		Emitter:   emitter,
		Clock:     &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)},
		IDs:       fixedIDs{id: uuid.MustParse("11111111-2222-3333-4444-555555555555")},
	})
}

func TestSyncLocationHappyPath(t *testing.T) {
	t.Parallel()

	profile := &fakeProfile{
		daily: []gbp.DailyMetric{
			{Day: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC), Metric: "CALL_CLICKS", Value: 4},
			{Day: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC), Metric: "CALL_CLICKS", Value: 7},
		},
		reviews: []gbp.Review{
			{GoogleID: "r1", Rating: 5, Author: "Pat", CreatedAt: time.Now().UTC()},
		},
	}
	repo := &fakeSyncRepo{}
	pub := memory.New()
	emitter := &captureEmitter{}
	engine := newTestEngine(repo, profile, pub, emitter)

	loc := connectedLocation()
	run, err := engine.SyncLocation(context.Background(), loc)
	require.NoError(t, err)

	assert.Equal(t, store.SyncSuccess, run.Status)
	assert.Equal(t, int64(2), run.MetricRows)
	assert.Equal(t, int64(1), run.ReviewRows)
	assert.Equal(t, "stored-rt", profile.refreshedWith)

	require.Len(t, repo.created, 1)
	assert.Equal(t, store.SyncRunning, repo.created[0].Status)
	require.Len(t, repo.completed, 1)
	assert.Equal(t, store.SyncSuccess, repo.completed[0].status)
	assert.Nil(t, repo.completed[0].errMsg)
	assert.Len(t, repo.metrics, 2)
	assert.Equal(t, loc.ID, repo.metrics[0].LocationID)
	assert.Len(t, repo.reviews, 1)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, CompletedTopic, msgs[0].Topic)
	payload, ok := msgs[0].Payload.(CompletedMessage)
	require.True(t, ok)
	assert.Equal(t, "success", payload.Status)

	var stages []progress.Stage
	for _, evt := range emitter.events {
		stages = append(stages, evt.Stage)
	}
	assert.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageFetch,
		progress.StageFetch,
		progress.StageRunDone,
	}, stages)
}

func TestSyncLocationRejectsUnconnectedLocation(t *testing.T) {
	t.Parallel()

	repo := &fakeSyncRepo{}
	engine := newTestEngine(repo, &fakeProfile{}, memory.New(), &captureEmitter{})

	loc := connectedLocation()
	loc.OAuthStatus = store.OAuthPending
	_, err := engine.SyncLocation(context.Background(), loc)
	require.Error(t, err)
	assert.Empty(t, repo.created)
}

func TestSyncLocationRecordsRefreshFailure(t *testing.T) {
	t.Parallel()

	refreshErr := errors.New("invalid_grant")
	repo := &fakeSyncRepo{}
	emitter := &captureEmitter{}
	engine := newTestEngine(repo, &fakeProfile{refreshErr: refreshErr}, memory.New(), emitter)

	run, err := engine.SyncLocation(context.Background(), connectedLocation())
	require.Error(t, err)

	assert.Equal(t, store.SyncError, run.Status)
	require.Len(t, repo.completed, 1)
	assert.Equal(t, store.SyncError, repo.completed[0].status)
	require.NotNil(t, repo.completed[0].errMsg)
	assert.Contains(t, *repo.completed[0].errMsg, "invalid_grant")

	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, progress.StageRunError, last.Stage)
}

func TestSyncLocationKeepsMetricCountWhenReviewsFail(t *testing.T) {
	t.Parallel()

	profile := &fakeProfile{
		daily:      []gbp.DailyMetric{{Day: time.Now().UTC(), Metric: "CALL_CLICKS", Value: 1}},
		reviewsErr: errors.New("reviews unavailable"),
	}
	repo := &fakeSyncRepo{}
	engine := newTestEngine(repo, profile, memory.New(), &captureEmitter{})

	run, err := engine.SyncLocation(context.Background(), connectedLocation())
	require.Error(t, err)
	assert.Equal(t, int64(1), run.MetricRows)
	assert.Equal(t, int64(0), run.ReviewRows)
	require.Len(t, repo.completed, 1)
	assert.Equal(t, int64(1), repo.completed[0].metricRows)
}

func TestSyncLocationCreateRunFailureStopsEarly(t *testing.T) {
	t.Parallel()

	repo := &fakeSyncRepo{createErr: errors.New("db down")}
	profile := &fakeProfile{}
	engine := newTestEngine(repo, profile, memory.New(), &captureEmitter{})

	_, err := engine.SyncLocation(context.Background(), connectedLocation())
	require.Error(t, err)
	assert.Empty(t, profile.refreshedWith)
	assert.Empty(t, repo.completed)
}

func TestSyncLocationPublishesErrorStatus(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	repo := &fakeSyncRepo{}
	engine := newTestEngine(repo, &fakeProfile{metricsErr: errors.New("api 500")}, pub, &captureEmitter{})

	_, err := engine.SyncLocation(context.Background(), connectedLocation())
	require.Error(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(CompletedMessage)
	require.True(t, ok)
	assert.Equal(t, "error", payload.Status)
}
