package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemetrics/localpulse/internal/auth"
	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/metrics"
	"github.com/pulsemetrics/localpulse/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type mockMembers struct {
	members map[string]store.Member
}

func memberKey(tenantID, userID uuid.UUID) string {
	return tenantID.String() + "/" + userID.String()
}

func (m *mockMembers) GetMember(_ context.Context, tenantID, userID uuid.UUID) (store.Member, error) {
	member, ok := m.members[memberKey(tenantID, userID)]
	if !ok {
		return store.Member{}, store.ErrNotFound
	}
	return member, nil
}

type mockLocations struct {
	locations map[uuid.UUID]store.Location
	updated   []oauthUpdate
	listErr   error
}

type oauthUpdate struct {
	locationID   uuid.UUID
	status       store.OAuthStatus
	refreshToken string
}

func (m *mockLocations) GetLocation(_ context.Context, tenantID, locationID uuid.UUID) (store.Location, error) {
	loc, ok := m.locations[locationID]
	if !ok || loc.TenantID != tenantID {
		return store.Location{}, store.ErrNotFound
	}
	return loc, nil
}

func (m *mockLocations) ListLocations(_ context.Context, tenantID uuid.UUID, _, _ int) ([]store.Location, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.Location
	for _, loc := range m.locations {
		if loc.TenantID == tenantID {
			out = append(out, loc)
		}
	}
	return out, nil
}

func (m *mockLocations) UpdateOAuth(_ context.Context, locationID uuid.UUID, status store.OAuthStatus, refreshToken string, _ time.Time) error {
	if _, ok := m.locations[locationID]; !ok {
		return store.ErrNotFound
	}
	m.updated = append(m.updated, oauthUpdate{locationID, status, refreshToken})
	return nil
}

type mockSyncs struct {
	metrics    []store.MetricRow
	metricsErr error
}

func (m *mockSyncs) CreateRun(context.Context, store.SyncRun) error { return nil }
func (m *mockSyncs) CompleteRun(context.Context, uuid.UUID, time.Time, store.SyncRunStatus, int64, int64, *string) error {
	return nil
}
func (m *mockSyncs) GetRun(context.Context, uuid.UUID) (store.SyncRun, error) {
	return store.SyncRun{}, store.ErrNotFound
}
func (m *mockSyncs) UpsertMetrics(context.Context, []store.MetricRow) error { return nil }
func (m *mockSyncs) UpsertReviews(context.Context, []store.Review) error    { return nil }
func (m *mockSyncs) ListMetrics(context.Context, uuid.UUID, time.Time, int) ([]store.MetricRow, error) {
	if m.metricsErr != nil {
		return nil, m.metricsErr
	}
	return m.metrics, nil
}

type mockEngine struct {
	run store.SyncRun
	err error
}

func (m *mockEngine) SyncLocation(_ context.Context, loc store.Location) (store.SyncRun, error) {
	if m.err != nil {
		return store.SyncRun{}, m.err
	}
	run := m.run
	run.LocationID = loc.ID
	return run, nil
}

type mockOAuth struct {
	exchangeErr error
	token       gbp.Token
}

func (m *mockOAuth) ConsentURL(state string) (string, error) {
	return "https://accounts.example.com/consent?state=" + url.QueryEscape(state), nil
}

func (m *mockOAuth) ExchangeCode(context.Context, string) (gbp.Token, error) {
	if m.exchangeErr != nil {
		return gbp.Token{}, m.exchangeErr
	}
	return m.token, nil
}

type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

type fixture struct {
	server    *Server
	sessions  *auth.Manager
	members   *mockMembers
	locations *mockLocations
	syncs     *mockSyncs
	engine    *mockEngine
	oauth     *mockOAuth

	tenantID    uuid.UUID
	ownerID     uuid.UUID
	memberID    uuid.UUID
	locationID  uuid.UUID
	pendingID   uuid.UUID
	clockAt     time.Time
	readyErr    error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sessions, err := auth.NewManager("test-signing-key", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		sessions:   sessions,
		tenantID:   uuid.New(),
		ownerID:    uuid.New(),
		memberID:   uuid.New(),
		locationID: uuid.New(),
		pendingID:  uuid.New(),
		clockAt:    time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}

	f.members = &mockMembers{members: map[string]store.Member{
		memberKey(f.tenantID, f.ownerID):  {TenantID: f.tenantID, UserID: f.ownerID, Role: store.RoleOwner},
		memberKey(f.tenantID, f.memberID): {TenantID: f.tenantID, UserID: f.memberID, Role: store.RoleMember},
	}}
	f.locations = &mockLocations{locations: map[uuid.UUID]store.Location{
		f.locationID: {
			ID:           f.locationID,
			TenantID:     f.tenantID,
			GoogleName:   "locations/123",
			Title:        "Downtown Cafe",
			OAuthStatus:  store.OAuthConnected,
			RefreshToken: "rt",
			CreatedAt:    f.clockAt,
			UpdatedAt:    f.clockAt,
		},
		f.pendingID: {
			ID:          f.pendingID,
			TenantID:    f.tenantID,
			GoogleName:  "locations/456",
			Title:       "Uptown Cafe",
			OAuthStatus: store.OAuthPending,
			CreatedAt:   f.clockAt,
			UpdatedAt:   f.clockAt,
		},
	}}
	f.syncs = &mockSyncs{metrics: []store.MetricRow{
		{LocationID: f.locationID, Day: f.clockAt.AddDate(0, 0, -1), Metric: "CALL_CLICKS", Value: 7},
	}}
	finished := f.clockAt.Add(5 * time.Second)
	f.engine = &mockEngine{run: store.SyncRun{
		ID:         uuid.New(),
		StartedAt:  f.clockAt,
		FinishedAt: &finished,
		Status:     store.SyncSuccess,
		MetricRows: 60,
		ReviewRows: 4,
	}}
	f.oauth = &mockOAuth{token: gbp.Token{AccessToken: "at", RefreshToken: "new-rt"}}

	f.server = NewServer(Options{
		Members:   f.members,
		Locations: f.locations,
		Syncs:     f.syncs,
		Engine:    f.engine,
		OAuth:     f.oauth,
		Sessions:  sessions,
		Clock:     frozenClock{at: f.clockAt},
		Ready: func(context.Context) error {
			return f.readyErr
		},
	})
	return f
}

func (f *fixture) token(t *testing.T, userID uuid.UUID, role store.Role) string {
	t.Helper()
	token, err := f.sessions.Issue(auth.Session{
		UserID:   userID,
		TenantID: f.tenantID,
		Role:     string(role),
	}, f.clockAt)
	require.NoError(t, err)
	return token
}

type responseEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) (*httptest.ResponseRecorder, responseEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func assertFailure(t *testing.T, rec *httptest.ResponseRecorder, env responseEnvelope, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, code, env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)
}

func TestSyncLocationRequiresSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync", "", map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")

	rec, env = f.do(t, http.MethodPost, "/api/v1/locations/sync", "bogus.token.here", map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestSyncLocationForbidsMemberRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, f.memberID, store.RoleMember),
		map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusForbidden, "FORBIDDEN")
}

func TestSyncLocationForbidsNonMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, uuid.New(), store.RoleOwner),
		map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusForbidden, "FORBIDDEN")
}

func TestSyncLocationValidatesBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	token := f.token(t, f.ownerID, store.RoleOwner)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync", token, map[string]string{})
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")

	rec, env = f.do(t, http.MethodPost, "/api/v1/locations/sync", token, map[string]string{"locationId": "not-a-uuid"})
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")
}

func TestSyncLocationUnknownLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": uuid.NewString()})
	assertFailure(t, rec, env, http.StatusNotFound, "NOT_FOUND")
}

func TestSyncLocationRejectsUnconnected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": f.pendingID.String()})
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")
}

func TestSyncLocationSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": f.locationID.String()})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	var payload syncRunPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, f.engine.run.ID.String(), payload.RunID)
	assert.Equal(t, f.locationID.String(), payload.LocationID)
	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, int64(60), payload.MetricRows)
	assert.Equal(t, int64(4), payload.ReviewRows)
	assert.NotEmpty(t, payload.FinishedAt)
}

func TestSyncLocationEngineFailureIsInternal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.engine.err = errors.New("gbp api down")

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/sync",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusInternalServerError, "INTERNAL")
	assert.Equal(t, "internal error", env.Error.Message, "internal causes must not leak")
}

func TestConnectLocationRequiresSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/connect", "", map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestConnectLocationForbidsMemberRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/connect",
		f.token(t, f.memberID, store.RoleMember),
		map[string]string{"locationId": f.locationID.String()})
	assertFailure(t, rec, env, http.StatusForbidden, "FORBIDDEN")
}

func TestConnectLocationValidatesBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/connect",
		f.token(t, f.ownerID, store.RoleOwner), map[string]string{})
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")
}

func TestConnectLocationUnknownLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/connect",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": uuid.NewString()})
	assertFailure(t, rec, env, http.StatusNotFound, "NOT_FOUND")
}

func TestConnectLocationReturnsConsentURL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/locations/connect",
		f.token(t, f.ownerID, store.RoleOwner),
		map[string]string{"locationId": f.pendingID.String()})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Contains(t, payload["consentUrl"], "https://accounts.example.com/consent")
	require.NotEmpty(t, payload["state"])

	state, err := f.sessions.VerifyState(payload["state"])
	require.NoError(t, err)
	assert.Equal(t, f.pendingID, state.LocationID)
	assert.Equal(t, f.tenantID, state.TenantID)
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/oauth/callback?code=abc&state=garbage", "", nil)
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")

	rec, env = f.do(t, http.MethodGet, "/api/v1/oauth/callback?code=abc", "", nil)
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func (f *fixture) stateFor(t *testing.T, locationID uuid.UUID) string {
	t.Helper()
	state, err := f.sessions.IssueState(auth.ConnectState{TenantID: f.tenantID, LocationID: locationID}, f.clockAt)
	require.NoError(t, err)
	return state
}

func TestOAuthCallbackRequiresCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	target := fmt.Sprintf("/api/v1/oauth/callback?state=%s", url.QueryEscape(f.stateFor(t, f.pendingID)))
	rec, env := f.do(t, http.MethodGet, target, "", nil)
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")
}

func TestOAuthCallbackUnknownLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	target := fmt.Sprintf("/api/v1/oauth/callback?code=abc&state=%s", url.QueryEscape(f.stateFor(t, uuid.New())))
	rec, env := f.do(t, http.MethodGet, target, "", nil)
	assertFailure(t, rec, env, http.StatusNotFound, "NOT_FOUND")
}

func TestOAuthCallbackExchangeFailureIsInternal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.oauth.exchangeErr = errors.New("token endpoint 500")

	target := fmt.Sprintf("/api/v1/oauth/callback?code=abc&state=%s", url.QueryEscape(f.stateFor(t, f.pendingID)))
	rec, env := f.do(t, http.MethodGet, target, "", nil)
	assertFailure(t, rec, env, http.StatusInternalServerError, "INTERNAL")
}

func TestOAuthCallbackConnectsLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	target := fmt.Sprintf("/api/v1/oauth/callback?code=abc&state=%s", url.QueryEscape(f.stateFor(t, f.pendingID)))
	rec, env := f.do(t, http.MethodGet, target, "", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, f.pendingID.String(), payload["locationId"])
	assert.Equal(t, "connected", payload["status"])

	require.Len(t, f.locations.updated, 1)
	assert.Equal(t, f.pendingID, f.locations.updated[0].locationID)
	assert.Equal(t, store.OAuthConnected, f.locations.updated[0].status)
	assert.Equal(t, "new-rt", f.locations.updated[0].refreshToken)
}

func TestListLocationsRequiresSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations", "", nil)
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestListLocationsForbidsNonMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations", f.token(t, uuid.New(), store.RoleMember), nil)
	assertFailure(t, rec, env, http.StatusForbidden, "FORBIDDEN")
}

func TestListLocationsAllowsMemberRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations", f.token(t, f.memberID, store.RoleMember), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		Locations []locationPayload `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Len(t, payload.Locations, 2)
}

func TestLocationInsightsRequiresSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations/"+f.locationID.String()+"/insights", "", nil)
	assertFailure(t, rec, env, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestLocationInsightsValidatesID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations/not-a-uuid/insights",
		f.token(t, f.memberID, store.RoleMember), nil)
	assertFailure(t, rec, env, http.StatusBadRequest, "INVALID_INPUT")
}

func TestLocationInsightsUnknownLocation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations/"+uuid.NewString()+"/insights",
		f.token(t, f.memberID, store.RoleMember), nil)
	assertFailure(t, rec, env, http.StatusNotFound, "NOT_FOUND")
}

func TestLocationInsightsReturnsMetricRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/api/v1/locations/"+f.locationID.String()+"/insights",
		f.token(t, f.memberID, store.RoleMember), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		LocationID string          `json:"locationId"`
		Metrics    []metricPayload `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, f.locationID.String(), payload.LocationID)
	require.Len(t, payload.Metrics, 1)
	assert.Equal(t, "CALL_CLICKS", payload.Metrics[0].Metric)
	assert.Equal(t, int64(7), payload.Metrics[0].Value)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, env := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestReadyzReportsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.readyErr = errors.New("db unreachable")

	rec, env := f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
