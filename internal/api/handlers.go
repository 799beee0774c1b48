package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/auth"
	"github.com/pulsemetrics/localpulse/internal/serrors"
	"github.com/pulsemetrics/localpulse/internal/store"
)

const (
	defaultListLimit   = 50
	maxListLimit       = 200
	defaultInsightDays = 30
	maxInsightRows     = 1000
)

type locationRequest struct {
	LocationID string `json:"locationId"`
}

// decodeLocationID reads the request body and returns the location UUID, or
// an INVALID_INPUT error for missing or malformed input.
func decodeLocationID(r *http.Request) (uuid.UUID, error) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return uuid.Nil, serrors.Wrap(serrors.ErrInvalidInput, err, "invalid JSON body")
	}
	if req.LocationID == "" {
		return uuid.Nil, serrors.With(serrors.ErrInvalidInput, "locationId is required")
	}
	id, err := uuid.Parse(req.LocationID)
	if err != nil {
		return uuid.Nil, serrors.Wrap(serrors.ErrInvalidInput, err, "locationId must be a UUID")
	}
	return id, nil
}

// requireMember resolves the caller's membership row. Callers without a
// session fail UNAUTHENTICATED; non-members of the tenant fail FORBIDDEN.
func (s *Server) requireMember(r *http.Request) (auth.Session, store.Member, error) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Session{}, store.Member{}, serrors.With(serrors.ErrUnauthenticated, "missing session")
	}
	member, err := s.members.GetMember(r.Context(), session.TenantID, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return session, store.Member{}, serrors.With(serrors.ErrForbidden, "not a member of this tenant")
		}
		return session, store.Member{}, serrors.Wrap(serrors.ErrInternal, err, "load membership")
	}
	return session, member, nil
}

// requireManager additionally enforces the owner/admin role.
func (s *Server) requireManager(r *http.Request) (auth.Session, error) {
	session, member, err := s.requireMember(r)
	if err != nil {
		return session, err
	}
	if !member.Role.CanManageLocations() {
		return session, serrors.With(serrors.ErrForbidden, "role %s may not manage locations", member.Role)
	}
	return session, nil
}

// getLocation loads the location scoped to the caller's tenant, translating
// the store sentinel into NOT_FOUND.
func (s *Server) getLocation(r *http.Request, tenantID, locationID uuid.UUID) (store.Location, error) {
	loc, err := s.locations.GetLocation(r.Context(), tenantID, locationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Location{}, serrors.With(serrors.ErrNotFound, "location not found")
		}
		return store.Location{}, serrors.Wrap(serrors.ErrInternal, err, "load location")
	}
	return loc, nil
}

type syncRunPayload struct {
	RunID      string `json:"runId"`
	LocationID string `json:"locationId"`
	Status     string `json:"status"`
	MetricRows int64  `json:"metricRows"`
	ReviewRows int64  `json:"reviewRows"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

func (s *Server) syncLocation(w http.ResponseWriter, r *http.Request) {
	session, err := s.requireManager(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	locationID, err := decodeLocationID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	loc, err := s.getLocation(r, session.TenantID, locationID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if loc.OAuthStatus != store.OAuthConnected {
		writeFailure(w, serrors.With(serrors.ErrInvalidInput,
			"location is not connected (status %s)", loc.OAuthStatus))
		return
	}

	run, err := s.engine.SyncLocation(r.Context(), loc)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "sync location"))
		return
	}

	payload := syncRunPayload{
		RunID:      run.ID.String(),
		LocationID: run.LocationID.String(),
		Status:     string(run.Status),
		MetricRows: run.MetricRows,
		ReviewRows: run.ReviewRows,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		payload.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	writeSuccess(w, http.StatusOK, payload)
}

func (s *Server) connectLocation(w http.ResponseWriter, r *http.Request) {
	session, err := s.requireManager(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	locationID, err := decodeLocationID(r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	loc, err := s.getLocation(r, session.TenantID, locationID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	state, err := s.sessions.IssueState(auth.ConnectState{
		TenantID:   session.TenantID,
		LocationID: loc.ID,
	}, s.clock.Now())
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "issue connect state"))
		return
	}
	consentURL, err := s.oauth.ConsentURL(state)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "build consent url"))
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{
		"consentUrl": consentURL,
		"state":      state,
	})
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.VerifyState(r.URL.Query().Get("state"))
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrUnauthenticated, err, "invalid state"))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeFailure(w, serrors.With(serrors.ErrInvalidInput, "code is required"))
		return
	}

	loc, err := s.getLocation(r, state.TenantID, state.LocationID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	token, err := s.oauth.ExchangeCode(r.Context(), code)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "exchange code"))
		return
	}
	if token.RefreshToken == "" {
		writeFailure(w, serrors.With(serrors.ErrInternal, "token response carried no refresh token"))
		return
	}

	now := s.clock.Now()
	if err := s.locations.UpdateOAuth(r.Context(), loc.ID, store.OAuthConnected, token.RefreshToken, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeFailure(w, serrors.With(serrors.ErrNotFound, "location not found"))
			return
		}
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "store refresh token"))
		return
	}

	s.logger.Info("location connected",
		zap.String("location_id", loc.ID.String()),
		zap.String("tenant_id", state.TenantID.String()))

	writeSuccess(w, http.StatusOK, map[string]string{
		"locationId": loc.ID.String(),
		"status":     string(store.OAuthConnected),
	})
}

type locationPayload struct {
	ID          string `json:"id"`
	GoogleName  string `json:"googleName"`
	Title       string `json:"title"`
	OAuthStatus string `json:"oauthStatus"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func (s *Server) listLocations(w http.ResponseWriter, r *http.Request) {
	session, _, err := s.requireMember(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	locs, err := s.locations.ListLocations(r.Context(), session.TenantID, limit, offset)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "list locations"))
		return
	}

	payload := make([]locationPayload, 0, len(locs))
	for _, loc := range locs {
		payload = append(payload, locationPayload{
			ID:          loc.ID.String(),
			GoogleName:  loc.GoogleName,
			Title:       loc.Title,
			OAuthStatus: string(loc.OAuthStatus),
			CreatedAt:   loc.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:   loc.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeSuccess(w, http.StatusOK, map[string]any{"locations": payload})
}

type metricPayload struct {
	Day    string `json:"day"`
	Metric string `json:"metric"`
	Value  int64  `json:"value"`
}

func (s *Server) locationInsights(w http.ResponseWriter, r *http.Request) {
	session, _, err := s.requireMember(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	rawID := chi.URLParam(r, "locationID")
	locationID, err := uuid.Parse(rawID)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInvalidInput, err, "locationID must be a UUID"))
		return
	}

	loc, err := s.getLocation(r, session.TenantID, locationID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	days := queryInt(r, "days", defaultInsightDays)
	if days <= 0 || days > 365 {
		days = defaultInsightDays
	}
	since := s.clock.Now().AddDate(0, 0, -days)

	rows, err := s.syncs.ListMetrics(r.Context(), loc.ID, since, maxInsightRows)
	if err != nil {
		writeFailure(w, serrors.Wrap(serrors.ErrInternal, err, "list metrics"))
		return
	}

	payload := make([]metricPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, metricPayload{
			Day:    row.Day.UTC().Format("2006-01-02"),
			Metric: row.Metric,
			Value:  row.Value,
		})
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"locationId": loc.ID.String(),
		"metrics":    payload,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
