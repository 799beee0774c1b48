package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/auth"
	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/metrics"
	"github.com/pulsemetrics/localpulse/internal/store"
)

// SyncRunner executes one sync run; *sync.Engine satisfies it.
type SyncRunner interface {
	SyncLocation(ctx context.Context, loc store.Location) (store.SyncRun, error)
}

// OAuthClient is the slice of the Business Profile client the handlers need.
type OAuthClient interface {
	ConsentURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (gbp.Token, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// ReadyChecker reports whether downstream dependencies can serve traffic.
type ReadyChecker func(ctx context.Context) error

// Options carries the server's collaborators.
type Options struct {
	Members   store.MemberRepository
	Locations store.LocationRepository
	Syncs     store.SyncRepository
	Engine    SyncRunner
	OAuth     OAuthClient
	Sessions  *auth.Manager
	Clock     Clock
	Logger    *zap.Logger
	// Timeout bounds one request end to end.
	Timeout time.Duration
	// Ready is consulted by /readyz; nil means always ready.
	Ready ReadyChecker
}

// Server wires HTTP handlers to the stores, the sync engine and the OAuth
// client.
type Server struct {
	router    chi.Router
	members   store.MemberRepository
	locations store.LocationRepository
	syncs     store.SyncRepository
	engine    SyncRunner
	oauth     OAuthClient
	sessions  *auth.Manager
	clock     Clock
	logger    *zap.Logger
	ready     ReadyChecker
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	s := &Server{
		members:   opts.Members,
		locations: opts.Locations,
		syncs:     opts.Syncs,
		engine:    opts.Engine,
		oauth:     opts.OAuth,
		sessions:  opts.Sessions,
		clock:     opts.Clock,
		logger:    opts.Logger,
		ready:     opts.Ready,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(opts.Logger))
	r.Use(recoverMiddleware(opts.Logger))
	r.Use(timeoutMiddleware(opts.Timeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// The OAuth callback is hit by Google's redirect, so it cannot carry a
		// bearer token. The signed state parameter authenticates it instead.
		r.Get("/oauth/callback", s.oauthCallback)

		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware(opts.Sessions))
			r.Post("/locations/sync", s.syncLocation)
			r.Post("/locations/connect", s.connectLocation)
			r.Get("/locations", s.listLocations)
			r.Get("/locations/{locationID}/insights", s.locationInsights)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, envelope{
				Success: false,
				Error:   &errorPayload{Code: "NOT_READY", Message: err.Error()},
			})
			return
		}
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}
