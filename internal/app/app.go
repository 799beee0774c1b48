// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/auth"
	"github.com/pulsemetrics/localpulse/internal/blob"
	gcsblob "github.com/pulsemetrics/localpulse/internal/blob/gcs"
	localblob "github.com/pulsemetrics/localpulse/internal/blob/local"
	memblob "github.com/pulsemetrics/localpulse/internal/blob/memory"
	"github.com/pulsemetrics/localpulse/internal/config"
	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/logging"
	"github.com/pulsemetrics/localpulse/internal/metrics"
	"github.com/pulsemetrics/localpulse/internal/progress"
	"github.com/pulsemetrics/localpulse/internal/progress/sinks"
	"github.com/pulsemetrics/localpulse/internal/publisher"
	mempub "github.com/pulsemetrics/localpulse/internal/publisher/memory"
	pubsubpub "github.com/pulsemetrics/localpulse/internal/publisher/pubsub"
	"github.com/pulsemetrics/localpulse/internal/store"
	"github.com/pulsemetrics/localpulse/internal/store/postgres"
)

// App holds the shared, long-lived services: logger, config, Postgres pool,
// repositories, blob store, publisher, Business Profile client, session
// manager and the progress hub. It is built once at startup.
type App struct {
	logger    *zap.Logger
	cfg       config.Config
	pool      *pgxpool.Pool
	members   store.MemberRepository
	locations store.LocationRepository
	syncs     store.SyncRepository
	blobStore blob.Store
	pub       publisher.Publisher
	pubClose  func() error
	profile   *gbp.Client
	sessions  *auth.Manager
	hub       *progress.Hub
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetConfig returns the validated configuration snapshot.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetMembers returns the member repository.
func (a *App) GetMembers() store.MemberRepository { return a.members }

// GetLocations returns the location repository.
func (a *App) GetLocations() store.LocationRepository { return a.locations }

// GetSyncs returns the sync repository.
func (a *App) GetSyncs() store.SyncRepository { return a.syncs }

// GetBlobStore returns the configured blob store.
func (a *App) GetBlobStore() blob.Store { return a.blobStore }

// GetPublisher returns the sync notification publisher.
func (a *App) GetPublisher() publisher.Publisher { return a.pub }

// GetProfileClient returns the Business Profile API client.
func (a *App) GetProfileClient() *gbp.Client { return a.profile }

// GetSessions returns the session token manager.
func (a *App) GetSessions() *auth.Manager { return a.sessions }

// GetProgressHub returns the hub that fans sync progress out to its sinks.
func (a *App) GetProgressHub() *progress.Hub { return a.hub }

// Ping verifies the database is reachable; the readiness probe uses it.
func (a *App) Ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Options toggles which services NewApp initializes. Browser-only commands
// skip the database and the OAuth stack.
type Options struct {
	NeedDatabase bool
}

// NewApp builds the service container from the global Viper configuration.
// It fails fast if any required service cannot be initialized.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.L
	metrics.Init()

	a := &App{logger: logger, cfg: cfg}

	if opts.NeedDatabase {
		if err := a.initDatabase(ctx, cfg); err != nil {
			return nil, err
		}
		sessions, err := auth.NewManager(cfg.Session.SigningKey, cfg.SessionTTL())
		if err != nil {
			return nil, fmt.Errorf("init session manager: %w", err)
		}
		a.sessions = sessions
		a.profile = gbp.NewClient(gbp.Options{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			AuthBaseURL:  cfg.Google.AuthBaseURL,
			TokenURL:     cfg.Google.TokenURL,
			APIBaseURL:   cfg.Google.APIBaseURL,
			Scope:        cfg.Google.Scope,
			Timeout:      cfg.GoogleTimeout(),
			MaxRetries:   cfg.Google.MaxRetries,
			Logger:       logger,
		})
	}

	if err := a.initBlobStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initProgressHub(ctx, logger); err != nil {
		return nil, err
	}

	logger.Info("application services initialized",
		zap.Bool("database", opts.NeedDatabase),
		zap.String("blob_provider", cfg.Blob.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled))
	return a, nil
}

func (a *App) initDatabase(ctx context.Context, cfg config.Config) error {
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.pool = pool

	members, err := postgres.NewMemberStore(pool)
	if err != nil {
		return fmt.Errorf("init member store: %w", err)
	}
	locations, err := postgres.NewLocationStore(pool)
	if err != nil {
		return fmt.Errorf("init location store: %w", err)
	}
	syncs, err := postgres.NewSyncStore(pool)
	if err != nil {
		return fmt.Errorf("init sync store: %w", err)
	}
	a.members = members
	a.locations = locations
	a.syncs = syncs
	return nil
}

func (a *App) initBlobStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Blob.Provider {
	case "local":
		s, err := localblob.New(localblob.Config{BaseDir: cfg.Blob.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.blobStore = s
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		s, err := gcsblob.New(client, gcsblob.Config{Bucket: cfg.Blob.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.blobStore = s
	case "memory":
		a.blobStore = memblob.NewBlobStore()
	default:
		return fmt.Errorf("unknown blob provider %q", cfg.Blob.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	if !cfg.PubSub.Enabled {
		a.pub = mempub.New()
		return nil
	}
	p, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.pub = p
	a.pubClose = p.Close
	return nil
}

func (a *App) initProgressHub(ctx context.Context, logger *zap.Logger) error {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init progress sink: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger,
	}, sinks.NewLogSink(logger), promSink)
	return nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.hub != nil {
		if err := a.hub.Close(context.Background()); err != nil {
			a.logger.Warn("close progress hub", zap.Error(err))
		}
	}
	if a.pubClose != nil {
		if err := a.pubClose(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
