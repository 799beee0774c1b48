package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/api"
	"github.com/pulsemetrics/localpulse/internal/clock/system"
	"github.com/pulsemetrics/localpulse/internal/id/uuid"
	"github.com/pulsemetrics/localpulse/internal/sync"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the dashboard HTTP API",
		Long: `Starts the HTTP server exposing the session-gated location routes,
the OAuth callback and the health/metrics endpoints. Shuts down gracefully
on SIGINT/SIGTERM.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()

	engine := sync.NewEngine(sync.Options{
		Syncs:     appInstance.GetSyncs(),
		Profile:   appInstance.GetProfileClient(),
		Publisher: appInstance.GetPublisher(),
		Emitter:   appInstance.GetProgressHub(),
		Clock:     system.New(),
		IDs:       uuid.NewGenerator(),
		Logger:    logger,
	})

	server := api.NewServer(api.Options{
		Members:   appInstance.GetMembers(),
		Locations: appInstance.GetLocations(),
		Syncs:     appInstance.GetSyncs(),
		Engine:    engine,
		OAuth:     appInstance.GetProfileClient(),
		Sessions:  appInstance.GetSessions(),
		Clock:     system.New(),
		Logger:    logger,
		Timeout:   cfg.ServerTimeout(),
		Ready:     appInstance.Ping,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
