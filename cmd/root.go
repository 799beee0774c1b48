// Package cmd defines and implements the CLI commands for the localpulse
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/app"
	"github.com/pulsemetrics/localpulse/internal/auth"
	"github.com/pulsemetrics/localpulse/internal/blob"
	"github.com/pulsemetrics/localpulse/internal/config"
	"github.com/pulsemetrics/localpulse/internal/gbp"
	"github.com/pulsemetrics/localpulse/internal/logging"
	"github.com/pulsemetrics/localpulse/internal/progress"
	"github.com/pulsemetrics/localpulse/internal/publisher"
	"github.com/pulsemetrics/localpulse/internal/store"
	pkgconfig "github.com/pulsemetrics/localpulse/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application interface commands use. It allows injecting a mock
// container during tests.
type App interface {
	Close()
	Ping(ctx context.Context) error
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetMembers() store.MemberRepository
	GetLocations() store.LocationRepository
	GetSyncs() store.SyncRepository
	GetBlobStore() blob.Store
	GetPublisher() publisher.Publisher
	GetProfileClient() *gbp.Client
	GetSessions() *auth.Manager
	GetProgressHub() *progress.Hub
}

// newApp is the application factory; tests replace it with a mock factory.
var newApp = func(ctx context.Context, opts app.Options) (App, error) {
	return app.NewApp(ctx, opts)
}

// databaseCommands names the subcommands that need Postgres, sessions and the
// Business Profile client. Browser-only commands skip them.
var databaseCommands = map[string]bool{
	"serve": true,
	"sync":  true,
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localpulse",
		Short: "Local business analytics: dashboard API, listing capture and audit.",
		Long: `localpulse serves the multi-tenant dashboard API for Google Business
Profile analytics and ships the browser tooling around it: screenshot capture
of listing pages and content audits of business websites.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
			}
			appInstance, err := newApp(cmd.Context(), app.Options{
				NeedDatabase: databaseCommands[cmd.Name()],
			})
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(pkgconfig.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newSyncCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	viper.SetDefault("logging.development", true)
	logging.InitLogger(viper.GetBool("logging.development"))

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}
