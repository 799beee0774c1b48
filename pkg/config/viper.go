// Package config is responsible for initializing the application's
// configuration. It uses the Viper library to read settings from a config
// file, environment variables, and command-line flags.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up search paths and enables reading from environment variables.
// Designed to be called once at application startup.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")                 // Current working directory
	viper.AddConfigPath("/etc/localpulse/")  // System-wide configuration
	viper.AddConfigPath("$HOME/.localpulse") // User-specific configuration

	viper.SetEnvPrefix("LOCALPULSE") // e.g. LOCALPULSE_SERVER_PORT=9090
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults and environment variables still apply.
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
