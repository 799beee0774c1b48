// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	DB      DBConfig      `mapstructure:"db"`
	Google  GoogleConfig  `mapstructure:"google"`
	Capture CaptureConfig `mapstructure:"capture"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Blob    BlobConfig    `mapstructure:"blob"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SessionConfig defines session token verification.
type SessionConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// GoogleConfig holds OAuth client credentials and Business Profile endpoints.
type GoogleConfig struct {
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RedirectURL    string `mapstructure:"redirect_url"`
	AuthBaseURL    string `mapstructure:"auth_base_url"`
	TokenURL       string `mapstructure:"token_url"`
	APIBaseURL     string `mapstructure:"api_base_url"`
	Scope          string `mapstructure:"scope"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// CaptureConfig configures the headless screenshot pipeline.
type CaptureConfig struct {
	URL             string  `mapstructure:"url"`
	ReadySelector   string  `mapstructure:"ready_selector"`
	ConsentSelector string  `mapstructure:"consent_selector"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	HostQPS         float64 `mapstructure:"host_qps"`
	UserAgent       string  `mapstructure:"user_agent"`
	FullPage        bool    `mapstructure:"full_page"`
}

// AuditConfig configures the listing audit scraper.
type AuditConfig struct {
	URL            string   `mapstructure:"url"`
	UserAgent      string   `mapstructure:"user_agent"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MinHTMLBytes   int      `mapstructure:"min_html_bytes"`
	RenderKeywords []string `mapstructure:"render_keywords"`
}

// BlobConfig selects where captured screenshots are persisted.
type BlobConfig struct {
	Provider  string `mapstructure:"provider"` // local, gcs or memory
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for sync-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOCALPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// FromViper builds a Config from an already-initialized Viper instance, as set
// up by the CLI via pkg/config.InitConfig.
func FromViper(v *viper.Viper) (Config, error) {
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("session.ttl_minutes", 720)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("google.auth_base_url", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("google.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("google.api_base_url", "https://mybusinessbusinessinformation.googleapis.com/v1")
	v.SetDefault("google.scope", "https://www.googleapis.com/auth/business.manage")
	v.SetDefault("google.timeout_seconds", 15)
	v.SetDefault("google.max_retries", 2)
	v.SetDefault("capture.ready_selector", "main")
	v.SetDefault("capture.consent_selector", "")
	v.SetDefault("capture.nav_timeout_seconds", 45)
	v.SetDefault("capture.max_parallel", 1)
	v.SetDefault("capture.host_qps", 0.5)
	v.SetDefault("capture.user_agent", "localpulse-capture/1.0")
	v.SetDefault("capture.full_page", true)
	v.SetDefault("audit.user_agent", "localpulse-audit/1.0")
	v.SetDefault("audit.timeout_seconds", 30)
	v.SetDefault("audit.min_html_bytes", 2000)
	v.SetDefault("audit.render_keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"ng-app",
	})
	v.SetDefault("blob.provider", "local")
	v.SetDefault("blob.base_dir", "data/captures")
	v.SetDefault("blob.prefix", "screenshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.TimeoutSeconds <= 0 {
		return fmt.Errorf("server.timeout_seconds must be > 0")
	}
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session.ttl_minutes must be > 0")
	}
	if c.Capture.NavTimeoutSec <= 0 {
		return fmt.Errorf("capture.nav_timeout_seconds must be > 0")
	}
	if c.Capture.MaxParallel <= 0 {
		return fmt.Errorf("capture.max_parallel must be > 0")
	}
	switch c.Blob.Provider {
	case "local", "gcs", "memory":
	default:
		return fmt.Errorf("unknown blob provider %q", c.Blob.Provider)
	}
	if c.Blob.Provider == "gcs" && c.Blob.GCSBucket == "" {
		return fmt.Errorf("blob.gcs_bucket must be set when blob.provider is gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// ServerTimeout converts the configured request timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// SessionTTL converts the configured session lifetime into a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// GoogleTimeout converts the configured Google API timeout into a duration.
func (c Config) GoogleTimeout() time.Duration {
	return time.Duration(c.Google.TimeoutSeconds) * time.Second
}

// CaptureNavTimeout converts the capture navigation timeout into a duration.
func (c Config) CaptureNavTimeout() time.Duration {
	return time.Duration(c.Capture.NavTimeoutSec) * time.Second
}

// AuditTimeout converts the audit fetch timeout into a duration.
func (c Config) AuditTimeout() time.Duration {
	return time.Duration(c.Audit.TimeoutSeconds) * time.Second
}
