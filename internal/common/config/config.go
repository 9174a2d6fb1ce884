// Package config provides configuration management for the coordinator.
// It supports loading configuration from defaults, a config file,
// environment variables, and CLI flags, in that increasing order of
// precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the coordinator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Events   EventsConfig   `mapstructure:"events"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StoreConfig holds the embedded SQLite store's configuration (§6:
// "a single store file under a configurable data directory").
type StoreConfig struct {
	DataDir    string `mapstructure:"dataDir"`
	DBFileName string `mapstructure:"dbFileName"`
}

// NATSConfig holds NATS messaging configuration for the optional
// shared-bus transport; an empty URL keeps the coordinator on its default
// in-memory event bus (see internal/events/bus).
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	// Namespace isolates queue-group subscribers across deployments/instances.
	Namespace string `mapstructure:"namespace"`
}

// AuthConfig controls the bearer-token envelope. The coordinator itself
// never verifies tokens (spec's non-goal); when Enabled it only requires
// the header be present and passes it through to runners/hooks untouched.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DispatchConfig holds the heartbeat and dispatch timing knobs from §6's
// CLI surface.
type DispatchConfig struct {
	HeartbeatStaleSeconds  int `mapstructure:"heartbeatStaleSeconds"`
	HeartbeatRemoveSeconds int `mapstructure:"heartbeatRemoveSeconds"`
	DispatchTimeoutSeconds int `mapstructure:"dispatchTimeoutSeconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HeartbeatStaleDuration returns the stale threshold as a time.Duration.
func (d *DispatchConfig) HeartbeatStaleDuration() time.Duration {
	return time.Duration(d.HeartbeatStaleSeconds) * time.Second
}

// HeartbeatRemoveDuration returns the remove threshold as a time.Duration.
func (d *DispatchConfig) HeartbeatRemoveDuration() time.Duration {
	return time.Duration(d.HeartbeatRemoveSeconds) * time.Second
}

// DispatchTimeoutDuration returns the pending-run dispatch timeout.
func (d *DispatchConfig) DispatchTimeoutDuration() time.Duration {
	return time.Duration(d.DispatchTimeoutSeconds) * time.Second
}

// detectDefaultLogFormat returns "json" in production-shaped environments
// and "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("COORDINATOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("store.dataDir", "./data")
	v.SetDefault("store.dbFileName", "coordinator.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "coordinator-cluster")
	v.SetDefault("nats.clientId", "coordinator")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("auth.enabled", false)

	v.SetDefault("dispatch.heartbeatStaleSeconds", 120)
	v.SetDefault("dispatch.heartbeatRemoveSeconds", 600)
	v.SetDefault("dispatch.dispatchTimeoutSeconds", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix COORDINATOR_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations, then from environment variables, overriding file values.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/coordinator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// BindFlags overlays CLI flag values onto v, giving flags the highest
// precedence per §6's CLI surface.
func BindFlags(v *viper.Viper, dataDir, listen string, authEnabled bool, heartbeatStale, heartbeatRemove, dispatchTimeout int) {
	if dataDir != "" {
		v.Set("store.dataDir", dataDir)
	}
	if listen != "" {
		v.Set("server.listen", listen)
	}
	v.Set("auth.enabled", authEnabled)
	if heartbeatStale > 0 {
		v.Set("dispatch.heartbeatStaleSeconds", heartbeatStale)
	}
	if heartbeatRemove > 0 {
		v.Set("dispatch.heartbeatRemoveSeconds", heartbeatRemove)
	}
	if dispatchTimeout > 0 {
		v.Set("dispatch.dispatchTimeoutSeconds", dispatchTimeout)
	}
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Store.DataDir == "" {
		errs = append(errs, "store.dataDir must not be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Dispatch.HeartbeatStaleSeconds <= 0 {
		errs = append(errs, "dispatch.heartbeatStaleSeconds must be positive")
	}
	if cfg.Dispatch.HeartbeatRemoveSeconds <= cfg.Dispatch.HeartbeatStaleSeconds {
		errs = append(errs, "dispatch.heartbeatRemoveSeconds must be greater than heartbeatStaleSeconds")
	}
	if cfg.Dispatch.DispatchTimeoutSeconds <= 0 {
		errs = append(errs, "dispatch.dispatchTimeoutSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
