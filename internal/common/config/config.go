// Package config provides configuration management for scriptdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
	Git      GitConfig      `mapstructure:"git"`
	Process  ProcessConfig  `mapstructure:"process"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DatabaseConfig selects the SQL backend for the history log and the
// repository registry.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file path
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds the optional event relay configuration.
// An empty URL disables the relay.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
}

// ScriptFolder is a named local directory containing runnable scripts.
type ScriptFolder struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// ScriptsConfig configures the script catalog.
type ScriptsConfig struct {
	Folders    []ScriptFolder `mapstructure:"folders"`
	Extensions []string       `mapstructure:"extensions"`
	MaxDepth   int            `mapstructure:"maxDepth"`
	IgnoreDirs []string       `mapstructure:"ignoreDirs"`
}

// GitConfig configures the git repository manager.
type GitConfig struct {
	BasePath     string `mapstructure:"basePath"`
	DefaultDepth int    `mapstructure:"defaultDepth"`
	Timeout      int    `mapstructure:"timeout"` // in seconds
}

// ProcessConfig configures the process registry.
type ProcessConfig struct {
	BufferMaxBytes     int64  `mapstructure:"bufferMaxBytes"`
	KillGracePeriod    int    `mapstructure:"killGracePeriod"`    // in seconds
	CompletedRetention int    `mapstructure:"completedRetention"` // in seconds
	DefaultShell       string `mapstructure:"defaultShell"`
}

// EventsConfig configures observer streams.
type EventsConfig struct {
	ObserverBuffer    int `mapstructure:"observerBuffer"`
	HeartbeatInterval int `mapstructure:"heartbeatInterval"` // in seconds
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TimeoutDuration returns the git operation timeout.
func (g *GitConfig) TimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// ExpandedBasePath returns the base path with ~ expanded to the user's home directory.
func (g *GitConfig) ExpandedBasePath() (string, error) {
	return ExpandHome(g.BasePath)
}

// KillGraceDuration returns the SIGTERM to SIGKILL grace period.
func (p *ProcessConfig) KillGraceDuration() time.Duration {
	return time.Duration(p.KillGracePeriod) * time.Second
}

// CompletedRetentionDuration returns how long terminal records stay in the live registry.
func (p *ProcessConfig) CompletedRetentionDuration() time.Duration {
	return time.Duration(p.CompletedRetention) * time.Second
}

// HeartbeatDuration returns the observer heartbeat interval.
func (e *EventsConfig) HeartbeatDuration() time.Duration {
	return time.Duration(e.HeartbeatInterval) * time.Second
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SCRIPTDECK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./scriptdeck.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// NATS defaults - empty URL disables the relay
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "scriptdeck")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.subjectPrefix", "scriptdeck.events")

	// Script catalog defaults
	v.SetDefault("scripts.folders", []map[string]string{})
	v.SetDefault("scripts.extensions", []string{".ps1", ".psm1", ".sh", ".py"})
	v.SetDefault("scripts.maxDepth", 10)
	v.SetDefault("scripts.ignoreDirs", []string{".git", "node_modules"})

	// Git defaults
	v.SetDefault("git.basePath", "~/.scriptdeck/repos")
	v.SetDefault("git.defaultDepth", 0)
	v.SetDefault("git.timeout", 300)

	// Process defaults
	v.SetDefault("process.bufferMaxBytes", 2*1024*1024)
	v.SetDefault("process.killGracePeriod", 2)
	v.SetDefault("process.completedRetention", 600)
	v.SetDefault("process.defaultShell", "pwsh")

	// Observer defaults
	v.SetDefault("events.observerBuffer", 512)
	v.SetDefault("events.heartbeatInterval", 15)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SCRIPTDECK_ with "." replaced by "_".
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCRIPTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE variables.
	_ = v.BindEnv("database.path", "SCRIPTDECK_DB_PATH", "SCRIPTDECK_DATABASE_PATH")
	_ = v.BindEnv("database.driver", "SCRIPTDECK_DB_DRIVER", "SCRIPTDECK_DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "SCRIPTDECK_DB_DSN", "SCRIPTDECK_DATABASE_DSN")
	_ = v.BindEnv("git.basePath", "SCRIPTDECK_GIT_BASE_PATH")
	_ = v.BindEnv("process.defaultShell", "SCRIPTDECK_PROCESS_DEFAULT_SHELL")
	_ = v.BindEnv("process.bufferMaxBytes", "SCRIPTDECK_PROCESS_BUFFER_MAX_BYTES")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/scriptdeck/")

	// Read config file (ignore if not found)
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

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	seen := make(map[string]bool, len(cfg.Scripts.Folders))
	for _, f := range cfg.Scripts.Folders {
		if f.Name == "" || f.Path == "" {
			errs = append(errs, "scripts.folders entries require name and path")
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("scripts.folders name %q is duplicated", f.Name))
		}
		seen[f.Name] = true
	}
	if cfg.Scripts.MaxDepth <= 0 {
		errs = append(errs, "scripts.maxDepth must be positive")
	}
	if len(cfg.Scripts.Extensions) == 0 {
		errs = append(errs, "scripts.extensions must not be empty")
	}

	if cfg.Git.BasePath == "" {
		errs = append(errs, "git.basePath is required")
	}
	if cfg.Git.Timeout <= 0 {
		errs = append(errs, "git.timeout must be positive")
	}

	if cfg.Process.BufferMaxBytes <= 0 {
		errs = append(errs, "process.bufferMaxBytes must be positive")
	}
	if cfg.Process.KillGracePeriod < 0 {
		errs = append(errs, "process.killGracePeriod must not be negative")
	}
	if cfg.Events.ObserverBuffer <= 0 {
		errs = append(errs, "events.observerBuffer must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
