// ABOUTME: Configuration loading and parsing for coven-voice
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-voice configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs" toml:"elevenlabs"`
	Session    SessionConfig    `yaml:"session" toml:"session"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // health service; empty disables it
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose the HTTP API publicly so webhooks can reach it
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver  string `yaml:"driver" toml:"driver"`
	Path    string `yaml:"path" toml:"path"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	SealKey string `yaml:"seal_key" toml:"seal_key"` // base64 32-byte key for API keys at rest
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ElevenLabsConfig holds upstream API configuration
type ElevenLabsConfig struct {
	APIBaseURL    string `yaml:"api_base_url" toml:"api_base_url"`
	WSBaseURL     string `yaml:"ws_base_url" toml:"ws_base_url"`
	WebhookSecret string `yaml:"webhook_secret" toml:"webhook_secret"`
}

// SessionConfig holds coordinator timing and dedupe configuration
type SessionConfig struct {
	CredentialTimeout time.Duration `yaml:"-" toml:"-"`
	AnalysisTimeout   time.Duration `yaml:"-" toml:"-"`
	DedupeWindow      time.Duration `yaml:"-" toml:"-"`
	DedupeMaxEntries  int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	// Raw string values for unmarshaling
	CredentialTimeoutRaw string `yaml:"credential_timeout" toml:"credential_timeout"`
	AnalysisTimeoutRaw   string `yaml:"analysis_timeout" toml:"analysis_timeout"`
	DedupeWindowRaw      string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration that runs locally with SQLite
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8090",
			GRPCAddr: "127.0.0.1:50061",
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join(DataDir(), "voice.db"),
		},
		Session: SessionConfig{
			CredentialTimeout:    15 * time.Second,
			AnalysisTimeout:      30 * time.Second,
			DedupeMaxEntries:     1000,
			CredentialTimeoutRaw: "15s",
			AnalysisTimeoutRaw:   "30s",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location.
// Priority: COVEN_VOICE_CONFIG, then $XDG_CONFIG_HOME/coven/voice.yaml,
// then ~/.config/coven/voice.yaml.
func DefaultPath() string {
	if p := os.Getenv("COVEN_VOICE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "voice.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "voice.yaml"
	}
	return filepath.Join(home, ".config", "coven", "voice.yaml")
}

// DataDir returns the directory for local state such as the SQLite database
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "coven")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Session.CredentialTimeoutRaw == "" {
		cfg.Session.CredentialTimeout = d.Session.CredentialTimeout
	}
	if cfg.Session.AnalysisTimeoutRaw == "" {
		cfg.Session.AnalysisTimeout = d.Session.AnalysisTimeout
	}
	if cfg.Session.DedupeMaxEntries == 0 {
		cfg.Session.DedupeMaxEntries = d.Session.DedupeMaxEntries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Database.SealKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Database.SealKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("database.seal_key must be 32 bytes of base64")
		}
	}

	for _, u := range []struct{ name, raw string }{
		{"elevenlabs.api_base_url", c.ElevenLabs.APIBaseURL},
		{"elevenlabs.ws_base_url", c.ElevenLabs.WSBaseURL},
	} {
		if u.raw == "" {
			continue
		}
		if parsed, err := url.Parse(u.raw); err != nil || parsed.Host == "" {
			return fmt.Errorf("%s is not a valid URL", u.name)
		}
	}

	if c.Session.CredentialTimeout <= 0 {
		return fmt.Errorf("session.credential_timeout must be positive")
	}
	if c.Session.AnalysisTimeout <= 0 {
		return fmt.Errorf("session.analysis_timeout must be positive")
	}
	if c.Session.DedupeWindow < 0 {
		return fmt.Errorf("session.dedupe_window must not be negative")
	}
	if c.Session.DedupeMaxEntries < 0 {
		return fmt.Errorf("session.dedupe_max_entries must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"credential_timeout", cfg.Session.CredentialTimeoutRaw, &cfg.Session.CredentialTimeout},
		{"analysis_timeout", cfg.Session.AnalysisTimeoutRaw, &cfg.Session.AnalysisTimeout},
		{"dedupe_window", cfg.Session.DedupeWindowRaw, &cfg.Session.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
