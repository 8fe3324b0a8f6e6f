// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "voice.yaml", `
server:
  http_addr: "0.0.0.0:8090"
  grpc_addr: "0.0.0.0:50061"

database:
  driver: "sqlite"
  path: "./voice.db"

elevenlabs:
  api_base_url: "https://api.elevenlabs.io"
  webhook_secret: "whsec"

session:
  credential_timeout: "10s"
  analysis_timeout: "1m"
  dedupe_window: "2m"
  dedupe_max_entries: 50

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8090")
	}
	if cfg.Database.Path != "./voice.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./voice.db")
	}
	if cfg.ElevenLabs.WebhookSecret != "whsec" {
		t.Errorf("ElevenLabs.WebhookSecret = %q, want %q", cfg.ElevenLabs.WebhookSecret, "whsec")
	}
	if cfg.Session.CredentialTimeout != 10*time.Second {
		t.Errorf("Session.CredentialTimeout = %v, want %v", cfg.Session.CredentialTimeout, 10*time.Second)
	}
	if cfg.Session.AnalysisTimeout != time.Minute {
		t.Errorf("Session.AnalysisTimeout = %v, want %v", cfg.Session.AnalysisTimeout, time.Minute)
	}
	if cfg.Session.DedupeWindow != 2*time.Minute {
		t.Errorf("Session.DedupeWindow = %v, want %v", cfg.Session.DedupeWindow, 2*time.Minute)
	}
	if cfg.Session.DedupeMaxEntries != 50 {
		t.Errorf("Session.DedupeMaxEntries = %d, want 50", cfg.Session.DedupeMaxEntries)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	path := writeConfig(t, "voice.toml", `
[server]
http_addr = "127.0.0.1:8090"

[database]
driver = "postgres"
dsn = "postgres://localhost/voice"

[session]
dedupe_window = "30s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverPostgres)
	}
	if cfg.Database.DSN != "postgres://localhost/voice" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Session.DedupeWindow != 30*time.Second {
		t.Errorf("Session.DedupeWindow = %v, want 30s", cfg.Session.DedupeWindow)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "voice.yaml", `
server:
  http_addr: "127.0.0.1:8090"
database:
  path: "./voice.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Session.CredentialTimeout != 15*time.Second {
		t.Errorf("Session.CredentialTimeout = %v, want 15s", cfg.Session.CredentialTimeout)
	}
	if cfg.Session.AnalysisTimeout != 30*time.Second {
		t.Errorf("Session.AnalysisTimeout = %v, want 30s", cfg.Session.AnalysisTimeout)
	}
	if cfg.Session.DedupeWindow != 0 {
		t.Errorf("Session.DedupeWindow = %v, want 0", cfg.Session.DedupeWindow)
	}
	if cfg.Session.DedupeMaxEntries != 1000 {
		t.Errorf("Session.DedupeMaxEntries = %d, want 1000", cfg.Session.DedupeMaxEntries)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_VOICE_JWT", "super-secret")
	t.Setenv("TEST_VOICE_DB", "/tmp/voice-env.db")

	path := writeConfig(t, "voice.yaml", `
server:
  http_addr: "127.0.0.1:8090"
database:
  path: "${TEST_VOICE_DB}"
auth:
  jwt_secret: "${TEST_VOICE_JWT}"
elevenlabs:
  webhook_secret: "${TEST_VOICE_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "super-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "super-secret")
	}
	if cfg.Database.Path != "/tmp/voice-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/voice-env.db")
	}
	if cfg.ElevenLabs.WebhookSecret != "" {
		t.Errorf("unset variable should expand to empty, got %q", cfg.ElevenLabs.WebhookSecret)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "voice.yaml", `
server:
  http_addr: "127.0.0.1:8090"
database:
  path: "./voice.db"
session:
  analysis_timeout: "soon"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "analysis_timeout") {
		t.Fatalf("expected analysis_timeout parse error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale replaces http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = "voice"
		}, ""},
		{"tailscale needs hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"sqlite needs path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres needs dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"bad seal key", func(c *Config) { c.Database.SealKey = "c2hvcnQ=" }, "database.seal_key"},
		{"bad api url", func(c *Config) { c.ElevenLabs.APIBaseURL = "not a url" }, "elevenlabs.api_base_url"},
		{"zero credential timeout", func(c *Config) { c.Session.CredentialTimeout = 0 }, "session.credential_timeout"},
		{"negative dedupe window", func(c *Config) { c.Session.DedupeWindow = -time.Second }, "session.dedupe_window"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("COVEN_VOICE_CONFIG", "/etc/coven/voice.yaml")
	if got := DefaultPath(); got != "/etc/coven/voice.yaml" {
		t.Errorf("DefaultPath() = %q with env override", got)
	}

	t.Setenv("COVEN_VOICE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "coven", "voice.yaml") {
		t.Errorf("DefaultPath() = %q with XDG_CONFIG_HOME", got)
	}
}
