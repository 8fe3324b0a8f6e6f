// ABOUTME: Interactive config file generation for coven-voice
// ABOUTME: Prompts for addresses and credentials and generates fresh JWT and seal secrets

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-voice/internal/config"
)

// initOptions are the answers collected by runInit
type initOptions struct {
	HTTPAddr      string
	GRPCAddr      string
	Driver        string
	DBPath        string
	DSN           string
	JWTSecret     string
	SealKey       string
	WebhookSecret string
	Tailscale     bool
	TSHostname    string
	TSAuthKey     string
	TSFunnel      bool
	LogLevel      string
	LogFormat     string
}

// randomSecret returns n random bytes, base64 encoded
func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit(args []string) error {
	flags, _, err := parseArgs(args, []string{"output"}, map[string]string{"-o": "--output"})
	if err != nil {
		return err
	}
	return initConfig(os.Stdin, os.Stdout, flags["output"])
}

func initConfig(in io.Reader, out io.Writer, outputFile string) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-voice configuration setup")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintln(out)

	defaults := config.Default()
	if outputFile == "" {
		outputFile = prompt(reader, out, "Config file path", config.DefaultPath())
	}

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	opts := initOptions{}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	opts.HTTPAddr = prompt(reader, out, "HTTP address", defaults.Server.HTTPAddr)
	opts.GRPCAddr = prompt(reader, out, "gRPC health address (empty to disable)", defaults.Server.GRPCAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	opts.Driver = prompt(reader, out, "Driver (sqlite/postgres)", config.DriverSQLite)
	if opts.Driver == config.DriverPostgres {
		opts.DSN = prompt(reader, out, "Postgres DSN", "postgres://localhost:5432/coven_voice?sslmode=disable")
	} else {
		opts.DBPath = prompt(reader, out, "SQLite database path", defaults.Database.Path)
	}

	fmt.Fprintln(out, "\n--- ElevenLabs Configuration ---")
	opts.WebhookSecret = prompt(reader, out, "Webhook secret (leave empty to skip signature checks)", "")

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	opts.Tailscale = isYes(prompt(reader, out, "Enable Tailscale?", "no"))
	if opts.Tailscale {
		opts.TSHostname = prompt(reader, out, "Tailscale hostname", "coven-voice")
		opts.TSAuthKey = prompt(reader, out, "Tailscale auth key (leave empty for interactive)", "")
		opts.TSFunnel = isYes(prompt(reader, out, "Enable Funnel so webhooks can reach you?", "yes"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	opts.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	opts.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if opts.JWTSecret, err = randomSecret(32); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	if opts.SealKey, err = randomSecret(32); err != nil {
		return fmt.Errorf("generating seal key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(opts)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if opts.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	green := color.New(color.FgGreen)
	fmt.Fprintln(out)
	green.Fprintf(out, "  ✓ Config written to %s\n", outputFile)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  coven-voice agents add --name 'Front desk' --remote-id <agent_id> --api-key <xi-api-key>")
	fmt.Fprintln(out, "  coven-voice serve")
	return nil
}

// renderConfig writes opts as a YAML config file
func renderConfig(opts initOptions) string {
	var cfg strings.Builder
	cfg.WriteString("# coven-voice configuration\n")
	cfg.WriteString("# Generated by coven-voice init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", opts.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", opts.GRPCAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  driver: %q\n", opts.Driver))
	if opts.DSN != "" {
		cfg.WriteString(fmt.Sprintf("  dsn: %q\n", opts.DSN))
	} else {
		cfg.WriteString(fmt.Sprintf("  path: %q\n", opts.DBPath))
	}
	cfg.WriteString(fmt.Sprintf("  seal_key: %q\n", opts.SealKey))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", opts.JWTSecret))
	cfg.WriteString("\n")

	cfg.WriteString("elevenlabs:\n")
	cfg.WriteString(fmt.Sprintf("  webhook_secret: %q\n", opts.WebhookSecret))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", opts.Tailscale))
	if opts.Tailscale {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", opts.TSHostname))
		if opts.TSAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", opts.TSAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", opts.TSFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  credential_timeout: \"15s\"\n")
	cfg.WriteString("  analysis_timeout: \"30s\"\n")
	cfg.WriteString("  dedupe_max_entries: 1000\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", opts.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", opts.LogFormat))

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
