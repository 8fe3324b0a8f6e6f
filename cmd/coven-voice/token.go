// ABOUTME: Mints API bearer tokens signed with the configured JWT secret
// ABOUTME: Tokens authorize the /api routes of a running server

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-voice/internal/auth"
)

// defaultTokenTTL is 30 days
const defaultTokenTTL = 30 * 24 * time.Hour

func runToken(args []string) error {
	flags, _, err := parseArgs(args, []string{"sub", "ttl"}, map[string]string{"-s": "--sub"})
	if err != nil {
		return err
	}
	if flags["sub"] == "" {
		return errors.New("usage: token --sub <name> [--ttl 720h]")
	}

	ttl := defaultTokenTTL
	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(flags["sub"], ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}
