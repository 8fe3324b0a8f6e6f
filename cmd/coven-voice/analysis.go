// ABOUTME: Pulls post-call analysis for a stored conversation
// ABOUTME: Uses the reconciler so results are merged exactly as the server would

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/2389/coven-voice/internal/elevenlabs"
	"github.com/2389/coven-voice/internal/gateway"
	"github.com/2389/coven-voice/internal/session"
)

func runAnalysis(ctx context.Context, args []string) error {
	flags, _, err := parseArgs(args, []string{"conversation", "remote"}, map[string]string{"-c": "--conversation", "-r": "--remote"})
	if err != nil {
		return err
	}
	if flags["conversation"] == "" {
		return errors.New("usage: analysis --conversation <id> [--remote <remote conversation id>]")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	client := elevenlabs.NewClient(cfg.ElevenLabs.APIBaseURL, nil, logger)
	reconciler := session.NewReconciler(s, elevenlabs.NewAnalysisFetcher(s, client), nil, cfg.Session.AnalysisTimeout, logger)

	patch, err := reconciler.Pull(ctx, flags["conversation"], flags["remote"])
	if err != nil {
		return err
	}
	printAnalysis(os.Stdout, patch)
	return nil
}
