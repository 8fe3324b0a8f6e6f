// ABOUTME: Interactive text session with an ElevenLabs agent from the terminal
// ABOUTME: Drives a session coordinator directly: typed lines go to the agent, replies stream back

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-voice/internal/config"
	"github.com/2389/coven-voice/internal/elevenlabs"
	"github.com/2389/coven-voice/internal/gateway"
	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

func runTalk(ctx context.Context, args []string) error {
	flags, _, err := parseArgs(args, []string{"agent"}, map[string]string{"-a": "--agent"})
	if err != nil {
		return err
	}
	if flags["agent"] == "" {
		return errors.New("usage: talk --agent <id>")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep the terminal for the conversation
	logCfg := cfg.Logging
	if parseLevel(logCfg.Level) < slog.LevelWarn {
		logCfg.Level = "warn"
	}
	logger := setupLogger(logCfg, os.Stderr)

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	agent, err := s.GetAgent(ctx, flags["agent"])
	if err != nil {
		return fmt.Errorf("loading agent %s: %w", flags["agent"], err)
	}

	client := elevenlabs.NewClient(cfg.ElevenLabs.APIBaseURL, nil, logger)
	dialer, err := elevenlabs.NewDialer(cfg.ElevenLabs.WSBaseURL, logger)
	if err != nil {
		return err
	}

	return talk(ctx, cfg, s, agent, session.Deps{
		Store:       s,
		Credentials: elevenlabs.NewTokenIssuer(s, client),
		Dialer:      dialer,
		Analysis:    elevenlabs.NewAnalysisFetcher(s, client),
		Logger:      logger,
	}, os.Stdin, os.Stdout)
}

// talk runs one conversation until the input ends, /end is typed or ctx is canceled
func talk(ctx context.Context, cfg *config.Config, s store.Store, agent *store.Agent, deps session.Deps, in io.Reader, out io.Writer) error {
	conv := &store.Conversation{AgentID: agent.ID}
	if err := s.CreateConversation(ctx, conv); err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}

	coord := session.NewCoordinator(conv.ID, deps, gateway.SessionConfig(cfg.Session))
	defer func() { _ = coord.Close(context.Background()) }()

	if err := coord.Load(ctx); err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printUpdates(out, coord.Subscribe(watchCtx))
	}()

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(out, "Talking to %s (conversation %s). Type /end to finish, /refresh for analysis.\n", agent.Name, conv.ID)

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-watchCtx.Done():
				return
			}
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/end" || line == "/quit":
				break loop
			case line == "/refresh":
				refreshAnalysis(ctx, out, coord)
			default:
				if _, err := coord.SendUserMessage(ctx, line); err != nil {
					color.New(color.FgRed).Fprintf(out, "! %v\n", err)
					if errors.Is(err, session.ErrConversationCompleted) {
						break loop
					}
				}
			}
		}
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := coord.End(endCtx); err != nil && !errors.Is(err, session.ErrConversationCompleted) {
		return fmt.Errorf("ending conversation: %w", err)
	}

	snap := coord.Snapshot()
	stopWatch()
	<-printed

	fmt.Fprintln(out)
	if snap.Conversation.Summary != nil {
		cyan.Fprintf(out, "Summary: %s\n", *snap.Conversation.Summary)
	}
	if snap.Unlinkable {
		color.New(color.FgYellow).Fprintln(out, "No remote session id was reported, so analysis cannot be fetched for this call.")
	} else {
		fmt.Fprintf(out, "Fetch analysis later with: coven-voice analysis --conversation %s\n", conv.ID)
	}
	return nil
}

func refreshAnalysis(ctx context.Context, out io.Writer, coord *session.Coordinator) {
	patch, err := coord.RefreshAnalysis(ctx)
	if err != nil {
		color.New(color.FgYellow).Fprintf(out, "! %v\n", err)
		return
	}
	printAnalysis(out, patch)
}

// printUpdates renders coordinator updates until the channel closes
func printUpdates(out io.Writer, updates <-chan *session.Update) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)

	for u := range updates {
		switch u.Type {
		case session.UpdateMessage:
			if u.Message != nil && u.Message.Role == store.RoleAgent {
				green.Fprint(out, "agent> ")
				fmt.Fprintln(out, u.Message.Content)
			}
		case session.UpdateState:
			gray.Fprintf(out, "[%s]\n", u.State)
		case session.UpdateError:
			red.Fprintf(out, "! %s\n", u.Error)
		}
	}
}

func printAnalysis(out io.Writer, patch store.AnalysisPatch) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintln(out, "Analysis")
	if patch.Title != nil {
		fmt.Fprintf(out, "  Title:   %s\n", *patch.Title)
	}
	if patch.Outcome != nil {
		fmt.Fprintf(out, "  Outcome: %s\n", *patch.Outcome)
	}
	if patch.Summary != nil {
		fmt.Fprintf(out, "  Summary: %s\n", *patch.Summary)
	}
	for name, r := range patch.EvaluationResults {
		fmt.Fprintf(out, "  Criterion %s: %s\n", name, r.Result)
	}
	for name, v := range patch.DataCollection {
		fmt.Fprintf(out, "  Data %s: %v\n", name, v.Value)
	}
}
