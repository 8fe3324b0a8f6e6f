// ABOUTME: Conversation inspection commands operating directly on the configured store
// ABOUTME: Lists recent conversations and prints transcripts with their analysis

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/coven-voice/internal/gateway"
	"github.com/2389/coven-voice/internal/store"
)

func runConversations(ctx context.Context, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	switch subcmd {
	case "list", "ls":
		return listConversations(ctx, s, os.Stdout, args)
	case "show":
		return showConversation(ctx, s, os.Stdout, args)
	default:
		return fmt.Errorf("unknown conversations subcommand: %s (use list, show)", subcmd)
	}
}

func listConversations(ctx context.Context, s store.Store, out io.Writer, args []string) error {
	flags, _, err := parseArgs(args, []string{"agent", "limit"}, map[string]string{"-a": "--agent", "-l": "--limit"})
	if err != nil {
		return err
	}
	limit := 20
	if raw := flags["limit"]; raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return fmt.Errorf("invalid --limit %q", raw)
		}
	}

	convs, err := s.ListConversations(ctx, flags["agent"], limit)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Conversations")
	cyan.Fprintln(out, "  -------------")

	if len(convs) == 0 {
		fmt.Fprintln(out, "  (no conversations)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSTATUS\tOUTCOME\tSTARTED\tSUMMARY")
	fmt.Fprintln(w, "  --\t------\t-------\t-------\t-------")
	for _, c := range convs {
		outcome := string(c.Analysis.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		summary := ""
		if c.Summary != nil {
			summary = truncate(*c.Summary, 48)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Status, outcome, c.StartedAt.Local().Format("Jan 02 15:04"), summary)
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func showConversation(ctx context.Context, s store.Store, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: conversations show <id>")
	}

	conv, err := s.GetConversation(ctx, args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conversation %s not found", args[0])
		}
		return fmt.Errorf("loading conversation: %w", err)
	}
	msgs, err := s.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	agentName := ""
	if agent, err := s.GetAgent(ctx, conv.AgentID); err == nil {
		agentName = agent.Name
	}

	fmt.Fprint(out, gateway.TranscriptMarkdown(conv, agentName, msgs))
	if conv.Completed() && conv.RemoteSessionID == "" {
		color.New(color.FgYellow).Fprintln(out, "\nThis conversation never reported a remote session id, so no analysis can be fetched for it.")
	}
	return nil
}
