// ABOUTME: Agent management commands operating directly on the configured store
// ABOUTME: Registers ElevenLabs agents with their API keys, lists and deletes them

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/coven-voice/internal/gateway"
	"github.com/2389/coven-voice/internal/store"
)

// openStore opens the store named by the config file
func openStore(ctx context.Context) (store.Store, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runAgents(ctx context.Context, args []string) error {
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
		return listAgents(ctx, s, os.Stdout)
	case "add", "create":
		return addAgent(ctx, s, os.Stdout, args)
	case "rm", "delete", "remove":
		return removeAgent(ctx, s, os.Stdout, args)
	default:
		return fmt.Errorf("unknown agents subcommand: %s (use list, add, rm)", subcmd)
	}
}

func listAgents(ctx context.Context, s store.Store, out io.Writer) error {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Agents")
	cyan.Fprintln(out, "  ------")

	if len(agents) == 0 {
		fmt.Fprintln(out, "  (no agents registered)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tREMOTE AGENT\tCREATED")
	fmt.Fprintln(w, "  --\t----\t------------\t-------")
	for _, a := range agents {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			a.ID, truncate(a.Name, 24), a.RemoteAgentID, a.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func addAgent(ctx context.Context, s store.Store, out io.Writer, args []string) error {
	flags, _, err := parseArgs(args, []string{"name", "remote-id", "api-key"}, map[string]string{"-n": "--name"})
	if err != nil {
		return err
	}

	apiKey := flags["api-key"]
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if flags["name"] == "" || flags["remote-id"] == "" || apiKey == "" {
		return errors.New("usage: agents add --name <name> --remote-id <agent_id> --api-key <key> (or set ELEVENLABS_API_KEY)")
	}

	agent := &store.Agent{Name: flags["name"], RemoteAgentID: flags["remote-id"], APIKey: apiKey}
	if err := s.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created agent %s (%s)\n", agent.Name, agent.ID)
	return nil
}

func removeAgent(ctx context.Context, s store.Store, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: agents rm <id>")
	}
	if err := s.DeleteAgent(ctx, args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("agent %s not found", args[0])
		}
		return fmt.Errorf("deleting agent: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ Deleted agent %s\n", args[0])
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
