// ABOUTME: Entry point for the coven-voice server and its operator commands
// ABOUTME: Dispatches subcommands for serving, setup, agents, conversations and live talk sessions

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-voice/internal/config"
	"github.com/2389/coven-voice/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __   __   _____ (_) ___ ___
 / __/ _ \ \ / / _ \ '_ \  \ \ / / _ \| |/ __/ _ \
| (_| (_) \ V /  __/ | | |  \ V / (_) | | (_|  __/
 \___\___/ \_/ \___|_| |_|   \_/ \___/|_|\___\___|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "agents":
		err = runAgents(ctx, args)
	case "conversations", "convs":
		err = runConversations(ctx, args)
	case "talk":
		err = runTalk(ctx, args)
	case "analysis":
		err = runAnalysis(ctx, args)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: coven-voice <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                                 Start the server")
	fmt.Println("  init                                  Create a new config file interactively")
	fmt.Println("  token --sub NAME [--ttl 720h]         Mint an API token")
	fmt.Println("  agents list                           List agents")
	fmt.Println("  agents add --name N --remote-id ID --api-key KEY")
	fmt.Println("                                        Register an ElevenLabs agent")
	fmt.Println("  agents rm <id>                        Delete an agent and its conversations")
	fmt.Println("  conversations list [--agent ID]       List recent conversations")
	fmt.Println("  conversations show <id>               Print a conversation transcript")
	fmt.Println("  talk --agent ID                       Hold a text session with an agent")
	fmt.Println("  analysis --conversation ID [--remote ID]")
	fmt.Println("                                        Pull post-call analysis")
	fmt.Println("  health                                Check server health")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COVEN_VOICE_CONFIG    Config file path (default: ~/.config/coven/voice.yaml)")
	fmt.Println("  COVEN_VOICE_DB_PATH   Override the SQLite database path")
	fmt.Println()
}

// loadConfig reads the config file named by the environment or the default path
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		if cfg.Server.GRPCAddr != "" {
			green.Print("    ▶ ")
			fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		}
	}
	if cfg.ElevenLabs.WebhookSecret == "" {
		yellow.Println("    ! webhook signatures are not checked")
	}
	fmt.Println()

	logger.Info("starting coven-voice",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
