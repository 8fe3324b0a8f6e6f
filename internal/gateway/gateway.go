// ABOUTME: Gateway orchestrator that runs the HTTP API and the gRPC health service
// ABOUTME: Wires the store, coordinator registry, ElevenLabs adapters and listeners together

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-voice/internal/assets"
	"github.com/2389/coven-voice/internal/auth"
	"github.com/2389/coven-voice/internal/config"
	"github.com/2389/coven-voice/internal/elevenlabs"
	"github.com/2389/coven-voice/internal/session"
	"github.com/2389/coven-voice/internal/store"
)

// healthService is the gRPC service name reported alongside the overall status
const healthService = "coven.voice"

// healthCheckInterval is how often the store is pinged for the gRPC health status
const healthCheckInterval = 10 * time.Second

// Deps are the collaborators the gateway serves requests with
type Deps struct {
	Store       store.Store
	Credentials session.CredentialExchange
	Dialer      session.Dialer
	Analysis    session.AnalysisSource
}

// Gateway serves the coven-voice HTTP API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *session.Registry
	reconciler  *session.Reconciler
	credentials session.CredentialExchange
	verifier    auth.TokenVerifier
	handler     http.Handler
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	closing     chan struct{} // closed when HTTP shutdown begins so streams can end
	logger      *slog.Logger
	now         func() time.Time
}

// OpenStore creates the store named by the database config.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	var opts []store.Option
	if cfg.SealKey != "" {
		sealer, err := store.NewSecretboxSealer(cfg.SealKey)
		if err != nil {
			return nil, fmt.Errorf("creating sealer: %w", err)
		}
		opts = append(opts, store.WithSealer(sealer))
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.DSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		path := cfg.Path
		if envPath := os.Getenv("COVEN_VOICE_DB_PATH"); envPath != "" {
			path = envPath
		}
		s, err := store.NewSQLiteStore(path, opts...)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// SessionConfig converts the session section of the config file into
// coordinator settings.
func SessionConfig(cfg config.SessionConfig) session.Config {
	return session.Config{
		CredentialTimeout: cfg.CredentialTimeout,
		AnalysisTimeout:   cfg.AnalysisTimeout,
		DedupeWindow:      cfg.DedupeWindow,
		DedupeMaxEntries:  cfg.DedupeMaxEntries,
	}
}

// New creates a Gateway backed by the configured store and the ElevenLabs API.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	client := elevenlabs.NewClient(cfg.ElevenLabs.APIBaseURL, nil, logger)
	dialer, err := elevenlabs.NewDialer(cfg.ElevenLabs.WSBaseURL, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	gw, err := NewWithDeps(cfg, Deps{
		Store:       s,
		Credentials: elevenlabs.NewTokenIssuer(s, client),
		Dialer:      dialer,
		Analysis:    elevenlabs.NewAnalysisFetcher(s, client),
	}, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithDeps creates a Gateway around explicit collaborators.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := session.NewRegistry(session.Deps{
		Store:       deps.Store,
		Credentials: deps.Credentials,
		Dialer:      deps.Dialer,
		Analysis:    deps.Analysis,
		Logger:      logger,
	}, SessionConfig(cfg.Session))

	gw := &Gateway{
		config:      cfg,
		store:       deps.Store,
		registry:    registry,
		reconciler:  session.NewReconciler(deps.Store, deps.Analysis, registry, cfg.Session.AnalysisTimeout, logger),
		credentials: deps.Credentials,
		logger:      logger.With("component", "gateway"),
		now:         time.Now,
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
	} else {
		gw.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	if cfg.ElevenLabs.WebhookSecret == "" {
		gw.logger.Warn("webhook signature checks disabled - no elevenlabs.webhook_secret configured")
	}

	gw.handler = gw.routes()
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	gw.closing = make(chan struct{})
	var closeOnce sync.Once
	gw.httpServer.RegisterOnShutdown(func() { closeOnce.Do(func() { close(gw.closing) }) })

	gw.health = health.NewServer()
	gw.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
	)
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)

	return gw, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Registry returns the live coordinator registry.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Webhook - authenticated by signature
	mux.HandleFunc("POST /webhooks/elevenlabs", g.handleWebhook)
	mux.Handle("GET /static/", http.StripPrefix("/static/", assets.FileServer()))

	api := http.NewServeMux()
	api.HandleFunc("POST /api/token", g.handleToken)
	api.HandleFunc("POST /api/analysis", g.handleAnalysis)
	api.HandleFunc("GET /api/agents", g.handleListAgents)
	api.HandleFunc("POST /api/agents", g.handleCreateAgent)
	api.HandleFunc("GET /api/agents/{id}", g.handleGetAgent)
	api.HandleFunc("DELETE /api/agents/{id}", g.handleDeleteAgent)
	api.HandleFunc("GET /api/conversations", g.handleListConversations)
	api.HandleFunc("POST /api/conversations", g.handleCreateConversation)
	api.HandleFunc("GET /api/conversations/{id}", g.handleGetConversation)
	api.HandleFunc("POST /api/conversations/{id}/start", g.handleStartConversation)
	api.HandleFunc("POST /api/conversations/{id}/messages", g.handleSendMessage)
	api.HandleFunc("POST /api/conversations/{id}/end", g.handleEndConversation)
	api.HandleFunc("POST /api/conversations/{id}/analysis", g.handleRefreshAnalysis)
	api.HandleFunc("GET /api/conversations/{id}/events", g.handleConversationEvents)
	api.HandleFunc("GET /api/conversations/{id}/transcript", g.handleTranscript)

	mux.Handle("/api/", auth.HTTPAuthMiddleware(g.verifier, g.logger)(api))

	return mux
}

// setupTCPListeners creates standard TCP listeners. grpcLn is nil when no
// gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server addresses are ignored when tailscale is enabled",
				"grpc_addr", g.config.Server.GRPCAddr,
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health service listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// watchHealth keeps the gRPC health status in line with store reachability.
func (g *Gateway) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		g.updateHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (g *Gateway) updateHealth(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		g.logger.Warn("store unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(healthService, status)
}

// Run starts the servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go g.watchHealth(watchCtx)

	errCh := g.startServers(grpcLn, httpLn)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	stopWatch()
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if dir := config.DataDir(); dir != "." {
		return filepath.Join(dir, "voice-tailscale"), nil
	}
	return "", errors.New("cannot determine data directory for tailscale state (set tailscale.state_dir explicitly)")
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet node. HTTP is served on :80, or
// publicly through Funnel on :443 so the webhook can be delivered.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50061")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, finalizes live conversations and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	// Started sessions are finalized before the store goes away
	g.registry.CloseAll(ctx)
	g.registry.Broadcaster().Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d live conversations)", g.registry.Len())
}
