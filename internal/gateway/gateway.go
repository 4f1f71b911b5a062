// ABOUTME: Gateway orchestrator that wires the chat core to its HTTP server
// ABOUTME: Manages the store, WebSocket sessions, health endpoints and tsnet lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/parlor-gateway/internal/bot"
	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/config"
	"github.com/2389/parlor-gateway/internal/dedupe"
	"github.com/2389/parlor-gateway/internal/groups"
	"github.com/2389/parlor-gateway/internal/history"
	"github.com/2389/parlor-gateway/internal/llm"
	"github.com/2389/parlor-gateway/internal/mailbox"
	"github.com/2389/parlor-gateway/internal/metrics"
	"github.com/2389/parlor-gateway/internal/pdftext"
	"github.com/2389/parlor-gateway/internal/router"
	"github.com/2389/parlor-gateway/internal/session"
	"github.com/2389/parlor-gateway/internal/store"
)

// loadTimeout bounds reading all persisted documents at startup.
const loadTimeout = 30 * time.Second

// Gateway owns every component of a running parlor-gateway.
type Gateway struct {
	config      *config.Config
	backend     store.Backend
	sessions    *session.Registry
	router      *router.Router
	metrics     *metrics.Metrics
	dedupe      *dedupe.Cache
	summarizer  llm.Summarizer
	pdf         *pdftext.Extractor
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance in logs
	serverID string

	// botPrompt is the default instruction for the summarize API
	botPrompt string

	// conns tracks open WebSockets so shutdown can close them; handlers
	// counts their goroutines so the stores outlive every frame in flight
	connsMu  sync.Mutex
	conns    map[string]*wsConn
	stopping bool
	handlers sync.WaitGroup

	// writers persist the snapshot documents and are flushed on shutdown
	writers []*store.Writer
}

// New creates a Gateway from configuration, opening the configured store and
// restoring every persisted document.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var summarizer llm.Summarizer
	if cfg.Bot.APIKey != "" {
		summarizer = llm.NewOpenAISummarizer(llm.Config{
			APIKey:  cfg.Bot.APIKey,
			BaseURL: cfg.Bot.BaseURL,
			Model:   cfg.Bot.Model,
			Timeout: cfg.Bot.Timeout,
		}, logger)
	} else {
		logger.Warn("bot.api_key not set - bot replies and /api/summarize_chat will report the summarizer as unavailable")
	}

	gw, err := newGateway(cfg, backend, summarizer, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return gw, nil
}

// newGateway wires the components on top of an open backend. The backend is
// owned by the returned Gateway and closed on Shutdown.
func newGateway(cfg *config.Config, backend store.Backend, summarizer llm.Summarizer, logger *slog.Logger) (*Gateway, error) {
	gw := &Gateway{
		config:     cfg,
		backend:    backend,
		summarizer: summarizer,
		pdf:        pdftext.New(cfg.Bot.MaxPDFBytes),
		logger:     logger.With("component", "gateway"),
		serverID:   "parlor-gateway-" + uuid.NewString()[:8],
		botPrompt:  cfg.Bot.DefaultPrompt,
		conns:      make(map[string]*wsConn),
	}
	if gw.botPrompt == "" {
		gw.botPrompt = bot.DefaultPrompt
	}

	gw.sessions = session.NewRegistry(session.Options{
		MaxNameLength: cfg.Sessions.MaxNameLength,
		BotIdentity:   cfg.Bot.Identity,
		Logger:        logger,
	})
	gw.metrics = metrics.New(gw.sessions.Count)

	writer := func(name string) *store.Writer {
		w := store.NewWriter(backend, name, logger)
		w.OnError = gw.metrics.PersistFailed
		gw.writers = append(gw.writers, w)
		return w
	}

	historyStore := history.NewStore(writer(store.DocConversations), logger)
	directory := groups.NewDirectory(writer(store.DocGroups), logger)
	offline := mailbox.New(writer(store.DocOffline), logger)
	prompts := bot.NewPrompts(writer(store.DocBotConfigs))

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	loaders := []struct {
		name string
		load func(context.Context, store.Backend) error
	}{
		{store.DocConversations, historyStore.Load},
		{store.DocGroups, directory.Load},
		{store.DocOffline, offline.Load},
		{store.DocBotConfigs, prompts.Load},
	}
	for _, l := range loaders {
		if err := l.load(ctx, backend); err != nil {
			gw.closeWriters()
			return nil, fmt.Errorf("loading %s: %w", l.name, err)
		}
	}

	ids, err := chat.NewSnowflakeIDs(cfg.Node.ID)
	if err != nil {
		gw.closeWriters()
		return nil, err
	}

	gw.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)

	botGateway := bot.NewGateway(bot.Options{
		Identity:      cfg.Bot.Identity,
		DefaultPrompt: cfg.Bot.DefaultPrompt,
		Summarizer:    summarizer,
		Prompts:       prompts,
		Logger:        logger,
	})

	gw.router = router.New(router.Options{
		Sessions: gw.sessions,
		History:  historyStore,
		Groups:   directory,
		Mailbox:  offline,
		Bot:      botGateway,
		IDs:      ids,
		Dedupe:   gw.dedupe,
		Metrics:  gw.metrics,
		Logger:   logger,
	})

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP routes served by the gateway.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/ws", g.handleWebSocket)
	mux.HandleFunc("/api/summarize_chat", g.handleSummarizeChat)

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	return mux
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "server_id", g.serverID, "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
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
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "parlor-gateway", "tailscale"), nil
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

// setupTailscaleListener brings up a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
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
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
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

func (g *Gateway) closeWriters() {
	for _, w := range g.writers {
		w.Close()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// hijacked connections are not closed by http.Server.Shutdown
	g.closeConns()
	errs = appendCloseError(errs, "connection drain", g.waitHandlers(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	// pending documents must reach the backend before it closes
	g.closeWriters()
	errs = appendCloseError(errs, "store close", g.backend.Close())

	if g.dedupe != nil {
		g.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers, with the live session count.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := g.backend.Get(ctx, store.DocGroups); err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users online)", g.sessions.Count())
}
