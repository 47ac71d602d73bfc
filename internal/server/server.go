// ABOUTME: HTTP server assembly, listener setup (TCP or Tailscale), and lifecycle
// ABOUTME: Wires the auth middleware and API routes onto a chi router

package server

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
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/waylink/waylink/internal/agents"
	"github.com/waylink/waylink/internal/auth"
	"github.com/waylink/waylink/internal/config"
	"github.com/waylink/waylink/internal/responder"
	"github.com/waylink/waylink/internal/session"
	"github.com/waylink/waylink/internal/store"
)

// Deps bundles the components the HTTP layer serves.
type Deps struct {
	Store      store.Store
	Registry   *session.Registry
	Supervisor *session.Supervisor
	Directory  *agents.Directory
	Responder  *responder.Responder
	Verifier   *auth.JWTVerifier // nil disables authentication
}

// Server hosts the waylink HTTP API.
type Server struct {
	config      *config.Config
	store       store.Store
	registry    *session.Registry
	supervisor  *session.Supervisor
	directory   *agents.Directory
	responder   *responder.Responder
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
	started     time.Time
}

// New assembles the server and its routes.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:     cfg,
		store:      deps.Store,
		registry:   deps.Registry,
		supervisor: deps.Supervisor,
		directory:  deps.Directory,
		responder:  deps.Responder,
		verifier:   deps.Verifier,
		logger:     slog.Default().With("component", "server"),
		started:    time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if s.verifier != nil {
			r.Use(auth.Middleware(s.verifier, s.store))
		} else {
			s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
			r.Use(anonymousIdentity)
		}

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}/status", s.handleSessionStatus)
			r.Post("/{id}/connect", s.handleConnectSession)
			r.Post("/{id}/disconnect", s.handleDisconnectSession)
			r.Post("/{id}/logout", s.handleLogoutSession)
			r.Get("/{id}/qr", s.handleSessionQR)
			r.Get("/{id}/pairing-code", s.handleSessionPairingCode)
			r.Post("/{id}/send-message", s.handleSendMessage)
			r.Get("/{id}/messages", s.handleSessionMessages)
			r.Delete("/{id}", s.handleDeleteSession)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Post("/", s.handleCreateAgent)
			r.Get("/", s.handleListAgents)
			r.Get("/{id}", s.handleGetAgent)
			r.Put("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleDeleteAgent)
		})

		r.Route("/auto-response", func(r chi.Router) {
			r.Get("/config", s.handleGetAutoResponse)
			r.Put("/config", s.handlePutAutoResponse)
			r.Post("/test", s.handleTestAutoResponse)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Post("/", s.handleCreateKey)
			r.Get("/", s.handleListKeys)
			r.Delete("/{id}", s.handleDeleteKey)
		})

		r.Post("/system/reset", s.handleSystemReset)
	})

	return r
}

// anonymousIdentity attaches a shared identity when auth is disabled.
func anonymousIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithIdentity(r.Context(), &auth.Identity{Owner: "anonymous", Method: auth.MethodJWT})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Run starts serving and blocks until the context is canceled or the
// listener fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the Tailscale node if present.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
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
	return filepath.Join(homeDir, ".local", "share", "waylink", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet node and returns its HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

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

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	if tsCfg.Funnel {
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	}

	if tsCfg.CertFile != "" && tsCfg.KeyFile != "" {
		return s.setupTailscaleTLSListener(tsCfg)
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// setupTailscaleTLSListener serves HTTPS with a pre-provisioned certificate.
func (s *Server) setupTailscaleTLSListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}

	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
