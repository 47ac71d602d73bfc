// ABOUTME: Entry point for the waylink session orchestrator server
// ABOUTME: Manages WhatsApp session links and the trigger-matching auto-responder

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/waylink/waylink/internal/agents"
	"github.com/waylink/waylink/internal/auth"
	"github.com/waylink/waylink/internal/config"
	"github.com/waylink/waylink/internal/credcache"
	"github.com/waylink/waylink/internal/generator"
	"github.com/waylink/waylink/internal/responder"
	"github.com/waylink/waylink/internal/server"
	"github.com/waylink/waylink/internal/session"
	"github.com/waylink/waylink/internal/store"
	"github.com/waylink/waylink/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _ _       _
 __      ____ _ _   _ _| (_)_ __ | | __
 \ \ /\ / / _' | | | |_  | | '_ \| |/ /
  \ V  V / (_| | |_| | | | | | | |   <
   \_/\_/ \__,_|\__, | |_|_|_| |_|_|\_\
                |___/
`

// getConfigPath returns the path to the waylink config file.
// Priority: WAYLINK_CONFIG env var > XDG_CONFIG_HOME/waylink/waylink.yaml > ~/.config/waylink/waylink.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WAYLINK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "waylink.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "waylink", "waylink.yaml")
}

// getDataPath returns the path to the waylink data directory.
// Priority: XDG_DATA_HOME/waylink > ~/.local/share/waylink
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "waylink")
}

func main() {
	// .env is optional; real environment always wins
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: waylink <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the waylink server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME  Create config, owner token, and API key")
		fmt.Println("  health                 Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)

	// Tailscale status
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
	}

	fmt.Println()

	logger.Info("starting waylink",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := session.NewRegistry(st, cfg.WhatsApp.MaxSessionsPerUser)
	creds := credcache.New()
	defer creds.Close()

	provider := transport.NewMockProvider()
	logger.Warn("using mock transport; no real WhatsApp network traffic")

	supervisor := session.NewSupervisor(registry, st, provider, creds, session.Options{
		CredentialTTL:        cfg.WhatsApp.CredentialTTL,
		ConnectSpacing:       cfg.WhatsApp.ConnectSpacing,
		Cooldown:             cfg.WhatsApp.Cooldown,
		MaxReconnectAttempts: cfg.WhatsApp.MaxReconnectAttempts,
		BackoffCap:           cfg.WhatsApp.ReconnectBackoffCap,
		SingleLink:           cfg.WhatsApp.SingleLinkEnabled(),
		SessionTimeout:       cfg.WhatsApp.SessionTimeout,
	})

	directory := agents.NewDirectory(st)

	gen, err := setupGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	autoResponder := responder.New(st, directory, gen, responder.Options{
		Timeout:  cfg.AutoResponse.Timeout,
		Fallback: cfg.AutoResponse.Fallback,
	})
	supervisor.SetSink(autoResponder)

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	srv := server.New(cfg, server.Deps{
		Store:      st,
		Registry:   registry,
		Supervisor: supervisor,
		Directory:  directory,
		Responder:  autoResponder,
		Verifier:   verifier,
	})

	supervisor.Start(ctx)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		supervisor.Shutdown(shutdownCtx)
	}()

	return srv.Run(ctx)
}

// initStore opens the SQLite store, honoring the WAYLINK_DB_PATH override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WAYLINK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// setupGenerator picks the reply generator: Gemini if a key is configured,
// a static echo otherwise.
func setupGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generator.Generator, error) {
	if cfg.AutoResponse.GeminiAPIKey == "" {
		logger.Warn("no gemini_api_key configured; auto-responses use a static reply")
		return generator.Static{}, nil
	}

	gen, err := generator.NewGemini(ctx, cfg.AutoResponse.GeminiAPIKey, cfg.AutoResponse.Model)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return gen, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Status      string `json:"status"`
			Uptime      string `json:"uptime"`
			Connections int    `json:"connections"`
			Queued      int    `json:"queued"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Printf("healthy (uptime %s, %d connected, %d queued)\n",
		body.Data.Uptime, body.Data.Connections, body.Data.Queued)
	return nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if not exists)
// 2. Generates a 30-day owner token and saves it next to the config
// 3. Mints an API key for non-interactive clients
//
// One-command setup: waylink bootstrap --name "Your Name"
func runBootstrap(ctx context.Context) error {
	// Supports both "--name value" and "--name=value" formats
	var displayName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-n="):
			displayName = strings.TrimPrefix(arg, "-n=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("--name flag is required")
	}
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "waylink.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	var jwtSecret string

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Generate random JWT secret
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# waylink configuration
# Generated by waylink bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

whatsapp:
  transport: "mock"
  max_sessions_per_user: 3
  max_reconnect_attempts: 5
  single_link: true
  credential_ttl: "60s"
  connect_spacing: "5s"
  cooldown: "10s"
  reconnect_backoff_cap: "1m"
  session_timeout: "1h"

autoresponse:
  gemini_api_key: "${GEMINI_API_KEY}"
  model: "gemini-2.0-flash"
  timeout: "30s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		jwtSecret = cfg.Auth.JWTSecret

		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	ownerID := uuid.New().String()

	// Generate JWT token, default TTL 30 days
	verifier := auth.NewJWTVerifier([]byte(jwtSecret))
	tokenTTL := 30 * 24 * time.Hour
	expiresAt := time.Now().Add(tokenTTL).UTC()

	token, err := verifier.Generate(ownerID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	// Mint an API key for non-interactive clients
	plaintext, record, err := auth.MintKey(ownerID, "bootstrap")
	if err != nil {
		return fmt.Errorf("minting API key: %w", err)
	}
	if err := s.CreateAPIKey(ctx, record); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}

	green.Printf("  ✓ Created API key: %s\n", record.Name)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner")
	cyan.Println("  -----")
	fmt.Printf("  ID:      %s\n", ownerID)
	fmt.Printf("  Name:    %s\n", displayName)
	fmt.Printf("  Token:   %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	fmt.Printf("  API key: %s\n", plaintext)
	yellow.Println("  Store the API key now; it is not shown again.")
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    waylink serve    # start the server")
	fmt.Println("    waylink health   # verify it is running")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("waylink configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "waylink.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "waylink")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
		funnelStr := prompt(reader, "Enable Funnel (public HTTPS)?", "no")
		tsFunnel = strings.ToLower(funnelStr) == "yes" || strings.ToLower(funnelStr) == "y"
	}

	fmt.Println("\n--- Auto-Response Configuration ---")
	geminiKey := prompt(reader, "Gemini API key (leave empty to use ${GEMINI_API_KEY})", "")
	if geminiKey == "" {
		geminiKey = "${GEMINI_API_KEY}"
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# waylink configuration\n")
	cfg.WriteString("# Generated by waylink init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", tsFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("whatsapp:\n")
	cfg.WriteString("  transport: \"mock\"\n")
	cfg.WriteString("  max_sessions_per_user: 3\n")
	cfg.WriteString("  max_reconnect_attempts: 5\n")
	cfg.WriteString("  single_link: true\n")
	cfg.WriteString("  credential_ttl: \"60s\"\n")
	cfg.WriteString("  connect_spacing: \"5s\"\n")
	cfg.WriteString("  cooldown: \"10s\"\n")
	cfg.WriteString("  reconnect_backoff_cap: \"1m\"\n")
	cfg.WriteString("  session_timeout: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("autoresponse:\n")
	cfg.WriteString(fmt.Sprintf("  gemini_api_key: \"%s\"\n", geminiKey))
	cfg.WriteString("  model: \"gemini-2.0-flash\"\n")
	cfg.WriteString("  timeout: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  waylink serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
