// ABOUTME: Configuration loading and parsing for waylink
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete waylink configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp"`
	AutoResponse AutoResponseConfig `yaml:"autoresponse"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WhatsAppConfig holds session lifecycle and connection timing configuration
type WhatsAppConfig struct {
	Transport            string `yaml:"transport"` // "mock" is the only built-in
	MaxSessionsPerUser   int    `yaml:"max_sessions_per_user"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	SingleLink           *bool  `yaml:"single_link"`

	CredentialTTL       time.Duration `yaml:"-"`
	ConnectSpacing      time.Duration `yaml:"-"`
	Cooldown            time.Duration `yaml:"-"`
	ReconnectBackoffCap time.Duration `yaml:"-"`
	SessionTimeout      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CredentialTTLRaw       string `yaml:"credential_ttl"`
	ConnectSpacingRaw      string `yaml:"connect_spacing"`
	CooldownRaw            string `yaml:"cooldown"`
	ReconnectBackoffCapRaw string `yaml:"reconnect_backoff_cap"`
	SessionTimeoutRaw      string `yaml:"session_timeout"`
}

// AutoResponseConfig holds reply generation configuration
type AutoResponseConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
	Fallback     string `yaml:"fallback"`

	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SingleLinkEnabled reports whether single-link mode is on. Defaults to true
// when the config file leaves it unset.
func (w WhatsAppConfig) SingleLinkEnabled() bool {
	if w.SingleLink == nil {
		return true
	}
	return *w.SingleLink
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// A server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.WhatsApp.MaxSessionsPerUser < 0 {
		return fmt.Errorf("whatsapp.max_sessions_per_user must not be negative")
	}
	if c.WhatsApp.MaxReconnectAttempts < 0 {
		return fmt.Errorf("whatsapp.max_reconnect_attempts must not be negative")
	}

	switch c.WhatsApp.Transport {
	case "", "mock":
	default:
		return fmt.Errorf("whatsapp.transport %q is not supported", c.WhatsApp.Transport)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"whatsapp.credential_ttl", cfg.WhatsApp.CredentialTTLRaw, &cfg.WhatsApp.CredentialTTL},
		{"whatsapp.connect_spacing", cfg.WhatsApp.ConnectSpacingRaw, &cfg.WhatsApp.ConnectSpacing},
		{"whatsapp.cooldown", cfg.WhatsApp.CooldownRaw, &cfg.WhatsApp.Cooldown},
		{"whatsapp.reconnect_backoff_cap", cfg.WhatsApp.ReconnectBackoffCapRaw, &cfg.WhatsApp.ReconnectBackoffCap},
		{"whatsapp.session_timeout", cfg.WhatsApp.SessionTimeoutRaw, &cfg.WhatsApp.SessionTimeout},
		{"autoresponse.timeout", cfg.AutoResponse.TimeoutRaw, &cfg.AutoResponse.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
