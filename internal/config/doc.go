// Package config handles configuration loading for waylink.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WAYLINK_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	whatsapp:
//	  credential_ttl: "60s"
//	  connect_spacing: "5s"
//	  session_timeout: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API listener
//
// Database:
//
//	database:
//	  path: "/var/lib/waylink/waylink.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${WAYLINK_JWT_SECRET}"
//
// Session lifecycle:
//
//	whatsapp:
//	  transport: "mock"
//	  max_sessions_per_user: 3
//	  max_reconnect_attempts: 5
//	  single_link: true
//	  credential_ttl: "60s"
//	  connect_spacing: "5s"
//	  cooldown: "10s"
//	  reconnect_backoff_cap: "1m"
//	  session_timeout: "1h"       # negative disables the idle sweep
//
// Auto-response:
//
//	autoresponse:
//	  gemini_api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-2.0-flash"
//	  timeout: "30s"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "waylink"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
