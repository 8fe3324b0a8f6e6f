// Package config handles configuration loading for coven-voice.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_VOICE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/voice.yaml
//  3. ~/.config/coven/voice.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_VOICE_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//	  grpc_addr: "127.0.0.1:50061"   # health service, optional
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-voice"
//	  funnel: true                    # lets the webhook be reached publicly
//
//	database:
//	  driver: "sqlite"                # or "postgres"
//	  path: "~/.local/share/coven/voice.db"
//	  dsn: "postgres://..."
//	  seal_key: "${COVEN_VOICE_SEAL_KEY}"
//
//	auth:
//	  jwt_secret: "..."               # empty disables API auth
//
//	elevenlabs:
//	  api_base_url: "https://api.elevenlabs.io"
//	  ws_base_url: ""
//	  webhook_secret: "..."           # empty disables signature checks
//
//	session:
//	  credential_timeout: "15s"
//	  analysis_timeout: "30s"
//	  dedupe_window: "0s"             # 0 keeps keys until evicted by size
//	  dedupe_max_entries: 1000
//
//	logging:
//	  level: "info"
//	  format: "text"                  # or "json"
//
// Duration values use time.ParseDuration syntax.
package config
