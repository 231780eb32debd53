// Package config provides configuration management for LocalLab.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides (a missing file
//     falls back to defaults):
//     cfg, err := config.LoadConfigWithEnvOverrides(config.DefaultPath())
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention LOCALLAB_SECTION_FIELD.
// For example:
//
//   - LOCALLAB_SERVER_PORT overrides server.port
//   - LOCALLAB_TUNNEL_ENABLED overrides tunnel.enabled
//   - LOCALLAB_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// The short forms LOCALLAB_PORT, LOCALLAB_USE_NGROK, LOCALLAB_MODEL and
// NGROK_AUTH_TOKEN are also honoured.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file with fsnotify and hands every valid
// new configuration to a callback; the server uses it to change the log level
// without a restart.
//
// # Example Configuration
//
//	server:
//	  port: 8000
//	  engine: auto
//
//	tunnel:
//	  enabled: true
//
//	model:
//	  default: qwen-0.5b
//	  backend_url: http://127.0.0.1:8081
//
//	journal:
//	  backend: sqlite
//	  sqlite:
//	    path: data/journal.db
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: text
package config
