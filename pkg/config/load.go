package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.locallab/config.yaml, or a relative config.yaml when
// the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".locallab", "config.yaml")
}

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention LOCALLAB_SECTION_FIELD (e.g., LOCALLAB_SERVER_PORT).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
//
// A missing file is not an error: defaults and environment overrides are used.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = NewDefault()
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Besides LOCALLAB_SECTION_FIELD it honours the short legacy names
// LOCALLAB_PORT, LOCALLAB_USE_NGROK, LOCALLAB_MODEL and NGROK_AUTH_TOKEN.
func applyEnvOverrides(cfg *Config) {
	// Legacy names first so the fully qualified forms win.
	envInt("LOCALLAB_PORT", &cfg.Server.Port)
	envBool("LOCALLAB_USE_NGROK", &cfg.Tunnel.Enabled)
	envString("LOCALLAB_MODEL", &cfg.Model.Default)
	envString("NGROK_AUTH_TOKEN", &cfg.Tunnel.AuthToken)

	// Server overrides
	envString("LOCALLAB_SERVER_HOST", &cfg.Server.Host)
	envInt("LOCALLAB_SERVER_PORT", &cfg.Server.Port)
	envString("LOCALLAB_SERVER_ENGINE", &cfg.Server.Engine)
	envInt("LOCALLAB_SERVER_WORKERS", &cfg.Server.Workers)
	envInt("LOCALLAB_SERVER_MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	envDuration("LOCALLAB_SERVER_POLL_INTERVAL", &cfg.Server.PollInterval)
	envDuration("LOCALLAB_SERVER_SHUTDOWN_GRACE", &cfg.Server.ShutdownGrace)
	envDuration("LOCALLAB_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LOCALLAB_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	// Orchestrator overrides
	envDuration("LOCALLAB_ORCHESTRATOR_WARMUP", &cfg.Orchestrator.Warmup)
	envDuration("LOCALLAB_ORCHESTRATOR_HEALTH_TIMEOUT", &cfg.Orchestrator.HealthTimeout)
	envDuration("LOCALLAB_ORCHESTRATOR_TUNNEL_HEALTH_TIMEOUT", &cfg.Orchestrator.TunnelHealthTimeout)
	envDuration("LOCALLAB_ORCHESTRATOR_HEALTH_POLL_INTERVAL", &cfg.Orchestrator.HealthPollInterval)
	envInt("LOCALLAB_ORCHESTRATOR_HEALTH_WINDOW", &cfg.Orchestrator.HealthWindow)
	envInt("LOCALLAB_ORCHESTRATOR_PORT_SCAN_WINDOW", &cfg.Orchestrator.PortScanWindow)
	envInt("LOCALLAB_ORCHESTRATOR_LOG_QUEUE_SIZE", &cfg.Orchestrator.LogQueueSize)

	// Tunnel overrides
	envBool("LOCALLAB_TUNNEL_ENABLED", &cfg.Tunnel.Enabled)
	envString("LOCALLAB_TUNNEL_AUTH_TOKEN", &cfg.Tunnel.AuthToken)
	envString("LOCALLAB_TUNNEL_REGION", &cfg.Tunnel.Region)
	envString("LOCALLAB_TUNNEL_AGENT_API", &cfg.Tunnel.AgentAPI)
	envString("LOCALLAB_TUNNEL_AGENT_PATH", &cfg.Tunnel.AgentPath)
	envInt("LOCALLAB_TUNNEL_MAX_RETRIES", &cfg.Tunnel.MaxRetries)

	// Model overrides
	envString("LOCALLAB_MODEL_DEFAULT", &cfg.Model.Default)
	envString("LOCALLAB_MODEL_BACKEND_URL", &cfg.Model.BackendURL)
	envString("LOCALLAB_MODEL_API_KEY", &cfg.Model.APIKey)
	envDuration("LOCALLAB_MODEL_REQUEST_TIMEOUT", &cfg.Model.RequestTimeout)
	envDuration("LOCALLAB_MODEL_IDLE_TIMEOUT", &cfg.Model.IdleTimeout)

	// Journal overrides
	envBool("LOCALLAB_JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("LOCALLAB_JOURNAL_BACKEND", &cfg.Journal.Backend)
	envString("LOCALLAB_JOURNAL_SQLITE_PATH", &cfg.Journal.SQLite.Path)
	envString("LOCALLAB_JOURNAL_SQLITE_DRIVER", &cfg.Journal.SQLite.Driver)
	envInt("LOCALLAB_JOURNAL_RETENTION_DAYS", &cfg.Journal.Retention.Days)

	// Telemetry overrides
	envString("LOCALLAB_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("LOCALLAB_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("LOCALLAB_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("LOCALLAB_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// Save writes the configuration to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration file %q: %w", path, err)
	}
	return nil
}

// SetValue returns a copy of cfg with the dotted key (e.g. "server.port")
// set to value. The value is decoded as a YAML scalar so "8080", "true" and
// "30s" take the field's type.
func SetValue(cfg *Config, key, value string) (*Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	var scalar any
	if err := yaml.Unmarshal([]byte(value), &scalar); err != nil {
		scalar = value
	}

	parts := strings.Split(key, ".")
	node := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, ok := node[part]; !ok {
				return nil, FieldError{Field: key, Message: "unknown configuration key"}
			}
			node[part] = scalar
			break
		}
		next, ok := node[part].(map[string]any)
		if !ok {
			return nil, FieldError{Field: key, Message: "unknown configuration key"}
		}
		node = next
	}

	data, err = yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, FieldError{Field: key, Message: err.Error()}
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
