package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateOrchestrator(&cfg.Orchestrator)...)
	errs = append(errs, validateTunnel(&cfg.Tunnel)...)
	errs = append(errs, validateModel(&cfg.Model)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, FieldError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		})
	}

	switch cfg.Engine {
	case "auto", "http", "fallback":
	default:
		errs = append(errs, FieldError{
			Field:   "server.engine",
			Message: fmt.Sprintf("engine must be one of auto, http, fallback, got %q", cfg.Engine),
		})
	}

	if cfg.Workers != 1 {
		errs = append(errs, FieldError{
			Field:   "server.workers",
			Message: "only a single worker is supported",
		})
	}
	if cfg.MaxConnections < 1 {
		errs = append(errs, FieldError{
			Field:   "server.max_connections",
			Message: "max connections must be positive",
		})
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.poll_interval",
			Message: "poll interval must be positive",
		})
	}
	if cfg.ShutdownGrace <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_grace",
			Message: "shutdown grace must be positive",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be non-negative",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be non-negative",
		})
	}

	return errs
}

func validateOrchestrator(cfg *OrchestratorConfig) []FieldError {
	var errs []FieldError

	if cfg.Warmup < 0 {
		errs = append(errs, FieldError{Field: "orchestrator.warmup", Message: "warmup must be non-negative"})
	}
	if cfg.HealthTimeout <= 0 {
		errs = append(errs, FieldError{Field: "orchestrator.health_timeout", Message: "health timeout must be positive"})
	}
	if cfg.TunnelHealthTimeout <= 0 {
		errs = append(errs, FieldError{Field: "orchestrator.tunnel_health_timeout", Message: "tunnel health timeout must be positive"})
	}
	if cfg.HealthPollInterval <= 0 {
		errs = append(errs, FieldError{Field: "orchestrator.health_poll_interval", Message: "health poll interval must be positive"})
	}
	if cfg.HealthWindow < 1 {
		errs = append(errs, FieldError{Field: "orchestrator.health_window", Message: "health window must be at least 1"})
	}
	if cfg.PortScanWindow < 1 {
		errs = append(errs, FieldError{Field: "orchestrator.port_scan_window", Message: "port scan window must be at least 1"})
	}
	if cfg.LogQueueSize < 1 {
		errs = append(errs, FieldError{Field: "orchestrator.log_queue_size", Message: "log queue size must be positive"})
	}
	if cfg.LogPollTimeout <= 0 {
		errs = append(errs, FieldError{Field: "orchestrator.log_poll_timeout", Message: "log poll timeout must be positive"})
	}

	return errs
}

func validateTunnel(cfg *TunnelConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxRetries < 1 {
		errs = append(errs, FieldError{Field: "tunnel.max_retries", Message: "max retries must be at least 1"})
	}
	if cfg.MinTokenLength < 0 {
		errs = append(errs, FieldError{Field: "tunnel.min_token_length", Message: "min token length must be non-negative"})
	}
	if cfg.AgentAPI != "" {
		if err := validateURL(cfg.AgentAPI); err != nil {
			errs = append(errs, FieldError{Field: "tunnel.agent_api", Message: err.Error()})
		}
	}

	return errs
}

func validateModel(cfg *ModelConfig) []FieldError {
	var errs []FieldError

	if err := validateURL(cfg.BackendURL); err != nil {
		errs = append(errs, FieldError{Field: "model.backend_url", Message: err.Error()})
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, FieldError{Field: "model.request_timeout", Message: "request timeout must be positive"})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "model.max_retries", Message: "max retries must be non-negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "model.idle_timeout", Message: "idle timeout must be non-negative"})
	}
	if cfg.IdleTimeout > 0 {
		if _, err := cron.ParseStandard(cfg.IdleCheckSchedule); err != nil {
			errs = append(errs, FieldError{Field: "model.idle_check_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	return errs
}

func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	switch cfg.Backend {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "journal.sqlite.path", Message: "path is required for the sqlite backend"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "journal.sqlite.driver",
				Message: fmt.Sprintf("driver must be sqlite or sqlite3, got %q", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.MaxOpenConns < 1 {
			errs = append(errs, FieldError{Field: "journal.sqlite.max_open_conns", Message: "max open connections must be positive"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "journal.backend",
			Message: fmt.Sprintf("backend must be sqlite or memory, got %q", cfg.Backend),
		})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "journal.retention.days", Message: "retention days must be non-negative"})
	}
	if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
		errs = append(errs, FieldError{Field: "journal.retention.schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("level must be one of debug, info, warn, error, got %q", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("format must be json or text, got %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	return errs
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL host is required")
	}
	return nil
}
