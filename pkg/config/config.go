package config

import "time"

// Config is the root configuration structure for LocalLab.
// It contains all configuration sections for the supervised server, the
// process orchestrator, tunnel provisioning, the model backend, the request
// journal and telemetry.
type Config struct {
	// Server contains the supervised server configuration including the
	// listen address, engine selection and shutdown timing.
	Server ServerConfig `yaml:"server"`

	// Orchestrator contains configuration for the parent process that spawns
	// the server, funnels its logs and polls its health endpoint.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Tunnel contains public tunnel provisioning settings.
	Tunnel TunnelConfig `yaml:"tunnel"`

	// Model contains the model manager and completion backend settings.
	Model ModelConfig `yaml:"model"`

	// Journal contains request journal storage and retention settings.
	Journal JournalConfig `yaml:"journal"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the supervised HTTP server.
type ServerConfig struct {
	// Host is the interface to bind. When empty the server binds 127.0.0.1
	// locally and 0.0.0.0 when a tunnel is enabled.
	Host string `yaml:"host"`

	// Port is the requested listen port. The orchestrator may pick a later
	// port when this one is taken.
	// Default: 8000
	Port int `yaml:"port"`

	// Engine selects the transport: "auto" tries the primary engine and falls
	// back to the hand-rolled acceptor, "http" requires the primary engine and
	// "fallback" skips it.
	// Default: "auto"
	Engine string `yaml:"engine"`

	// Workers is the number of server worker processes. Only 1 is supported.
	// Default: 1
	Workers int `yaml:"workers"`

	// MaxConnections bounds concurrently handled fallback connections.
	// Default: 100
	MaxConnections int `yaml:"max_connections"`

	// PollInterval is how often the supervisory loop checks the exit flag.
	// Default: 50ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownGrace is the watchdog deadline after the first shutdown signal.
	// Default: 5s
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// ReadTimeout bounds reading one request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing one response. Zero disables it, which is
	// what streamed generation needs.
	// Default: 0
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// OrchestratorConfig contains configuration for the parent process.
type OrchestratorConfig struct {
	// Warmup is the delay between spawning the child and the first health poll.
	// Default: 30s
	Warmup time.Duration `yaml:"warmup"`

	// HealthTimeout is the overall startup budget without a tunnel.
	// Default: 120s
	HealthTimeout time.Duration `yaml:"health_timeout"`

	// TunnelHealthTimeout is the overall startup budget when a tunnel is requested.
	// Default: 180s
	TunnelHealthTimeout time.Duration `yaml:"tunnel_health_timeout"`

	// HealthPollInterval is the delay between sweeps of the health window.
	// Default: 5s
	HealthPollInterval time.Duration `yaml:"health_poll_interval"`

	// HealthRequestTimeout bounds a single health request.
	// Default: 5s
	HealthRequestTimeout time.Duration `yaml:"health_request_timeout"`

	// HealthWindow is the number of ports polled starting at the selected port.
	// Default: 10
	HealthWindow int `yaml:"health_window"`

	// PortScanWindow is the number of ports scanned forward when the requested
	// port is taken.
	// Default: 100
	PortScanWindow int `yaml:"port_scan_window"`

	// LogQueueSize is the capacity of the child log queue.
	// Default: 1000
	LogQueueSize int `yaml:"log_queue_size"`

	// LogPollTimeout is the listener's bounded wait on the log queue.
	// Default: 500ms
	LogPollTimeout time.Duration `yaml:"log_poll_timeout"`
}

// TunnelConfig contains configuration for public tunnel provisioning.
type TunnelConfig struct {
	// Enabled requests a public tunnel after the server is healthy.
	Enabled bool `yaml:"enabled"`

	// AuthToken is the tunnel provider auth token.
	AuthToken string `yaml:"auth_token"`

	// Region is the tunnel region.
	// Default: "us"
	Region string `yaml:"region"`

	// AgentAPI is the base URL of the local tunnel agent API.
	// Default: "http://127.0.0.1:4040"
	AgentAPI string `yaml:"agent_api"`

	// AgentPath is the agent executable started when the API is unreachable.
	// Default: "ngrok"
	AgentPath string `yaml:"agent_path"`

	// MaxRetries is the number of provisioning attempts.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// MinTokenLength is the shortest accepted auth token.
	// Default: 30
	MinTokenLength int `yaml:"min_token_length"`

	// InitialBackoff is the delay after the first failed attempt; it doubles
	// on every further failure.
	// Default: 1s
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// ModelConfig contains configuration for the model manager.
type ModelConfig struct {
	// Default is the model loaded in the background at startup. Empty
	// disables background loading.
	// Default: "qwen-0.5b"
	Default string `yaml:"default"`

	// BackendURL is the base URL of the OpenAI-compatible completion backend.
	// Default: "http://127.0.0.1:8081"
	BackendURL string `yaml:"backend_url"`

	// APIKey is sent as a bearer token to the backend when set.
	APIKey string `yaml:"api_key"`

	// RequestTimeout bounds a single backend call.
	// Default: 120s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries is the number of retries for transient backend failures.
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// IdleTimeout unloads the model after this much inactivity. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// IdleCheckSchedule is the cron expression for the idle check.
	// Default: "*/5 * * * *"
	IdleCheckSchedule string `yaml:"idle_check_schedule"`
}

// JournalConfig contains configuration for the request journal.
type JournalConfig struct {
	// Enabled turns request journaling on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention contains retention settings.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains configuration for the SQLite journal backend.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/journal.db"
	Path string `yaml:"path"`

	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains journal retention settings.
type RetentionConfig struct {
	// Days is the number of days to keep records. Zero keeps everything.
	// Default: 30
	Days int `yaml:"days"`

	// Schedule is the cron expression for pruning.
	// Default: "0 3 * * *"
	Schedule string `yaml:"schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics settings.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains configuration for structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes source file and line in log records.
	AddSource bool `yaml:"add_source"`

	// RedactPatterns are extra regular expressions whose matches are masked
	// in log output.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a named redaction rule.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains configuration for Prometheus metrics.
type MetricsConfig struct {
	// Enabled exposes metrics on the embedded application.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the metrics endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "locallab"
	Namespace string `yaml:"namespace"`
}
