package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultServerHost           = "127.0.0.1"
	DefaultTunnelServerHost     = "0.0.0.0"
	DefaultServerPort           = 8000
	DefaultServerEngine         = "auto"
	DefaultServerWorkers        = 1
	DefaultServerMaxConnections = 100
	DefaultServerPollInterval   = 50 * time.Millisecond
	DefaultServerShutdownGrace  = 5 * time.Second
	DefaultServerReadTimeout    = 30 * time.Second

	// Orchestrator defaults
	DefaultWarmup               = 30 * time.Second
	DefaultHealthTimeout        = 120 * time.Second
	DefaultTunnelHealthTimeout  = 180 * time.Second
	DefaultHealthPollInterval   = 5 * time.Second
	DefaultHealthRequestTimeout = 5 * time.Second
	DefaultHealthWindow         = 10
	DefaultPortScanWindow       = 100
	DefaultLogQueueSize         = 1000
	DefaultLogPollTimeout       = 500 * time.Millisecond

	// Tunnel defaults
	DefaultTunnelRegion         = "us"
	DefaultTunnelAgentAPI       = "http://127.0.0.1:4040"
	DefaultTunnelAgentPath      = "ngrok"
	DefaultTunnelMaxRetries     = 3
	DefaultTunnelMinTokenLength = 30
	DefaultTunnelBackoff        = 1 * time.Second

	// Model defaults
	DefaultModel                  = "qwen-0.5b"
	DefaultModelBackendURL        = "http://127.0.0.1:8081"
	DefaultModelRequestTimeout    = 120 * time.Second
	DefaultModelMaxRetries        = 2
	DefaultModelIdleCheckSchedule = "*/5 * * * *"

	// Journal defaults
	DefaultJournalEnabled           = true
	DefaultJournalBackend           = "sqlite"
	DefaultJournalSQLitePath        = "data/journal.db"
	DefaultJournalSQLiteDriver      = "sqlite"
	DefaultJournalSQLiteMaxOpen     = 4
	DefaultJournalSQLiteWALMode     = true
	DefaultJournalSQLiteBusyTimeout = 5 * time.Second
	DefaultJournalRetentionDays     = 30
	DefaultJournalRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "text"
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "locallab"
)

// NewDefault returns a configuration with every default applied, including
// the boolean defaults that ApplyDefaults cannot distinguish from "unset".
// LoadConfig decodes YAML on top of it so omitted booleans keep their default.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Journal.Enabled = DefaultJournalEnabled
	cfg.Journal.SQLite.WALMode = DefaultJournalSQLiteWALMode
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Model.Default = DefaultModel
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Engine == "" {
		cfg.Server.Engine = DefaultServerEngine
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = DefaultServerWorkers
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = DefaultServerMaxConnections
	}
	if cfg.Server.PollInterval == 0 {
		cfg.Server.PollInterval = DefaultServerPollInterval
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = DefaultServerShutdownGrace
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}

	// Orchestrator defaults
	if cfg.Orchestrator.Warmup == 0 {
		cfg.Orchestrator.Warmup = DefaultWarmup
	}
	if cfg.Orchestrator.HealthTimeout == 0 {
		cfg.Orchestrator.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.Orchestrator.TunnelHealthTimeout == 0 {
		cfg.Orchestrator.TunnelHealthTimeout = DefaultTunnelHealthTimeout
	}
	if cfg.Orchestrator.HealthPollInterval == 0 {
		cfg.Orchestrator.HealthPollInterval = DefaultHealthPollInterval
	}
	if cfg.Orchestrator.HealthRequestTimeout == 0 {
		cfg.Orchestrator.HealthRequestTimeout = DefaultHealthRequestTimeout
	}
	if cfg.Orchestrator.HealthWindow == 0 {
		cfg.Orchestrator.HealthWindow = DefaultHealthWindow
	}
	if cfg.Orchestrator.PortScanWindow == 0 {
		cfg.Orchestrator.PortScanWindow = DefaultPortScanWindow
	}
	if cfg.Orchestrator.LogQueueSize == 0 {
		cfg.Orchestrator.LogQueueSize = DefaultLogQueueSize
	}
	if cfg.Orchestrator.LogPollTimeout == 0 {
		cfg.Orchestrator.LogPollTimeout = DefaultLogPollTimeout
	}

	// Tunnel defaults
	if cfg.Tunnel.Region == "" {
		cfg.Tunnel.Region = DefaultTunnelRegion
	}
	if cfg.Tunnel.AgentAPI == "" {
		cfg.Tunnel.AgentAPI = DefaultTunnelAgentAPI
	}
	if cfg.Tunnel.AgentPath == "" {
		cfg.Tunnel.AgentPath = DefaultTunnelAgentPath
	}
	if cfg.Tunnel.MaxRetries == 0 {
		cfg.Tunnel.MaxRetries = DefaultTunnelMaxRetries
	}
	if cfg.Tunnel.MinTokenLength == 0 {
		cfg.Tunnel.MinTokenLength = DefaultTunnelMinTokenLength
	}
	if cfg.Tunnel.InitialBackoff == 0 {
		cfg.Tunnel.InitialBackoff = DefaultTunnelBackoff
	}

	// Model defaults
	if cfg.Model.BackendURL == "" {
		cfg.Model.BackendURL = DefaultModelBackendURL
	}
	if cfg.Model.RequestTimeout == 0 {
		cfg.Model.RequestTimeout = DefaultModelRequestTimeout
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = DefaultModelMaxRetries
	}
	if cfg.Model.IdleCheckSchedule == "" {
		cfg.Model.IdleCheckSchedule = DefaultModelIdleCheckSchedule
	}

	// Journal defaults
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = DefaultJournalBackend
	}
	if cfg.Journal.SQLite.Path == "" {
		cfg.Journal.SQLite.Path = DefaultJournalSQLitePath
	}
	if cfg.Journal.SQLite.Driver == "" {
		cfg.Journal.SQLite.Driver = DefaultJournalSQLiteDriver
	}
	if cfg.Journal.SQLite.MaxOpenConns == 0 {
		cfg.Journal.SQLite.MaxOpenConns = DefaultJournalSQLiteMaxOpen
	}
	if cfg.Journal.SQLite.BusyTimeout == 0 {
		cfg.Journal.SQLite.BusyTimeout = DefaultJournalSQLiteBusyTimeout
	}
	if cfg.Journal.Retention.Days == 0 {
		cfg.Journal.Retention.Days = DefaultJournalRetentionDays
	}
	if cfg.Journal.Retention.Schedule == "" {
		cfg.Journal.Retention.Schedule = DefaultJournalRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// ServerHost returns the effective bind host. An explicit host wins; otherwise
// tunnel mode binds every interface and local mode binds loopback.
func (c *Config) ServerHost() string {
	if c.Server.Host != "" {
		return c.Server.Host
	}
	if c.Tunnel.Enabled {
		return DefaultTunnelServerHost
	}
	return DefaultServerHost
}

// StartupTimeout returns the orchestrator's overall health budget.
func (c *Config) StartupTimeout() time.Duration {
	if c.Tunnel.Enabled {
		return c.Orchestrator.TunnelHealthTimeout
	}
	return c.Orchestrator.HealthTimeout
}
