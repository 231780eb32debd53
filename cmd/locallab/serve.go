package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/app"
	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/journal"
	"locallab-hq/locallab/pkg/logqueue"
	"locallab-hq/locallab/pkg/model"
	"locallab-hq/locallab/pkg/orchestrator"
	"locallab-hq/locallab/pkg/server"
	"locallab-hq/locallab/pkg/state"
	"locallab-hq/locallab/pkg/telemetry/logging"
	"locallab-hq/locallab/pkg/telemetry/metrics"
)

var serveFlags struct {
	host string
	port int
}

// serveCmd is the child process spawned by start. It can also be run
// directly to serve in the foreground without supervision.
var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Run the server in the foreground",
	Hidden: true,
	RunE:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "bind host")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port")
}

// stack is everything the server process owns.
type stack struct {
	runtime   *state.Runtime
	metrics   *metrics.Collector
	journal   *journal.Journal
	retention *journal.Retention
	manager   *model.Manager
	app       *app.App
}

// buildStack wires the journal, model manager and application from cfg. A
// journal that cannot be opened is replaced by an in-memory store.
func buildStack(cfg *config.Config, logger *slog.Logger) *stack {
	s := &stack{runtime: state.New()}

	if cfg.Telemetry.Metrics.Enabled {
		s.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	}

	store, err := journal.Open(cfg.Journal)
	if err != nil {
		logger.Warn("request journal unavailable, using in-memory store",
			"component", "journal",
			"backend", cfg.Journal.Backend,
			"error", err,
		)
		store = journal.NewMemoryStore()
	}
	s.journal = journal.New(store, logger)
	s.retention = journal.NewRetention(store, cfg.Journal.Retention, s.metrics)

	backendOpts := model.BackendOptionsFromConfig(cfg.Model)
	backendOpts.Logger = logger

	managerOpts := model.OptionsFromConfig(cfg.Model)
	managerOpts.Backend = model.NewHTTPBackend(backendOpts)
	managerOpts.Runtime = s.runtime
	managerOpts.Metrics = s.metrics
	managerOpts.Logger = logger
	s.manager = model.NewManager(managerOpts)

	s.app = app.New(app.Options{
		Manager:           s.manager,
		Runtime:           s.runtime,
		Journal:           s.journal,
		Metrics:           s.metrics,
		Logger:            logger,
		IdleCheckSchedule: cfg.Model.IdleCheckSchedule,
		Version:           Version,
		Commit:            GitCommit,
		BuildTime:         BuildDate,
	})
	return s
}

// logOutput returns the writer the server logs to. Under the orchestrator
// only complete lines are handed to stdout.
func logOutput() (io.Writer, func() error) {
	if os.Getenv(orchestrator.LogModeEnv) != orchestrator.LogModeChild {
		return os.Stdout, func() error { return nil }
	}
	lw := logqueue.NewLineWriter(logqueue.WriterSink(os.Stdout))
	return lw, lw.Close
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveFlags.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serveFlags.port
	}

	out, flush := logOutput()
	defer flush()

	logger, err := logging.Install(logging.OptionsFromConfig(cfg.Telemetry.Logging, out))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	st := buildStack(cfg, logger.Logger)
	defer func() {
		if err := st.journal.Close(); err != nil {
			logger.Warn("failed to close journal", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.retention.Start(ctx); err != nil {
		logger.Warn("journal retention not started", "error", err)
	}
	defer st.retention.Stop()

	if watcher, err := config.NewWatcher(cfgFile, 0, logger.Logger); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	} else {
		go func() {
			err := watcher.Watch(ctx, func(c *config.Config) {
				if err := logger.SetLevel(c.Telemetry.Logging.Level); err != nil {
					logger.Warn("ignoring reloaded log level", "error", err)
				}
			})
			if err != nil {
				logger.Debug("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	srvCfg := server.ConfigFrom(cfg, st.app)
	srvCfg.Logger = logger.Logger
	srvCfg.Metrics = st.metrics
	srvCfg.Runtime = st.runtime
	srv := server.New(srvCfg)

	logger.Info("serving",
		"addrs", srvCfg.Addrs,
		"engine", srvCfg.Engine,
		"default_model", cfg.Model.Default,
	)

	if err := srv.Serve(ctx); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			return &cli.CommandError{Command: "serve", Err: err, Code: 3}
		}
		return cli.NewCommandError("serve", err)
	}
	return nil
}
