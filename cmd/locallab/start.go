package main

import (
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/orchestrator"
	"locallab-hq/locallab/pkg/telemetry/logging"
	"locallab-hq/locallab/pkg/telemetry/metrics"
	"locallab-hq/locallab/pkg/tunnel"
)

var startFlags struct {
	host   string
	port   int
	tunnel bool
	token  string
	model  string
	engine string
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the LocalLab server",
	Long: `Start the LocalLab server in a supervised child process.

The requested port is checked first; when it is taken the next free port in
the scan window is used. The command returns once the server exits or on
SIGINT/SIGTERM, which is forwarded to the server.

Examples:
  # Start locally on port 8000
  locallab start

  # Pick another port and model
  locallab start --port 8080 --model phi-2

  # Expose the server through a tunnel
  locallab start --tunnel --token $NGROK_AUTH_TOKEN`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVar(&startFlags.host, "host", "", "bind host (default 127.0.0.1, or 0.0.0.0 with --tunnel)")
	startCmd.Flags().IntVarP(&startFlags.port, "port", "p", 0, "requested listen port")
	startCmd.Flags().BoolVar(&startFlags.tunnel, "tunnel", false, "open a public tunnel once the server is healthy")
	startCmd.Flags().BoolVar(&startFlags.tunnel, "use-ngrok", false, "alias for --tunnel")
	startCmd.Flags().StringVar(&startFlags.token, "token", "", "tunnel auth token")
	startCmd.Flags().StringVarP(&startFlags.model, "model", "m", "", "model loaded at startup")
	startCmd.Flags().StringVar(&startFlags.engine, "engine", "", "transport: auto, http or fallback")
	_ = startCmd.Flags().MarkHidden("use-ngrok")
}

// applyStartFlags copies explicit flags onto cfg and returns the environment
// the child needs to see the same values.
func applyStartFlags(cmd *cobra.Command, cfg *config.Config) []string {
	var env []string
	flags := cmd.Flags()

	if flags.Changed("host") {
		cfg.Server.Host = startFlags.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = startFlags.port
	}
	if flags.Changed("tunnel") || flags.Changed("use-ngrok") {
		cfg.Tunnel.Enabled = startFlags.tunnel
		env = append(env, "LOCALLAB_TUNNEL_ENABLED="+strconv.FormatBool(startFlags.tunnel))
	}
	if flags.Changed("token") {
		cfg.Tunnel.AuthToken = startFlags.token
	}
	if flags.Changed("model") {
		cfg.Model.Default = startFlags.model
		env = append(env, "LOCALLAB_MODEL_DEFAULT="+startFlags.model)
	}
	if flags.Changed("engine") {
		cfg.Server.Engine = startFlags.engine
		env = append(env, "LOCALLAB_SERVER_ENGINE="+startFlags.engine)
	}
	return env
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	childEnv := applyStartFlags(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	logger, err := logging.Install(logging.OptionsFromConfig(cfg.Telemetry.Logging, os.Stderr))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	opts := orchestrator.OptionsFromConfig(cfg)
	opts.Launcher = orchestrator.ExecLauncher{Args: []string{"--config", cfgFile}}
	opts.ChildEnv = childEnv
	opts.Output = cmd.OutOrStdout()
	opts.Logger = logger.Logger

	// The parent has no /metrics endpoint; its counters feed the status banners.
	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	}
	opts.Metrics = collector

	if cfg.Tunnel.Enabled {
		if err := tunnel.ValidateToken(cfg.Tunnel.AuthToken, cfg.Tunnel.MinTokenLength); err != nil {
			return cli.NewConfigError("tunnel.auth_token", err.Error())
		}

		agentOpts := tunnel.AgentOptionsFromConfig(cfg.Tunnel)
		agentOpts.Logger = logger.Logger
		agent := tunnel.NewAgentClient(agentOpts)
		defer agent.Stop()

		provOpts := tunnel.OptionsFromConfig(cfg.Tunnel)
		provOpts.Logger = logger.Logger
		provOpts.Metrics = collector
		opts.Provisioner = tunnel.NewProvisioner(agent, provOpts)
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	orch := orchestrator.New(opts)
	logger.Info("starting locallab",
		"version", Version,
		"host", opts.Host,
		"port", opts.Port,
		"tunnel", opts.Tunnel,
		"startup_timeout", orch.StartupTimeout().String(),
	)

	if err := orch.Run(ctx); err != nil {
		return cli.NewCommandError("start", err)
	}
	return nil
}
