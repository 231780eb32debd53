package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "locallab",
	Short: "LocalLab - run a local inference server",
	Long: `LocalLab starts and supervises a long-running inference API on this
machine, in a notebook, or behind a public tunnel.

The server falls back to a built-in HTTP/1.1 acceptor when the primary
engine cannot start, and shuts down gracefully on SIGINT/SIGTERM.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath(), "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig initializes the configuration singleton from --config.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}
	cfg := config.GetConfig()
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}
