package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/telemetry/logging"
)

var configFlags struct {
	format string
	reveal bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and environment overrides.

Secrets are masked unless --reveal is given.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long: `Set a dotted configuration key and save the file.

Examples:
  locallab config set server.port 8080
  locallab config set tunnel.enabled true
  locallab config set orchestrator.warmup 10s`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)

	configShowCmd.Flags().StringVarP(&configFlags.format, "format", "f", string(cli.FormatYAML), "output format (yaml, json)")
	configShowCmd.Flags().BoolVar(&configFlags.reveal, "reveal", false, "print secrets unmasked")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	if !configFlags.reveal {
		cfg.Tunnel.AuthToken = logging.RedactSecret(cfg.Tunnel.AuthToken)
		cfg.Model.APIKey = logging.RedactSecret(cfg.Model.APIKey)
	}

	format := cli.OutputFormat(configFlags.format)
	if format != cli.FormatYAML && format != cli.FormatJSON {
		return cli.NewConfigError("format", fmt.Sprintf("unsupported format %q", configFlags.format))
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), cfg)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	cfg, err := config.LoadConfig(cfgFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.NewDefault(), nil
	}
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	updated, err := config.SetValue(cfg, key, value)
	if err != nil {
		return cli.NewConfigError(key, err.Error())
	}
	if err := config.Save(cfgFile, updated); err != nil {
		return cli.NewCommandError("config set", err)
	}

	cli.NewPrinter(cmd.OutOrStdout()).Success("%s updated in %s", key, cfgFile)
	return nil
}
