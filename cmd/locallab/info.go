package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/orchestrator"
	"locallab-hq/locallab/pkg/tunnel"
)

// minFreeDisk is the free space below which info warns.
const minFreeDisk = 2 << 30

var infoFlags struct {
	format string
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Check the local environment",
	Long: `Report the Go runtime, CPU count, free disk space, port availability and,
when tunnel mode is on, whether a usable tunnel token is configured.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVarP(&infoFlags.format, "format", "f", string(cli.FormatText), "output format (text, json)")
}

// EnvInfo is the result of the environment check.
type EnvInfo struct {
	Version       string   `json:"version"`
	GoVersion     string   `json:"go_version"`
	Platform      string   `json:"platform"`
	NumCPU        int      `json:"num_cpu"`
	DataDir       string   `json:"data_dir"`
	FreeDisk      uint64   `json:"free_disk_bytes"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	PortAvailable bool     `json:"port_available"`
	TunnelEnabled bool     `json:"tunnel_enabled"`
	StartTimeout  string   `json:"startup_timeout"`
	TokenPresent  bool     `json:"token_present,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

// collectInfo inspects the environment for cfg. diskFree reports the free
// bytes of the filesystem holding a path.
func collectInfo(cfg *config.Config, diskFree func(string) (uint64, error)) EnvInfo {
	info := EnvInfo{
		Version:       Version,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		NumCPU:        runtime.NumCPU(),
		DataDir:       filepath.Dir(cfg.Journal.SQLite.Path),
		Host:          cfg.ServerHost(),
		Port:          cfg.Server.Port,
		TunnelEnabled: cfg.Tunnel.Enabled,
		StartTimeout:  cfg.StartupTimeout().String(),
	}

	free, err := diskFree(existingParent(info.DataDir))
	if err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("cannot read free disk space: %v", err))
	} else {
		info.FreeDisk = free
		if free < minFreeDisk {
			info.Warnings = append(info.Warnings, fmt.Sprintf("low disk space: %s free", humanize.IBytes(free)))
		}
	}

	info.PortAvailable = orchestrator.PortAvailable(info.Host, info.Port)
	if !info.PortAvailable {
		info.Warnings = append(info.Warnings, fmt.Sprintf("port %d is in use; start will pick the next free port", info.Port))
	}

	if cfg.Tunnel.Enabled {
		err := tunnel.ValidateToken(cfg.Tunnel.AuthToken, cfg.Tunnel.MinTokenLength)
		info.TokenPresent = !errors.Is(err, tunnel.ErrTokenMissing)
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("tunnel token: %v", err))
		}
	}
	return info
}

// existingParent walks up from dir to the first directory that exists.
func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}
	info := collectInfo(cfg, diskFree)

	if cli.OutputFormat(infoFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), info)
	}

	p := cli.NewPrinter(cmd.OutOrStdout())
	p.Info("LocalLab %s", info.Version)
	p.Plain("  Go:        %s (%s)", info.GoVersion, info.Platform)
	p.Plain("  CPUs:      %d", info.NumCPU)
	p.Plain("  Free disk: %s (%s)", humanize.IBytes(info.FreeDisk), info.DataDir)
	p.Plain("  Address:   %s:%d", info.Host, info.Port)
	p.Plain("  Startup:   up to %s", info.StartTimeout)
	if info.TunnelEnabled {
		p.Plain("  Tunnel:    enabled (token present: %t)", info.TokenPresent)
	} else {
		p.Plain("  Tunnel:    disabled")
	}
	for _, w := range info.Warnings {
		p.Warn("%s", w)
	}
	if len(info.Warnings) == 0 {
		p.Success("environment looks good")
	}
	return nil
}
