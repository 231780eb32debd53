package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"locallab-hq/locallab/pkg/cli"
	"locallab-hq/locallab/pkg/config"
	"locallab-hq/locallab/pkg/journal"
)

var journalFlags struct {
	limit  int
	format string
	days   int
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the request journal",
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent requests",
	Args:  cobra.NoArgs,
	RunE:  runJournalRecent,
}

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete records older than the retention period",
	Long: `Delete journal records older than journal.retention.days, or --days when
given. The running server prunes on its own schedule; this runs it once.`,
	Args: cobra.NoArgs,
	RunE: runJournalPrune,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalRecentCmd, journalPruneCmd)

	journalRecentCmd.Flags().IntVarP(&journalFlags.limit, "limit", "n", 20, "number of records")
	journalRecentCmd.Flags().StringVarP(&journalFlags.format, "format", "f", string(cli.FormatText), "output format (text, json)")
	journalPruneCmd.Flags().IntVar(&journalFlags.days, "days", 0, "override retention days")
}

func openJournal() (*config.Config, journal.Store, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, cli.NewConfigError(cfgFile, err.Error())
	}
	if !cfg.Journal.Enabled {
		return nil, nil, cli.NewConfigError("journal.enabled", "the request journal is disabled")
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, nil, cli.NewCommandError("journal", err)
	}
	return cfg, store, nil
}

func runJournalRecent(cmd *cobra.Command, args []string) error {
	_, store, err := openJournal()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Recent(cmd.Context(), journalFlags.limit)
	if err != nil {
		return cli.NewCommandError("journal recent", err)
	}

	if cli.OutputFormat(journalFlags.format) == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(cmd.OutOrStdout(), records)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMETHOD\tPATH\tSTATUS\tDURATION\tTRANSPORT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Time.Local().Format(time.DateTime), r.Method, r.Path, r.Status,
			r.Duration.Round(time.Microsecond), r.Transport)
	}
	return tw.Flush()
}

func runJournalPrune(cmd *cobra.Command, args []string) error {
	cfg, store, err := openJournal()
	if err != nil {
		return err
	}
	defer store.Close()

	retention := cfg.Journal.Retention
	if cmd.Flags().Changed("days") {
		retention.Days = journalFlags.days
	}
	deleted, err := journal.NewRetention(store, retention, nil).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("journal prune", err)
	}
	cli.NewPrinter(cmd.OutOrStdout()).Success("pruned %d records", deleted)
	return nil
}
