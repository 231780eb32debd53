/*
Package cli provides command-line helpers for the locallab command.

Output Formatting:

Command results print as text, JSON or YAML:

	formatter := cli.NewFormatter(cli.FormatYAML)
	if err := formatter.FormatTo(os.Stdout, cfg); err != nil {
		return err
	}

Status lines use a Printer, which colors output only on terminals:

	p := cli.NewPrinter(os.Stdout)
	p.Success("Server ready at %s", url)

Errors:

Commands return *CommandError for failures that end the process; ExitCode
maps any error to the process exit status.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
