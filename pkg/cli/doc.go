/*
Package cli provides command-line helpers for the floodgate command.

Output Formatting:

Commands render tabular results through a Formatter selected by the
--format flag (text, json or csv):

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"policy", "admit", "reject"}}
	table.AddRow("api", 120, 4)
	return cli.NewFormatter(format).FormatTo(os.Stdout, table)

Errors and Exit Codes:

ConfigError, UsageError and CommandError classify command failures;
ExitCode maps them to the process exit status.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
	// ctx is cancelled on SIGINT or SIGTERM
*/
package cli
