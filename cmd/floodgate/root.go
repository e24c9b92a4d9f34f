package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/floodgate/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "floodgate",
	Short: "Floodgate - admission control for HTTP services",
	Long: `Floodgate decides for every request, per client key and route, whether it
is admitted now, rejected with a retry hint, or queued and released at a
steady rate.

Strategies: fixed_window, sliding_window, sliding_log, token_bucket,
leaky_bucket and gcra.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
