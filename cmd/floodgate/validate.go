package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/floodgate/pkg/cli"
	"mercator-hq/floodgate/pkg/config"
)

var validateFlags struct {
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and FLOODGATE_* environment
overrides, and check it. On success the effective policies and routes are
printed.

Examples:
  # Validate the default config file
  floodgate validate

  # Validate a specific file and print the result as JSON
  floodgate validate --config /etc/floodgate/config.yaml --format json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json, csv")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	table := policyTable(cfg)
	if format == cli.FormatText {
		fmt.Fprintf(out, "✓ %s is valid\n\n", cfgFile)
	}
	if err := cli.NewFormatter(format).FormatTo(out, table); err != nil {
		return err
	}

	if format == cli.FormatText && verbose {
		fmt.Fprintf(out, "\nkey: header=%s trust_forwarded_for=%t\n", cfg.Key.Header, cfg.Key.TrustForwardedFor)
		fmt.Fprintf(out, "storage: enabled=%t backend=%s\n", cfg.Storage.Enabled, cfg.Storage.Backend)
		fmt.Fprintf(out, "eviction: disabled=%t schedule=%q\n", cfg.Eviction.Disabled, cfg.Eviction.Schedule)
	}
	return nil
}

// policyTable lists every policy with the routes bound to it.
func policyTable(cfg *config.Config) *cli.Table {
	routes := make(map[string][]string)
	for _, r := range cfg.Routes {
		routes[r.Policy] = append(routes[r.Policy], r.PathPrefix)
	}

	table := &cli.Table{Headers: []string{"policy", "strategy", "parameters", "routes"}}
	for _, name := range sortedPolicyNames(cfg.Policies) {
		rc := cfg.Policies[name].RateLimit()
		bound := "-"
		if prefixes := routes[name]; len(prefixes) > 0 {
			bound = fmt.Sprint(prefixes)
		}
		table.AddRow(name, rc.Type, describePolicy(rc), bound)
	}
	return table
}
