package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/floodgate/pkg/cli"
	"mercator-hq/floodgate/pkg/limits/storage"
	"mercator-hq/floodgate/pkg/telemetry/logging"
)

var statsFlags struct {
	policy  string
	keys    int
	format  string
	redact  bool
	timeout time.Duration
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded decision statistics",
	Long: `Query the statistics backend configured under storage and print per-policy
decision counts. With --policy, the most recently seen keys of that policy
are listed as well.

Statistics are only recorded when storage.enabled is true, and the memory
backend is only visible to the process that recorded it; use sqlite or
redis to query a running gateway.

Examples:
  # Totals for every configured policy
  floodgate stats --config config.yaml

  # Top 20 keys of one policy as CSV
  floodgate stats --policy api --keys 20 --format csv`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsFlags.policy, "policy", "", "show keys of one policy")
	statsCmd.Flags().IntVar(&statsFlags.keys, "keys", 10, "number of keys to list with --policy (0 = all)")
	statsCmd.Flags().StringVar(&statsFlags.format, "format", "text", "output format: text, json, csv")
	statsCmd.Flags().BoolVar(&statsFlags.redact, "redact", false, "print key fingerprints instead of keys")
	statsCmd.Flags().DurationVar(&statsFlags.timeout, "timeout", 10*time.Second, "backend query timeout")
}

func runStats(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(statsFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if statsFlags.policy != "" {
		if _, ok := cfg.Policies[statsFlags.policy]; !ok {
			return cli.NewUsageError("policy %q is not configured in %s", statsFlags.policy, cfgFile)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statsFlags.timeout)
	defer cancel()

	backend, err := storage.New(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return cli.NewCommandError("stats", fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err))
	}
	defer backend.Close()

	policies := sortedPolicyNames(cfg.Policies)
	if statsFlags.policy != "" {
		policies = []string{statsFlags.policy}
	}

	totals, err := policyStatsTable(ctx, backend, policies)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}

	out := cmd.OutOrStdout()
	formatter := cli.NewFormatter(format)
	if err := formatter.FormatTo(out, totals); err != nil {
		return err
	}
	if statsFlags.policy == "" {
		return nil
	}

	keys, err := keyStatsTable(ctx, backend, statsFlags.policy, statsFlags.keys, statsFlags.redact)
	if err != nil {
		return cli.NewCommandError("stats", err)
	}
	if format == cli.FormatText {
		fmt.Fprintln(out)
	}
	return formatter.FormatTo(out, keys)
}

var outcomeColumns = []string{
	storage.OutcomeAdmit,
	storage.OutcomeReject,
	storage.OutcomeDeferred,
	storage.OutcomeDrained,
	storage.OutcomeTimedOut,
	storage.OutcomeCancelled,
	storage.OutcomeAbandoned,
	storage.OutcomeFailed,
}

func policyStatsTable(ctx context.Context, backend storage.Backend, policies []string) (*cli.Table, error) {
	table := &cli.Table{Headers: append([]string{"policy", "keys", "total"}, append(outcomeColumns, "last_seen")...)}
	for _, name := range policies {
		st, err := backend.Stats(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats of policy %q: %w", name, err)
		}

		row := []any{name, st.Keys, st.Counts.Total()}
		for _, outcome := range outcomeColumns {
			row = append(row, st.Counts[outcome])
		}
		row = append(row, formatSeen(st.LastSeen))
		table.AddRow(row...)
	}
	return table, nil
}

func keyStatsTable(ctx context.Context, backend storage.Backend, policy string, limit int, redact bool) (*cli.Table, error) {
	keys, err := backend.List(ctx, policy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of policy %q: %w", policy, err)
	}

	table := &cli.Table{Headers: append([]string{"key", "total"}, append(outcomeColumns, "last_seen")...)}
	for _, ks := range keys {
		key := ks.Key
		if redact {
			key = logging.RedactKey(key)
		}
		row := []any{key, ks.Counts.Total()}
		for _, outcome := range outcomeColumns {
			row = append(row, ks.Counts[outcome])
		}
		row = append(row, formatSeen(ks.LastSeen))
		table.AddRow(row...)
	}
	return table, nil
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
