package commands

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/history"
	"github.com/dyluth/flock/internal/printer"
	"github.com/dyluth/flock/internal/resolver"
	"github.com/dyluth/flock/internal/timespec"
	"github.com/dyluth/flock/pkg/blackboard"
)

var (
	batchesLimit  int
	batchesSince  string
	batchesUntil  string
	batchesStatus string
	batchesOutput string
)

var batchesCmd = &cobra.Command{
	Use:     "batches",
	Aliases: []string{"history"},
	Short:   "List recorded batches",
	Long: `List recorded batches, newest first. Batches are kept for seven days
after their last update.

Examples:
  # Failed batches of the last day
  flock batches --since 24h --status failed

  # Export as JSON lines
  flock batches -o jsonl | jq .`,
	Args: cobra.NoArgs,
	RunE: runBatches,
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show one batch with its operations",
	Long:  "Show one batch as JSON. The ID may be shortened to a unique prefix of at least 6 characters.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchShow,
}

func init() {
	f := batchesCmd.Flags()
	f.IntVarP(&batchesLimit, "limit", "n", 20, "Number of recent batches to consider")
	f.StringVar(&batchesSince, "since", "", "Only batches created after this time (duration like '2h' or RFC3339)")
	f.StringVar(&batchesUntil, "until", "", "Only batches created before this time (duration or RFC3339)")
	f.StringVar(&batchesStatus, "status", "", "Only batches in this state: running, finished, failed, interrupted")
	f.StringVarP(&batchesOutput, "output", "o", "default", "Output format (default or jsonl)")
	batchesCmd.AddCommand(batchShowCmd)
	rootCmd.AddCommand(batchesCmd)
}

func runBatches(cmd *cobra.Command, args []string) error {
	format, err := history.ParseOutputFormat(batchesOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}
	window, err := timespec.ParseRange(batchesSince, batchesUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time range", err.Error(), nil)
	}
	status := blackboard.BatchStatus(batchesStatus)
	if status != "" {
		if err := status.Validate(); err != nil {
			return printer.Error("invalid status", err.Error(), nil)
		}
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	q := history.Query{Limit: batchesLimit, Window: window, Status: status}
	label := func(target string) string { return describeTarget(a, target) }
	return history.List(cmd.Context(), a.Store, q, format, label, printer.Stdout())
}

func runBatchShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolver.ResolveBatchID(ctx, a.Store, args[0])
	if err != nil {
		var amb *resolver.AmbiguousError
		if errors.As(err, &amb) {
			return printer.Error("ambiguous batch ID", err.Error(), amb.Suggestions())
		}
		return printer.Error("unknown batch", err.Error(), []string{"List recorded batches:\n  flock batches"})
	}
	return history.Show(ctx, a.Store, id, printer.Stdout())
}
