package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/app"
	"github.com/dyluth/flock/internal/batch"
	"github.com/dyluth/flock/internal/coordinator"
	"github.com/dyluth/flock/internal/history"
	"github.com/dyluth/flock/internal/printer"
	"github.com/dyluth/flock/internal/timespec"
	"github.com/dyluth/flock/pkg/blackboard"
)

func newBatchCmd(use, short, long string, action blackboard.Action) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [migration]",
		Short: short,
		Long: long + `

The migration may be given by ID or label; without one every migration is
targeted. Press Ctrl-C once to pause at the next row; run the command
again to resume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := blackboard.TargetAll
			if len(args) == 1 {
				target = args[0]
			}
			return runBatch(cmd.Context(), action, target)
		},
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Pause the active batch at the next row",
	Long: `Ask the active batch to stop. The batch ends as interrupted after the
row it is processing, from whichever session drives it (CLI or HTTP).`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var (
	statusLimit int
	statusSince string
	statusUntil string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the batch lock and recent batches",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(
		newBatchCmd("import", "Import migrations",
			"Import migrations in dependency order. Rows already imported are skipped.",
			blackboard.ActionImport),
		newBatchCmd("rollback", "Roll back migrations",
			"Roll back migrations in reverse dependency order, deleting imported rows.",
			blackboard.ActionRollback),
		newBatchCmd("rollback-import", "Roll back, then re-import migrations",
			"Roll back every targeted migration, then import them all again.",
			blackboard.ActionRollbackAndImport),
		newBatchCmd("refresh", "Bring migrations in line with the source",
			`Remove destination rows whose source row is gone, then import new and
changed rows. Complete migrations whose source is unchanged are skipped.`,
			blackboard.ActionRefresh),
		stopCmd,
		statusCmd,
	)
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 5, "Number of recent batches to show")
	statusCmd.Flags().StringVar(&statusSince, "since", "", "Only batches created after this time (duration like '2h' or RFC3339)")
	statusCmd.Flags().StringVar(&statusUntil, "until", "", "Only batches created before this time (duration or RFC3339)")
}

func runBatch(ctx context.Context, action blackboard.Action, target string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.ResolveTarget(target)
	if err != nil {
		return printer.Error("unknown migration", err.Error(), []string{"List migrations:\n  flock migrations"})
	}

	session := coordinator.NewCLISession()
	batchID, err := a.Manager.Start(ctx, session, action, id)
	if errors.Is(err, batch.ErrBatchActive) {
		return printer.Error(
			"another batch is running",
			"Only one migration batch can run at a time.",
			[]string{
				"Wait for it to finish:\n  flock watch",
				"Stop it:\n  flock stop",
			},
		)
	}
	if err != nil {
		return err
	}

	stopOnInterrupt(ctx, a)

	label := string(action) + " " + describeTarget(a, id)
	st, err := a.Manager.Run(ctx, session, batchID, func(st batch.Status) {
		if st.State == batch.PollInProgress {
			printer.Progress(label, st.Progress)
		}
	})
	printer.Progress(label, st.Progress)
	printer.Println()
	if err != nil {
		return printer.ErrorWithContext("batch failed", st.Error, map[string]string{"Batch": batchID}, []string{
			"Inspect messages:\n  flock migrations messages <migration>",
		})
	}

	switch st.Result {
	case blackboard.BatchStatusInterrupted:
		printer.Warning("batch interrupted: %s\n", st.Error)
	default:
		printer.Success("%s finished\n", label)
	}
	return nil
}

// stopOnInterrupt turns the first Ctrl-C into a stop request, so the batch
// pauses cleanly after the current row.
func stopOnInterrupt(ctx context.Context, a *app.App) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			signal.Stop(sigs)
			printer.Warning("\nstopping at the next row (Ctrl-C again to abort)\n")
			if err := a.Manager.RequestStop(ctx); err != nil {
				a.Log.Error(err, "failed to request stop")
			}
		case <-ctx.Done():
		}
	}()
}

func describeTarget(a *app.App, id string) string {
	if id == blackboard.TargetAll {
		return "all migrations"
	}
	if m, err := a.Repository.Get(id); err == nil {
		return m.Label
	}
	return id
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Manager.RequestStop(cmd.Context()); err != nil {
		return err
	}
	printer.Success("stop requested; the active batch pauses after its current row\n")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	window, err := timespec.ParseRange(statusSince, statusUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time range", err.Error(), nil)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.Store.LockOwner(ctx, coordinator.LockName)
	if err != nil {
		return err
	}
	if owner == "" {
		printer.Info("Batch lock: free\n")
	} else {
		printer.Info("Batch lock: held by %s\n", owner)
	}

	printer.Println()
	q := history.Query{Limit: statusLimit, Window: window}
	label := func(target string) string { return describeTarget(a, target) }
	return history.List(ctx, a.Store, q, history.OutputFormatDefault, label, printer.Stdout())
}
