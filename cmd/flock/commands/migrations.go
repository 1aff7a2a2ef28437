package commands

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/printer"
)

var migrationsCmd = &cobra.Command{
	Use:     "migrations",
	Aliases: []string{"ls"},
	Short:   "List migrations with their progress",
	Long: `List the migrations plugins were clustered into, in execution order,
with imported row counts and open messages.

A migration is complete once every source row was processed and no
messages are left to review.`,
	Args: cobra.NoArgs,
	RunE: runMigrations,
}

var messagesCmd = &cobra.Command{
	Use:   "messages <migration>",
	Short: "Show the messages recorded for a migration",
	Long: `Show the validation and error messages recorded while importing a
migration. The migration may be given by ID or by label.`,
	Args: cobra.ExactArgs(1),
	RunE: runMessages,
}

func init() {
	migrationsCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(migrationsCmd)
}

func runMigrations(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	summaries, err := a.Repository.Summaries(cmd.Context())
	if err != nil {
		return err
	}

	rows := make([]printer.MigrationRow, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, printer.MigrationRow{
			ID:        s.ID,
			Label:     s.Label,
			Category:  string(s.Category),
			Heuristic: s.Heuristic,
			Plugins:   len(s.PluginIDs),
			Imported:  s.Progress.Imported,
			Total:     s.Progress.Total,
			Messages:  s.Progress.Messages,
			Completed: s.Meta.Completed,
		})
	}

	if jsonOutput() {
		enc := json.NewEncoder(printer.Stdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printer.Migrations(rows)
	return nil
}

func runMessages(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.ResolveTarget(args[0])
	if err != nil {
		return printer.Error("unknown migration", err.Error(), []string{"List migrations:\n  flock migrations"})
	}
	msgs, err := a.Repository.Messages(cmd.Context(), id)
	if err != nil {
		return err
	}

	if jsonOutput() {
		return json.NewEncoder(printer.Stdout()).Encode(msgs)
	}
	if len(msgs) == 0 {
		printer.Success("no messages\n")
		return nil
	}
	for _, m := range msgs {
		printer.Printf("%-10s %-8s %s [%s] %s\n", m.Category, m.Level, m.PluginID, strings.Join(m.SourceIDs, ","), m.Text)
	}
	printer.Info("\n%d message(s)\n", len(msgs))
	return nil
}
