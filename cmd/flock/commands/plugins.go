package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dyluth/flock/internal/printer"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List available plugins in execution order",
	Long: `List every available plugin in the order batches run them, with the
computed category, weight and the migration it was clustered into.

Plugins missing from the list were dropped: overridden, failing their
requirements, or non-content plugins with no source rows.`,
	Args: cobra.NoArgs,
	RunE: runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	rows := make([]printer.PluginRow, 0, len(a.Result.Order))
	for _, id := range a.Result.Order {
		p := a.Result.Plugin(id)
		meta := a.Result.Meta[id]
		rows = append(rows, printer.PluginRow{
			ID:        id,
			Label:     p.Label,
			Category:  string(meta.Category),
			Weight:    meta.Weight,
			Migration: meta.Cluster,
		})
	}

	if jsonOutput() {
		enc := json.NewEncoder(printer.Stdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printer.Plugins(rows)
	return nil
}
