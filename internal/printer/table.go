package printer

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// MigrationRow is one line of `flock migrations list`.
type MigrationRow struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Category  string `json:"category"`
	Heuristic string `json:"heuristic"`
	Plugins   int    `json:"plugins"`
	Imported  int    `json:"imported"`
	Total     int    `json:"total"`
	Messages  int    `json:"messages"`
	Completed bool   `json:"completed"`
}

// PluginRow is one line of `flock plugins list`.
type PluginRow struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Category  string `json:"category"`
	Weight    int    `json:"weight"`
	Migration string `json:"migration"`
}

// Migrations renders rows as a table.
func Migrations(rows []MigrationRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(table.Row{"Migration", "Category", "Heuristic", "Plugins", "Imported", "Messages", "Status"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.Label,
			r.Category,
			r.Heuristic,
			r.Plugins,
			fmt.Sprintf("%d/%d", r.Imported, r.Total),
			r.Messages,
			status(r),
		})
	}
	tw.Render()
}

// Plugins renders rows as a table in the order given.
func Plugins(rows []PluginRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(table.Row{"#", "Plugin", "Label", "Category", "Weight", "Migration"})
	for i, r := range rows {
		tw.AppendRow(table.Row{i + 1, r.ID, r.Label, r.Category, r.Weight, r.Migration})
	}
	tw.Render()
}

func status(r MigrationRow) string {
	switch {
	case r.Completed:
		return "complete"
	case r.Messages > 0:
		return "needs review"
	case r.Imported > 0:
		return "partial"
	default:
		return "pending"
	}
}

// ProgressBar formats ratio (0..1) as a fixed-width bar with a percentage.
func ProgressBar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * float64(width))
	return fmt.Sprintf("[%s%s] %5.1f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), ratio*100)
}

// Progress prints a carriage-return progress line for a batch.
func Progress(label string, ratio float64) {
	cyan.Fprintf(stdout, "\r%s %s", ProgressBar(ratio, 30), label)
}
