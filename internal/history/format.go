package history

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/flock/pkg/blackboard"
)

// FormatTable writes batches as an aligned table and returns how many rows
// were written.
func FormatTable(w io.Writer, batches []*blackboard.Batch, instanceName string, label func(string) string) int {
	if len(batches) == 0 {
		fmt.Fprintf(w, "No batches found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "%-10s %-16s %-12s %-8s %-6s %s\n",
		"ID", "ACTION", "STATUS", "AGE", "DONE", "TARGET")
	for _, b := range batches {
		target := b.Target
		if label != nil {
			target = label(b.Target)
		}
		fmt.Fprintf(w, "%-10s %-16s %-12s %-8s %-6s %s\n",
			formatID(b.ID),
			b.Action,
			b.Status,
			formatAge(b.CreatedAtMs, time.Now()),
			fmt.Sprintf("%d%%", int(b.Progress*100)),
			formatTarget(target),
		)
		if b.Error != "" {
			fmt.Fprintf(w, "%-10s %s\n", "", b.Error)
		}
	}

	noun := "batch"
	if len(batches) != 1 {
		noun = "batches"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(batches), noun)
	return len(batches)
}

// FormatJSONL writes each batch as one JSON object per line.
func FormatJSONL(w io.Writer, batches []*blackboard.Batch) error {
	for _, b := range batches {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal batch to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one batch as indented JSON.
func FormatSingleJSON(w io.Writer, b *blackboard.Batch) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal batch to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTarget(target string) string {
	if len(target) > 40 {
		return target[:37] + "..."
	}
	return target
}

// formatAge renders a timestamp relative to now, e.g. "3m ago".
func formatAge(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	diff := now.Sub(time.UnixMilli(ms))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
