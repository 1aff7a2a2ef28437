// Package history lists and shows recorded batches.
package history

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/flock/internal/timespec"
	"github.com/dyluth/flock/pkg/blackboard"
)

// OutputFormat specifies how batches are written.
type OutputFormat string

const (
	// OutputFormatDefault is an aligned table.
	OutputFormatDefault OutputFormat = "default"
	// OutputFormatJSONL writes one batch per line.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat accepts "default" and "jsonl".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSONL:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Store is the part of the blackboard history reads.
type Store interface {
	InstanceName() string
	RecentBatches(ctx context.Context, limit int) ([]string, error)
	GetBatch(ctx context.Context, batchID string) (*blackboard.Batch, error)
}

// Query selects batches. All criteria are ANDed.
type Query struct {
	Limit  int                    // newest batches considered
	Window timespec.Range         // creation time bounds
	Status blackboard.BatchStatus // empty = any
}

// Load returns the batches matching q, newest first. Batches that expire
// between listing and reading are skipped.
func Load(ctx context.Context, store Store, q Query) ([]*blackboard.Batch, error) {
	ids, err := store.RecentBatches(ctx, q.Limit)
	if err != nil {
		return nil, err
	}

	batches := make([]*blackboard.Batch, 0, len(ids))
	for _, id := range ids {
		b, err := store.GetBatch(ctx, id)
		if blackboard.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read batch %s: %w", id, err)
		}
		if !q.Window.Contains(b.CreatedAtMs) {
			continue
		}
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// List writes the batches matching q to w. label, when set, names batch
// targets in the table.
func List(ctx context.Context, store Store, q Query, format OutputFormat, label func(target string) string, w io.Writer) error {
	batches, err := Load(ctx, store, q)
	if err != nil {
		return err
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, batches, store.InstanceName(), label)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, batches); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
	return nil
}
