// Package watch follows batches from outside the session driving them.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/flock/internal/filter"
	"github.com/dyluth/flock/pkg/blackboard"
)

// OutputFormat selects how StreamBatches renders events.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// ParseOutputFormat accepts "default" and "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatDefault, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// StreamBatches writes the events matching crit to w until ctx is cancelled.
// When crit names a batch, streaming ends once that batch reaches a terminal
// event, shown or not.
func StreamBatches(ctx context.Context, client *blackboard.Client, crit filter.Criteria, format OutputFormat, w io.Writer) error {
	sub, err := client.SubscribeBatchEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if crit.Matches(e) {
				if err := writeEvent(w, e, format); err != nil {
					return err
				}
			}
			if crit.BatchID != "" && crit.MatchesBatch(e) && Terminal(e.Type) {
				return nil
			}
		}
	}
}

// Terminal reports whether no further events follow t for the same batch.
func Terminal(t blackboard.BatchEventType) bool {
	switch t {
	case blackboard.BatchEventFinished, blackboard.BatchEventFailed, blackboard.BatchEventInterrupted:
		return true
	}
	return false
}

func writeEvent(w io.Writer, e *blackboard.BatchEvent, format OutputFormat) error {
	if format == OutputFormatJSON {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", line)
		return err
	}
	_, err := fmt.Fprintln(w, FormatEvent(e))
	return err
}

// FormatEvent renders an event as one human-readable line.
func FormatEvent(e *blackboard.BatchEvent) string {
	ts := time.UnixMilli(e.TimestampMs).Format("15:04:05")
	id := shortID(e.BatchID)
	pct := e.Progress * 100

	switch e.Type {
	case blackboard.BatchEventStarted:
		return fmt.Sprintf("[%s] 🚀 Batch %s started: %s", ts, id, e.Message)
	case blackboard.BatchEventProgress:
		if e.Operation != "" {
			return fmt.Sprintf("[%s] ⏳ Batch %s %5.1f%% (%s)", ts, id, pct, e.Operation)
		}
		return fmt.Sprintf("[%s] ⏳ Batch %s %5.1f%%", ts, id, pct)
	case blackboard.BatchEventFinished:
		return fmt.Sprintf("[%s] ✅ Batch %s finished", ts, id)
	case blackboard.BatchEventInterrupted:
		return fmt.Sprintf("[%s] ⏸️  Batch %s interrupted at %.1f%%: %s", ts, id, pct, e.Message)
	case blackboard.BatchEventFailed:
		return fmt.Sprintf("[%s] ❌ Batch %s failed: %s", ts, id, e.Message)
	default:
		return fmt.Sprintf("[%s] Batch %s: %s", ts, id, e.Type)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PollForTerminal polls the batch record until it reaches a terminal status
// or timeout elapses. Polling does not drive the batch; its owner must.
func PollForTerminal(ctx context.Context, client *blackboard.Client, batchID string, timeout time.Duration) (*blackboard.Batch, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for batch %s after %v", batchID, timeout)

		case <-ticker.C:
			b, err := client.GetBatch(ctx, batchID)
			if err != nil {
				if blackboard.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query batch: %w", err)
			}
			if b.Status.Terminal() {
				return b, nil
			}
		}
	}
}
