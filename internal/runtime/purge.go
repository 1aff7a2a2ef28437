package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/flock/internal/events"
)

// Purge deletes destination rows whose source row no longer exists.
//
// It reads every current source ID into memory once, walks the id-map once,
// and for each orphan fires PreRowDelete, deletes the destination row and the
// id-map entry, and fires PostRowDelete. One PostRollback event closes the
// pass. An interrupt raised by a PostRowDelete listener ends the pass early
// with that code; Processed counts the purged rows.
func Purge(ctx context.Context, exec Executable, dispatcher *events.Dispatcher) (Result, error) {
	pluginID := exec.Plugin().ID

	sourceIDs, err := exec.SourceIDs(ctx)
	if err != nil {
		return Result{Code: ResultFailed}, fmt.Errorf("failed to read source IDs of %s: %w", pluginID, err)
	}
	current := make(map[string]struct{}, len(sourceIDs))
	for _, ids := range sourceIDs {
		current[Key(ids)] = struct{}{}
	}

	rows, err := exec.IDMap().Rows(ctx)
	if err != nil {
		return Result{Code: ResultFailed}, fmt.Errorf("failed to read id-map of %s: %w", pluginID, err)
	}

	purged := 0
	for _, row := range rows {
		if _, ok := current[Key(row.SourceIDs)]; ok {
			continue
		}

		dispatcher.Dispatch(ctx, events.Event{
			Name:           events.PreRowDelete,
			PluginID:       pluginID,
			SourceIDs:      row.SourceIDs,
			DestinationIDs: row.DestinationIDs,
		})
		if len(row.DestinationIDs) > 0 {
			if err := exec.DeleteDestination(ctx, row.DestinationIDs); err != nil {
				return Result{Code: ResultFailed, Processed: purged}, fmt.Errorf("failed to delete %v from %s: %w", row.DestinationIDs, pluginID, err)
			}
		}
		if err := exec.IDMap().Delete(ctx, row.SourceIDs); err != nil {
			return Result{Code: ResultFailed, Processed: purged}, fmt.Errorf("failed to delete id-map row %v of %s: %w", row.SourceIDs, pluginID, err)
		}
		dispatcher.Dispatch(ctx, events.Event{
			Name:           events.PostRowDelete,
			PluginID:       pluginID,
			SourceIDs:      row.SourceIDs,
			DestinationIDs: row.DestinationIDs,
		})
		purged++

		if reason := exec.TakeInterrupt(); reason != "" {
			return Result{Code: reason, Processed: purged}, nil
		}
	}

	dispatcher.Dispatch(ctx, events.Event{Name: events.PostRollback, PluginID: pluginID})
	return Result{Code: ResultCompleted, Processed: purged}, nil
}

// Key joins an ID tuple into a single map key.
func Key(ids []string) string {
	return strings.Join(ids, "\x1f")
}
