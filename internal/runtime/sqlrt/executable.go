package sqlrt

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/runtime"
	"github.com/dyluth/flock/pkg/catalog"
)

type executable struct {
	rt     *Runtime
	plugin *catalog.Plugin
	idMap  *idMap

	mu        sync.Mutex
	interrupt runtime.ResultCode
}

var _ runtime.Executable = (*executable)(nil)

func (e *executable) Plugin() *catalog.Plugin { return e.plugin }

func (e *executable) IDMap() runtime.IDMap { return e.idMap }

func (e *executable) Interrupt(reason runtime.ResultCode) {
	e.mu.Lock()
	e.interrupt = reason
	e.mu.Unlock()
}

func (e *executable) TakeInterrupt() runtime.ResultCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	reason := e.interrupt
	e.interrupt = ""
	return reason
}

// sourceRow is one row of the source table keyed by column name.
type sourceRow struct {
	ids    []string
	values map[string]any
	hash   string
}

func (e *executable) Import(ctx context.Context, limit int) (runtime.Result, error) {
	state, err := e.idMap.state(ctx)
	if err != nil {
		return runtime.Result{Code: runtime.ResultFailed}, err
	}

	rows, err := e.readSource(ctx)
	if err != nil {
		return runtime.Result{Code: runtime.ResultFailed}, err
	}

	processed := 0
	for _, row := range rows {
		if st, ok := state[runtime.Key(row.ids)]; ok && st.status != runtime.RowNeedsUpdate && st.hash == row.hash {
			continue
		}
		if limit > 0 && processed >= limit {
			return runtime.Result{Code: runtime.ResultIncomplete, Processed: processed}, nil
		}
		if err := ctx.Err(); err != nil {
			return runtime.Result{Code: runtime.ResultFailed, Processed: processed}, err
		}

		if err := e.importRow(ctx, row); err != nil {
			return runtime.Result{Code: runtime.ResultFailed, Processed: processed}, err
		}
		processed++

		if reason := e.TakeInterrupt(); reason != "" {
			return runtime.Result{Code: reason, Processed: processed}, nil
		}
	}
	return runtime.Result{Code: runtime.ResultCompleted, Processed: processed}, nil
}

// importRow writes one source row. Row level problems are recorded as
// messages and a failed map status; only storage errors are returned.
func (e *executable) importRow(ctx context.Context, row sourceRow) error {
	p := e.plugin
	if err := e.idMap.clearMessages(ctx, row.ids); err != nil {
		return err
	}

	values := make(map[string]any, len(p.Process)+len(p.Lookups)+len(p.Destination.IDs))
	for dst, src := range p.Process {
		values[dst] = row.values[src]
	}
	for dst, pluginID := range p.Lookups {
		resolved, err := e.resolve(ctx, row, dst, pluginID)
		if err != nil {
			return err
		}
		values[dst] = resolved
	}

	destIDs := make([]string, len(p.Destination.IDs))
	for i, col := range p.Destination.IDs {
		v, ok := values[col]
		if !ok && i < len(p.Source.IDs) {
			v = row.values[p.Source.IDs[i]]
			values[col] = v
		}
		destIDs[i] = text(v)
	}

	if err := e.writeDestination(ctx, values); err != nil {
		if msgErr := e.idMap.SaveMessage(ctx, row.ids, err.Error(), runtime.LevelError, runtime.CategoryOther); msgErr != nil {
			return msgErr
		}
		return e.idMap.save(ctx, row.ids, nil, runtime.RowFailed, row.hash)
	}

	// Required fields are checked after the save and only reported.
	for _, field := range p.Destination.Required {
		if v := values[field]; v == nil || text(v) == "" {
			msg := fmt.Sprintf("%s: This value should not be blank.", field)
			if err := e.idMap.SaveMessage(ctx, row.ids, msg, runtime.LevelError, runtime.CategoryValidation); err != nil {
				return err
			}
		}
	}

	if err := e.idMap.save(ctx, row.ids, destIDs, runtime.RowImported, row.hash); err != nil {
		return err
	}
	e.rt.dispatcher.Dispatch(ctx, events.Event{
		Name:           events.PostRowSave,
		PluginID:       p.ID,
		SourceIDs:      row.ids,
		DestinationIDs: destIDs,
	})
	return nil
}

// resolve maps the source value of field through the id-map of pluginID.
// The source value is the Process mapping of field, or the column of the
// same name.
func (e *executable) resolve(ctx context.Context, row sourceRow, field, pluginID string) (any, error) {
	col := field
	if src, ok := e.plugin.Process[field]; ok {
		col = src
	}
	v := row.values[col]
	if v == nil || text(v) == "" {
		return nil, nil
	}

	other := &idMap{db: e.rt.dest, pluginID: pluginID, now: e.rt.now}
	ids, err := other.lookup(ctx, []string{text(v)})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		msg := fmt.Sprintf("%s: no %s row was migrated for source value %s", field, pluginID, text(v))
		if err := e.idMap.SaveMessage(ctx, row.ids, msg, runtime.LevelWarning, runtime.CategoryOther); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return ids[0], nil
}

func (e *executable) writeDestination(ctx context.Context, values map[string]any) error {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		args[i] = values[c]
	}
	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
		quote(e.plugin.Destination.Table), strings.Join(quoted, ", "), placeholders(len(cols)))
	_, err := e.rt.dest.ExecContext(ctx, stmt, args...)
	return err
}

func (e *executable) Rollback(ctx context.Context, limit int) (runtime.Result, error) {
	rows, err := e.idMap.rowsNewestFirst(ctx)
	if err != nil {
		return runtime.Result{Code: runtime.ResultFailed}, err
	}

	d := e.rt.dispatcher
	processed := 0
	for _, row := range rows {
		if limit > 0 && processed >= limit {
			return runtime.Result{Code: runtime.ResultIncomplete, Processed: processed}, nil
		}
		if err := ctx.Err(); err != nil {
			return runtime.Result{Code: runtime.ResultFailed, Processed: processed}, err
		}

		ev := events.Event{PluginID: e.plugin.ID, SourceIDs: row.SourceIDs, DestinationIDs: row.DestinationIDs}
		ev.Name = events.PreRowDelete
		d.Dispatch(ctx, ev)
		if len(row.DestinationIDs) > 0 {
			if err := e.DeleteDestination(ctx, row.DestinationIDs); err != nil {
				return runtime.Result{Code: runtime.ResultFailed, Processed: processed}, err
			}
		}
		if err := e.idMap.Delete(ctx, row.SourceIDs); err != nil {
			return runtime.Result{Code: runtime.ResultFailed, Processed: processed}, err
		}
		ev.Name = events.PostRowDelete
		d.Dispatch(ctx, ev)
		processed++

		if reason := e.TakeInterrupt(); reason != "" {
			return runtime.Result{Code: reason, Processed: processed}, nil
		}
	}

	d.Dispatch(ctx, events.Event{Name: events.PostRollback, PluginID: e.plugin.ID})
	return runtime.Result{Code: runtime.ResultCompleted, Processed: processed}, nil
}

func (e *executable) DeleteDestination(ctx context.Context, destinationIDs []string) error {
	cols := e.plugin.Destination.IDs
	if len(destinationIDs) != len(cols) {
		return fmt.Errorf("plugin %q: expected %d destination ids, got %d", e.plugin.ID, len(cols), len(destinationIDs))
	}
	where := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		where[i] = quote(c) + "=?"
		args[i] = destinationIDs[i]
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s`, quote(e.plugin.Destination.Table), strings.Join(where, " AND "))
	if _, err := e.rt.dest.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to delete destination row of %s: %w", e.plugin.ID, err)
	}
	return nil
}

func (e *executable) SourceIDs(ctx context.Context) ([][]string, error) {
	rows, err := e.readSource(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.ids
	}
	return out, nil
}

func (e *executable) SourceCount(ctx context.Context) (int, error) {
	return e.rt.SourceRowCount(e.plugin)
}

// Fingerprint hashes every source row in ID order.
func (e *executable) Fingerprint(ctx context.Context) (string, error) {
	rows, err := e.readSource(ctx)
	if err != nil {
		return "", err
	}
	h := xxhash.New()
	for _, r := range rows {
		h.WriteString(r.hash)
		h.WriteString("\n")
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// readSource loads the source table ordered by its ID columns.
func (e *executable) readSource(ctx context.Context) ([]sourceRow, error) {
	p := e.plugin
	order := make([]string, len(p.Source.IDs))
	for i, c := range p.Source.IDs {
		order[i] = quote(c)
	}
	stmt := fmt.Sprintf(`SELECT * FROM %s ORDER BY %s`, quote(p.Source.Table), strings.Join(order, ", "))
	rs, err := e.rt.source.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to read source rows of %s: %w", p.ID, err)
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}

	var out []sourceRow
	for rs.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := sourceRow{values: make(map[string]any, len(cols))}
		h := xxhash.New()
		for i, c := range cols {
			v := raw[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row.values[c] = v
			h.WriteString(c)
			h.WriteString("=")
			if v == nil {
				h.WriteString("\x00")
			} else {
				h.WriteString(text(v))
			}
			h.WriteString("\x1e")
		}
		row.hash = fmt.Sprintf("%016x", h.Sum64())

		row.ids = make([]string, len(p.Source.IDs))
		for i, c := range p.Source.IDs {
			row.ids[i] = text(row.values[c])
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
