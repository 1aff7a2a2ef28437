package sqlrt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/flock/internal/runtime"
)

// idMap is the flock_map and flock_message view of one plugin.
type idMap struct {
	db       *sql.DB
	pluginID string
	now      func() time.Time
}

var _ runtime.IDMap = (*idMap)(nil)

type mapState struct {
	status runtime.RowStatus
	hash   string
}

func (m *idMap) PrepareUpdate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `UPDATE flock_map SET status=? WHERE plugin=?`, runtime.RowNeedsUpdate, m.pluginID)
	if err != nil {
		return fmt.Errorf("failed to flag id-map of %s for update: %w", m.pluginID, err)
	}
	return nil
}

func (m *idMap) Rows(ctx context.Context) ([]runtime.MapRow, error) {
	return m.rows(ctx, `ORDER BY rowid`)
}

// rowsNewestFirst lists rows in reverse save order.
func (m *idMap) rowsNewestFirst(ctx context.Context) ([]runtime.MapRow, error) {
	return m.rows(ctx, `ORDER BY updated_at DESC, rowid DESC`)
}

func (m *idMap) rows(ctx context.Context, order string) ([]runtime.MapRow, error) {
	rs, err := m.db.QueryContext(ctx, `SELECT source_ids, destination_ids, status FROM flock_map WHERE plugin=? `+order, m.pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to query id-map of %s: %w", m.pluginID, err)
	}
	defer rs.Close()

	var out []runtime.MapRow
	for rs.Next() {
		var src, dst, status string
		if err := rs.Scan(&src, &dst, &status); err != nil {
			return nil, err
		}
		row := runtime.MapRow{Status: runtime.RowStatus(status)}
		if err := json.Unmarshal([]byte(src), &row.SourceIDs); err != nil {
			return nil, fmt.Errorf("corrupt source ids in id-map of %s: %w", m.pluginID, err)
		}
		if err := json.Unmarshal([]byte(dst), &row.DestinationIDs); err != nil {
			return nil, fmt.Errorf("corrupt destination ids in id-map of %s: %w", m.pluginID, err)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// state loads status and row hash of every mapped source row.
func (m *idMap) state(ctx context.Context) (map[string]mapState, error) {
	rs, err := m.db.QueryContext(ctx, `SELECT source_key, status, row_hash FROM flock_map WHERE plugin=?`, m.pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to query id-map of %s: %w", m.pluginID, err)
	}
	defer rs.Close()

	out := make(map[string]mapState)
	for rs.Next() {
		var key, status, hash string
		if err := rs.Scan(&key, &status, &hash); err != nil {
			return nil, err
		}
		out[key] = mapState{status: runtime.RowStatus(status), hash: hash}
	}
	return out, rs.Err()
}

// save upserts the mapping of one source row.
func (m *idMap) save(ctx context.Context, sourceIDs, destinationIDs []string, status runtime.RowStatus, hash string) error {
	src, _ := json.Marshal(sourceIDs)
	if destinationIDs == nil {
		destinationIDs = []string{}
	}
	dst, _ := json.Marshal(destinationIDs)
	_, err := m.db.ExecContext(ctx, `
INSERT INTO flock_map(plugin, source_key, source_ids, destination_ids, status, row_hash, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(plugin, source_key) DO UPDATE SET
  destination_ids=excluded.destination_ids,
  status=excluded.status,
  row_hash=excluded.row_hash,
  updated_at=excluded.updated_at`,
		m.pluginID, runtime.Key(sourceIDs), string(src), string(dst), status, hash, m.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save id-map row of %s: %w", m.pluginID, err)
	}
	return nil
}

// lookup returns the destination IDs mapped from sourceIDs, or nil.
func (m *idMap) lookup(ctx context.Context, sourceIDs []string) ([]string, error) {
	var dst string
	err := m.db.QueryRowContext(ctx,
		`SELECT destination_ids FROM flock_map WHERE plugin=? AND source_key=? AND status<>?`,
		m.pluginID, runtime.Key(sourceIDs), runtime.RowFailed).Scan(&dst)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %v in id-map of %s: %w", sourceIDs, m.pluginID, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(dst), &ids); err != nil {
		return nil, fmt.Errorf("corrupt destination ids in id-map of %s: %w", m.pluginID, err)
	}
	return ids, nil
}

func (m *idMap) Delete(ctx context.Context, sourceIDs []string) error {
	key := runtime.Key(sourceIDs)
	if _, err := m.db.ExecContext(ctx, `DELETE FROM flock_map WHERE plugin=? AND source_key=?`, m.pluginID, key); err != nil {
		return fmt.Errorf("failed to delete id-map row of %s: %w", m.pluginID, err)
	}
	return m.clearMessages(ctx, sourceIDs)
}

func (m *idMap) clearMessages(ctx context.Context, sourceIDs []string) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM flock_message WHERE plugin=? AND source_key=?`, m.pluginID, runtime.Key(sourceIDs))
	if err != nil {
		return fmt.Errorf("failed to clear messages of %s: %w", m.pluginID, err)
	}
	return nil
}

func (m *idMap) SaveMessage(ctx context.Context, sourceIDs []string, text string, level runtime.MessageLevel, category runtime.MessageCategory) error {
	src, _ := json.Marshal(sourceIDs)
	_, err := m.db.ExecContext(ctx, `
INSERT INTO flock_message(plugin, source_key, source_ids, message, level, category, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.pluginID, runtime.Key(sourceIDs), string(src), text, level, category, m.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save message for %s: %w", m.pluginID, err)
	}
	return nil
}

func (m *idMap) Messages(ctx context.Context) ([]runtime.Message, error) {
	rs, err := m.db.QueryContext(ctx,
		`SELECT source_ids, message, level, category FROM flock_message WHERE plugin=? ORDER BY id`, m.pluginID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages of %s: %w", m.pluginID, err)
	}
	defer rs.Close()

	var out []runtime.Message
	for rs.Next() {
		var src, text, level, category string
		if err := rs.Scan(&src, &text, &level, &category); err != nil {
			return nil, err
		}
		msg := runtime.Message{
			PluginID: m.pluginID,
			Text:     text,
			Level:    runtime.MessageLevel(level),
			Category: runtime.MessageCategory(category),
		}
		if err := json.Unmarshal([]byte(src), &msg.SourceIDs); err != nil {
			return nil, fmt.Errorf("corrupt source ids in messages of %s: %w", m.pluginID, err)
		}
		out = append(out, msg)
	}
	return out, rs.Err()
}

func (m *idMap) Counts(ctx context.Context) (runtime.Counts, error) {
	var c runtime.Counts
	rs, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM flock_map WHERE plugin=? GROUP BY status`, m.pluginID)
	if err != nil {
		return c, fmt.Errorf("failed to count id-map of %s: %w", m.pluginID, err)
	}
	defer rs.Close()
	for rs.Next() {
		var status string
		var n int
		if err := rs.Scan(&status, &n); err != nil {
			return c, err
		}
		switch runtime.RowStatus(status) {
		case runtime.RowImported:
			c.Imported = n
		case runtime.RowFailed:
			c.Failed = n
		case runtime.RowNeedsUpdate:
			c.NeedsUpdate = n
		}
	}
	if err := rs.Err(); err != nil {
		return c, err
	}
	c.Processed = c.Imported + c.Failed

	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flock_message WHERE plugin=?`, m.pluginID).Scan(&c.Messages); err != nil {
		return c, fmt.Errorf("failed to count messages of %s: %w", m.pluginID, err)
	}
	return c, nil
}
