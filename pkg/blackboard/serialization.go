package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like the
// operation list are JSON-encoded into single hash fields.

// BatchToHash converts a Batch to a Redis hash.
func BatchToHash(b *Batch) (map[string]interface{}, error) {
	operationsJSON, err := json.Marshal(b.Operations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}

	purged := "0"
	if b.Purged {
		purged = "1"
	}

	return map[string]interface{}{
		"id":            b.ID,
		"action":        string(b.Action),
		"target":        b.Target,
		"session":       b.Session,
		"operations":    string(operationsJSON),
		"current":       b.Current,
		"cursor":        b.Cursor,
		"purged":        purged,
		"status":        string(b.Status),
		"progress":      strconv.FormatFloat(b.Progress, 'f', -1, 64),
		"error":         b.Error,
		"created_at_ms": b.CreatedAtMs,
		"updated_at_ms": b.UpdatedAtMs,
	}, nil
}

// HashToBatch converts a Redis hash to a Batch.
func HashToBatch(hash map[string]string) (*Batch, error) {
	current, err := strconv.Atoi(hash["current"])
	if err != nil {
		return nil, fmt.Errorf("invalid current field: %w", err)
	}
	cursor, err := strconv.Atoi(hash["cursor"])
	if err != nil {
		return nil, fmt.Errorf("invalid cursor field: %w", err)
	}
	progress, err := strconv.ParseFloat(hash["progress"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid progress field: %w", err)
	}

	var operations []Operation
	if raw := hash["operations"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &operations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
		}
	}
	if operations == nil {
		operations = []Operation{}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Batch{
		ID:          hash["id"],
		Action:      Action(hash["action"]),
		Target:      hash["target"],
		Session:     hash["session"],
		Operations:  operations,
		Current:     current,
		Cursor:      cursor,
		Purged:      hash["purged"] == "1",
		Status:      BatchStatus(hash["status"]),
		Progress:    progress,
		Error:       hash["error"],
		CreatedAtMs: createdAtMs,
		UpdatedAtMs: updatedAtMs,
	}, nil
}

// MigrationMetaToHash converts MigrationMeta to a Redis hash.
func MigrationMetaToHash(m *MigrationMeta) map[string]interface{} {
	completed := "0"
	if m.Completed {
		completed = "1"
	}
	return map[string]interface{}{
		"migration_id":            m.MigrationID,
		"completed":               completed,
		"fingerprint":             m.Fingerprint,
		"last_import_started_ms":  m.LastImportStartedMs,
		"last_import_duration_ms": m.LastImportDurationMs,
	}
}

// HashToMigrationMeta converts a Redis hash to MigrationMeta. Missing numeric
// fields read as zero.
func HashToMigrationMeta(hash map[string]string) *MigrationMeta {
	started, _ := strconv.ParseInt(hash["last_import_started_ms"], 10, 64)
	duration, _ := strconv.ParseInt(hash["last_import_duration_ms"], 10, 64)
	return &MigrationMeta{
		MigrationID:          hash["migration_id"],
		Completed:            hash["completed"] == "1",
		Fingerprint:          hash["fingerprint"],
		LastImportStartedMs:  started,
		LastImportDurationMs: duration,
	}
}
