package blackboard

import (
	"fmt"

	"github.com/google/uuid"
)

// Batch is the persisted state of one migration batch. A batch is a list of
// operations driven one slice at a time by repeated polls; everything needed
// to resume it on the next poll lives here.
type Batch struct {
	ID          string      `json:"id"`            // UUID
	Action      Action      `json:"action"`        // What the operator asked for
	Target      string      `json:"target"`        // Migration ID, or TargetAll
	Session     string      `json:"session"`       // Session that started the batch
	Operations  []Operation `json:"operations"`    // Ordered work list
	Current     int         `json:"current"`       // Index of the operation in progress
	Cursor      int         `json:"cursor"`        // Index of the plugin in progress within the current operation
	Purged      bool        `json:"purged"`        // Refresh only: the plugin at Cursor has been purged
	Status      BatchStatus `json:"status"`        // Lifecycle state
	Progress    float64     `json:"progress"`      // Last reported progress in [0, 1]
	Error       string      `json:"error"`         // Failure cause when Status is failed
	CreatedAtMs int64       `json:"created_at_ms"` // Unix milliseconds
	UpdatedAtMs int64       `json:"updated_at_ms"` // Unix milliseconds
}

// TargetAll targets every initial migration.
const TargetAll = "all"

// Action is an operator-level batch request.
type Action string

const (
	ActionImport            Action = "import"
	ActionRollback          Action = "rollback"
	ActionRollbackAndImport Action = "rollback-and-import"
	ActionRefresh           Action = "refresh"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	// BatchStatusRunning batches still have operations to drive.
	BatchStatusRunning BatchStatus = "running"
	// BatchStatusFinished batches ran every operation.
	BatchStatusFinished BatchStatus = "finished"
	// BatchStatusFailed batches hit an unrecoverable runtime error.
	BatchStatusFailed BatchStatus = "failed"
	// BatchStatusInterrupted batches were stopped by an operator or lost their lock.
	BatchStatusInterrupted BatchStatus = "interrupted"
)

// Terminal reports whether no further slices will run.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusFinished || s == BatchStatusFailed || s == BatchStatusInterrupted
}

// Operation is one step of a batch.
type Operation struct {
	Kind        OperationKind `json:"kind"`
	MigrationID string        `json:"migration_id"`
	PluginIDs   []string      `json:"plugin_ids,omitempty"` // Execution order for import/rollback/refresh
}

// OperationKind selects what an operation does.
type OperationKind string

const (
	OpResetMetadata         OperationKind = "reset_metadata"
	OpRecordStart           OperationKind = "record_start"
	OpImport                OperationKind = "import"
	OpRollback              OperationKind = "rollback"
	OpRefresh               OperationKind = "refresh"
	OpRecordDuration        OperationKind = "record_duration"
	OpCalculateCompleteness OperationKind = "calculate_completeness"
)

// RunsPlugins reports whether the operation drives plugin rows.
func (k OperationKind) RunsPlugins() bool {
	return k == OpImport || k == OpRollback || k == OpRefresh
}

// MigrationMeta is the durable state the accelerator keeps per migration.
type MigrationMeta struct {
	MigrationID          string `json:"migration_id"`
	Completed            bool   `json:"completed"`
	Fingerprint          string `json:"fingerprint"`
	LastImportStartedMs  int64  `json:"last_import_started_ms"`
	LastImportDurationMs int64  `json:"last_import_duration_ms"`
}

// BatchEvent is published on the batch events channel.
type BatchEvent struct {
	BatchID     string         `json:"batch_id"`
	Type        BatchEventType `json:"type"`
	Progress    float64        `json:"progress"`
	Operation   string         `json:"operation,omitempty"`
	Message     string         `json:"message,omitempty"`
	TimestampMs int64          `json:"timestamp_ms"`
}

// BatchEventType names a batch lifecycle event.
type BatchEventType string

const (
	BatchEventStarted     BatchEventType = "started"
	BatchEventProgress    BatchEventType = "progress"
	BatchEventFinished    BatchEventType = "finished"
	BatchEventFailed      BatchEventType = "failed"
	BatchEventInterrupted BatchEventType = "interrupted"
)

// Validate checks that the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionImport, ActionRollback, ActionRollbackAndImport, ActionRefresh:
		return nil
	default:
		return fmt.Errorf("invalid action: %q", a)
	}
}

// Validate checks that the status is known.
func (s BatchStatus) Validate() error {
	switch s {
	case BatchStatusRunning, BatchStatusFinished, BatchStatusFailed, BatchStatusInterrupted:
		return nil
	default:
		return fmt.Errorf("invalid batch status: %q", s)
	}
}

// Validate checks that the kind is known.
func (k OperationKind) Validate() error {
	switch k {
	case OpResetMetadata, OpRecordStart, OpImport, OpRollback, OpRefresh, OpRecordDuration, OpCalculateCompleteness:
		return nil
	default:
		return fmt.Errorf("invalid operation kind: %q", k)
	}
}

// Validate checks a batch before it is written.
func (b *Batch) Validate() error {
	if !isValidUUID(b.ID) {
		return fmt.Errorf("invalid batch ID: must be a valid UUID")
	}
	if err := b.Action.Validate(); err != nil {
		return err
	}
	if b.Target == "" {
		return fmt.Errorf("batch target is required")
	}
	if err := b.Status.Validate(); err != nil {
		return err
	}
	for i, op := range b.Operations {
		if err := op.Kind.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		if op.MigrationID == "" {
			return fmt.Errorf("operation %d: migration ID is required", i)
		}
	}
	if b.Current < 0 || b.Current > len(b.Operations) {
		return fmt.Errorf("current operation %d out of range", b.Current)
	}
	if b.Progress < 0 || b.Progress > 1 {
		return fmt.Errorf("progress %f out of range", b.Progress)
	}
	return nil
}

// Validate checks migration metadata before it is written.
func (m *MigrationMeta) Validate() error {
	if m.MigrationID == "" {
		return fmt.Errorf("migration ID is required")
	}
	if m.LastImportDurationMs < 0 {
		return fmt.Errorf("import duration cannot be negative")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
