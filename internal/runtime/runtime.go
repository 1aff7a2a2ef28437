// Package runtime defines the plugin execution runtime flock drives.
//
// The runtime moves rows for one plugin at a time: Import processes source
// rows into the destination, Rollback removes what was imported, and the
// id-map records which source row produced which destination row. flock only
// needs the interfaces here; sqlrt is the reference implementation.
package runtime

import (
	"context"

	"github.com/dyluth/flock/pkg/catalog"
)

// ResultCode is the outcome of an Import or Rollback call.
type ResultCode string

const (
	// ResultCompleted means nothing is left to process.
	ResultCompleted ResultCode = "completed"
	// ResultIncomplete means the row limit was reached with rows left.
	ResultIncomplete ResultCode = "incomplete"
	// ResultStopped means the run was interrupted on operator request.
	ResultStopped ResultCode = "stopped"
	// ResultFailed means the run was interrupted because of an error.
	ResultFailed ResultCode = "failed"
)

// Result summarises one Import or Rollback call.
type Result struct {
	Code      ResultCode
	Processed int // rows handled during this call
}

// Done reports whether the plugin needs no further calls.
func (r Result) Done() bool {
	return r.Code == ResultCompleted
}

// RowStatus is the id-map status of a source row.
type RowStatus string

const (
	RowImported    RowStatus = "imported"
	RowNeedsUpdate RowStatus = "needs_update"
	RowFailed      RowStatus = "failed"
)

// MapRow is one id-map entry.
type MapRow struct {
	SourceIDs      []string
	DestinationIDs []string
	Status         RowStatus
}

// MessageLevel is the severity of a row message.
type MessageLevel string

const (
	LevelError   MessageLevel = "error"
	LevelWarning MessageLevel = "warning"
	LevelNotice  MessageLevel = "notice"
)

// MessageCategory groups row messages for operators.
type MessageCategory string

const (
	CategoryValidation MessageCategory = "validation"
	CategoryOther      MessageCategory = "other"
)

// Message is a note attached to a source row.
type Message struct {
	PluginID  string
	SourceIDs []string
	Text      string
	Level     MessageLevel
	Category  MessageCategory
}

// Counts summarises an id-map.
type Counts struct {
	Processed   int // rows imported or failed and not awaiting an update
	Imported    int
	Failed      int
	NeedsUpdate int
	Messages    int
}

// Runtime resolves plugins to executables.
type Runtime interface {
	Executable(id string) (Executable, error)
	CheckRequirements(p *catalog.Plugin) error
	SourceRowCount(p *catalog.Plugin) (int, error)
}

// Executable runs one plugin.
type Executable interface {
	Plugin() *catalog.Plugin

	// Import processes up to limit rows that are new or awaiting an update.
	Import(ctx context.Context, limit int) (Result, error)
	// Rollback removes up to limit imported rows, newest first.
	Rollback(ctx context.Context, limit int) (Result, error)
	// Interrupt makes the running Import or Rollback return with reason
	// after the current row.
	Interrupt(reason ResultCode)
	// TakeInterrupt returns and clears a pending interrupt, or "".
	TakeInterrupt() ResultCode

	IDMap() IDMap

	// SourceIDs returns the ID tuple of every current source row.
	SourceIDs(ctx context.Context) ([][]string, error)
	// SourceCount returns the number of current source rows.
	SourceCount(ctx context.Context) (int, error)
	// Fingerprint is an opaque hash of the full source content.
	Fingerprint(ctx context.Context) (string, error)
	// DeleteDestination removes one destination row.
	DeleteDestination(ctx context.Context, destinationIDs []string) error
}

// IDMap tracks source to destination row mappings and row messages.
type IDMap interface {
	// PrepareUpdate flags every row so the next Import reprocesses it.
	PrepareUpdate(ctx context.Context) error
	Rows(ctx context.Context) ([]MapRow, error)
	Delete(ctx context.Context, sourceIDs []string) error
	SaveMessage(ctx context.Context, sourceIDs []string, text string, level MessageLevel, category MessageCategory) error
	Messages(ctx context.Context) ([]Message, error)
	Counts(ctx context.Context) (Counts, error)
}
