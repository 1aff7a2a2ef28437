// Package batch runs migration actions as resumable batches.
//
// A batch is a list of operations persisted in the blackboard. Nothing runs
// in the background: every Poll performs at most one slice of work (one
// bookkeeping operation, or up to SliceRows rows of one plugin) and saves
// where it stopped. Clients drive a batch by polling until it reports
// complete; the CLI does the same in a loop through Run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/flock/internal/coordinator"
	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/interruptor"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/repository"
	"github.com/dyluth/flock/internal/runtime"
	"github.com/dyluth/flock/pkg/blackboard"
)

// ErrBatchActive is returned by Start while another batch holds the lock.
var ErrBatchActive = errors.New("another migration batch is active")

// ActiveBatchKey holds the ID of the batch the current lock was taken for.
const ActiveBatchKey = "migration_batch_active"

// MaxInProgress caps the progress reported before a batch has finished.
const MaxInProgress = 0.99

// PollState is what a poll tells the client.
type PollState string

const (
	PollUnknown    PollState = "unknown"
	PollInProgress PollState = "in-progress"
	PollComplete   PollState = "complete"
)

// Status is the answer to a poll.
type Status struct {
	State    PollState              `json:"status"`
	Progress float64                `json:"progress"`
	Result   blackboard.BatchStatus `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Config tunes the manager.
type Config struct {
	// SliceRows is the number of rows one poll processes. Zero means a
	// plugin runs to completion within one poll.
	SliceRows   int
	Coordinator coordinator.Config
}

// Manager starts and drives batches.
type Manager struct {
	repo        *repository.Repository
	store       *blackboard.Client
	dispatcher  *events.Dispatcher
	interruptor *interruptor.Interruptor
	cfg         Config
	log         *logger.Logger
	now         func() time.Time
}

// NewManager wires a manager and registers its interruptor on dispatcher,
// which must be the dispatcher the runtime fires row events on.
func NewManager(repo *repository.Repository, store *blackboard.Client, dispatcher *events.Dispatcher, cfg Config, log *logger.Logger) *Manager {
	i := interruptor.New(store, log)
	i.Register(dispatcher)
	return &Manager{
		repo:        repo,
		store:       store,
		dispatcher:  dispatcher,
		interruptor: i,
		cfg:         cfg,
		log:         log.Component("batch"),
		now:         time.Now,
	}
}

// Start claims the batch lock for session and persists a new batch for
// action over target (a migration ID or blackboard.TargetAll). It returns
// the batch ID.
func (m *Manager) Start(ctx context.Context, session coordinator.Session, action blackboard.Action, target string) (string, error) {
	if err := action.Validate(); err != nil {
		return "", err
	}

	var migrations []repository.Migration
	if target == blackboard.TargetAll {
		migrations = m.repo.Initial()
	} else {
		mig, err := m.repo.Get(target)
		if err != nil {
			return "", err
		}
		migrations = []repository.Migration{mig}
	}

	ops, err := Build(action, migrations)
	if err != nil {
		return "", err
	}

	coord, err := coordinator.New(ctx, m.store, session, m.cfg.Coordinator)
	if err != nil {
		return "", fmt.Errorf("failed to read batch lock: %w", err)
	}
	if coord.HasActiveOperation() {
		return "", ErrBatchActive
	}
	ok, err := coord.StartOperation(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	if !ok {
		return "", ErrBatchActive
	}

	// A stop requested while nothing was running must not pause this batch.
	if err := coordinator.ClearStopRequest(ctx, m.store); err != nil {
		m.release(ctx, coord)
		return "", err
	}

	now := m.now().UnixMilli()
	b := &blackboard.Batch{
		ID:          uuid.NewString(),
		Action:      action,
		Target:      target,
		Session:     session.ID,
		Operations:  ops,
		Status:      blackboard.BatchStatusRunning,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := m.store.Set(ctx, ActiveBatchKey, b.ID); err != nil {
		m.release(ctx, coord)
		return "", fmt.Errorf("failed to record active batch: %w", err)
	}
	if err := m.store.CreateBatch(ctx, b); err != nil {
		m.release(ctx, coord)
		return "", err
	}

	m.log.WithFields(map[string]any{"batch_id": b.ID, "action": string(action), "target": target}).
		Infof("started batch with %d operations", len(ops))
	return b.ID, nil
}

// Poll drives one slice of batch id on behalf of session and reports where
// the batch stands. Unknown IDs are not an error.
func (m *Manager) Poll(ctx context.Context, session coordinator.Session, id string) (Status, error) {
	b, err := m.store.GetBatch(ctx, id)
	if blackboard.IsNotFound(err) {
		return Status{State: PollUnknown}, nil
	}
	if err != nil {
		return Status{}, err
	}
	if b.Status.Terminal() {
		return complete(b), nil
	}

	coord, err := coordinator.New(ctx, m.store, session, m.cfg.Coordinator)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read batch lock: %w", err)
	}
	switch coord.State() {
	case coordinator.StateActiveForeign:
		return inProgress(b.Progress), nil
	case coordinator.StateIdle:
		return m.finish(ctx, b, nil, blackboard.BatchStatusInterrupted, "batch lock expired")
	}

	// The session may hold a lock taken for a later batch after this one's
	// expired.
	active, err := m.store.Get(ctx, ActiveBatchKey, "")
	if err != nil {
		return Status{}, fmt.Errorf("failed to read active batch: %w", err)
	}
	if active != b.ID {
		return m.finish(ctx, b, nil, blackboard.BatchStatusInterrupted, "batch lock expired")
	}

	ok, err := coord.ExtendActiveOperation(ctx, 0)
	if err != nil {
		return Status{}, fmt.Errorf("failed to extend batch lock: %w", err)
	}
	if !ok {
		return m.finish(ctx, b, nil, blackboard.BatchStatusInterrupted, "batch lock expired")
	}

	stopped, err := m.slice(ctx, b, coord)
	if err != nil {
		m.log.WithFields(map[string]any{"batch_id": b.ID}).Error(err, "batch slice failed")
		if b.Current < len(b.Operations) {
			if resetErr := m.repo.ResetMetadata(ctx, b.Operations[b.Current].MigrationID); resetErr != nil {
				m.log.Error(resetErr, "failed to mark migration not completed")
			}
		}
		return m.finish(ctx, b, coord, blackboard.BatchStatusFailed, err.Error())
	}
	if stopped {
		return m.finish(ctx, b, coord, blackboard.BatchStatusInterrupted, "stopped by operator")
	}
	if b.Current >= len(b.Operations) {
		return m.finish(ctx, b, coord, blackboard.BatchStatusFinished, "")
	}

	b.Progress = progressOf(b)
	b.UpdatedAtMs = m.now().UnixMilli()
	if err := m.store.UpdateBatch(ctx, b); err != nil {
		m.release(ctx, coord)
		return Status{}, err
	}
	m.publish(ctx, b, blackboard.BatchEventProgress, "")
	return inProgress(b.Progress), nil
}

// RequestStop asks the active batch to pause at the next row.
func (m *Manager) RequestStop(ctx context.Context) error {
	return coordinator.RequestStop(ctx, m.store)
}

// Run polls batch id until it completes, reporting every poll to
// onProgress. It returns an error when the batch failed.
func (m *Manager) Run(ctx context.Context, session coordinator.Session, id string, onProgress func(Status)) (Status, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		st, err := m.Poll(ctx, session, id)
		if err != nil {
			return st, err
		}
		if onProgress != nil {
			onProgress(st)
		}
		switch st.State {
		case PollUnknown:
			return st, fmt.Errorf("unknown batch %s", id)
		case PollComplete:
			if st.Result == blackboard.BatchStatusFailed {
				return st, fmt.Errorf("batch %s failed: %s", id, st.Error)
			}
			return st, nil
		}
	}
}

// Execute starts a batch and runs it to completion.
func (m *Manager) Execute(ctx context.Context, session coordinator.Session, action blackboard.Action, target string, onProgress func(Status)) (Status, error) {
	id, err := m.Start(ctx, session, action, target)
	if err != nil {
		return Status{}, err
	}
	return m.Run(ctx, session, id, onProgress)
}

// slice performs one unit of work on the current operation. It reports
// whether an operator stop interrupted the work.
func (m *Manager) slice(ctx context.Context, b *blackboard.Batch, coord *coordinator.Coordinator) (bool, error) {
	op := b.Operations[b.Current]
	switch op.Kind {
	case blackboard.OpResetMetadata:
		if b.Action == blackboard.ActionRefresh {
			unchanged, err := m.unchanged(ctx, op.MigrationID)
			if err != nil {
				return false, err
			}
			if unchanged {
				m.log.Infof("migration %s is complete and its source is unchanged, skipping refresh", op.MigrationID)
				skipMigration(b)
				return false, nil
			}
		}
		if err := m.repo.ResetMetadata(ctx, op.MigrationID); err != nil {
			return false, err
		}
	case blackboard.OpRecordStart:
		if err := m.repo.RecordImportStart(ctx, op.MigrationID); err != nil {
			return false, err
		}
	case blackboard.OpRecordDuration:
		if err := m.repo.RecordImportDuration(ctx, op.MigrationID); err != nil {
			return false, err
		}
	case blackboard.OpCalculateCompleteness:
		if _, err := m.repo.CalculateCompleteness(ctx, op.MigrationID); err != nil {
			return false, err
		}
	case blackboard.OpImport, blackboard.OpRollback, blackboard.OpRefresh:
		return m.runPlugin(ctx, b, op, coord)
	default:
		panic(fmt.Sprintf("batch %s: unknown operation kind %q", b.ID, op.Kind))
	}
	advance(b)
	return false, nil
}

func (m *Manager) runPlugin(ctx context.Context, b *blackboard.Batch, op blackboard.Operation, coord *coordinator.Coordinator) (bool, error) {
	if b.Cursor >= len(op.PluginIDs) {
		advance(b)
		return false, nil
	}
	pluginID := op.PluginIDs[b.Cursor]
	exec, err := m.repo.Executable(pluginID)
	if err != nil {
		return false, err
	}
	detach := m.interruptor.Attach(exec, coord)
	defer detach()

	var res runtime.Result
	switch op.Kind {
	case blackboard.OpImport:
		res, err = exec.Import(ctx, m.cfg.SliceRows)
	case blackboard.OpRollback:
		res, err = exec.Rollback(ctx, m.cfg.SliceRows)
	case blackboard.OpRefresh:
		if !b.Purged {
			if err := exec.IDMap().PrepareUpdate(ctx); err != nil {
				return false, err
			}
			purge, err := runtime.Purge(ctx, exec, m.dispatcher)
			if err != nil {
				return false, err
			}
			m.log.Infof("purged %d rows of %s whose source is gone", purge.Processed, pluginID)
			if purge.Code == runtime.ResultStopped {
				return true, nil
			}
			b.Purged = true
			return false, nil
		}
		res, err = exec.Import(ctx, m.cfg.SliceRows)
	}
	if err != nil {
		return false, fmt.Errorf("plugin %s: %w", pluginID, err)
	}

	m.log.Debugf("%s %s: %s after %d rows", op.Kind, pluginID, res.Code, res.Processed)
	switch res.Code {
	case runtime.ResultCompleted:
		b.Cursor++
		b.Purged = false
		if b.Cursor >= len(op.PluginIDs) {
			advance(b)
		}
	case runtime.ResultStopped:
		return true, nil
	case runtime.ResultFailed:
		return false, fmt.Errorf("plugin %s failed", pluginID)
	}
	return false, nil
}

// unchanged reports whether a migration is complete and its source still
// matches the recorded fingerprint.
func (m *Manager) unchanged(ctx context.Context, migrationID string) (bool, error) {
	meta, err := m.repo.Metadata(ctx, migrationID)
	if err != nil {
		return false, err
	}
	if !meta.Completed || meta.Fingerprint == "" {
		return false, nil
	}
	fp, err := m.repo.Fingerprint(ctx, migrationID)
	if err != nil {
		return false, err
	}
	return fp == meta.Fingerprint, nil
}

// finish moves b to a terminal status, releases the lock if coord still
// holds it, and reports the batch complete.
func (m *Manager) finish(ctx context.Context, b *blackboard.Batch, coord *coordinator.Coordinator, status blackboard.BatchStatus, reason string) (Status, error) {
	b.Status = status
	b.Error = reason
	b.Progress = 1
	b.UpdatedAtMs = m.now().UnixMilli()

	m.release(ctx, coord)
	if err := m.store.UpdateBatch(ctx, b); err != nil {
		return Status{}, err
	}

	eventType := blackboard.BatchEventFinished
	switch status {
	case blackboard.BatchStatusFailed:
		eventType = blackboard.BatchEventFailed
	case blackboard.BatchStatusInterrupted:
		eventType = blackboard.BatchEventInterrupted
	}
	m.publish(ctx, b, eventType, reason)
	m.log.WithFields(map[string]any{"batch_id": b.ID, "status": string(status)}).Info("batch ended")
	return complete(b), nil
}

func (m *Manager) release(ctx context.Context, coord *coordinator.Coordinator) {
	if coord == nil || !coord.CanModifyActiveOperation() {
		return
	}
	if err := m.store.Delete(ctx, ActiveBatchKey); err != nil {
		m.log.Error(err, "failed to clear active batch")
	}
	if err := coord.StopOperation(ctx); err != nil {
		m.log.Error(err, "failed to release batch lock")
	}
}

func (m *Manager) publish(ctx context.Context, b *blackboard.Batch, t blackboard.BatchEventType, message string) {
	e := &blackboard.BatchEvent{
		BatchID:     b.ID,
		Type:        t,
		Progress:    b.Progress,
		Message:     message,
		TimestampMs: m.now().UnixMilli(),
	}
	if b.Current < len(b.Operations) {
		op := b.Operations[b.Current]
		e.Operation = string(op.Kind)
		if op.Kind.RunsPlugins() && b.Cursor < len(op.PluginIDs) {
			e.Operation += " " + op.PluginIDs[b.Cursor]
		}
	}
	if err := m.store.PublishBatchEvent(ctx, e); err != nil {
		m.log.Error(err, "failed to publish batch event")
	}
}

func advance(b *blackboard.Batch) {
	b.Current++
	b.Cursor = 0
	b.Purged = false
}

// skipMigration moves past every remaining operation of the current
// migration.
func skipMigration(b *blackboard.Batch) {
	id := b.Operations[b.Current].MigrationID
	for b.Current < len(b.Operations) && b.Operations[b.Current].MigrationID == id {
		advance(b)
	}
}

func progressOf(b *blackboard.Batch) float64 {
	n := len(b.Operations)
	if n == 0 {
		return 1
	}
	done := float64(b.Current)
	if b.Current < n {
		op := b.Operations[b.Current]
		if op.Kind.RunsPlugins() && len(op.PluginIDs) > 0 {
			done += float64(b.Cursor) / float64(len(op.PluginIDs))
		}
	}
	return done / float64(n)
}

func inProgress(p float64) Status {
	if p > MaxInProgress {
		p = MaxInProgress
	}
	if p < 0 {
		p = 0
	}
	return Status{State: PollInProgress, Progress: p}
}

func complete(b *blackboard.Batch) Status {
	st := Status{State: PollComplete, Progress: 1, Result: b.Status}
	if b.Status == blackboard.BatchStatusFailed {
		st.Error = b.Error
	}
	return st
}
