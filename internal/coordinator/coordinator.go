// Package coordinator enforces that one session at a time drives migration
// batches.
//
// A Coordinator is built once per request. Its state is derived from the
// persistent batch lock and the durable controller record at construction and
// afterwards only changes through its own methods, so a request keeps one
// consistent view even if the store moves on underneath it.
//
// Calling a method the current state does not allow (starting while a batch
// is active, extending or stopping someone else's batch) is a programming
// error and panics. Losing a race against another session is not: those
// methods report false.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// LockName is the persistent lock guarding batch execution.
	LockName = "migration_batch"
	// ControllerKey holds the ID of the session driving the active batch.
	ControllerKey = "migration_batch_controller"
	// StopRequestedKey is raised by operators to pause the active batch.
	StopRequestedKey = "migration_batch_stop_requested"

	// MaxLockTTL caps the lock lifetime between polls.
	MaxLockTTL = 30 * time.Second

	cliPrefix  = "cli:"
	httpPrefix = "http:"
)

// Store is the durable state and lock backend.
type Store interface {
	Get(ctx context.Context, name, def string) (string, error)
	Set(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) (bool, error)
	LockMayBeAvailable(ctx context.Context, name string) (bool, error)
}

// Session identifies a caller that may drive batches.
type Session struct {
	ID string
}

// NewHTTPSession wraps an HTTP session ID. The ID is namespaced so no client
// value can pass for a CLI session.
func NewHTTPSession(id string) Session {
	return Session{ID: httpPrefix + id}
}

// NewCLISession returns a fresh session for one CLI invocation.
func NewCLISession() Session {
	return Session{ID: cliPrefix + uuid.NewString()}
}

// IsCLI reports whether the session belongs to a CLI invocation.
func (s Session) IsCLI() bool {
	return strings.HasPrefix(s.ID, cliPrefix)
}

// Config tunes the coordinator.
type Config struct {
	// MaxExecutionTime is the longest a single poll may run.
	MaxExecutionTime time.Duration
}

// TTL is the lock lifetime: MaxLockTTL, or MaxExecutionTime when shorter.
func (c Config) TTL() time.Duration {
	if c.MaxExecutionTime > 0 && c.MaxExecutionTime < MaxLockTTL {
		return c.MaxExecutionTime
	}
	return MaxLockTTL
}

// State is the view a session has of batch execution.
type State int

const (
	// StateIdle means no batch is active.
	StateIdle State = iota
	// StateActiveForeign means another session drives the active batch.
	StateActiveForeign
	// StateActiveOwned means this session drives the active batch.
	StateActiveOwned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActiveForeign:
		return "active (other session)"
	case StateActiveOwned:
		return "active (this session)"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Bit 0: a batch is active. Bit 1: this session controls it.
const (
	bitActive uint8 = 1 << 0
	bitOwned  uint8 = 1 << 1
)

// Coordinator is the per-request view of batch ownership.
type Coordinator struct {
	store      Store
	session    Session
	ttl        time.Duration
	bits       uint8
	controller string
}

// New derives the coordinator state for session.
func New(ctx context.Context, store Store, session Session, cfg Config) (*Coordinator, error) {
	if session.ID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}
	available, err := store.LockMayBeAvailable(ctx, LockName)
	if err != nil {
		return nil, err
	}
	controller, err := store.Get(ctx, ControllerKey, "")
	if err != nil {
		return nil, err
	}

	c := &Coordinator{store: store, session: session, ttl: cfg.TTL(), controller: controller}
	if !available {
		c.bits |= bitActive
		if controller == session.ID {
			c.bits |= bitOwned
		}
	}
	return c, nil
}

// State decodes the state bits.
func (c *Coordinator) State() State {
	switch c.bits {
	case 0:
		return StateIdle
	case bitActive:
		return StateActiveForeign
	case bitActive | bitOwned:
		return StateActiveOwned
	default:
		panic(fmt.Sprintf("coordinator: inconsistent state bits %02b for session %s", c.bits, c.session.ID))
	}
}

// Session returns the session this coordinator acts for.
func (c *Coordinator) Session() Session {
	return c.session
}

// TTL returns the lock lifetime used by StartOperation and
// ExtendActiveOperation.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// HasActiveOperation reports whether any session drives a batch.
func (c *Coordinator) HasActiveOperation() bool {
	return c.State() != StateIdle
}

// CanModifyActiveOperation reports whether this session drives the batch.
func (c *Coordinator) CanModifyActiveOperation() bool {
	return c.State() == StateActiveOwned
}

// StartOperation takes control. It returns false when another session took
// the lock first.
func (c *Coordinator) StartOperation(ctx context.Context) (bool, error) {
	if c.HasActiveOperation() {
		panic("coordinator: StartOperation called while an operation is active")
	}
	ok, err := c.store.Acquire(ctx, LockName, c.session.ID, c.ttl)
	if err != nil || !ok {
		return false, err
	}
	if err := c.store.Set(ctx, ControllerKey, c.session.ID); err != nil {
		if _, releaseErr := c.store.Release(ctx, LockName, c.session.ID); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to release batch lock: %w", releaseErr))
		}
		return false, err
	}
	c.controller = c.session.ID
	c.bits = bitActive | bitOwned
	return true, nil
}

// ExtendActiveOperation renews the lock for ttl, or the default TTL when ttl
// is zero. It returns false when there is nothing to extend or the lock
// already expired; either way the batch is no longer running.
func (c *Coordinator) ExtendActiveOperation(ctx context.Context, ttl time.Duration) (bool, error) {
	if !c.HasActiveOperation() {
		return false, nil
	}
	if !c.CanModifyActiveOperation() {
		panic(fmt.Sprintf("coordinator: session %s cannot extend an operation controlled by %s", c.session.ID, c.controller))
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	ok, err := c.store.Renew(ctx, LockName, c.session.ID, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		c.bits = 0
	}
	return ok, nil
}

// StopOperation releases control.
func (c *Coordinator) StopOperation(ctx context.Context) error {
	if !c.HasActiveOperation() {
		panic("coordinator: StopOperation called without an active operation")
	}
	if !c.CanModifyActiveOperation() {
		panic(fmt.Sprintf("coordinator: session %s cannot stop an operation controlled by %s", c.session.ID, c.controller))
	}
	if _, err := c.store.Release(ctx, LockName, c.session.ID); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, ControllerKey); err != nil {
		return err
	}
	c.controller = ""
	c.bits = 0
	return nil
}

// ControllingSessionIsKnown reports whether a controller was recorded.
func (c *Coordinator) ControllingSessionIsKnown() bool {
	return c.controller != ""
}

// ControllingSessionIsCLI reports whether the recorded controller is a CLI
// invocation.
func (c *Coordinator) ControllingSessionIsCLI() bool {
	return strings.HasPrefix(c.controller, cliPrefix)
}

// RequestStop raises the durable stop flag. Any session may call it.
func RequestStop(ctx context.Context, store Store) error {
	return store.Set(ctx, StopRequestedKey, "1")
}

// TakeStopRequest reports whether a stop was requested and clears the flag.
func TakeStopRequest(ctx context.Context, store Store) (bool, error) {
	v, err := store.Get(ctx, StopRequestedKey, "")
	if err != nil || v == "" {
		return false, err
	}
	if err := store.Delete(ctx, StopRequestedKey); err != nil {
		return false, err
	}
	return true, nil
}

// ClearStopRequest drops a pending stop request.
func ClearStopRequest(ctx context.Context, store Store) error {
	return store.Delete(ctx, StopRequestedKey)
}
