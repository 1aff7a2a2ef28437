// Package interruptor pauses a running batch as soon as an operator asks for
// it instead of at the end of the current slice.
package interruptor

import (
	"context"
	"sync"

	"github.com/dyluth/flock/internal/coordinator"
	"github.com/dyluth/flock/internal/events"
	"github.com/dyluth/flock/internal/logger"
	"github.com/dyluth/flock/internal/runtime"
)

// Interruptor watches row events of the attached executable and stops it
// when the durable stop flag is raised.
type Interruptor struct {
	store coordinator.Store
	log   *logger.Logger

	mu    sync.Mutex
	exec  runtime.Executable
	coord *coordinator.Coordinator
}

// New returns an Interruptor reading the stop flag from store.
func New(store coordinator.Store, log *logger.Logger) *Interruptor {
	return &Interruptor{store: store, log: log.Component("interruptor")}
}

// Register subscribes to row save and row delete events.
func (i *Interruptor) Register(d *events.Dispatcher) {
	d.Subscribe(events.PostRowSave, i.onRow)
	d.Subscribe(events.PostRowDelete, i.onRow)
}

// Attach watches exec, controlled through coord, until the returned function
// is called.
func (i *Interruptor) Attach(exec runtime.Executable, coord *coordinator.Coordinator) (detach func()) {
	i.mu.Lock()
	i.exec, i.coord = exec, coord
	i.mu.Unlock()
	return func() {
		i.mu.Lock()
		i.exec, i.coord = nil, nil
		i.mu.Unlock()
	}
}

func (i *Interruptor) onRow(ctx context.Context, e events.Event) error {
	i.mu.Lock()
	exec, coord := i.exec, i.coord
	i.mu.Unlock()
	if exec == nil || e.PluginID != exec.Plugin().ID {
		return nil
	}

	requested, err := coordinator.TakeStopRequest(ctx, i.store)
	if err != nil || !requested {
		return err
	}

	// The executable must be stopped before the lock is released.
	exec.Interrupt(runtime.ResultStopped)
	i.log.Infof("stop requested, interrupting %s", e.PluginID)
	if coord != nil && coord.CanModifyActiveOperation() {
		return coord.StopOperation(ctx)
	}
	return nil
}
