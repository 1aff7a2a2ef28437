// Package events delivers row-level execution notifications to listeners.
//
// Dispatch is synchronous and notification-only: listeners run in
// subscription order on the dispatching goroutine and cannot veto or alter
// what happened. A listener error is logged and does not stop delivery.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyluth/flock/internal/logger"
)

// Name identifies an event kind.
type Name string

const (
	PreRowDelete  Name = "pre_row_delete"
	PostRowDelete Name = "post_row_delete"
	PostRowSave   Name = "post_row_save"
	PostRollback  Name = "post_rollback"
)

// Event describes one row-level occurrence.
type Event struct {
	Name           Name
	PluginID       string
	SourceIDs      []string // empty for PostRollback
	DestinationIDs []string // empty for PostRollback
}

// Listener reacts to an event.
type Listener func(ctx context.Context, e Event) error

// Dispatcher fans events out to subscribed listeners.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[Name][]Listener
	log       *logger.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		listeners: make(map[Name][]Listener),
		log:       log.Component("events"),
	}
}

// Subscribe registers l for events named name.
func (d *Dispatcher) Subscribe(name Name, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[name] = append(d.listeners[name], l)
}

// Dispatch delivers e to every listener subscribed to e.Name.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners[e.Name]...)
	d.mu.RUnlock()

	for _, l := range listeners {
		if err := l(ctx, e); err != nil {
			d.log.Error(err, fmt.Sprintf("%s listener failed for %s", e.Name, e.PluginID))
		}
	}
}

// Recorder is a Listener that keeps every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Listen implements Listener.
func (r *Recorder) Listen(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events are named name.
func (r *Recorder) Count(name Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
