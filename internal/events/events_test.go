package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchDeliversInSubscriptionOrder(t *testing.T) {
	d := NewDispatcher(nil)
	var calls []string

	d.Subscribe(PostRowSave, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("ignored")
	})
	d.Subscribe(PostRowSave, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(PostRowDelete, func(context.Context, Event) error {
		calls = append(calls, "delete")
		return nil
	})

	d.Dispatch(context.Background(), Event{Name: PostRowSave, PluginID: "d7_user"})
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRecorder(t *testing.T) {
	d := NewDispatcher(nil)
	rec := &Recorder{}
	d.Subscribe(PreRowDelete, rec.Listen)
	d.Subscribe(PostRowDelete, rec.Listen)

	ctx := context.Background()
	d.Dispatch(ctx, Event{Name: PreRowDelete, SourceIDs: []string{"1"}})
	d.Dispatch(ctx, Event{Name: PostRowDelete, SourceIDs: []string{"1"}, DestinationIDs: []string{"10"}})
	d.Dispatch(ctx, Event{Name: PostRollback})

	assert.Equal(t, 1, rec.Count(PreRowDelete))
	assert.Equal(t, 1, rec.Count(PostRowDelete))
	assert.Equal(t, 0, rec.Count(PostRollback))
	assert.Equal(t, []string{"10"}, rec.Events()[1].DestinationIDs)
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() { d.Dispatch(context.Background(), Event{Name: PostRowSave}) })
}
