package fluid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksRunInOrderAndStopOnCancel(t *testing.T) {
	hooks := NewHooks()
	var calls []string

	hooks.OnSaving(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		calls = append(calls, "first")
		return e, nil
	})
	hooks.OnSaving(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		calls = append(calls, "second")
		e.Cancel = true
		return e, nil
	})
	hooks.OnSaving(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		calls = append(calls, "third")
		return e, nil
	})

	out, err := hooks.runSave(context.Background(), EventSavingEntity, SaveEvent{Collection: "notes"})
	require.NoError(t, err)
	assert.True(t, out.Cancel)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPostHooksIgnoreCancel(t *testing.T) {
	hooks := NewHooks()
	var calls int

	for i := 0; i < 3; i++ {
		hooks.OnDeleted(func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) {
			calls++
			e.Cancel = true
			return e, nil
		})
	}

	_, err := hooks.runDelete(context.Background(), EventDeletedEntity, DeleteEvent{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestHookErrorAbortsPipeline(t *testing.T) {
	hooks := NewHooks()
	boom := errors.New("boom")
	ran := false

	hooks.OnDeleting(func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) {
		return e, boom
	})
	hooks.OnDeleting(func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) {
		ran = true
		return e, nil
	})

	_, err := hooks.runDelete(context.Background(), EventDeletingEntity, DeleteEvent{})
	require.Error(t, err)
	assert.True(t, IsHook(err))
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestHookPanicBecomesHookError(t *testing.T) {
	hooks := NewHooks()
	hooks.OnSaved(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		panic("broken invariant")
	})

	_, err := hooks.runSave(context.Background(), EventSavedEntity, SaveEvent{})
	require.Error(t, err)
	assert.True(t, IsHook(err))
	assert.Contains(t, err.Error(), "broken invariant")
}

func TestHooksThreadEvents(t *testing.T) {
	hooks := NewHooks()
	hooks.OnSaving(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		e.After = &Note{Title: "replaced"}
		return e, nil
	})
	hooks.OnSaving(func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		e.After.(*Note).Priority = 9
		return e, nil
	})

	out, err := hooks.runSave(context.Background(), EventSavingEntity, SaveEvent{After: &Note{Title: "original"}})
	require.NoError(t, err)
	assert.Equal(t, &Note{Title: "replaced", Priority: 9}, out.After)
}

func TestUnsubscribe(t *testing.T) {
	hooks := NewHooks()
	noop := func(ctx context.Context, e SaveEvent) (SaveEvent, error) { return e, nil }

	first := hooks.OnSaving(noop)
	second := hooks.OnSaving(noop)
	deleted := hooks.OnDeleted(func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) { return e, nil })
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, hooks.Len(EventSavingEntity))

	assert.True(t, hooks.Unsubscribe(first))
	assert.False(t, hooks.Unsubscribe(first))
	assert.Equal(t, 1, hooks.Len(EventSavingEntity))

	assert.True(t, hooks.Unsubscribe(deleted))
	assert.Equal(t, 0, hooks.Len(EventDeletedEntity))
	assert.Equal(t, 0, hooks.Len(Event("unknown")))
}

func TestNilHooksAreEmpty(t *testing.T) {
	var hooks *Hooks
	e := SaveEvent{Collection: "notes"}
	out, err := hooks.runSave(context.Background(), EventSavingEntity, e)
	require.NoError(t, err)
	assert.Equal(t, e, out)
}

func TestTypedHookAdapters(t *testing.T) {
	ctx := context.Background()

	saving := SavingFor(func(ctx context.Context, before, after *Note) (*Note, bool, error) {
		after.Title = "typed"
		return after, after.Priority < 0, nil
	})
	out, err := saving(ctx, SaveEvent{After: &Note{Priority: -1}})
	require.NoError(t, err)
	assert.True(t, out.Cancel)
	assert.Equal(t, "typed", out.After.(*Note).Title)

	// other entity types pass through untouched
	tag := &Tag{Code: "go"}
	out, err = saving(ctx, SaveEvent{After: tag})
	require.NoError(t, err)
	assert.Same(t, tag, out.After)
	assert.False(t, out.Cancel)

	var seen interface{}
	deleting := DeletingFor(func(ctx context.Context, id interface{}, entity *Note) (bool, error) {
		seen = id
		return true, nil
	})
	dout, err := deleting(ctx, DeleteEvent{ID: 4, Entity: &Note{ID: 4}})
	require.NoError(t, err)
	assert.True(t, dout.Cancel)
	assert.Equal(t, 4, seen)

	saved := SavedFor(func(ctx context.Context, before, after *Note) error {
		return errors.New("audit failed")
	})
	_, err = saved(ctx, SaveEvent{After: &Note{}})
	assert.EqualError(t, err, "audit failed")

	deletedCalled := false
	deleted := DeletedFor(func(ctx context.Context, id interface{}, entity *Note) error {
		deletedCalled = true
		return nil
	})
	_, err = deleted(ctx, DeleteEvent{Entity: &Tag{}})
	require.NoError(t, err)
	assert.False(t, deletedCalled)
}
