package fluid

import (
	"context"
	"fmt"
	"sync"
)

// =====================================
// Event Hook Pipeline
// =====================================

// Event names a lifecycle event of the hook pipeline
type Event string

const (
	EventSavingEntity   Event = "saving_entity"
	EventSavedEntity    Event = "saved_entity"
	EventDeletingEntity Event = "deleting_entity"
	EventDeletedEntity  Event = "deleted_entity"
)

// SaveEvent describes a save. Before is the stored record (*T) or nil for a
// new record; After is the record being saved (*T) and may be replaced.
// Setting Cancel in a pre-save hook aborts the save.
type SaveEvent struct {
	Collection string
	Before     interface{}
	After      interface{}
	Cancel     bool
}

// DeleteEvent describes a delete of the record Entity (*T) with the given ID.
// Setting Cancel in a pre-delete hook aborts the delete.
type DeleteEvent struct {
	Collection string
	ID         interface{}
	Entity     interface{}
	Cancel     bool
}

// SaveHook receives the current save event and returns the next one
type SaveHook func(ctx context.Context, event SaveEvent) (SaveEvent, error)

// DeleteHook receives the current delete event and returns the next one
type DeleteHook func(ctx context.Context, event DeleteEvent) (DeleteEvent, error)

// HookID identifies a subscription for Unsubscribe
type HookID uint64

type saveEntry struct {
	id HookID
	fn SaveHook
}

type deleteEntry struct {
	id HookID
	fn DeleteHook
}

// Hooks is the process-wide hook registry. Hooks fire for every collection,
// in subscription order. Subscriptions are expected during startup; the
// pipeline is read concurrently afterwards.
type Hooks struct {
	mu       sync.RWMutex
	nextID   HookID
	saving   []saveEntry
	saved    []saveEntry
	deleting []deleteEntry
	deleted  []deleteEntry
}

// NewHooks creates an empty hook registry
func NewHooks() *Hooks {
	return &Hooks{}
}

// OnSaving subscribes a pre-save hook
func (h *Hooks) OnSaving(fn SaveHook) HookID {
	return h.addSave(&h.saving, fn)
}

// OnSaved subscribes a post-save hook
func (h *Hooks) OnSaved(fn SaveHook) HookID {
	return h.addSave(&h.saved, fn)
}

// OnDeleting subscribes a pre-delete hook
func (h *Hooks) OnDeleting(fn DeleteHook) HookID {
	return h.addDelete(&h.deleting, fn)
}

// OnDeleted subscribes a post-delete hook
func (h *Hooks) OnDeleted(fn DeleteHook) HookID {
	return h.addDelete(&h.deleted, fn)
}

func (h *Hooks) addSave(list *[]saveEntry, fn SaveHook) HookID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	*list = append(*list, saveEntry{id: h.nextID, fn: fn})
	return h.nextID
}

func (h *Hooks) addDelete(list *[]deleteEntry, fn DeleteHook) HookID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	*list = append(*list, deleteEntry{id: h.nextID, fn: fn})
	return h.nextID
}

// Unsubscribe removes a hook. It reports whether the id was subscribed.
func (h *Hooks) Unsubscribe(id HookID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, list := range []*[]saveEntry{&h.saving, &h.saved} {
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return true
			}
		}
	}
	for _, list := range []*[]deleteEntry{&h.deleting, &h.deleted} {
		for i, e := range *list {
			if e.id == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Len returns the number of hooks subscribed to an event
func (h *Hooks) Len(event Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch event {
	case EventSavingEntity:
		return len(h.saving)
	case EventSavedEntity:
		return len(h.saved)
	case EventDeletingEntity:
		return len(h.deleting)
	case EventDeletedEntity:
		return len(h.deleted)
	}
	return 0
}

func (h *Hooks) saveHooks(event Event) []saveEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if event == EventSavingEntity {
		return h.saving
	}
	return h.saved
}

func (h *Hooks) deleteHooks(event Event) []deleteEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if event == EventDeletingEntity {
		return h.deleting
	}
	return h.deleted
}

// runSave threads the event through the hooks of one save event. Pre-save
// hooks stop at the first Cancel; post-save hooks always all run. The first
// hook error aborts the pipeline.
func (h *Hooks) runSave(ctx context.Context, event Event, e SaveEvent) (SaveEvent, error) {
	if h == nil {
		return e, nil
	}
	for _, entry := range h.saveHooks(event) {
		next, err := callSaveHook(ctx, entry.fn, e)
		if err != nil {
			return e, hookError(event, entry.id, err)
		}
		e = next
		if event == EventSavingEntity && e.Cancel {
			break
		}
	}
	return e, nil
}

func (h *Hooks) runDelete(ctx context.Context, event Event, e DeleteEvent) (DeleteEvent, error) {
	if h == nil {
		return e, nil
	}
	for _, entry := range h.deleteHooks(event) {
		next, err := callDeleteHook(ctx, entry.fn, e)
		if err != nil {
			return e, hookError(event, entry.id, err)
		}
		e = next
		if event == EventDeletingEntity && e.Cancel {
			break
		}
	}
	return e, nil
}

func callSaveHook(ctx context.Context, fn SaveHook, e SaveEvent) (next SaveEvent, err error) {
	defer recoverHook(&err)
	return fn(ctx, e)
}

func callDeleteHook(ctx context.Context, fn DeleteHook, e DeleteEvent) (next DeleteEvent, err error) {
	defer recoverHook(&err)
	return fn(ctx, e)
}

func recoverHook(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("hook panicked: %v", r)
	}
}

func hookError(event Event, id HookID, cause error) error {
	return NewErrorWithCause(ErrorTypeHook, fmt.Sprintf("%s hook #%d failed", event, id), cause)
}

// =====================================
// Typed Hook Adapters
// =====================================

// SavingFor adapts a typed pre-save hook. It only runs for events whose
// record is a *T; it returns the record to save and whether to cancel.
func SavingFor[T any](fn func(ctx context.Context, before, after *T) (*T, bool, error)) SaveHook {
	return func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		after, ok := e.After.(*T)
		if !ok {
			return e, nil
		}
		before, _ := e.Before.(*T)
		next, cancel, err := fn(ctx, before, after)
		if err != nil {
			return e, err
		}
		e.After = next
		e.Cancel = e.Cancel || cancel
		return e, nil
	}
}

// SavedFor adapts a typed post-save hook
func SavedFor[T any](fn func(ctx context.Context, before, after *T) error) SaveHook {
	return func(ctx context.Context, e SaveEvent) (SaveEvent, error) {
		after, ok := e.After.(*T)
		if !ok {
			return e, nil
		}
		before, _ := e.Before.(*T)
		return e, fn(ctx, before, after)
	}
}

// DeletingFor adapts a typed pre-delete hook; it returns whether to cancel
func DeletingFor[T any](fn func(ctx context.Context, id interface{}, entity *T) (bool, error)) DeleteHook {
	return func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) {
		entity, ok := e.Entity.(*T)
		if !ok {
			return e, nil
		}
		cancel, err := fn(ctx, e.ID, entity)
		if err != nil {
			return e, err
		}
		e.Cancel = e.Cancel || cancel
		return e, nil
	}
}

// DeletedFor adapts a typed post-delete hook
func DeletedFor[T any](fn func(ctx context.Context, id interface{}, entity *T) error) DeleteHook {
	return func(ctx context.Context, e DeleteEvent) (DeleteEvent, error) {
		entity, ok := e.Entity.(*T)
		if !ok {
			return e, nil
		}
		return e, fn(ctx, e.ID, entity)
	}
}
