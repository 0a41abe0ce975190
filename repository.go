package fluid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =====================================
// Repository
// =====================================

// Repository is the operation contract of one collection. Not found is a
// result: Get reports it through the bool and Delete through its bool return.
type Repository[T any] interface {
	Descriptor() *Descriptor[T]

	Get(ctx context.Context, id interface{}, opts ...OperationOption) (*T, bool, error)
	GetMany(ctx context.Context, ids []interface{}, opts ...OperationOption) ([]*T, error)
	List(ctx context.Context, opts ...OperationOption) ([]*T, error)
	ListPaged(ctx context.Context, req QueryRequest, opts ...OperationOption) (*PagedResult[T], error)
	Count(ctx context.Context, opts ...OperationOption) (int64, error)
	Save(ctx context.Context, entity *T, opts ...OperationOption) (*T, error)
	Delete(ctx context.Context, id interface{}, opts ...OperationOption) (bool, error)
}

// errCanceled rolls back a unit of work when a pre-hook cancels
var errCanceled = errors.New("operation canceled by hook")

// DefaultRepository implements Repository on top of a Store. It holds no
// per-call state and is safe for concurrent use when its Store is.
type DefaultRepository[T any] struct {
	desc     *Descriptor[T]
	store    Store[T]
	hooks    *Hooks
	logger   *zap.Logger
	observer Observer
}

var _ Repository[struct{}] = (*DefaultRepository[struct{}])(nil)

// NewRepository creates the default repository for a descriptor
func NewRepository[T any](desc *Descriptor[T], store Store[T], opts ...Option) *DefaultRepository[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &DefaultRepository[T]{
		desc:     desc,
		store:    store,
		hooks:    o.hooks,
		logger:   o.logger.With(zap.String("collection", desc.Alias())),
		observer: o.observer,
	}
}

// Descriptor returns the collection descriptor
func (r *DefaultRepository[T]) Descriptor() *Descriptor[T] {
	return r.desc
}

// Get loads a record by id. It does not apply the default filter or the
// soft-delete exclusion, so soft-deleted records are still returned.
func (r *DefaultRepository[T]) Get(ctx context.Context, id interface{}, opts ...OperationOption) (*T, bool, error) {
	nid, err := r.desc.NormalizeID(id)
	if err != nil {
		return nil, false, r.fail(OperationGet, id, err)
	}

	var found *T
	_, err = r.run(ctx, OperationGet, nid, func(tx Store[T]) error {
		entity, err := tx.FindByID(ctx, nid)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := afterLoad(ctx, entity); err != nil {
			return err
		}
		found = entity
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// GetMany loads the records with the given ids, in the order of ids. Missing
// and soft-deleted records are skipped.
func (r *DefaultRepository[T]) GetMany(ctx context.Context, ids []interface{}, opts ...OperationOption) ([]*T, error) {
	normalized := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		nid, err := r.desc.NormalizeID(id)
		if err != nil {
			return nil, r.fail(OperationGetMany, id, err)
		}
		normalized = append(normalized, nid)
	}
	if len(normalized) == 0 {
		return []*T{}, nil
	}

	var items []*T
	_, err := r.run(ctx, OperationGetMany, nil, func(tx Store[T]) error {
		found, err := tx.Find(ctx, ByIDsQuery(r.desc.Collection, normalized))
		if err != nil {
			return err
		}
		byID := make(map[interface{}]*T, len(found))
		for _, entity := range found {
			byID[r.desc.ID(entity)] = entity
		}
		items = make([]*T, 0, len(normalized))
		for _, id := range normalized {
			if entity, ok := byID[id]; ok {
				items = append(items, entity)
			}
		}
		return r.afterLoadAll(ctx, items)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// List returns every visible record in the default order
func (r *DefaultRepository[T]) List(ctx context.Context, opts ...OperationOption) ([]*T, error) {
	var items []*T
	_, err := r.run(ctx, OperationList, nil, func(tx Store[T]) error {
		found, err := tx.Find(ctx, ListQuery(r.desc.Collection))
		if err != nil {
			return err
		}
		items = found
		return r.afterLoadAll(ctx, items)
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*T{}
	}
	return items, nil
}

// ListPaged returns one page of the records matching the request
func (r *DefaultRepository[T]) ListPaged(ctx context.Context, req QueryRequest, opts ...OperationOption) (*PagedResult[T], error) {
	spec, err := BuildQuery(r.desc.Collection, req)
	if err != nil {
		return nil, r.fail(OperationPaged, nil, err)
	}

	var result *PagedResult[T]
	_, err = r.run(ctx, OperationPaged, nil, func(tx Store[T]) error {
		total, err := tx.Count(ctx, spec)
		if err != nil {
			return err
		}
		items, err := tx.Find(ctx, spec)
		if err != nil {
			return err
		}
		if err := r.afterLoadAll(ctx, items); err != nil {
			return err
		}
		result = newPagedResult(items, total, req.Page, spec.Limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Count returns the number of records List would return
func (r *DefaultRepository[T]) Count(ctx context.Context, opts ...OperationOption) (int64, error) {
	var total int64
	_, err := r.run(ctx, OperationCount, nil, func(tx Store[T]) error {
		n, err := tx.Count(ctx, ListQuery(r.desc.Collection))
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Save inserts a record without an id or with an id that is not stored yet,
// and updates it otherwise. A pre-save hook that cancels makes Save return
// the hook's record without persisting anything.
func (r *DefaultRepository[T]) Save(ctx context.Context, entity *T, opts ...OperationOption) (*T, error) {
	if entity == nil {
		return nil, r.fail(OperationSave, nil, NewError(ErrorTypeInvalidArgument, "entity must not be nil"))
	}
	id := r.desc.ID(entity)
	if r.desc.ReadOnly() {
		return nil, r.fail(OperationSave, id, configError("collection %q is read-only", r.desc.Alias()))
	}
	cfg := applyOperationOptions(opts)

	var result *T
	canceled, err := r.run(ctx, OperationSave, id, func(tx Store[T]) error {
		var before *T
		if !r.desc.IsNew(entity) {
			existing, err := tx.FindByID(ctx, id)
			if err != nil && !IsNotFound(err) {
				return err
			}
			before = existing
		}

		event := SaveEvent{Collection: r.desc.Alias(), After: entity}
		if before != nil {
			event.Before = before
		}

		after := entity
		if !cfg.skipEvents {
			var err error
			if event, err = r.hooks.runSave(ctx, EventSavingEntity, event); err != nil {
				return err
			}
			if after, err = r.entityOf(event.After, EventSavingEntity); err != nil {
				return err
			}
			if event.Cancel {
				result = after
				return errCanceled
			}
		}

		if err := beforeSave(ctx, after); err != nil {
			return err
		}
		if err := validateEntity(ctx, after); err != nil {
			return err
		}

		if before == nil {
			if err := tx.Insert(ctx, after); err != nil {
				return err
			}
		} else if err := tx.Update(ctx, after); err != nil {
			return err
		}

		if !cfg.skipEvents {
			event.After = after
			event, err := r.hooks.runSave(ctx, EventSavedEntity, event)
			if err != nil {
				return err
			}
			if after, err = r.entityOf(event.After, EventSavedEntity); err != nil {
				return err
			}
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if canceled {
		r.logger.Info("save canceled by hook", zap.Any("id", id))
	}
	return result, nil
}

// Delete removes a record, or flags it deleted when the collection has a
// deleted field. It returns false when there is no such record or a pre-delete
// hook cancels.
func (r *DefaultRepository[T]) Delete(ctx context.Context, id interface{}, opts ...OperationOption) (bool, error) {
	nid, err := r.desc.NormalizeID(id)
	if err != nil {
		return false, r.fail(OperationDelete, id, err)
	}
	if r.desc.ReadOnly() {
		return false, r.fail(OperationDelete, nid, configError("collection %q is read-only", r.desc.Alias()))
	}
	cfg := applyOperationOptions(opts)

	deleted := false
	canceled, err := r.run(ctx, OperationDelete, nid, func(tx Store[T]) error {
		existing, err := tx.FindByID(ctx, nid)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.desc.Deleted(existing) {
			// already soft-deleted
			return nil
		}

		event := DeleteEvent{Collection: r.desc.Alias(), ID: nid, Entity: existing}
		if !cfg.skipEvents {
			if event, err = r.hooks.runDelete(ctx, EventDeletingEntity, event); err != nil {
				return err
			}
			if event.Cancel {
				return errCanceled
			}
		}

		if r.desc.HasDeletedField() {
			err = tx.UpdateFields(ctx, nid, map[string]interface{}{r.desc.DeletedField(): true})
			r.desc.SetDeleted(existing, true)
		} else {
			err = tx.Delete(ctx, nid)
		}
		if err != nil {
			return err
		}

		if !cfg.skipEvents {
			if _, err := r.hooks.runDelete(ctx, EventDeletedEntity, event); err != nil {
				return err
			}
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if canceled {
		r.logger.Info("delete canceled by hook", zap.Any("id", nid))
	}
	return deleted, nil
}

// run executes fn in one unit of work and records the outcome. It reports
// whether a hook canceled the operation; cancellation is not an error.
func (r *DefaultRepository[T]) run(ctx context.Context, operation string, id interface{}, fn func(tx Store[T]) error) (bool, error) {
	start := time.Now()
	err := r.store.Transaction(ctx, fn)
	canceled := errors.Is(err, errCanceled)
	if canceled {
		err = nil
	}
	err = withContext(err, r.desc.Alias(), operation, id)
	duration := time.Since(start)

	r.observer.ObserveOperation(r.desc.Alias(), operation, duration, err)
	if err != nil {
		r.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Any("id", id),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return false, err
	}
	r.logger.Debug("operation completed",
		zap.String("operation", operation),
		zap.Any("id", id),
		zap.Duration("duration", duration),
		zap.Bool("canceled", canceled),
	)
	return canceled, nil
}

// fail records an operation rejected before reaching the store
func (r *DefaultRepository[T]) fail(operation string, id interface{}, err error) error {
	err = withContext(err, r.desc.Alias(), operation, id)
	r.observer.ObserveOperation(r.desc.Alias(), operation, 0, err)
	r.logger.Error("operation rejected", zap.String("operation", operation), zap.Any("id", id), zap.Error(err))
	return err
}

func (r *DefaultRepository[T]) afterLoadAll(ctx context.Context, items []*T) error {
	for _, item := range items {
		if err := afterLoad(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// entityOf checks that a hook left a *T in the event
func (r *DefaultRepository[T]) entityOf(v interface{}, event Event) (*T, error) {
	entity, ok := v.(*T)
	if !ok || entity == nil {
		return nil, NewError(ErrorTypeHook,
			fmt.Sprintf("%s hooks left a %T record, want non-nil *%s", event, v, r.desc.Info().Name))
	}
	return entity, nil
}
