package fluid

import (
	"context"
	"fmt"
)

// EntityRepository is the type-erased view of a repository, for layers that
// work on collections by alias. Records are *T values.
type EntityRepository interface {
	Collection() *Collection
	New() interface{}

	Get(ctx context.Context, id interface{}, opts ...OperationOption) (interface{}, bool, error)
	GetMany(ctx context.Context, ids []interface{}, opts ...OperationOption) ([]interface{}, error)
	List(ctx context.Context, opts ...OperationOption) ([]interface{}, error)
	ListPaged(ctx context.Context, req QueryRequest, opts ...OperationOption) (*PagedItems, error)
	Count(ctx context.Context, opts ...OperationOption) (int64, error)
	Save(ctx context.Context, entity interface{}, opts ...OperationOption) (interface{}, error)
	Delete(ctx context.Context, id interface{}, opts ...OperationOption) (bool, error)
}

// PagedItems is PagedResult with type-erased items
type PagedItems struct {
	Items      []interface{} `json:"items"`
	TotalItems int64         `json:"total_items"`
	TotalPages int64         `json:"total_pages"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}

type untypedRepository[T any] struct {
	repo Repository[T]
}

// Untyped wraps a typed repository as an EntityRepository
func Untyped[T any](repo Repository[T]) EntityRepository {
	return untypedRepository[T]{repo: repo}
}

func (u untypedRepository[T]) Collection() *Collection {
	return u.repo.Descriptor().Collection
}

func (u untypedRepository[T]) New() interface{} {
	return new(T)
}

func (u untypedRepository[T]) Get(ctx context.Context, id interface{}, opts ...OperationOption) (interface{}, bool, error) {
	entity, found, err := u.repo.Get(ctx, id, opts...)
	if err != nil || !found {
		return nil, found, err
	}
	return entity, true, nil
}

func (u untypedRepository[T]) GetMany(ctx context.Context, ids []interface{}, opts ...OperationOption) ([]interface{}, error) {
	items, err := u.repo.GetMany(ctx, ids, opts...)
	if err != nil {
		return nil, err
	}
	return erase(items), nil
}

func (u untypedRepository[T]) List(ctx context.Context, opts ...OperationOption) ([]interface{}, error) {
	items, err := u.repo.List(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return erase(items), nil
}

func (u untypedRepository[T]) ListPaged(ctx context.Context, req QueryRequest, opts ...OperationOption) (*PagedItems, error) {
	page, err := u.repo.ListPaged(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return &PagedItems{
		Items:      erase(page.Items),
		TotalItems: page.TotalItems,
		TotalPages: page.TotalPages,
		Page:       page.Page,
		PageSize:   page.PageSize,
	}, nil
}

func (u untypedRepository[T]) Count(ctx context.Context, opts ...OperationOption) (int64, error) {
	return u.repo.Count(ctx, opts...)
}

func (u untypedRepository[T]) Save(ctx context.Context, entity interface{}, opts ...OperationOption) (interface{}, error) {
	typed, ok := entity.(*T)
	if !ok {
		var zero T
		return nil, Error{
			Type:       ErrorTypeInvalidArgument,
			Message:    fmt.Sprintf("expected *%T, got %T", zero, entity),
			Collection: u.Collection().Alias(),
			Operation:  OperationSave,
		}
	}
	saved, err := u.repo.Save(ctx, typed, opts...)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (u untypedRepository[T]) Delete(ctx context.Context, id interface{}, opts ...OperationOption) (bool, error) {
	return u.repo.Delete(ctx, id, opts...)
}

func erase[T any](items []*T) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
