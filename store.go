package fluid

import "context"

// =====================================
// Backing Store Contract
// =====================================

// Store is the persistence primitive set a Repository runs on. Implementations
// translate a QuerySpec to their own query language and map rows to *T.
//
// FindByID returns an ErrorTypeNotFound error for a missing id. It does not
// apply the soft-delete exclusion. Insert may assign the id when the entity
// has none. Update and UpdateFields return ErrorTypeNotFound when no row
// matches; Delete removes the row physically.
//
// Transaction runs fn against a store bound to one unit of work. The work is
// committed when fn returns nil and rolled back otherwise. Stores that cannot
// nest units of work may run fn on the receiver when already inside one.
type Store[T any] interface {
	Find(ctx context.Context, spec QuerySpec) ([]*T, error)
	Count(ctx context.Context, spec QuerySpec) (int64, error)
	FindByID(ctx context.Context, id interface{}) (*T, error)
	Insert(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error
	Delete(ctx context.Context, id interface{}) error
	Transaction(ctx context.Context, fn func(tx Store[T]) error) error
}
