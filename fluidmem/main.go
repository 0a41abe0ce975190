// Package fluidmem provides an in-memory store for fluid collections. It is
// used in tests and by the demo command when no database is configured.
package fluidmem

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/lemmego/fluid"
)

// =====================================
// Provider Implementation
// =====================================

// Provider owns the in-memory tables, one per collection alias
type Provider struct {
	mu     sync.Mutex
	tables map[string]interface{} // alias -> *table[T]
	closed bool
}

// Factory implements fluid.ProviderFactory
type Factory struct{}

// Create creates a new memory provider. The configuration is ignored.
func (f *Factory) Create(config fluid.Config) (fluid.Provider, error) {
	return NewProvider(), nil
}

// SupportedDrivers returns the list of supported drivers
func (f *Factory) SupportedDrivers() []string {
	return []string{"memory"}
}

func init() {
	fluid.RegisterProviderFactory("memory", &Factory{})
}

// NewProvider creates an empty in-memory provider
func NewProvider() *Provider {
	return &Provider{tables: make(map[string]interface{})}
}

// Health reports an error once the provider is closed
func (p *Provider) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fluid.NewError(fluid.ErrorTypeConnection, "memory provider is closed")
	}
	return nil
}

// Close drops every table
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = make(map[string]interface{})
	p.closed = true
	return nil
}

// SupportedFeatures returns the features supported by the memory store
func (p *Provider) SupportedFeatures() []fluid.Feature {
	return []fluid.Feature{fluid.FeatureTransactions}
}

// ProviderInfo returns information about the memory provider
func (p *Provider) ProviderInfo() fluid.ProviderInfo {
	return fluid.ProviderInfo{
		Name:         "Memory",
		Version:      "1.0",
		DatabaseType: fluid.DatabaseTypeMemory,
		Features:     p.SupportedFeatures(),
	}
}

// =====================================
// Store Implementation
// =====================================

// table holds the committed rows of one collection. Stored rows are never
// mutated in place: writes replace the pointer, so a transaction can work on
// a shallow copy of the map. The lock is held only to read, to snapshot and
// to commit, never across a unit of work.
type table[T any] struct {
	mu   sync.Mutex
	rows map[interface{}]*T
	seq  int64
}

// Store implements fluid.Store[T] in memory
type Store[T any] struct {
	desc  *fluid.Descriptor[T]
	table *table[T]
	tx    *txState[T]
}

// txState is the snapshot a unit of work writes to, and the ids it touched
type txState[T any] struct {
	rows    map[interface{}]*T
	touched map[interface{}]struct{}
}

var _ fluid.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore returns the store of a collection. Stores for the same alias share
// their rows.
func NewStore[T any](p *Provider, desc *fluid.Descriptor[T]) (*Store[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fluid.NewError(fluid.ErrorTypeConnection, "memory provider is closed")
	}
	existing, ok := p.tables[desc.Alias()]
	if !ok {
		t := &table[T]{rows: make(map[interface{}]*T)}
		p.tables[desc.Alias()] = t
		return &Store[T]{desc: desc, table: t}, nil
	}
	t, ok := existing.(*table[T])
	if !ok {
		return nil, fluid.NewError(fluid.ErrorTypeConfiguration,
			fmt.Sprintf("collection %q already holds a different entity type", desc.Alias()))
	}
	return &Store[T]{desc: desc, table: t}, nil
}

// Transaction runs fn on a snapshot of the table and, when fn succeeds,
// writes the rows it touched back. Concurrent units of work on one id are
// last-write-wins. Generated sequence values are not returned on rollback.
func (s *Store[T]) Transaction(ctx context.Context, fn func(tx fluid.Store[T]) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fluid.NewErrorWithCause(fluid.ErrorTypeTimeout, "context done before transaction", err)
	}

	s.table.mu.Lock()
	state := &txState[T]{
		rows:    make(map[interface{}]*T, len(s.table.rows)),
		touched: make(map[interface{}]struct{}),
	}
	for id, row := range s.table.rows {
		state.rows[id] = row
	}
	s.table.mu.Unlock()

	if err := fn(&Store[T]{desc: s.desc, table: s.table, tx: state}); err != nil {
		return err
	}

	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	for id := range state.touched {
		if row, ok := state.rows[id]; ok {
			s.table.rows[id] = row
		} else {
			delete(s.table.rows, id)
		}
	}
	return nil
}

// read runs fn on the rows visible to this store: the transaction snapshot,
// or the committed rows under the table lock.
func (s *Store[T]) read(fn func(rows map[interface{}]*T) error) error {
	if s.tx != nil {
		return fn(s.tx.rows)
	}
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	return fn(s.table.rows)
}

// write runs fn like read and, inside a transaction, records the id fn
// changed so the commit can carry it over.
func (s *Store[T]) write(id interface{}, fn func(rows map[interface{}]*T) error) error {
	if s.tx == nil {
		return s.read(fn)
	}
	if err := fn(s.tx.rows); err != nil {
		return err
	}
	s.tx.touched[id] = struct{}{}
	return nil
}

// Find returns copies of the rows matching the query, ordered and windowed
func (s *Store[T]) Find(ctx context.Context, spec fluid.QuerySpec) ([]*T, error) {
	var items []*T
	err := s.read(func(rows map[interface{}]*T) error {
		matched, err := s.match(rows, spec)
		if err != nil {
			return err
		}
		if err := fluid.SortEntities(matched, spec.Orders, s.desc.Getter); err != nil {
			return err
		}
		matched = fluid.Window(matched, spec.Offset, spec.Limit)
		items = make([]*T, len(matched))
		for i, row := range matched {
			items[i] = clone(row)
		}
		return nil
	})
	return items, err
}

// Count returns the number of rows matching the query filter
func (s *Store[T]) Count(ctx context.Context, spec fluid.QuerySpec) (int64, error) {
	var total int64
	err := s.read(func(rows map[interface{}]*T) error {
		matched, err := s.match(rows, spec)
		total = int64(len(matched))
		return err
	})
	return total, err
}

func (s *Store[T]) match(rows map[interface{}]*T, spec fluid.QuerySpec) ([]*T, error) {
	filter := spec.EffectiveFilter()
	var matched []*T
	for _, row := range rows {
		ok, err := fluid.Evaluate(filter, s.desc.Getter(row))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

// FindByID returns a copy of the row with the given id
func (s *Store[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	var found *T
	err := s.read(func(rows map[interface{}]*T) error {
		row, ok := rows[id]
		if !ok {
			return notFound(id)
		}
		found = clone(row)
		return nil
	})
	return found, err
}

// Insert stores a copy of entity, assigning an id when it has none
func (s *Store[T]) Insert(ctx context.Context, entity *T) error {
	if s.desc.IsNew(entity) {
		id, err := s.nextID()
		if err != nil {
			return err
		}
		if err := s.desc.SetID(entity, id); err != nil {
			return err
		}
	} else {
		s.bumpSequence(s.desc.ID(entity))
	}

	id := s.desc.ID(entity)
	return s.write(id, func(rows map[interface{}]*T) error {
		if _, exists := rows[id]; exists {
			return fluid.NewError(fluid.ErrorTypeDuplicate, fmt.Sprintf("record %v already exists", id))
		}
		rows[id] = clone(entity)
		return nil
	})
}

// Update replaces the stored row with a copy of entity
func (s *Store[T]) Update(ctx context.Context, entity *T) error {
	id := s.desc.ID(entity)
	return s.write(id, func(rows map[interface{}]*T) error {
		if _, exists := rows[id]; !exists {
			return notFound(id)
		}
		rows[id] = clone(entity)
		return nil
	})
}

// UpdateFields sets the named fields on the stored row
func (s *Store[T]) UpdateFields(ctx context.Context, id interface{}, fields map[string]interface{}) error {
	return s.write(id, func(rows map[interface{}]*T) error {
		row, exists := rows[id]
		if !exists {
			return notFound(id)
		}
		updated := clone(row)
		for name, value := range fields {
			if err := s.desc.SetField(updated, name, value); err != nil {
				return err
			}
		}
		rows[id] = updated
		return nil
	})
}

// Delete removes the row
func (s *Store[T]) Delete(ctx context.Context, id interface{}) error {
	return s.write(id, func(rows map[interface{}]*T) error {
		if _, exists := rows[id]; !exists {
			return notFound(id)
		}
		delete(rows, id)
		return nil
	})
}

// nextID generates an id for the id field type: the table sequence for
// integers and a UUID for strings and uuid.UUID.
func (s *Store[T]) nextID() (interface{}, error) {
	idType := s.desc.IDType()
	switch {
	case idType == reflect.TypeOf(uuid.UUID{}):
		return uuid.New(), nil
	case idType.Kind() == reflect.String:
		return reflect.ValueOf(uuid.NewString()).Convert(idType).Interface(), nil
	case isInteger(idType.Kind()):
		s.table.mu.Lock()
		defer s.table.mu.Unlock()
		s.table.seq++
		return reflect.ValueOf(s.table.seq).Convert(idType).Interface(), nil
	}
	return nil, fluid.NewError(fluid.ErrorTypeUnsupported,
		fmt.Sprintf("cannot generate ids of type %s", idType))
}

// bumpSequence keeps generated ids above an explicit integer id
func (s *Store[T]) bumpSequence(id interface{}) {
	v := reflect.ValueOf(id)
	var n int64
	switch {
	case v.CanInt():
		n = v.Int()
	case v.CanUint() && v.Uint() <= 1<<62:
		n = int64(v.Uint())
	default:
		return
	}
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	if n > s.table.seq {
		s.table.seq = n
	}
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func clone[T any](row *T) *T {
	c := *row
	return &c
}

func notFound(id interface{}) error {
	return fluid.Error{
		Type:    fluid.ErrorTypeNotFound,
		Message: "record not found",
		ID:      id,
	}
}
