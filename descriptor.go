package fluid

import (
	"fmt"
	"reflect"
)

// =====================================
// Collection Descriptors
// =====================================

// DefaultPageSize is used when a collection does not declare a page size
const DefaultPageSize = 10

// CollectionOptions is the declaration a caller registers for one entity type
type CollectionOptions struct {
	// Alias names the collection in the registry. Defaults to the table name.
	Alias        string
	NameSingular string
	NamePlural   string
	Description  string

	IDField      string
	DeletedField string

	DefaultFilter Condition
	SortField     string
	SortDirection SortDirection

	SearchableFields []string

	ReadOnly bool
	PageSize int
}

// Collection is the immutable, type-independent half of a descriptor. It is
// what query building, stores and presentation layers read.
type Collection struct {
	alias        string
	nameSingular string
	namePlural   string
	description  string

	entityType reflect.Type
	info       *EntityInfo

	idField      FieldInfo
	deletedField *FieldInfo

	defaultFilter Condition
	sortField     string
	sortDirection SortDirection
	searchable    []string

	readOnly bool
	pageSize int
}

func (c *Collection) Alias() string { return c.alias }
func (c *Collection) NameSingular() string { return c.nameSingular }
func (c *Collection) NamePlural() string { return c.namePlural }
func (c *Collection) Description() string { return c.description }
func (c *Collection) EntityType() reflect.Type { return c.entityType }
func (c *Collection) Info() *EntityInfo { return c.info }
func (c *Collection) IDField() string { return c.idField.Name }
func (c *Collection) IDType() reflect.Type { return c.idField.Type }
func (c *Collection) DefaultFilter() Condition { return c.defaultFilter }
func (c *Collection) SortField() string { return c.sortField }
func (c *Collection) SortDirection() SortDirection { return c.sortDirection }
func (c *Collection) ReadOnly() bool { return c.readOnly }
func (c *Collection) PageSize() int { return c.pageSize }

// DeletedField returns the soft-delete field name, or "" when the collection
// deletes physically.
func (c *Collection) DeletedField() string {
	if c.deletedField == nil {
		return ""
	}
	return c.deletedField.Name
}

// HasDeletedField reports whether deletes are soft
func (c *Collection) HasDeletedField() bool { return c.deletedField != nil }

// SearchableFields returns a copy of the searchable field names
func (c *Collection) SearchableFields() []string {
	return append([]string(nil), c.searchable...)
}

// IsSearchable reports whether any searchable field is declared
func (c *Collection) IsSearchable() bool { return len(c.searchable) > 0 }

// NormalizeID converts an id to the id field's type. Values assignable to the
// field type pass through; integer and string kinds are converted when the
// conversion is lossless. Anything else is an invalid argument.
func (c *Collection) NormalizeID(id interface{}) (interface{}, error) {
	if id == nil {
		return nil, NewError(ErrorTypeInvalidArgument, "id must not be nil")
	}
	target := c.idField.Type
	v := reflect.ValueOf(id)
	if v.Type().AssignableTo(target) {
		return id, nil
	}

	switch {
	case isIntegerKind(v.Kind()) && isIntegerKind(target.Kind()):
		converted := v.Convert(target)
		if converted.Convert(v.Type()).Interface() != id || (isSigned(v.Kind()) && v.Int() < 0 && !isSigned(target.Kind())) {
			return nil, NewError(ErrorTypeInvalidArgument,
				fmt.Sprintf("id %v overflows %s field %s", id, target, c.idField.Name))
		}
		return converted.Interface(), nil
	case v.Kind() == reflect.String && target.Kind() == reflect.String:
		return v.Convert(target).Interface(), nil
	}

	return nil, NewError(ErrorTypeInvalidArgument,
		fmt.Sprintf("id of type %s does not match %s field %s", v.Type(), target, c.idField.Name))
}

// IsZeroID reports whether an id is absent (nil or the zero value of its type)
func IsZeroID(id interface{}) bool {
	if id == nil {
		return true
	}
	return reflect.ValueOf(id).IsZero()
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

// =====================================
// Typed Descriptor
// =====================================

// Accessor reads the engine-relevant fields of an entity without call-time
// type inspection.
type Accessor[T any] interface {
	ID(entity *T) interface{}
	Deleted(entity *T) bool
	Field(entity *T, name string) (interface{}, error)
}

// Descriptor binds a Collection to the Go type T and provides precomputed
// field access for it.
type Descriptor[T any] struct {
	*Collection
}

var _ Accessor[struct{}] = (*Descriptor[struct{}])(nil)

// NewDescriptor validates the options against T and builds the descriptor.
// Every error it returns is a configuration error and should abort startup.
func NewDescriptor[T any](opts CollectionOptions) (*Descriptor[T], error) {
	entityType := reflect.TypeOf((*T)(nil)).Elem()
	info, err := inspectEntity(entityType)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		alias:         opts.Alias,
		nameSingular:  opts.NameSingular,
		namePlural:    opts.NamePlural,
		description:   opts.Description,
		entityType:    entityType,
		info:          info,
		defaultFilter: opts.DefaultFilter,
		sortField:     opts.SortField,
		sortDirection: opts.SortDirection,
		searchable:    append([]string(nil), opts.SearchableFields...),
		readOnly:      opts.ReadOnly,
		pageSize:      opts.PageSize,
	}
	if c.alias == "" {
		c.alias = info.TableName
	}
	if c.nameSingular == "" {
		c.nameSingular = info.Name
	}
	if c.namePlural == "" {
		c.namePlural = c.nameSingular + "s"
	}

	if opts.IDField == "" {
		return nil, configError("collection %q: id field is required", c.alias)
	}
	idField, ok := info.Field(opts.IDField)
	if !ok {
		return nil, configError("collection %q: id field %q does not exist on %s", c.alias, opts.IDField, info.Name)
	}
	switch idField.Type.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface:
		return nil, configError("collection %q: id field %q has unsupported type %s", c.alias, opts.IDField, idField.Type)
	}
	if !idField.Type.Comparable() {
		return nil, configError("collection %q: id field %q must be comparable", c.alias, opts.IDField)
	}
	c.idField = idField

	if opts.DeletedField != "" {
		deleted, ok := info.Field(opts.DeletedField)
		if !ok {
			return nil, configError("collection %q: deleted field %q does not exist on %s", c.alias, opts.DeletedField, info.Name)
		}
		if deleted.Type.Kind() != reflect.Bool {
			return nil, configError("collection %q: deleted field %q must be bool, is %s", c.alias, opts.DeletedField, deleted.Type)
		}
		c.deletedField = &deleted
	}

	if err := validateCondition(info, opts.DefaultFilter); err != nil {
		return nil, configError("collection %q: default filter: %v", c.alias, err)
	}

	if c.sortField != "" {
		if _, ok := info.Field(c.sortField); !ok {
			return nil, configError("collection %q: sort field %q does not exist on %s", c.alias, c.sortField, info.Name)
		}
		if c.sortDirection == "" {
			c.sortDirection = Ascending
		}
	}
	if err := validateDirection(c.sortDirection); err != nil {
		return nil, configError("collection %q: %v", c.alias, err)
	}

	for _, f := range c.searchable {
		if _, ok := info.Field(f); !ok {
			return nil, configError("collection %q: searchable field %q does not exist on %s", c.alias, f, info.Name)
		}
	}

	switch {
	case c.pageSize == 0:
		c.pageSize = DefaultPageSize
	case c.pageSize < 0:
		return nil, configError("collection %q: page size must be positive, got %d", c.alias, c.pageSize)
	}

	return &Descriptor[T]{Collection: c}, nil
}

// MustDescriptor is NewDescriptor that panics on configuration errors
func MustDescriptor[T any](opts CollectionOptions) *Descriptor[T] {
	d, err := NewDescriptor[T](opts)
	if err != nil {
		panic(err)
	}
	return d
}

func validateDirection(dir SortDirection) error {
	switch dir {
	case "", Ascending, Descending:
		return nil
	}
	return fmt.Errorf("unknown sort direction %q", dir)
}

// New allocates a zero entity
func (d *Descriptor[T]) New() *T {
	return new(T)
}

// ID returns the entity's id value
func (d *Descriptor[T]) ID(entity *T) interface{} {
	if entity == nil {
		return nil
	}
	return reflect.ValueOf(entity).Elem().FieldByIndex(d.idField.Index).Interface()
}

// SetID assigns the entity's id, converting id to the field type
func (d *Descriptor[T]) SetID(entity *T, id interface{}) error {
	normalized, err := d.NormalizeID(id)
	if err != nil {
		return err
	}
	reflect.ValueOf(entity).Elem().FieldByIndex(d.idField.Index).Set(reflect.ValueOf(normalized))
	return nil
}

// IsNew reports whether the entity has no id yet
func (d *Descriptor[T]) IsNew(entity *T) bool {
	return IsZeroID(d.ID(entity))
}

// Deleted returns the soft-delete flag, false when the collection has none
func (d *Descriptor[T]) Deleted(entity *T) bool {
	if entity == nil || d.deletedField == nil {
		return false
	}
	return reflect.ValueOf(entity).Elem().FieldByIndex(d.deletedField.Index).Bool()
}

// SetDeleted sets the soft-delete flag. It is a no-op without a deleted field.
func (d *Descriptor[T]) SetDeleted(entity *T, deleted bool) {
	if entity == nil || d.deletedField == nil {
		return
	}
	reflect.ValueOf(entity).Elem().FieldByIndex(d.deletedField.Index).SetBool(deleted)
}

// Field returns the value of a named field
func (d *Descriptor[T]) Field(entity *T, name string) (interface{}, error) {
	f, ok := d.info.Field(name)
	if !ok {
		return nil, configError("field %q does not exist on %s", name, d.info.Name)
	}
	if entity == nil {
		return nil, NewError(ErrorTypeInvalidArgument, "entity must not be nil")
	}
	v, err := reflect.ValueOf(entity).Elem().FieldByIndexErr(f.Index)
	if err != nil {
		// nil embedded pointer on the path
		return nil, nil
	}
	return v.Interface(), nil
}

// SetField assigns a named field, converting the value where Go allows it
func (d *Descriptor[T]) SetField(entity *T, name string, value interface{}) error {
	f, ok := d.info.Field(name)
	if !ok {
		return configError("field %q does not exist on %s", name, d.info.Name)
	}
	target := reflect.ValueOf(entity).Elem().FieldByIndex(f.Index)
	if value == nil {
		target.Set(reflect.Zero(f.Type))
		return nil
	}
	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(f.Type):
		target.Set(v)
	case v.Type().ConvertibleTo(f.Type):
		target.Set(v.Convert(f.Type))
	default:
		return NewError(ErrorTypeInvalidArgument,
			fmt.Sprintf("value of type %s cannot be assigned to %s field %s", v.Type(), f.Type, name))
	}
	return nil
}

// Getter returns a field lookup bound to one entity, for in-memory evaluation
func (d *Descriptor[T]) Getter(entity *T) FieldGetter {
	return func(name string) (interface{}, bool) {
		v, err := d.Field(entity, name)
		if err != nil {
			return nil, false
		}
		return v, true
	}
}
