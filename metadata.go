package fluid

import (
	"reflect"
	"strings"
	"unicode"
)

// =====================================
// Entity Metadata
// =====================================

// EntityInfo contains reflected metadata about an entity type
type EntityInfo struct {
	Name      string
	TableName string
	Fields    []FieldInfo

	byName map[string]int
}

// FieldInfo contains metadata about one exported field
type FieldInfo struct {
	Name   string
	Type   reflect.Type
	Column string
	Tag    string
	Index  []int

	IsNullable bool
}

// Field looks a field up by its Go name
func (e *EntityInfo) Field(name string) (FieldInfo, bool) {
	i, ok := e.byName[name]
	if !ok {
		return FieldInfo{}, false
	}
	return e.Fields[i], true
}

// Column returns the storage column for a field, or the name itself when the
// field is unknown.
func (e *EntityInfo) Column(name string) string {
	if f, ok := e.Field(name); ok {
		return f.Column
	}
	return name
}

// tableNamer is implemented by entities that name their own table
type tableNamer interface {
	TableName() string
}

// inspectEntity reflects over a struct type once. Promoted fields of embedded
// structs are flattened; unexported fields are skipped.
func inspectEntity(t reflect.Type) (*EntityInfo, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, configError("entity type %s is not a struct", t)
	}

	info := &EntityInfo{
		Name:      t.Name(),
		TableName: toSnakeCase(t.Name()) + "s",
		byName:    make(map[string]int),
	}
	if namer, ok := reflect.New(t).Interface().(tableNamer); ok {
		info.TableName = namer.TableName()
	} else if namer, ok := reflect.Zero(t).Interface().(tableNamer); ok {
		info.TableName = namer.TableName()
	}

	for _, sf := range reflect.VisibleFields(t) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		if _, dup := info.byName[sf.Name]; dup {
			continue
		}
		column := columnName(sf)
		if column == "-" {
			continue
		}
		info.byName[sf.Name] = len(info.Fields)
		info.Fields = append(info.Fields, FieldInfo{
			Name:       sf.Name,
			Type:       sf.Type,
			Column:     column,
			Tag:        string(sf.Tag),
			Index:      sf.Index,
			IsNullable: sf.Type.Kind() == reflect.Ptr,
		})
	}

	return info, nil
}

// columnName resolves a field's storage column from its db tag, then a
// gorm "column:" setting, falling back to snake_case of the Go name.
func columnName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("db"); ok {
		name := strings.Split(tag, ",")[0]
		if name != "" {
			return name
		}
	}
	for _, setting := range strings.Split(sf.Tag.Get("gorm"), ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(setting), ":")
		if ok && strings.EqualFold(key, "column") && value != "" {
			return value
		}
	}
	return toSnakeCase(sf.Name)
}

// toSnakeCase converts CamelCase to snake_case, keeping acronyms together
// ("UserID" -> "user_id", "HTTPStatus" -> "http_status").
func toSnakeCase(str string) string {
	runes := []rune(str)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
