// Package sqlcond renders fluid condition trees as SQL WHERE fragments for the
// query builders of the SQL adapters.
package sqlcond

import (
	"fmt"
	"strings"

	"github.com/lemmego/fluid"
)

// Dialect adapts rendering to one query builder. Columns and IN lists are
// passed as bind arguments the builder knows how to expand.
type Dialect struct {
	// Column resolves an entity field to an argument the builder writes as a
	// quoted identifier (clause.Column for gorm, bun.Ident for bun).
	Column func(field string) (interface{}, error)

	// List wraps IN operands. Nil passes the []interface{} through.
	List func(values []interface{}) interface{}

	// ListPlaceholder is the placeholder written after IN: "?" when the
	// builder adds parentheses itself, "(?)" otherwise.
	ListPlaceholder string
}

// Fragment is a rendered condition
type Fragment struct {
	SQL  string
	Args []interface{}
}

// Empty reports whether the fragment matches everything
func (f Fragment) Empty() bool { return f.SQL == "" }

// Render renders a condition. A nil condition renders to an empty fragment.
func Render(cond fluid.Condition, d Dialect) (Fragment, error) {
	if cond == nil {
		return Fragment{}, nil
	}
	r := &renderer{dialect: d}
	if err := r.render(cond); err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: r.sql.String(), Args: r.args}, nil
}

// ColumnMap builds a Dialect.Column resolver over a field -> column map
func ColumnMap(columns map[string]string, wrap func(column string) interface{}) func(string) (interface{}, error) {
	return func(field string) (interface{}, error) {
		column, ok := columns[field]
		if !ok {
			return nil, fluid.NewError(fluid.ErrorTypeConfiguration, fmt.Sprintf("no column for field %q", field))
		}
		return wrap(column), nil
	}
}

type renderer struct {
	dialect Dialect
	sql     strings.Builder
	args    []interface{}
}

func (r *renderer) write(sql string, args ...interface{}) {
	r.sql.WriteString(sql)
	r.args = append(r.args, args...)
}

func (r *renderer) render(cond fluid.Condition) error {
	switch c := cond.(type) {
	case fluid.CompositeCondition:
		return r.renderComposite(c)
	case fluid.BasicCondition:
		return r.renderBasic(c)
	default:
		return r.renderBasic(fluid.BasicCondition{FieldName: c.Field(), Op: c.Operator(), Val: c.Value()})
	}
}

func (r *renderer) renderComposite(c fluid.CompositeCondition) error {
	if c.Logic == fluid.LogicNot {
		if len(c.Conditions) != 1 {
			return fluid.NewError(fluid.ErrorTypeConfiguration, "NOT takes exactly one condition")
		}
		r.write("NOT (")
		if err := r.render(c.Conditions[0]); err != nil {
			return err
		}
		r.write(")")
		return nil
	}

	r.write("(")
	for i, sub := range c.Conditions {
		if i > 0 {
			r.write(" " + string(c.Logic) + " ")
		}
		if err := r.render(sub); err != nil {
			return err
		}
	}
	r.write(")")
	return nil
}

func (r *renderer) renderBasic(c fluid.BasicCondition) error {
	column, err := r.dialect.Column(c.FieldName)
	if err != nil {
		return err
	}

	switch c.Op {
	case fluid.OpEqual:
		r.write("? = ?", column, c.Val)
	case fluid.OpNotEqual:
		r.write("? <> ?", column, c.Val)
	case fluid.OpGreaterThan, fluid.OpGreaterThanOrEqual, fluid.OpLessThan, fluid.OpLessThanOrEqual:
		r.write("? "+string(c.Op)+" ?", column, c.Val)
	case fluid.OpLike:
		r.write("LOWER(?) LIKE LOWER(?)", column, c.Val)
	case fluid.OpNotLike:
		r.write("LOWER(?) NOT LIKE LOWER(?)", column, c.Val)
	case fluid.OpIn, fluid.OpNotIn:
		r.renderIn(c.Op, column, fluid.SliceValues(c.Val))
	case fluid.OpIsNull:
		r.write("? IS NULL", column)
	case fluid.OpIsNotNull:
		r.write("? IS NOT NULL", column)
	case fluid.OpBetween:
		low, high, err := fluid.BetweenBounds(c.Val)
		if err != nil {
			return fluid.NewErrorWithCause(fluid.ErrorTypeConfiguration, "invalid BETWEEN operand", err)
		}
		r.write("? BETWEEN ? AND ?", column, low, high)
	case fluid.OpContains:
		r.write("? LIKE ? ESCAPE '!'", column, "%"+EscapeLike(fmt.Sprint(c.Val))+"%")
	case fluid.OpStartsWith:
		r.write("? LIKE ? ESCAPE '!'", column, EscapeLike(fmt.Sprint(c.Val))+"%")
	case fluid.OpEndsWith:
		r.write("? LIKE ? ESCAPE '!'", column, "%"+EscapeLike(fmt.Sprint(c.Val)))
	default:
		return fluid.NewError(fluid.ErrorTypeUnsupported, fmt.Sprintf("operator %q has no SQL form", c.Op))
	}
	return nil
}

// renderIn writes IN lists; empty lists become constant predicates since
// "x IN ()" is not valid SQL and "x NOT IN (NULL)" never matches.
func (r *renderer) renderIn(op fluid.Operator, column interface{}, values []interface{}) {
	if len(values) == 0 {
		if op == fluid.OpIn {
			r.write("1 = 0")
		} else {
			r.write("1 = 1")
		}
		return
	}
	var list interface{} = values
	if r.dialect.List != nil {
		list = r.dialect.List(values)
	}
	placeholder := r.dialect.ListPlaceholder
	if placeholder == "" {
		placeholder = "?"
	}
	r.write("? "+string(op)+" "+placeholder, column, list)
}

// EscapeLike escapes LIKE wildcards with '!'
func EscapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
