package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/lemmego/fluid"
)

// repository resolves a collection alias on the app registry
func (a *app) repository(alias string) (fluid.EntityRepository, error) {
	return a.registry.Resolve(alias)
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseID converts a command-line id to the collection's id type
func parseID(c *fluid.Collection, arg string) (interface{}, error) {
	return parseValue(c.IDType(), arg)
}

// whereOperators lists two-character operators first so they win at the
// same position
var whereOperators = []struct {
	token string
	op    fluid.Operator
}{
	{">=", fluid.OpGreaterThanOrEqual},
	{"<=", fluid.OpLessThanOrEqual},
	{"!=", fluid.OpNotEqual},
	{"~", fluid.OpLike},
	{">", fluid.OpGreaterThan},
	{"<", fluid.OpLessThan},
	{"=", fluid.OpEqual},
}

// parseWhere parses "Field<op>value" expressions into conditions on c.
// Supported operators are = != > >= < <= and ~ (LIKE).
func parseWhere(c *fluid.Collection, exprs []string) (fluid.Condition, error) {
	var conds []fluid.Condition
	for _, expr := range exprs {
		cond, err := parseExpr(c, expr)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return fluid.And(conds...), nil
}

func parseExpr(c *fluid.Collection, expr string) (fluid.Condition, error) {
	for i := 1; i < len(expr); i++ {
		for _, w := range whereOperators {
			if !strings.HasPrefix(expr[i:], w.token) {
				continue
			}
			name := strings.TrimSpace(expr[:i])
			field, ok := c.Info().Field(name)
			if !ok {
				return nil, fmt.Errorf("collection %s has no field %q", c.Alias(), name)
			}
			raw := strings.TrimSpace(expr[i+len(w.token):])
			if w.op == fluid.OpLike {
				return fluid.Where(name, w.op, raw), nil
			}
			value, err := parseValue(field.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("where %q: %w", expr, err)
			}
			return fluid.Where(name, w.op, value), nil
		}
	}
	return nil, fmt.Errorf("cannot parse where expression %q", expr)
}

// searchCondition ORs a CONTAINS match over the searchable fields
func searchCondition(c *fluid.Collection, term string) (fluid.Condition, error) {
	if !c.IsSearchable() {
		return nil, fmt.Errorf("collection %s has no searchable fields", c.Alias())
	}
	var conds []fluid.Condition
	for _, f := range c.SearchableFields() {
		conds = append(conds, fluid.Where(f, fluid.OpContains, term))
	}
	return fluid.Or(conds...), nil
}

var timeType = reflect.TypeOf(time.Time{})

func parseValue(t reflect.Type, raw string) (interface{}, error) {
	if t == timeType {
		return time.Parse(time.RFC3339, raw)
	}
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t).Interface(), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(b).Convert(t).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	}
	return nil, fmt.Errorf("cannot parse %s values", t)
}
