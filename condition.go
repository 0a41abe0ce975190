package fluid

import (
	"fmt"
	"reflect"
	"strings"
)

// =====================================
// Conditions
// =====================================

// Condition is a node of a filter expression tree. Conditions are built once
// and combined by composition; stores translate the tree to their own query
// language or evaluate it in memory.
type Condition interface {
	Field() string
	Operator() Operator
	Value() interface{}
	String() string
}

// BasicCondition compares one field against a value
type BasicCondition struct {
	FieldName string
	Op        Operator
	Val       interface{}
}

func (c BasicCondition) Field() string      { return c.FieldName }
func (c BasicCondition) Operator() Operator { return c.Op }
func (c BasicCondition) Value() interface{} { return c.Val }
func (c BasicCondition) String() string {
	switch c.Op {
	case OpIsNull, OpIsNotNull:
		return c.FieldName + " " + string(c.Op)
	case OpBetween:
		return c.FieldName + " BETWEEN ? AND ?"
	}
	return c.FieldName + " " + string(c.Op) + " ?"
}

// CompositeCondition joins conditions with AND / OR, or negates a single
// condition with NOT.
type CompositeCondition struct {
	Conditions []Condition
	Logic      LogicOperator
}

func (c CompositeCondition) Field() string      { return "" }
func (c CompositeCondition) Operator() Operator { return "" }
func (c CompositeCondition) Value() interface{} { return nil }
func (c CompositeCondition) String() string {
	if len(c.Conditions) == 0 {
		return ""
	}
	if c.Logic == LogicNot {
		return "NOT (" + c.Conditions[0].String() + ")"
	}

	var parts []string
	for _, cond := range c.Conditions {
		parts = append(parts, cond.String())
	}

	return "(" + strings.Join(parts, " "+string(c.Logic)+" ") + ")"
}

// =====================================
// Condition Builder Functions
// =====================================

// Where creates a basic condition
func Where(field string, operator Operator, value interface{}) Condition {
	return BasicCondition{
		FieldName: field,
		Op:        operator,
		Val:       value,
	}
}

// WhereIn creates an IN condition
func WhereIn(field string, values ...interface{}) Condition {
	return BasicCondition{FieldName: field, Op: OpIn, Val: values}
}

// WhereNull creates an IS NULL condition
func WhereNull(field string) Condition {
	return BasicCondition{FieldName: field, Op: OpIsNull}
}

// WhereNotNull creates an IS NOT NULL condition
func WhereNotNull(field string) Condition {
	return BasicCondition{FieldName: field, Op: OpIsNotNull}
}

// WhereBetween creates a BETWEEN condition
func WhereBetween(field string, low, high interface{}) Condition {
	return BasicCondition{FieldName: field, Op: OpBetween, Val: []interface{}{low, high}}
}

// And combines conditions with AND. Nil conditions are dropped; a single
// remaining condition is returned unchanged and no conditions yield nil.
func And(conditions ...Condition) Condition {
	return compose(LogicAnd, conditions)
}

// Or combines conditions with OR, with the same nil handling as And.
func Or(conditions ...Condition) Condition {
	return compose(LogicOr, conditions)
}

// Not negates a condition
func Not(condition Condition) Condition {
	if condition == nil {
		return nil
	}
	return CompositeCondition{Conditions: []Condition{condition}, Logic: LogicNot}
}

func compose(logic LogicOperator, conditions []Condition) Condition {
	kept := make([]Condition, 0, len(conditions))
	for _, c := range conditions {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return CompositeCondition{Conditions: kept, Logic: logic}
}

// =====================================
// Validation
// =====================================

// validateCondition checks that every field referenced by the tree exists on
// the entity and that operators and operand shapes are well formed.
func validateCondition(info *EntityInfo, cond Condition) error {
	switch c := cond.(type) {
	case nil:
		return nil
	case BasicCondition:
		return validateBasic(info, c)
	case CompositeCondition:
		if len(c.Conditions) == 0 {
			return configError("empty %s condition", c.Logic)
		}
		switch c.Logic {
		case LogicAnd, LogicOr:
		case LogicNot:
			if len(c.Conditions) != 1 {
				return configError("NOT takes exactly one condition, got %d", len(c.Conditions))
			}
		default:
			return configError("unknown logic operator %q", c.Logic)
		}
		for _, sub := range c.Conditions {
			if err := validateCondition(info, sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return validateBasic(info, BasicCondition{FieldName: c.Field(), Op: c.Operator(), Val: c.Value()})
	}
}

func validateBasic(info *EntityInfo, c BasicCondition) error {
	if _, ok := info.Field(c.FieldName); !ok {
		return configError("filter references unknown field %q on %s", c.FieldName, info.Name)
	}
	if _, ok := knownOperators[c.Op]; !ok {
		return configError("unknown operator %q on field %q", c.Op, c.FieldName)
	}
	switch c.Op {
	case OpIn, OpNotIn:
		if c.Val == nil || reflect.TypeOf(c.Val).Kind() != reflect.Slice {
			return configError("%s on field %q needs a slice value", c.Op, c.FieldName)
		}
	case OpBetween:
		if vals, ok := c.Val.([]interface{}); !ok || len(vals) != 2 {
			return configError("BETWEEN on field %q needs exactly two values", c.FieldName)
		}
	case OpIsNull, OpIsNotNull:
	default:
		if c.Val == nil {
			return configError("%s on field %q needs a value", c.Op, c.FieldName)
		}
	}
	return nil
}

// ConditionFields returns the distinct field names referenced by a condition tree
func ConditionFields(cond Condition) []string {
	seen := map[string]bool{}
	var fields []string
	var walk func(Condition)
	walk = func(c Condition) {
		switch cc := c.(type) {
		case nil:
		case CompositeCondition:
			for _, sub := range cc.Conditions {
				walk(sub)
			}
		default:
			if f := c.Field(); f != "" && !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	walk(cond)
	return fields
}

// BetweenBounds extracts the two BETWEEN operands
func BetweenBounds(value interface{}) (interface{}, interface{}, error) {
	vals, ok := value.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, nil, fmt.Errorf("BETWEEN needs two values, got %v", value)
	}
	return vals[0], vals[1], nil
}

// SliceValues flattens any slice value into []interface{} for IN operands
func SliceValues(value interface{}) []interface{} {
	if vals, ok := value.([]interface{}); ok {
		return vals
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
