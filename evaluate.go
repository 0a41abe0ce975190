package fluid

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// =====================================
// In-Memory Evaluation
// =====================================

// FieldGetter looks a field value up by Go field name
type FieldGetter func(name string) (interface{}, bool)

// Evaluate reports whether the values exposed by get satisfy cond. A nil
// condition matches everything. Stores without a query language (memory,
// redis) use this to filter.
func Evaluate(cond Condition, get FieldGetter) (bool, error) {
	switch c := cond.(type) {
	case nil:
		return true, nil
	case CompositeCondition:
		switch c.Logic {
		case LogicAnd:
			for _, sub := range c.Conditions {
				ok, err := Evaluate(sub, get)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case LogicOr:
			for _, sub := range c.Conditions {
				ok, err := Evaluate(sub, get)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case LogicNot:
			if len(c.Conditions) != 1 {
				return false, configError("NOT takes exactly one condition, got %d", len(c.Conditions))
			}
			ok, err := Evaluate(c.Conditions[0], get)
			return !ok, err
		}
		return false, configError("unknown logic operator %q", c.Logic)
	}

	value, ok := get(cond.Field())
	if !ok {
		return false, configError("filter references unknown field %q", cond.Field())
	}
	return matchValue(deref(value), cond.Operator(), cond.Value())
}

func matchValue(value interface{}, op Operator, operand interface{}) (bool, error) {
	switch op {
	case OpIsNull:
		return value == nil, nil
	case OpIsNotNull:
		return value != nil, nil
	case OpEqual:
		return valuesEqual(value, operand), nil
	case OpNotEqual:
		return !valuesEqual(value, operand), nil
	case OpIn, OpNotIn:
		found := false
		for _, candidate := range SliceValues(operand) {
			if valuesEqual(value, candidate) {
				found = true
				break
			}
		}
		return found == (op == OpIn), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if value == nil {
			return false, nil
		}
		cmp, err := CompareValues(value, operand)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpGreaterThanOrEqual:
			return cmp >= 0, nil
		case OpLessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpBetween:
		low, high, err := BetweenBounds(operand)
		if err != nil {
			return false, configError("%v", err)
		}
		if value == nil {
			return false, nil
		}
		lo, err := CompareValues(value, low)
		if err != nil {
			return false, err
		}
		hi, err := CompareValues(value, high)
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	case OpLike, OpNotLike:
		s, ok := stringValue(value)
		if !ok {
			return false, nil
		}
		pattern, _ := stringValue(operand)
		matched := likePattern(pattern).MatchString(s)
		return matched == (op == OpLike), nil
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := stringValue(value)
		if !ok {
			return false, nil
		}
		needle, _ := stringValue(operand)
		switch op {
		case OpContains:
			return strings.Contains(s, needle), nil
		case OpStartsWith:
			return strings.HasPrefix(s, needle), nil
		default:
			return strings.HasSuffix(s, needle), nil
		}
	}
	return false, configError("unsupported operator %q", op)
}

// CompareValues orders two values of compatible kinds: numbers (any width),
// strings, bools (false < true), time.Time and byte arrays or slices such as
// uuid.UUID. Other values of one type are compared by their text form when
// they implement encoding.TextMarshaler or fmt.Stringer. It returns -1, 0 or 1.
func CompareValues(a, b interface{}) (int, error) {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0, nil
	case a == nil:
		return -1, nil
	case b == nil:
		return 1, nil
	}

	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, mismatch(a, b)
		}
		switch {
		case ta.Before(tb):
			return -1, nil
		case ta.After(tb):
			return 1, nil
		}
		return 0, nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isIntegerKind(va.Kind()) && isIntegerKind(vb.Kind()):
		return compareIntegers(va, vb), nil
	case isNumberKind(va.Kind()) && isNumberKind(vb.Kind()):
		return compareOrdered(toFloat(va), toFloat(vb)), nil
	case va.Kind() == reflect.String && vb.Kind() == reflect.String:
		return strings.Compare(va.String(), vb.String()), nil
	case va.Kind() == reflect.Bool && vb.Kind() == reflect.Bool:
		x, y := va.Bool(), vb.Bool()
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	}

	if va.Type() == vb.Type() {
		if x, ok := byteValue(va); ok {
			y, _ := byteValue(vb)
			return bytes.Compare(x, y), nil
		}
		if x, ok := textValue(a); ok {
			if y, ok := textValue(b); ok {
				return strings.Compare(x, y), nil
			}
		}
	}
	return 0, mismatch(a, b)
}

// byteValue returns the bytes of a []byte or [N]byte value
func byteValue(v reflect.Value) ([]byte, bool) {
	switch {
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return v.Bytes(), true
	case v.Kind() == reflect.Array && v.Type().Elem().Kind() == reflect.Uint8:
		b := make([]byte, v.Len())
		reflect.Copy(reflect.ValueOf(b), v)
		return b, true
	}
	return nil, false
}

func textValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case encoding.TextMarshaler:
		text, err := t.MarshalText()
		if err != nil {
			return "", false
		}
		return string(text), true
	case fmt.Stringer:
		return t.String(), true
	}
	return "", false
}

// SortEntities sorts items in place by the given orders. The sort is stable so
// equal keys keep their input order.
func SortEntities[T any](items []*T, orders []Order, get func(item *T) FieldGetter) error {
	var sortErr error
	sort.SliceStable(items, func(i, j int) bool {
		gi, gj := get(items[i]), get(items[j])
		for _, o := range orders {
			vi, _ := gi(o.Field)
			vj, _ := gj(o.Field)
			cmp, err := CompareValues(vi, vj)
			if err != nil {
				if sortErr == nil {
					sortErr = err
				}
				return false
			}
			if cmp == 0 {
				continue
			}
			if o.Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return sortErr
}

// Window applies an offset/limit page window to a slice. A zero limit means no limit.
func Window[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func valuesEqual(a, b interface{}) bool {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	cmp, err := CompareValues(a, b)
	if err != nil {
		return reflect.DeepEqual(a, b)
	}
	return cmp == 0
}

func deref(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func stringValue(v interface{}) (string, bool) {
	v = deref(v)
	if v == nil {
		return "", false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), true
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String(), true
	}
	return "", false
}

func isNumberKind(k reflect.Kind) bool {
	return isIntegerKind(k) || k == reflect.Float32 || k == reflect.Float64
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isSigned(v.Kind()):
		return float64(v.Int())
	case isIntegerKind(v.Kind()):
		return float64(v.Uint())
	}
	return v.Float()
}

func compareIntegers(a, b reflect.Value) int {
	switch {
	case isSigned(a.Kind()) && isSigned(b.Kind()):
		return compareOrdered(a.Int(), b.Int())
	case !isSigned(a.Kind()) && !isSigned(b.Kind()):
		return compareOrdered(a.Uint(), b.Uint())
	case isSigned(a.Kind()):
		if a.Int() < 0 {
			return -1
		}
		return compareOrdered(uint64(a.Int()), b.Uint())
	default:
		if b.Int() < 0 {
			return 1
		}
		return compareOrdered(a.Uint(), uint64(b.Int()))
	}
}

func compareOrdered[N int64 | uint64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func mismatch(a, b interface{}) error {
	return NewError(ErrorTypeInvalidArgument, fmt.Sprintf("cannot compare %T with %T", a, b))
}

// likePattern turns an SQL LIKE pattern into a case-insensitive regexp
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
