package fluidmongo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/lemmego/fluid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =====================================
// Query Building
// =====================================

// buildFilter translates the query filter, soft-delete exclusion included, to
// a MongoDB filter document
func (s *Store[T]) buildFilter(spec fluid.QuerySpec) (bson.M, error) {
	cond := spec.EffectiveFilter()
	if cond == nil {
		return bson.M{}, nil
	}
	return s.buildCondition(cond)
}

// buildFindOptions translates orders and the page window
func (s *Store[T]) buildFindOptions(spec fluid.QuerySpec) (*options.FindOptions, error) {
	findOpts := options.Find()

	if len(spec.Orders) > 0 {
		sort := bson.D{}
		for _, order := range spec.Orders {
			key, err := s.key(order.Field)
			if err != nil {
				return nil, err
			}
			direction := 1
			if order.Direction == fluid.Descending {
				direction = -1
			}
			sort = append(sort, bson.E{Key: key, Value: direction})
		}
		findOpts.SetSort(sort)
	}

	if spec.Offset > 0 {
		findOpts.SetSkip(int64(spec.Offset))
	}
	if spec.Limit > 0 {
		findOpts.SetLimit(int64(spec.Limit))
	}

	return findOpts, nil
}

func (s *Store[T]) buildCondition(condition fluid.Condition) (bson.M, error) {
	switch cond := condition.(type) {
	case fluid.CompositeCondition:
		return s.buildCompositeCondition(cond)
	case nil:
		return bson.M{}, nil
	default:
		key, err := s.key(cond.Field())
		if err != nil {
			return nil, err
		}
		return buildOperatorCondition(key, cond.Operator(), cond.Value())
	}
}

func (s *Store[T]) buildCompositeCondition(condition fluid.CompositeCondition) (bson.M, error) {
	filters := make([]bson.M, 0, len(condition.Conditions))
	for _, sub := range condition.Conditions {
		f, err := s.buildCondition(sub)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		return bson.M{}, nil
	}

	switch condition.Logic {
	case fluid.LogicOr:
		return bson.M{"$or": filters}, nil
	case fluid.LogicNot:
		// $not only applies to operator expressions; $nor negates whole documents
		return bson.M{"$nor": filters}, nil
	default:
		return bson.M{"$and": filters}, nil
	}
}

// buildOperatorCondition builds the filter for one field comparison
func buildOperatorCondition(key string, operator fluid.Operator, value interface{}) (bson.M, error) {
	switch operator {
	case fluid.OpEqual:
		return bson.M{key: bson.M{"$eq": value}}, nil
	case fluid.OpNotEqual:
		return bson.M{key: bson.M{"$ne": value}}, nil
	case fluid.OpGreaterThan:
		return bson.M{key: bson.M{"$gt": value}}, nil
	case fluid.OpGreaterThanOrEqual:
		return bson.M{key: bson.M{"$gte": value}}, nil
	case fluid.OpLessThan:
		return bson.M{key: bson.M{"$lt": value}}, nil
	case fluid.OpLessThanOrEqual:
		return bson.M{key: bson.M{"$lte": value}}, nil
	case fluid.OpLike:
		return bson.M{key: bson.M{"$regex": likeToRegex(value), "$options": "is"}}, nil
	case fluid.OpNotLike:
		return bson.M{key: bson.M{"$not": bson.M{"$regex": likeToRegex(value), "$options": "is"}}}, nil
	case fluid.OpIn:
		return bson.M{key: bson.M{"$in": inValues(value)}}, nil
	case fluid.OpNotIn:
		return bson.M{key: bson.M{"$nin": inValues(value)}}, nil
	case fluid.OpIsNull:
		return bson.M{key: nil}, nil
	case fluid.OpIsNotNull:
		return bson.M{key: bson.M{"$ne": nil}}, nil
	case fluid.OpBetween:
		low, high, err := fluid.BetweenBounds(value)
		if err != nil {
			return nil, fluid.NewErrorWithCause(fluid.ErrorTypeInvalidArgument, "invalid BETWEEN operand", err)
		}
		return bson.M{key: bson.M{"$gte": low, "$lte": high}}, nil
	case fluid.OpContains:
		return bson.M{key: bson.M{"$regex": regexp.QuoteMeta(fmt.Sprint(value))}}, nil
	case fluid.OpStartsWith:
		return bson.M{key: bson.M{"$regex": "^" + regexp.QuoteMeta(fmt.Sprint(value))}}, nil
	case fluid.OpEndsWith:
		return bson.M{key: bson.M{"$regex": regexp.QuoteMeta(fmt.Sprint(value)) + "$"}}, nil
	}
	return nil, fluid.NewError(fluid.ErrorTypeUnsupported, fmt.Sprintf("unsupported operator: %s", operator))
}

// inValues keeps $in and $nin operands arrays even when empty
func inValues(value interface{}) []interface{} {
	values := fluid.SliceValues(value)
	if values == nil {
		return []interface{}{}
	}
	return values
}

// likeToRegex converts a SQL LIKE pattern to an anchored regular expression
func likeToRegex(value interface{}) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range fmt.Sprint(value) {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// =====================================
// Field Mapping
// =====================================

// bsonKey resolves the document key of a field the way the bson codec does:
// the tag name when present, the lowercased Go name otherwise. ok is false
// for fields tagged "-".
func bsonKey(field fluid.FieldInfo) (string, bool) {
	if tag, ok := reflect.StructTag(field.Tag).Lookup("bson"); ok {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return strings.ToLower(field.Name), true
}
