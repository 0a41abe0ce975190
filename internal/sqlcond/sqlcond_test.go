package sqlcond

import (
	"testing"

	"github.com/lemmego/fluid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ident string

func testDialect() Dialect {
	return Dialect{
		Column: ColumnMap(map[string]string{
			"Name":      "name",
			"Rank":      "rank",
			"IsDeleted": "is_deleted",
		}, func(column string) interface{} { return ident(column) }),
	}
}

func TestRenderBasic(t *testing.T) {
	tests := []struct {
		name string
		cond fluid.Condition
		sql  string
		args []interface{}
	}{
		{"equal", fluid.Where("Name", fluid.OpEqual, "a"), "? = ?", []interface{}{ident("name"), "a"}},
		{"not equal", fluid.Where("Rank", fluid.OpNotEqual, 3), "? <> ?", []interface{}{ident("rank"), 3}},
		{"greater", fluid.Where("Rank", fluid.OpGreaterThanOrEqual, 3), "? >= ?", []interface{}{ident("rank"), 3}},
		{"like", fluid.Where("Name", fluid.OpLike, "A%"), "LOWER(?) LIKE LOWER(?)", []interface{}{ident("name"), "A%"}},
		{"null", fluid.WhereNull("Name"), "? IS NULL", []interface{}{ident("name")}},
		{"between", fluid.WhereBetween("Rank", 1, 5), "? BETWEEN ? AND ?", []interface{}{ident("rank"), 1, 5}},
		{"contains", fluid.Where("Name", fluid.OpContains, "50%"), "? LIKE ? ESCAPE '!'", []interface{}{ident("name"), "%50!%%"}},
		{"starts", fluid.Where("Name", fluid.OpStartsWith, "a_b"), "? LIKE ? ESCAPE '!'", []interface{}{ident("name"), "a!_b%"}},
		{"ends", fluid.Where("Name", fluid.OpEndsWith, "x"), "? LIKE ? ESCAPE '!'", []interface{}{ident("name"), "%x"}},
		{"in", fluid.WhereIn("Rank", 1, 2), "? IN ?", []interface{}{ident("rank"), []interface{}{1, 2}}},
		{"empty in", fluid.WhereIn("Rank"), "1 = 0", nil},
		{"empty not in", fluid.Where("Rank", fluid.OpNotIn, []int{}), "1 = 1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := Render(tt.cond, testDialect())
			require.NoError(t, err)
			assert.Equal(t, tt.sql, frag.SQL)
			assert.Equal(t, tt.args, frag.Args)
		})
	}
}

func TestRenderComposite(t *testing.T) {
	cond := fluid.And(
		fluid.Where("IsDeleted", fluid.OpEqual, false),
		fluid.Or(fluid.Where("Rank", fluid.OpLessThan, 2), fluid.Not(fluid.WhereIn("Name", "a", "b"))),
	)

	frag, err := Render(cond, testDialect())
	require.NoError(t, err)
	assert.Equal(t, "(? = ? AND (? < ? OR NOT (? IN ?)))", frag.SQL)
	assert.Equal(t, []interface{}{
		ident("is_deleted"), false,
		ident("rank"), 2,
		ident("name"), []interface{}{"a", "b"},
	}, frag.Args)
}

func TestRenderListWrapper(t *testing.T) {
	d := testDialect()
	d.ListPlaceholder = "(?)"
	d.List = func(values []interface{}) interface{} { return len(values) }

	frag, err := Render(fluid.Where("Name", fluid.OpNotIn, []string{"x", "y", "z"}), d)
	require.NoError(t, err)
	assert.Equal(t, "? NOT IN (?)", frag.SQL)
	assert.Equal(t, []interface{}{ident("name"), 3}, frag.Args)
}

func TestRenderNilAndUnknownField(t *testing.T) {
	frag, err := Render(nil, testDialect())
	require.NoError(t, err)
	assert.True(t, frag.Empty())

	_, err = Render(fluid.Where("Missing", fluid.OpEqual, 1), testDialect())
	assert.True(t, fluid.IsConfiguration(err))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "100!%!!!_", EscapeLike("100%!_"))
}
