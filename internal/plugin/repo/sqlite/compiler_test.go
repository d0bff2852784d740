package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
)

func TestCompileFilters(t *testing.T) {
	clause, args, err := compileFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, "1", clause)
	assert.Empty(t, args)

	clause, args, err = compileFilters(model.And(
		model.F("title", model.OpEqual, "x"),
		model.F("rating:score", model.OpGreaterEqual, 3),
	))
	require.NoError(t, err)
	assert.Equal(t, `((n.title = ? AND json_extract(n.body, ?) >= ?))`, clause)
	assert.Equal(t, []any{"x", `$.properties."rating:score"`, 3}, args)

	// rows OR
	clause, _, err = compileFilters(model.NodeFilters2D{
		{model.F("owner", model.OpEqual, "a")},
		{model.F("owner", model.OpEqual, "b")},
	})
	require.NoError(t, err)
	assert.Equal(t, `((json_extract(n.body, ?) = ?) OR (json_extract(n.body, ?) = ?))`, clause)
}

// arrayGuard is the expression array operators resolve fields through: a
// scalar value resolves to NULL so json_each yields no rows instead of
// failing on unwrapped strings.
const arrayGuard = "(CASE WHEN json_type(n.body, ?) = 'array' THEN json_extract(n.body, ?) ELSE NULL END)"

func TestCompileOne(t *testing.T) {
	cases := []struct {
		name       string
		filter     model.NodeFilter
		wantClause string
		wantArgs   []any
	}{
		{
			"in",
			model.F("mimetype", model.OpIn, []any{"a", "b"}),
			"n.mimetype IN (?,?)",
			[]any{"a", "b"},
		},
		{
			"in empty set",
			model.F("mimetype", model.OpIn, []any{}),
			"1 = 0",
			nil,
		},
		{
			"not in empty set needs presence",
			model.F("group", model.OpNotIn, []any{}),
			"json_extract(n.body, ?) IS NOT NULL",
			[]any{"$.group"},
		},
		{
			"match escapes like wildcards",
			model.F("title", model.OpMatch, "50%_a"),
			`LOWER(n.title) LIKE ? ESCAPE '\'`,
			[]any{`%50\%\_a%`},
		},
		{
			"contains guards against scalar values",
			model.F("tags", model.OpContains, "x"),
			"EXISTS (SELECT 1 FROM json_each(" + arrayGuard + ") je WHERE je.value = ?)",
			[]any{"$.tags", "$.tags", "x"},
		},
		{
			"not contains needs an array present",
			model.F("tags", model.OpNotContains, "x"),
			"(" + arrayGuard + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(" + arrayGuard + ") je WHERE je.value = ?))",
			[]any{"$.tags", "$.tags", "$.tags", "$.tags", "x"},
		},
		{
			"contains none guards presence",
			model.F("tags", model.OpContainsNone, []any{"x"}),
			"(" + arrayGuard + " IS NOT NULL AND NOT EXISTS (SELECT 1 FROM json_each(" + arrayGuard + ") je WHERE je.value IN (?)))",
			[]any{"$.tags", "$.tags", "$.tags", "$.tags", "x"},
		},
		{
			"contains all counts distinct values",
			model.F("tags", model.OpContainsAll, []any{"x", "y", "x"}),
			"(SELECT COUNT(DISTINCT je.value) FROM json_each(" + arrayGuard + ") je WHERE je.value IN (?,?)) = 2",
			[]any{"$.tags", "$.tags", "x", "y"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clause, args, err := compileOne("n", tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.wantClause, clause)
			if tc.wantArgs == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tc.wantArgs, args)
			}
		})
	}
}

func TestCompileParentResolvedField(t *testing.T) {
	clause, args, err := compileOne("n", model.F("@owner", model.OpEqual, "bob"))
	require.NoError(t, err)
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM nodes p WHERE p.uuid = n.parent AND json_extract(p.body, ?) = ?)",
		clause)
	assert.Equal(t, []any{"$.owner", "bob"}, args)

	_, _, err = compileOne("n", model.F("@@owner", model.OpEqual, "bob"))
	assert.Error(t, err)
}
