package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
)

func TestCompileFilters(t *testing.T) {
	clause, args, err := compileFilters(nil)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", clause)
	assert.Empty(t, args)

	clause, args, err = compileFilters(model.And(
		model.F("title", model.OpEqual, "x"),
		model.F("rating:score", model.OpLess, 5),
	))
	require.NoError(t, err)
	assert.Equal(t, `((n.title = ? AND (n.body #>> '{properties,rating:score}')::numeric < ?))`, clause)
	assert.Equal(t, []any{"x", 5}, args)
}

func TestCompileOne(t *testing.T) {
	cases := []struct {
		name       string
		filter     model.NodeFilter
		wantClause string
		wantArgs   []any
	}{
		{
			"string comparison stays text",
			model.F("createdTime", model.OpGreater, "2026-01-01T00:00:00Z"),
			`n.body #>> '{createdTime}' > ?`,
			[]any{"2026-01-01T00:00:00Z"},
		},
		{
			"contains uses jsonb containment",
			model.F("tags", model.OpContains, "x"),
			`(n.body #> '{tags}') @> ?::jsonb`,
			[]any{`["x"]`},
		},
		{
			"not contains guards presence",
			model.F("tags", model.OpNotContains, "x"),
			`((n.body #> '{tags}') IS NOT NULL AND NOT (n.body #> '{tags}') @> ?::jsonb)`,
			[]any{`["x"]`},
		},
		{
			"contains all is one containment",
			model.F("tags", model.OpContainsAll, []any{"x", "y"}),
			`(n.body #> '{tags}') @> ?::jsonb`,
			[]any{`["x","y"]`},
		},
		{
			"contains any ors single containments",
			model.F("tags", model.OpContainsAny, []any{"x", "y"}),
			`((n.body #> '{tags}') @> ?::jsonb OR (n.body #> '{tags}') @> ?::jsonb)`,
			[]any{`["x"]`, `["y"]`},
		},
		{
			"contains any empty set matches nothing",
			model.F("tags", model.OpContainsAny, []any{}),
			"FALSE",
			nil,
		},
		{
			"advanced permission path",
			model.F("permissions.advanced.auditors", model.OpContains, "read"),
			`(n.body #> '{permissions,advanced,auditors}') @> ?::jsonb`,
			[]any{`["read"]`},
		},
		{
			"match is ilike",
			model.F("title", model.OpMatch, "a_b"),
			`n.title ILIKE ? ESCAPE '\'`,
			[]any{`%a\_b%`},
		},
		{
			"boolean equality compares jsonb",
			model.F("flags:urgent", model.OpEqual, true),
			`(n.body #> '{properties,flags:urgent}') = ?::jsonb`,
			[]any{"true"},
		},
		{
			"boolean inequality compares jsonb",
			model.F("flags:urgent", model.OpNotEqual, false),
			`(n.body #> '{properties,flags:urgent}') <> ?::jsonb`,
			[]any{"false"},
		},
		{
			"boolean against text column matches nothing",
			model.F("title", model.OpEqual, true),
			"FALSE",
			nil,
		},
		{
			"boolean has no ordering",
			model.F("flags:urgent", model.OpLess, true),
			"FALSE",
			nil,
		},
		{
			"boolean in set compares jsonb members",
			model.F("flags:urgent", model.OpIn, []any{true, "yes"}),
			`(n.body #> '{properties,flags:urgent}') IN (?::jsonb,?::jsonb)`,
			[]any{"true", `"yes"`},
		},
		{
			"boolean dropped from text column set",
			model.F("mimetype", model.OpIn, []any{true, "text/plain"}),
			"n.mimetype IN (?)",
			[]any{"text/plain"},
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

func TestCompileRejectsHostileFieldNames(t *testing.T) {
	for _, field := range []string{
		"a'b",
		"tags} --",
		"a\"b",
		"@a'b",
	} {
		_, _, err := compileOne("n", model.F(field, model.OpEqual, "x"))
		assert.Error(t, err, "field %q", field)
	}
}

func TestCompileParentResolvedField(t *testing.T) {
	clause, args, err := compileOne("n", model.F("@permissions.anonymous", model.OpContains, "read"))
	require.NoError(t, err)
	assert.Equal(t,
		`EXISTS (SELECT 1 FROM nodes p WHERE p.uuid = n.parent AND (p.body #> '{permissions,anonymous}') @> ?::jsonb)`,
		clause)
	assert.Equal(t, []any{`["read"]`}, args)
}
