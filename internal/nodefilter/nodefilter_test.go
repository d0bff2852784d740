package nodefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
)

func sampleNode() *model.Node {
	return &model.Node{
		UUID:         "n-1",
		Title:        "Quarterly Report",
		Mimetype:     "text/markdown",
		Parent:       "f-1",
		Owner:        "alice",
		CreatedTime:  "2026-03-01T12:00:00Z",
		ModifiedTime: "2026-03-02T12:00:00Z",
		Size:         2048,
		Tags:         []string{"report", "q1", "finance"},
		Properties: map[string]any{
			"rating:score": 4.5,
			"rating:lang":  "en",
			"flags:urgent": true,
		},
	}
}

func TestOperators(t *testing.T) {
	n := sampleNode()

	cases := []struct {
		name   string
		filter model.NodeFilter
		want   bool
	}{
		{"equal string", model.F("owner", model.OpEqual, "alice"), true},
		{"equal is case sensitive", model.F("owner", model.OpEqual, "Alice"), false},
		{"equal number", model.F("rating:score", model.OpEqual, 4.5), true},
		{"equal int against float", model.F("size", model.OpEqual, 2048), true},
		{"equal bool", model.F("flags:urgent", model.OpEqual, true), true},
		{"equal type mismatch", model.F("owner", model.OpEqual, 7), false},
		{"not equal", model.F("owner", model.OpNotEqual, "bob"), true},
		{"not equal same", model.F("owner", model.OpNotEqual, "alice"), false},

		{"less", model.F("rating:score", model.OpLess, 5), true},
		{"less equal boundary", model.F("rating:score", model.OpLessEqual, 4.5), true},
		{"greater", model.F("size", model.OpGreater, 1024), true},
		{"greater equal boundary", model.F("size", model.OpGreaterEqual, 2048), true},
		{"greater false", model.F("size", model.OpGreater, 2048), false},
		{"timestamp order", model.F("createdTime", model.OpLess, "2026-03-02T00:00:00Z"), true},
		{"order type mismatch", model.F("owner", model.OpLess, 10), false},

		{"in", model.F("owner", model.OpIn, []any{"bob", "alice"}), true},
		{"in miss", model.F("owner", model.OpIn, []any{"bob", "carol"}), false},
		{"in empty set", model.F("owner", model.OpIn, []any{}), false},
		{"not in", model.F("owner", model.OpNotIn, []any{"bob"}), true},
		{"not in hit", model.F("owner", model.OpNotIn, []any{"alice"}), false},
		{"not in empty set", model.F("owner", model.OpNotIn, []any{}), true},
		{"in over string slice", model.F("owner", model.OpIn, []string{"alice"}), true},

		{"contains", model.F("tags", model.OpContains, "q1"), true},
		{"contains miss", model.F("tags", model.OpContains, "q2"), false},
		{"contains on scalar field", model.F("owner", model.OpContains, "alice"), false},
		{"not contains", model.F("tags", model.OpNotContains, "q2"), true},
		{"not contains hit", model.F("tags", model.OpNotContains, "q1"), false},

		{"contains all", model.F("tags", model.OpContainsAll, []any{"q1", "report"}), true},
		{"contains all partial", model.F("tags", model.OpContainsAll, []any{"q1", "q2"}), false},
		{"contains all empty set", model.F("tags", model.OpContainsAll, []any{}), true},
		{"contains any", model.F("tags", model.OpContainsAny, []any{"q2", "finance"}), true},
		{"contains any miss", model.F("tags", model.OpContainsAny, []any{"q2", "q3"}), false},
		{"contains any empty set", model.F("tags", model.OpContainsAny, []any{}), false},
		{"contains none", model.F("tags", model.OpContainsNone, []any{"q2", "q3"}), true},
		{"contains none hit", model.F("tags", model.OpContainsNone, []any{"q2", "q1"}), false},
		{"contains none empty set", model.F("tags", model.OpContainsNone, []any{}), true},

		{"match substring", model.F("title", model.OpMatch, "arterly"), true},
		{"match case insensitive", model.F("title", model.OpMatch, "qUARTERLY rep"), true},
		{"match miss", model.F("title", model.OpMatch, "annual"), false},
		{"match non-string value", model.F("title", model.OpMatch, 12), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Matches(n, model.And(tc.filter), NoParents)
			assert.Equal(t, tc.want, got, "filter: %+v", tc.filter)
		})
	}
}

// Absent fields fail every operator, the negated ones included.
func TestAbsentFieldsNeverMatch(t *testing.T) {
	n := &model.Node{UUID: "n-2", Title: "bare", Mimetype: "text/plain", Parent: "f-1", Owner: "bob"}

	for _, f := range []model.NodeFilter{
		model.F("group", model.OpEqual, "eng"),
		model.F("group", model.OpNotEqual, "eng"),
		model.F("size", model.OpGreater, 0),
		model.F("fid", model.OpMatch, ""),
		model.F("rating:score", model.OpLess, 100),
		model.F("tags", model.OpContains, "x"),
		model.F("tags", model.OpNotContains, "x"),
		model.F("tags", model.OpContainsAll, []any{}),
		model.F("tags", model.OpContainsNone, []any{"x"}),
		model.F("description", model.OpNotIn, []any{"alice"}),
		model.F("nonexistent", model.OpEqual, "anything"),
	} {
		assert.False(t, Matches(n, model.And(f), NoParents), "filter: %+v", f)
	}
}

func TestBooleanStructure(t *testing.T) {
	n := sampleNode()

	// empty tree matches everything
	assert.True(t, Matches(n, nil, NoParents))
	assert.True(t, Matches(n, model.NodeFilters2D{}, NoParents))

	// AND within a row
	assert.True(t, Matches(n, model.And(
		model.F("owner", model.OpEqual, "alice"),
		model.F("tags", model.OpContains, "q1"),
	), NoParents))
	assert.False(t, Matches(n, model.And(
		model.F("owner", model.OpEqual, "alice"),
		model.F("tags", model.OpContains, "q2"),
	), NoParents))

	// OR across rows
	assert.True(t, Matches(n, model.NodeFilters2D{
		{model.F("owner", model.OpEqual, "bob")},
		{model.F("tags", model.OpContains, "q1")},
	}, NoParents))
	assert.False(t, Matches(n, model.NodeFilters2D{
		{model.F("owner", model.OpEqual, "bob")},
		{model.F("tags", model.OpContains, "q2")},
	}, NoParents))
}

func TestParentResolvedFields(t *testing.T) {
	folder := &model.Node{
		UUID:     "f-1",
		Title:    "Reports",
		Mimetype: model.MimetypeFolder,
		Parent:   model.RootFolderUUID,
		Owner:    "bob",
		Group:    "finance",
		Permissions: &model.Permissions{
			Anonymous: []model.Permission{model.PermissionRead},
			Advanced: map[string][]model.Permission{
				"auditors": {model.PermissionRead, model.PermissionExport},
			},
		},
	}
	n := sampleNode()
	parents := func(uuid string) (*model.Node, bool) {
		if uuid == folder.UUID {
			return folder, true
		}
		return nil, false
	}

	assert.True(t, Matches(n, model.And(model.F("@owner", model.OpEqual, "bob")), parents))
	assert.True(t, Matches(n, model.And(model.F("@group", model.OpEqual, "finance")), parents))
	assert.True(t, Matches(n, model.And(model.F("@permissions.anonymous", model.OpContains, "read")), parents))
	assert.True(t, Matches(n, model.And(model.F("@permissions.advanced.auditors", model.OpContains, "export")), parents))
	assert.False(t, Matches(n, model.And(model.F("@permissions.authenticated", model.OpContains, "read")), parents))

	// unresolvable parents fail the predicate rather than erroring
	assert.False(t, Matches(n, model.And(model.F("@owner", model.OpEqual, "bob")), NoParents))

	// the folder itself resolves @ against the root sentinel, which has no node
	assert.False(t, Matches(folder, model.And(model.F("@owner", model.OpEqual, "bob")), parents))

	// non-@ fields never consult the lookup
	assert.True(t, Matches(n, model.And(model.F("owner", model.OpEqual, "alice")), parents))
}

func TestResolveFieldKinds(t *testing.T) {
	n := sampleNode()

	v, ok := Resolve(n, "rating:lang")
	require.True(t, ok)
	assert.Equal(t, "en", v)

	_, ok = Resolve(n, "missing:prop")
	assert.False(t, ok)

	v, ok = Resolve(n, "uuid")
	require.True(t, ok)
	assert.Equal(t, "n-1", v)

	// zero-valued optional fields are absent, not empty
	_, ok = Resolve(n, "fid")
	assert.False(t, ok)
	_, ok = Resolve(&model.Node{}, "size")
	assert.False(t, ok)
	_, ok = Resolve(&model.Node{}, "tags")
	assert.False(t, ok)

	// permission lists resolve only on nodes that carry a block
	_, ok = Resolve(n, "permissions.anonymous")
	assert.False(t, ok)
}
