package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/chirino/node-service/internal/model"
)

func TestCompileOne(t *testing.T) {
	cases := []struct {
		name   string
		filter model.NodeFilter
		want   bson.M
	}{
		{
			"equal on promoted field",
			model.F("title", model.OpEqual, "x"),
			bson.M{"title": bson.M{"$eq": "x"}},
		},
		{
			"uuid maps to the document id",
			model.F("uuid", model.OpEqual, "n-1"),
			bson.M{"_id": bson.M{"$eq": "n-1"}},
		},
		{
			"aspect property path",
			model.F("rating:score", model.OpGreater, 4),
			bson.M{"properties.rating:score": bson.M{"$gt": 4}},
		},
		{
			"permission paths pass through",
			model.F("permissions.advanced.auditors", model.OpContains, "read"),
			bson.M{"permissions.advanced.auditors": bson.M{"$elemMatch": bson.M{"$eq": "read"}}},
		},
		{
			"not equal guards existence",
			model.F("group", model.OpNotEqual, "eng"),
			bson.M{"group": bson.M{"$ne": "eng", "$exists": true}},
		},
		{
			"in empty set matches nothing",
			model.F("owner", model.OpIn, []any{}),
			matchNothing(),
		},
		{
			"not in empty set is a presence check",
			model.F("owner", model.OpNotIn, []any{}),
			bson.M{"owner": bson.M{"$exists": true}},
		},
		{
			"not contains guards existence",
			model.F("tags", model.OpNotContains, "x"),
			bson.M{"tags": bson.M{"$exists": true, "$not": bson.M{"$elemMatch": bson.M{"$eq": "x"}}}},
		},
		{
			"contains any",
			model.F("tags", model.OpContainsAny, []any{"a", "b"}),
			bson.M{"tags": bson.M{"$elemMatch": bson.M{"$in": []any{"a", "b"}}}},
		},
		{
			"contains all",
			model.F("tags", model.OpContainsAll, []any{"a", "b"}),
			bson.M{"tags": bson.M{"$all": []any{"a", "b"}}},
		},
		{
			"match quotes regex metacharacters",
			model.F("title", model.OpMatch, "a.b["),
			bson.M{"title": bson.M{"$regex": `a\.b\[`, "$options": "i"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := compileOne(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompilePlanSplitsParentConditions(t *testing.T) {
	plans, err := compilePlan(model.NodeFilters2D{{
		model.F("mimetype", model.OpNotEqual, model.MimetypeFolder),
		model.F("@owner", model.OpEqual, "bob"),
		model.F("@permissions.anonymous", model.OpContains, "read"),
	}})
	require.NoError(t, err)
	require.Len(t, plans, 1)

	assert.Equal(t, bson.M{"mimetype": bson.M{"$ne": model.MimetypeFolder, "$exists": true}}, plans[0].direct)
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"owner": bson.M{"$eq": "bob"}},
		{"permissions.anonymous": bson.M{"$elemMatch": bson.M{"$eq": "read"}}},
	}}, plans[0].parent)

	// rows without @-fields plan no parent pre-pass
	plans, err = compilePlan(model.And(model.F("title", model.OpEqual, "x")))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Nil(t, plans[0].parent)
}

func TestValidateFields(t *testing.T) {
	assert.NoError(t, validateFields(model.And(model.F("rating:score", model.OpEqual, 1))))
	assert.NoError(t, validateFields(model.And(model.F("@permissions.advanced.auditors", model.OpContains, "read"))))
	assert.Error(t, validateFields(model.And(model.F("a$b", model.OpEqual, 1))))
	assert.Error(t, validateFields(model.And(model.F("a..b", model.OpEqual, 1))))
	assert.Error(t, validateFields(model.And(model.F("tags[0]", model.OpEqual, 1))))
}
