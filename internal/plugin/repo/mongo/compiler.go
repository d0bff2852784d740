package mongo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// rowPlan is one OR branch of a compiled filter tree. Direct conditions apply
// to the node document itself. Parent conditions came from @-prefixed fields
// and must hold on the node's parent folder; MongoDB has no join, so the
// store resolves them in a pre-pass that collects matching parent uuids and
// rewrites the branch into a parent $in condition.
type rowPlan struct {
	direct bson.M
	parent bson.M
}

func compilePlan(filters model.NodeFilters2D) ([]rowPlan, error) {
	plans := make([]rowPlan, 0, len(filters))
	for _, row := range filters {
		var direct, parent []bson.M
		for _, f := range row {
			cond, err := compileOne(f)
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(f.Field, "@") {
				parent = append(parent, cond)
			} else {
				direct = append(direct, cond)
			}
		}
		plans = append(plans, rowPlan{direct: andAll(direct), parent: andAll(parent)})
	}
	return plans, nil
}

func andAll(conds []bson.M) bson.M {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return bson.M{"$and": conds}
	}
}

// matchNothing is a condition no document satisfies. _id always exists.
func matchNothing() bson.M {
	return bson.M{"_id": bson.M{"$exists": false}}
}

func compileOne(f model.NodeFilter) (bson.M, error) {
	path := fieldPath(strings.TrimPrefix(f.Field, "@"))

	switch f.Operator {
	case model.OpEqual:
		return bson.M{path: bson.M{"$eq": nodefilter.Scalar(f.Value)}}, nil
	case model.OpNotEqual:
		// $ne alone matches documents missing the field; a missing field
		// never satisfies any operator, so guard with $exists.
		return bson.M{path: bson.M{"$ne": nodefilter.Scalar(f.Value), "$exists": true}}, nil
	case model.OpLess:
		return bson.M{path: bson.M{"$lt": nodefilter.Scalar(f.Value)}}, nil
	case model.OpLessEqual:
		return bson.M{path: bson.M{"$lte": nodefilter.Scalar(f.Value)}}, nil
	case model.OpGreater:
		return bson.M{path: bson.M{"$gt": nodefilter.Scalar(f.Value)}}, nil
	case model.OpGreaterEqual:
		return bson.M{path: bson.M{"$gte": nodefilter.Scalar(f.Value)}}, nil

	case model.OpIn:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a list value on field %q", f.Operator, f.Field)
		}
		if len(set) == 0 {
			return matchNothing(), nil
		}
		return bson.M{path: bson.M{"$in": set}}, nil
	case model.OpNotIn:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a list value on field %q", f.Operator, f.Field)
		}
		if len(set) == 0 {
			return bson.M{path: bson.M{"$exists": true}}, nil
		}
		return bson.M{path: bson.M{"$nin": set, "$exists": true}}, nil

	case model.OpContains:
		// $elemMatch only matches array fields, which keeps scalar documents
		// out the same way the other backends do.
		return bson.M{path: bson.M{"$elemMatch": bson.M{"$eq": nodefilter.Scalar(f.Value)}}}, nil
	case model.OpNotContains:
		return bson.M{path: bson.M{
			"$exists": true,
			"$not":    bson.M{"$elemMatch": bson.M{"$eq": nodefilter.Scalar(f.Value)}},
		}}, nil

	case model.OpContainsAll:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a list value on field %q", f.Operator, f.Field)
		}
		if len(set) == 0 {
			return bson.M{path: bson.M{"$exists": true}}, nil
		}
		return bson.M{path: bson.M{"$all": set}}, nil
	case model.OpContainsAny:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a list value on field %q", f.Operator, f.Field)
		}
		if len(set) == 0 {
			return matchNothing(), nil
		}
		return bson.M{path: bson.M{"$elemMatch": bson.M{"$in": set}}}, nil
	case model.OpContainsNone:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a list value on field %q", f.Operator, f.Field)
		}
		if len(set) == 0 {
			return bson.M{path: bson.M{"$exists": true}}, nil
		}
		return bson.M{path: bson.M{
			"$exists": true,
			"$not":    bson.M{"$elemMatch": bson.M{"$in": set}},
		}}, nil

	case model.OpMatch:
		s, ok := nodefilter.Scalar(f.Value).(string)
		if !ok {
			return nil, fmt.Errorf("operator %q requires a string value on field %q", f.Operator, f.Field)
		}
		return bson.M{path: bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}}, nil
	}
	return nil, fmt.Errorf("unsupported operator %q on field %q", f.Operator, f.Field)
}

// validKey rejects characters that would change a document path's meaning.
var validKey = regexp.MustCompile(`^[A-Za-z0-9_:\-]+$`)

// fieldPath maps a filter field to the document path it is stored under.
func fieldPath(field string) string {
	if strings.Contains(field, ":") {
		return "properties." + field
	}
	if strings.HasPrefix(field, "permissions.") {
		return field
	}
	if field == "uuid" {
		return "_id"
	}
	return field
}

func validateFields(filters model.NodeFilters2D) error {
	for _, row := range filters {
		for _, f := range row {
			field := strings.TrimPrefix(f.Field, "@")
			for _, part := range strings.Split(field, ".") {
				if !validKey.MatchString(part) {
					return fmt.Errorf("invalid filter field %q", f.Field)
				}
			}
		}
	}
	return nil
}
