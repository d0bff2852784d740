package sqlite

import (
	"fmt"
	"strings"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
)

// promoted fields are materialized as indexed generated columns; everything
// else is resolved from the JSON body at query time.
var promoted = map[string]bool{
	"uuid": true, "fid": true, "title": true, "parent": true, "mimetype": true,
}

// compileFilters translates a 2-D filter tree into a WHERE clause: each row
// becomes an AND group, the rows are OR-ed. An empty tree compiles to "1".
func compileFilters(filters model.NodeFilters2D) (string, []any, error) {
	if len(filters) == 0 {
		return "1", nil, nil
	}
	var rows []string
	var args []any
	for _, row := range filters {
		clause, rowArgs, err := compileRow(row)
		if err != nil {
			return "", nil, err
		}
		rows = append(rows, clause)
		args = append(args, rowArgs...)
	}
	return "(" + strings.Join(rows, " OR ") + ")", args, nil
}

func compileRow(row model.NodeFilters) (string, []any, error) {
	if len(row) == 0 {
		return "1", nil, nil
	}
	var preds []string
	var args []any
	for _, f := range row {
		clause, predArgs, err := compileOne("n", f)
		if err != nil {
			return "", nil, err
		}
		preds = append(preds, clause)
		args = append(args, predArgs...)
	}
	return "(" + strings.Join(preds, " AND ") + ")", args, nil
}

// compileOne translates a single predicate against the given table alias.
// "@"-prefixed fields compile to a correlated subquery on the parent row,
// which is how non-folder nodes get judged on their folder's ACL.
func compileOne(alias string, f model.NodeFilter) (string, []any, error) {
	if field, ok := strings.CutPrefix(f.Field, "@"); ok {
		if strings.HasPrefix(field, "@") {
			return "", nil, fmt.Errorf("nested @ prefix in field %q", f.Field)
		}
		inner, args, err := compileOne("p", model.NodeFilter{Field: field, Operator: f.Operator, Value: f.Value})
		if err != nil {
			return "", nil, err
		}
		clause := fmt.Sprintf("EXISTS (SELECT 1 FROM nodes p WHERE p.uuid = %s.parent AND %s)", alias, inner)
		return clause, args, nil
	}

	switch f.Operator {
	case model.OpEqual, model.OpNotEqual, model.OpLess, model.OpLessEqual, model.OpGreater, model.OpGreaterEqual:
		expr, args := scalarExpr(alias, f.Field)
		op := string(f.Operator)
		if f.Operator == model.OpEqual {
			op = "="
		} else if f.Operator == model.OpNotEqual {
			op = "<>"
		}
		return fmt.Sprintf("%s %s ?", expr, op), append(args, nodefilter.Scalar(f.Value)), nil

	case model.OpIn, model.OpNotIn:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("operator %q requires a list value", f.Operator)
		}
		expr, args := scalarExpr(alias, f.Field)
		if len(set) == 0 {
			if f.Operator == model.OpIn {
				return "1 = 0", nil, nil
			}
			// not-in ∅ holds whenever the field is present.
			return fmt.Sprintf("%s IS NOT NULL", expr), args, nil
		}
		neg := ""
		if f.Operator == model.OpNotIn {
			neg = "NOT "
		}
		clause := fmt.Sprintf("%s %sIN (%s)", expr, neg, placeholders(len(set)))
		return clause, append(args, set...), nil

	case model.OpMatch:
		sub, ok := nodefilter.Scalar(f.Value).(string)
		if !ok {
			return "", nil, fmt.Errorf("match requires a string value")
		}
		expr, args := scalarExpr(alias, f.Field)
		clause := fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, expr)
		return clause, append(args, "%"+escapeLike(strings.ToLower(sub))+"%"), nil

	case model.OpContains, model.OpNotContains:
		arr, args := arrayExpr(alias, f.Field)
		member := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) je WHERE je.value = ?)", arr)
		if f.Operator == model.OpContains {
			return member, append(args, nodefilter.Scalar(f.Value)), nil
		}
		clause := fmt.Sprintf("(%s IS NOT NULL AND NOT %s)", arr, member)
		return clause, append(append(args, args...), nodefilter.Scalar(f.Value)), nil

	case model.OpContainsAll, model.OpContainsAny, model.OpContainsNone:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("operator %q requires a list value", f.Operator)
		}
		return compileQuantifier(alias, f.Field, f.Operator, set)

	default:
		return "", nil, fmt.Errorf("unknown filter operator %q", f.Operator)
	}
}

func compileQuantifier(alias, field string, op model.Operator, set []any) (string, []any, error) {
	set = dedupe(set)
	arr, pathArgs := arrayExpr(alias, field)
	present := fmt.Sprintf("%s IS NOT NULL", arr)
	if len(set) == 0 {
		switch op {
		case model.OpContainsAny:
			return "1 = 0", nil, nil
		default:
			// all/none of the empty set hold whenever the field is present.
			return present, pathArgs, nil
		}
	}
	in := placeholders(len(set))
	switch op {
	case model.OpContainsAny:
		clause := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) je WHERE je.value IN (%s))", arr, in)
		return clause, append(pathArgs, set...), nil
	case model.OpContainsNone:
		clause := fmt.Sprintf("(%s AND NOT EXISTS (SELECT 1 FROM json_each(%s) je WHERE je.value IN (%s)))", present, arr, in)
		args := append(pathArgs, pathArgs...)
		return clause, append(args, set...), nil
	default: // contains-all
		clause := fmt.Sprintf("(SELECT COUNT(DISTINCT je.value) FROM json_each(%s) je WHERE je.value IN (%s)) = %d", arr, in, len(set))
		return clause, append(pathArgs, set...), nil
	}
}

// scalarExpr returns the SQL expression (and bound args) that resolves a
// scalar field: a promoted column or a JSON body extraction.
func scalarExpr(alias, field string) (string, []any) {
	if promoted[field] {
		return alias + "." + field, nil
	}
	return fmt.Sprintf("json_extract(%s.body, ?)", alias), []any{jsonPath(field)}
}

// arrayExpr resolves an array-valued field from the JSON body. Promoted
// columns are all scalars, so this is always an extraction. The json_type
// guard resolves scalar-valued fields to NULL, which json_each iterates as
// zero rows, so contains-family operators on a scalar fail soft instead of
// erroring on unwrapped string values.
func arrayExpr(alias, field string) (string, []any) {
	path := jsonPath(field)
	expr := fmt.Sprintf("(CASE WHEN json_type(%s.body, ?) = 'array' THEN json_extract(%s.body, ?) ELSE NULL END)", alias, alias)
	return expr, []any{path, path}
}

// jsonPath maps a filter field name to a JSON path into the node body.
// Aspect properties live under $.properties keyed by "aspectUuid:propertyName".
func jsonPath(field string) string {
	if strings.Contains(field, ":") {
		return `$.properties."` + field + `"`
	}
	if group, ok := strings.CutPrefix(field, "permissions.advanced."); ok {
		return `$.permissions.advanced."` + group + `"`
	}
	return "$." + field
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// dedupe removes duplicate set values so the contains-all cardinality check
// stays correct.
func dedupe(set []any) []any {
	seen := make(map[any]bool, len(set))
	out := set[:0:0]
	for _, v := range set {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
