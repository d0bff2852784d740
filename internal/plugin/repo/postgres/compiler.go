package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
)

var promoted = map[string]bool{
	"uuid": true, "fid": true, "title": true, "parent": true, "mimetype": true,
}

// compileFilters translates a 2-D filter tree into a WHERE clause over the
// JSONB body and the promoted generated columns. Rows OR, predicates AND.
func compileFilters(filters model.NodeFilters2D) (string, []any, error) {
	if len(filters) == 0 {
		return "TRUE", nil, nil
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
		return "TRUE", nil, nil
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

func compileOne(alias string, f model.NodeFilter) (string, []any, error) {
	if !validField.MatchString(strings.TrimPrefix(f.Field, "@")) {
		return "", nil, fmt.Errorf("invalid filter field %q", f.Field)
	}
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
		value := nodefilter.Scalar(f.Value)
		if b, ok := value.(bool); ok {
			return compileBool(alias, f.Field, f.Operator, b)
		}
		expr, args := scalarExpr(alias, f.Field, value)
		op := string(f.Operator)
		if f.Operator == model.OpEqual {
			op = "="
		} else if f.Operator == model.OpNotEqual {
			op = "<>"
		}
		return fmt.Sprintf("%s %s ?", expr, op), append(args, value), nil

	case model.OpIn, model.OpNotIn:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("operator %q requires a list value", f.Operator)
		}
		var sample any
		if len(set) > 0 {
			sample = set[0]
		}
		expr, args := scalarExpr(alias, f.Field, sample)
		if len(set) == 0 {
			if f.Operator == model.OpIn {
				return "FALSE", nil, nil
			}
			return fmt.Sprintf("%s IS NOT NULL", expr), args, nil
		}
		if hasBool(set) {
			return compileBoolSet(alias, f.Field, f.Operator, set)
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
		expr, args := scalarExpr(alias, f.Field, "")
		clause := fmt.Sprintf(`%s ILIKE ? ESCAPE '\'`, expr)
		return clause, append(args, "%"+escapeLike(sub)+"%"), nil

	case model.OpContains:
		arr, args := arrayExpr(alias, f.Field)
		elem, err := jsonArray(nodefilter.Scalar(f.Value))
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s @> ?::jsonb", arr), append(args, elem), nil

	case model.OpNotContains:
		arr, args := arrayExpr(alias, f.Field)
		elem, err := jsonArray(nodefilter.Scalar(f.Value))
		if err != nil {
			return "", nil, err
		}
		clause := fmt.Sprintf("(%s IS NOT NULL AND NOT %s @> ?::jsonb)", arr, arr)
		return clause, append(append(args, args...), elem), nil

	case model.OpContainsAll:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("operator %q requires a list value", f.Operator)
		}
		arr, args := arrayExpr(alias, f.Field)
		// JSONB array containment is exactly the all-of quantifier; the
		// empty set degenerates to a presence check.
		elems, err := jsonArrayAll(set)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s @> ?::jsonb", arr), append(args, elems), nil

	case model.OpContainsAny, model.OpContainsNone:
		set, ok := nodefilter.ToList(f.Value)
		if !ok {
			return "", nil, fmt.Errorf("operator %q requires a list value", f.Operator)
		}
		return compileAnyNone(alias, f.Field, f.Operator, set)

	default:
		return "", nil, fmt.Errorf("unknown filter operator %q", f.Operator)
	}
}

func compileAnyNone(alias, field string, op model.Operator, set []any) (string, []any, error) {
	arr, pathArgs := arrayExpr(alias, field)
	if len(set) == 0 {
		if op == model.OpContainsAny {
			return "FALSE", nil, nil
		}
		return fmt.Sprintf("%s IS NOT NULL", arr), pathArgs, nil
	}
	var singles []string
	var args []any
	for _, v := range set {
		elem, err := jsonArray(v)
		if err != nil {
			return "", nil, err
		}
		singles = append(singles, fmt.Sprintf("%s @> ?::jsonb", arr))
		args = append(args, pathArgs...)
		args = append(args, elem)
	}
	anyClause := "(" + strings.Join(singles, " OR ") + ")"
	if op == model.OpContainsAny {
		return anyClause, args, nil
	}
	clause := fmt.Sprintf("(%s IS NOT NULL AND NOT %s)", arr, anyClause)
	return clause, append(pathArgs, args...), nil
}

// compileBool compares a boolean filter value as jsonb instead of extracted
// text, so a typed mismatch resolves to false rather than a postgres type
// error. Promoted columns are all text and booleans have no ordering, which
// both resolve the same way the in-process evaluator does.
func compileBool(alias, field string, op model.Operator, v bool) (string, []any, error) {
	if promoted[field] {
		if op == model.OpNotEqual {
			return fmt.Sprintf("%s.%s IS NOT NULL", alias, field), nil, nil
		}
		return "FALSE", nil, nil
	}
	if op != model.OpEqual && op != model.OpNotEqual {
		return "FALSE", nil, nil
	}
	cmp := "="
	if op == model.OpNotEqual {
		cmp = "<>"
	}
	elem, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode filter value: %w", err)
	}
	clause := fmt.Sprintf("(%s.body #> %s) %s ?::jsonb", alias, jsonPath(field), cmp)
	return clause, []any{string(elem)}, nil
}

// compileBoolSet handles membership sets that carry a boolean element, which
// the text extraction path cannot bind. The whole set is matched as jsonb
// values; for promoted text columns boolean elements can never match and
// are dropped from the set.
func compileBoolSet(alias, field string, op model.Operator, set []any) (string, []any, error) {
	neg := ""
	if op == model.OpNotIn {
		neg = "NOT "
	}
	if promoted[field] {
		var rest []any
		for _, v := range set {
			if _, ok := v.(bool); !ok {
				rest = append(rest, v)
			}
		}
		if len(rest) == 0 {
			if op == model.OpIn {
				return "FALSE", nil, nil
			}
			return fmt.Sprintf("%s.%s IS NOT NULL", alias, field), nil, nil
		}
		clause := fmt.Sprintf("%s.%s %sIN (%s)", alias, field, neg, placeholders(len(rest)))
		return clause, rest, nil
	}
	var args []any
	for _, v := range set {
		data, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter value: %w", err)
		}
		args = append(args, string(data))
	}
	ph := strings.TrimSuffix(strings.Repeat("?::jsonb,", len(set)), ",")
	clause := fmt.Sprintf("(%s.body #> %s) %sIN (%s)", alias, jsonPath(field), neg, ph)
	return clause, args, nil
}

func hasBool(set []any) bool {
	for _, v := range set {
		if _, ok := v.(bool); ok {
			return true
		}
	}
	return false
}

// scalarExpr resolves a scalar field to SQL. Promoted fields are generated
// text columns; everything else is a JSONB text extraction, cast to numeric
// when the comparison value is a number. Field names are validated before
// the path is inlined, so the literal is injection-safe.
func scalarExpr(alias, field string, value any) (string, []any) {
	if promoted[field] {
		return alias + "." + field, nil
	}
	expr := fmt.Sprintf("%s.body #>> %s", alias, jsonPath(field))
	if isNumber(value) {
		expr = "(" + expr + ")::numeric"
	}
	return expr, nil
}

func arrayExpr(alias, field string) (string, []any) {
	return fmt.Sprintf("(%s.body #> %s)", alias, jsonPath(field)), nil
}

// validField limits field names to the characters the DSL actually uses, so
// JSON paths can be inlined as SQL literals.
var validField = regexp.MustCompile(`^[A-Za-z0-9_.:\-]+$`)

// jsonPath maps a filter field to a JSONB path literal. Aspect properties
// live under properties keyed by "aspectUuid:propertyName".
func jsonPath(field string) string {
	var segments []string
	if strings.Contains(field, ":") {
		segments = []string{"properties", field}
	} else if group, ok := strings.CutPrefix(field, "permissions.advanced."); ok {
		segments = []string{"permissions", "advanced", group}
	} else {
		segments = strings.Split(field, ".")
	}
	return "'{" + strings.Join(segments, ",") + "}'"
}

func jsonArray(v any) (string, error) {
	data, err := json.Marshal([]any{v})
	if err != nil {
		return "", fmt.Errorf("encode filter value: %w", err)
	}
	return string(data), nil
}

func jsonArrayAll(set []any) (string, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode filter values: %w", err)
	}
	return string(data), nil
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
