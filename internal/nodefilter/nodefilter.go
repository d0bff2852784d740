// Package nodefilter holds the reference evaluator for the node filter DSL.
// It defines the ground-truth semantics of every operator; each storage
// backend's query compiler must reproduce the result set this evaluator
// produces over the same data.
package nodefilter

import (
	"reflect"
	"strings"

	"github.com/chirino/node-service/internal/model"
)

// ParentLookup resolves a node's containing folder. It backs the "@field"
// convention: a field prefixed with "@" is resolved on the node's parent
// rather than the node itself.
type ParentLookup func(uuid string) (*model.Node, bool)

// NoParents is a ParentLookup that never resolves. Filters without "@"
// prefixes evaluate identically under it.
func NoParents(string) (*model.Node, bool) { return nil, false }

// Matches evaluates a 2-D filter tree against a node. The outer list is
// OR-ed, each inner row is AND-ed, and an empty tree matches everything.
func Matches(n *model.Node, filters model.NodeFilters2D, parents ParentLookup) bool {
	if len(filters) == 0 {
		return true
	}
	for _, row := range filters {
		if matchesRow(n, row, parents) {
			return true
		}
	}
	return false
}

// MatchesRow evaluates a flat AND row against a node.
func MatchesRow(n *model.Node, row model.NodeFilters, parents ParentLookup) bool {
	return matchesRow(n, row, parents)
}

func matchesRow(n *model.Node, row model.NodeFilters, parents ParentLookup) bool {
	for _, f := range row {
		if !matchesOne(n, f, parents) {
			return false
		}
	}
	return true
}

func matchesOne(n *model.Node, f model.NodeFilter, parents ParentLookup) bool {
	target := n
	field := f.Field
	if strings.HasPrefix(field, "@") {
		parent, ok := parents(n.Parent)
		if !ok {
			return false
		}
		target = parent
		field = field[1:]
	}
	value, ok := Resolve(target, field)
	if !ok {
		// Absent fields fail every operator, including the negated ones.
		// This mirrors SQL NULL and Mongo $exists semantics so the query
		// compilers stay mechanical.
		return false
	}
	return apply(value, f.Operator, f.Value)
}

func apply(field any, op model.Operator, arg any) bool {
	switch op {
	case model.OpEqual:
		return equal(field, arg)
	case model.OpNotEqual:
		return !equal(field, arg)
	case model.OpLess, model.OpLessEqual, model.OpGreater, model.OpGreaterEqual:
		c, ok := compare(field, arg)
		if !ok {
			return false
		}
		switch op {
		case model.OpLess:
			return c < 0
		case model.OpLessEqual:
			return c <= 0
		case model.OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case model.OpIn:
		set, ok := toList(arg)
		return ok && containsValue(set, field)
	case model.OpNotIn:
		set, ok := toList(arg)
		return ok && !containsValue(set, field)
	case model.OpContains:
		arr, ok := toList(field)
		return ok && containsValue(arr, arg)
	case model.OpNotContains:
		arr, ok := toList(field)
		return ok && !containsValue(arr, arg)
	case model.OpContainsAll:
		arr, aok := toList(field)
		set, sok := toList(arg)
		if !aok || !sok {
			return false
		}
		for _, want := range set {
			if !containsValue(arr, want) {
				return false
			}
		}
		return true
	case model.OpContainsAny:
		arr, aok := toList(field)
		set, sok := toList(arg)
		if !aok || !sok {
			return false
		}
		for _, want := range set {
			if containsValue(arr, want) {
				return true
			}
		}
		return false
	case model.OpContainsNone:
		arr, aok := toList(field)
		set, sok := toList(arg)
		if !aok || !sok {
			return false
		}
		for _, want := range set {
			if containsValue(arr, want) {
				return false
			}
		}
		return true
	case model.OpMatch:
		s, sok := asString(field)
		sub, bok := asString(arg)
		if !sok || !bok {
			return false
		}
		// Canonical match semantics: case-insensitive substring.
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
	default:
		return false
	}
}

// equal compares two scalars after normalization. Numbers compare
// numerically, strings lexicographically, everything else by identity.
func equal(a, b any) bool {
	if af, aok := asNumber(a); aok {
		bf, bok := asNumber(b)
		return bok && af == bf
	}
	if as, aok := asString(a); aok {
		bs, bok := asString(b)
		return bok && as == bs
	}
	if ab, aok := a.(bool); aok {
		bb, bok := b.(bool)
		return bok && ab == bb
	}
	return false
}

// compare orders two scalars using natural ordering: numeric for numbers,
// lexicographic for strings. Timestamps are RFC 3339 strings, so their
// lexicographic order is chronological.
func compare(a, b any) (int, bool) {
	if af, aok := asNumber(a); aok {
		bf, bok := asNumber(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := asString(a)
	bs, bok := asString(b)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case model.Permission:
		return string(s), true
	}
	return "", false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// toList normalizes any slice value to []any. Strings are not lists.
func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []model.Permission:
		out := make([]any, len(list))
		for i, p := range list {
			out[i] = string(p)
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
