package model

import "fmt"

// Operator is a filter predicate operator. The set is fixed; translators for
// every backend implement exactly these.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpIn           Operator = "in"
	OpNotIn        Operator = "not-in"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not-contains"
	OpContainsAll  Operator = "contains-all"
	OpContainsAny  Operator = "contains-any"
	OpContainsNone Operator = "contains-none"
	OpMatch        Operator = "match"
)

var operators = map[Operator]bool{
	OpEqual: true, OpNotEqual: true,
	OpLess: true, OpLessEqual: true, OpGreater: true, OpGreaterEqual: true,
	OpIn: true, OpNotIn: true,
	OpContains: true, OpNotContains: true,
	OpContainsAll: true, OpContainsAny: true, OpContainsNone: true,
	OpMatch: true,
}

// NodeFilter is a single (field, operator, value) predicate.
type NodeFilter struct {
	Field    string
	Operator Operator
	Value    any
}

// F is shorthand for constructing a NodeFilter.
func F(field string, op Operator, value any) NodeFilter {
	return NodeFilter{Field: field, Operator: op, Value: value}
}

// NodeFilters is a flat predicate list; every predicate must hold (AND).
type NodeFilters []NodeFilter

// NodeFilters2D is an OR of AND rows: each inner row is AND-ed, the outer
// list is OR-ed. An empty outer list matches every node.
type NodeFilters2D []NodeFilters

// And wraps a flat AND list as a single-row 2-D filter.
func And(filters ...NodeFilter) NodeFilters2D {
	if len(filters) == 0 {
		return nil
	}
	return NodeFilters2D{filters}
}

// Validate checks every predicate uses a known operator and a non-empty field.
func (f NodeFilters2D) Validate() error {
	for _, row := range f {
		for _, p := range row {
			if p.Field == "" {
				return fmt.Errorf("filter field is required")
			}
			if !operators[p.Operator] {
				return fmt.Errorf("unknown filter operator %q", p.Operator)
			}
		}
	}
	return nil
}

// Clone returns an independent copy of the filter tree.
func (f NodeFilters2D) Clone() NodeFilters2D {
	if f == nil {
		return nil
	}
	out := make(NodeFilters2D, len(f))
	for i, row := range f {
		out[i] = append(NodeFilters(nil), row...)
	}
	return out
}
