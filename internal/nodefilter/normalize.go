package nodefilter

// Scalar normalizes a filter argument for driver binding: typed string
// aliases become plain strings, everything else passes through.
func Scalar(v any) any {
	if s, ok := asString(v); ok {
		return s
	}
	return v
}

// ToList normalizes a filter argument to a value list for the set operators.
// The query compilers share it so every backend binds the same values the
// reference evaluator compares.
func ToList(v any) ([]any, bool) {
	list, ok := toList(v)
	if !ok {
		return nil, false
	}
	out := make([]any, len(list))
	for i, item := range list {
		out[i] = Scalar(item)
	}
	return out, true
}
