// Package vecmath holds the one scoring function shared by every vector
// search implementation.
package vecmath

import "math"

// Cosine returns the cosine similarity dot(a,b) / (|a|*|b|). The score is 0,
// never an error, when the lengths differ or either magnitude is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IsZero reports whether the vector has zero magnitude (or is empty).
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
