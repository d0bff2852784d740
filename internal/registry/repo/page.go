package repo

import (
	"sort"
	"strings"

	"github.com/chirino/node-service/internal/model"
)

// SortNodes orders nodes canonically: ascending case-insensitive title, with
// uuid as the tiebreak so the order is identical on every backend. The SQL
// and Mongo backends express the same key in their query language.
func SortNodes(nodes []model.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a := strings.ToLower(nodes[i].Title)
		b := strings.ToLower(nodes[j].Title)
		if a != b {
			return a < b
		}
		return nodes[i].UUID < nodes[j].UUID
	})
}

// Page slices the pageToken-th window (1-based) out of a sorted node list.
// Windows past the end are empty.
func Page(nodes []model.Node, pageSize, pageToken int) []model.Node {
	if pageSize <= 0 || pageToken <= 0 {
		return nil
	}
	start := (pageToken - 1) * pageSize
	if start >= len(nodes) {
		return []model.Node{}
	}
	end := start + pageSize
	if end > len(nodes) {
		end = len(nodes)
	}
	return nodes[start:end]
}

// ValidatePageArgs rejects non-positive pagination parameters.
func ValidatePageArgs(pageSize, pageToken int) error {
	if pageSize <= 0 {
		return &ValidationError{Field: "pageSize", Message: "must be positive"}
	}
	if pageToken <= 0 {
		return &ValidationError{Field: "pageToken", Message: "is 1-based and must be positive"}
	}
	return nil
}
