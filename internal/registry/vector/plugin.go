package vector

import (
	"context"
	"fmt"
)

// Entry is one stored embedding. ID is the entry's own identity; NodeUUID is
// the owning node, used for cascade deletion. The repository overlay keys
// entries by node uuid, so upserting again for the same node replaces the
// previous entry instead of duplicating it.
type Entry struct {
	ID       string
	NodeUUID string
	Vector   []float32
	Metadata map[string]string
}

// Match is a single search hit.
type Match struct {
	NodeUUID string
	Score    float64
}

// VectorStore defines the interface for external vector search backends,
// used by repository backends without a native vector index.
type VectorStore interface {
	// Upsert stores or replaces the entry with the same ID.
	Upsert(ctx context.Context, entry Entry) error
	// DeleteByNode removes every entry owned by the node uuid.
	DeleteByNode(ctx context.Context, nodeUUID string) error
	// Search returns up to limit matches ranked by descending cosine similarity.
	Search(ctx context.Context, query []float32, limit int) ([]Match, error)
	// IsEnabled returns true if the vector store is configured and operational.
	IsEnabled() bool
	// Name returns the plugin name (e.g. "qdrant", "inprocess").
	Name() string
}

// Loader creates a VectorStore from config.
type Loader func(ctx context.Context) (VectorStore, error)

// Plugin represents a vector store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a vector store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered vector store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named vector store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown vector store %q; valid: %v", name, Names())
}
