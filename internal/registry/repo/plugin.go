package repo

import (
	"context"
	"fmt"

	"github.com/chirino/node-service/internal/model"
)

// NodePage is one window of a paged filter result. PageToken is the 1-based
// index of the window that was returned.
type NodePage struct {
	Nodes     []model.Node `json:"nodes"`
	PageSize  int          `json:"pageSize"`
	PageToken int          `json:"pageToken"`
}

// NodeWithScore is a single vector search result.
type NodeWithScore struct {
	Node  model.Node `json:"node"`
	Score float64    `json:"score"`
}

// NodeRepository is the uniform storage contract. Every backend implements
// the same query, ordering, and pagination semantics; callers never know
// which engine answered.
type NodeRepository interface {
	// Add stores a new node. Returns a DuplicatedError when the uuid (or a
	// non-empty fid) already exists.
	Add(ctx context.Context, node *model.Node) error
	// Update replaces the stored node with the same uuid. Returns a
	// NotFoundError when it does not exist; never a partial mutation.
	Update(ctx context.Context, node *model.Node) error
	// Delete removes the node. Returns a NotFoundError when it does not exist.
	Delete(ctx context.Context, uuid string) error
	GetByUUID(ctx context.Context, uuid string) (*model.Node, error)
	// GetByFid looks a node up by its friendly id. It is the
	// Filter([[fid == value]], 1, 1) specialization.
	GetByFid(ctx context.Context, fid string) (*model.Node, error)
	// Filter returns the pageToken-th window (1-based) of the nodes matching
	// the filter tree, ordered by collated title then uuid. Windows past the
	// end are empty, not an error.
	Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*NodePage, error)

	// UpsertEmbedding stores or replaces the embedding keyed by node uuid.
	UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error
	// DeleteEmbedding removes every embedding owned by the node uuid.
	DeleteEmbedding(ctx context.Context, uuid string) error
	// VectorSearch returns up to topK nodes ranked by descending cosine
	// similarity to the query vector.
	VectorSearch(ctx context.Context, query []float32, topK int) ([]NodeWithScore, error)
	// SupportsEmbeddings reports whether this backend can serve the
	// embedding operations natively.
	SupportsEmbeddings() bool

	// Name returns the plugin name (e.g. "sqlite", "mongo").
	Name() string
	Close(ctx context.Context) error
}

// Loader creates a NodeRepository from config.
type Loader func(ctx context.Context) (NodeRepository, error)

// Plugin represents a repository backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a repository plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered repository plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named repository plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown repository %q; valid: %v", name, Names())
}
