// Package flatfile is the flat-file repository backend: one JSON document
// per node under a data directory. The whole tree is loaded at open and
// kept in memory; every write is persisted with a write-then-rename so a
// crash never leaves a torn document. There is no on-disk query index —
// filters run through the reference evaluator like the in-process backend.
package flatfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
)

func init() {
	registryrepo.Register(registryrepo.Plugin{
		Name: "flatfile",
		Loader: func(ctx context.Context) (registryrepo.NodeRepository, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.FlatfileRoot == "" {
				return nil, fmt.Errorf("flatfile: data directory is required")
			}
			return Open(cfg.FlatfileRoot)
		},
	})
}

// Repository is the flat-file NodeRepository.
type Repository struct {
	root  string
	mu    sync.RWMutex
	nodes map[string]*model.Node
}

// Open loads every node document under root into memory.
func Open(root string) (*Repository, error) {
	dir := filepath.Join(root, "nodes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flatfile: create data directory: %w", err)
	}
	r := &Repository{root: dir, nodes: map[string]*model.Node{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("flatfile: read data directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("flatfile: read %s: %w", entry.Name(), err)
		}
		var node model.Node
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("flatfile: unmarshal %s: %w", entry.Name(), err)
		}
		r.nodes[node.UUID] = &node
	}
	return r, nil
}

func (r *Repository) Name() string                { return "flatfile" }
func (r *Repository) SupportsEmbeddings() bool    { return false }
func (r *Repository) Close(context.Context) error { return nil }

func (r *Repository) path(uuid string) string {
	return filepath.Join(r.root, uuid+".json")
}

// write persists a node document atomically: write a sibling temp file,
// fsync it, then rename over the destination.
func (r *Repository) write(node *model.Node) error {
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return &registryrepo.UnknownError{Op: "flatfile: marshal node", Err: err}
	}
	tmp, err := os.CreateTemp(r.root, "."+node.UUID+"-*")
	if err != nil {
		return &registryrepo.UnknownError{Op: "flatfile: create temp file", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &registryrepo.UnknownError{Op: "flatfile: write node", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &registryrepo.UnknownError{Op: "flatfile: sync node", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &registryrepo.UnknownError{Op: "flatfile: close temp file", Err: err}
	}
	if err := os.Rename(tmp.Name(), r.path(node.UUID)); err != nil {
		return &registryrepo.UnknownError{Op: "flatfile: rename node", Err: err}
	}
	return nil
}

func (r *Repository) Add(_ context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[node.UUID]; exists {
		return &registryrepo.DuplicatedError{Resource: "node", ID: node.UUID}
	}
	if node.Fid != "" {
		for _, other := range r.nodes {
			if other.Fid == node.Fid {
				return &registryrepo.DuplicatedError{Resource: "node fid", ID: node.Fid}
			}
		}
	}
	clone := node.Clone()
	if err := r.write(clone); err != nil {
		return err
	}
	r.nodes[clone.UUID] = clone
	return nil
}

func (r *Repository) Update(_ context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[node.UUID]; !exists {
		return &registryrepo.NotFoundError{Resource: "node", ID: node.UUID}
	}
	clone := node.Clone()
	if err := r.write(clone); err != nil {
		return err
	}
	r.nodes[clone.UUID] = clone
	return nil
}

func (r *Repository) Delete(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[uuid]; !exists {
		return &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	if err := os.Remove(r.path(uuid)); err != nil && !os.IsNotExist(err) {
		return &registryrepo.UnknownError{Op: "flatfile: remove node", Err: err}
	}
	delete(r.nodes, uuid)
	return nil
}

func (r *Repository) GetByUUID(_ context.Context, uuid string) (*model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[uuid]
	if !ok {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	return node.Clone(), nil
}

func (r *Repository) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	page, err := r.Filter(ctx, model.And(model.F("fid", model.OpEqual, fid)), 1, 1)
	if err != nil {
		return nil, err
	}
	if len(page.Nodes) == 0 {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: fid}
	}
	return &page.Nodes[0], nil
}

func (r *Repository) Filter(_ context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*registryrepo.NodePage, error) {
	if err := filters.Validate(); err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}
	if err := registryrepo.ValidatePageArgs(pageSize, pageToken); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	parents := func(uuid string) (*model.Node, bool) {
		parent, ok := r.nodes[uuid]
		return parent, ok
	}
	var matched []model.Node
	for _, node := range r.nodes {
		if nodefilter.Matches(node, filters, parents) {
			matched = append(matched, *node.Clone())
		}
	}
	registryrepo.SortNodes(matched)
	return &registryrepo.NodePage{
		Nodes:     registryrepo.Page(matched, pageSize, pageToken),
		PageSize:  pageSize,
		PageToken: pageToken,
	}, nil
}

// The flat-file tree has no vector index; wrap with the embeddings overlay
// to add one backed by an external vector store.

func (r *Repository) UpsertEmbedding(context.Context, string, []float32) error {
	return &registryrepo.ValidationError{Field: "embedding", Message: "flatfile backend has no native vector index"}
}

func (r *Repository) DeleteEmbedding(context.Context, string) error {
	return &registryrepo.ValidationError{Field: "embedding", Message: "flatfile backend has no native vector index"}
}

func (r *Repository) VectorSearch(context.Context, []float32, int) ([]registryrepo.NodeWithScore, error) {
	return nil, &registryrepo.ValidationError{Field: "embedding", Message: "flatfile backend has no native vector index"}
}
