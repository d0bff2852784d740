// Package inmem is the in-process repository backend. It holds nodes in a
// plain map and answers filters with the reference evaluator directly, which
// makes it both the default development backend and the oracle the other
// backends are tested against.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/vecmath"
)

func init() {
	registryrepo.Register(registryrepo.Plugin{
		Name: "inmem",
		Loader: func(ctx context.Context) (registryrepo.NodeRepository, error) {
			dimension := config.DefaultConfig().VectorDimension
			if cfg := config.FromContext(ctx); cfg != nil {
				dimension = cfg.VectorDimension
			}
			return New(dimension), nil
		},
	})
}

// Repository is the in-process NodeRepository. Operations are atomic
// individually; concurrent writers to the same uuid are last-writer-wins.
type Repository struct {
	mu         sync.RWMutex
	dimension  int
	nodes      map[string]*model.Node
	embeddings map[string][]float32
}

// New returns an empty in-process repository accepting embeddings of the
// given dimension.
func New(dimension int) *Repository {
	return &Repository{
		dimension:  dimension,
		nodes:      map[string]*model.Node{},
		embeddings: map[string][]float32{},
	}
}

func (r *Repository) Name() string                { return "inmem" }
func (r *Repository) SupportsEmbeddings() bool    { return true }
func (r *Repository) Close(context.Context) error { return nil }

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
	r.nodes[node.UUID] = node.Clone()
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
	r.nodes[node.UUID] = node.Clone()
	return nil
}

func (r *Repository) Delete(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[uuid]; !exists {
		return &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	delete(r.nodes, uuid)
	delete(r.embeddings, uuid)
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

func (r *Repository) UpsertEmbedding(_ context.Context, uuid string, embedding []float32) error {
	if len(embedding) != r.dimension {
		return &registryrepo.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match configured %d", len(embedding), r.dimension),
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[uuid] = append([]float32(nil), embedding...)
	return nil
}

func (r *Repository) DeleteEmbedding(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.embeddings, uuid)
	return nil
}

func (r *Repository) VectorSearch(_ context.Context, query []float32, topK int) ([]registryrepo.NodeWithScore, error) {
	if topK <= 0 {
		return nil, &registryrepo.ValidationError{Field: "topK", Message: "must be positive"}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(query) != r.dimension || vecmath.IsZero(query) {
		return []registryrepo.NodeWithScore{}, nil
	}

	type scored struct {
		uuid  string
		score float64
	}
	var results []scored
	for uuid := range r.embeddings {
		if _, ok := r.nodes[uuid]; !ok {
			continue
		}
		results = append(results, scored{uuid: uuid, score: vecmath.Cosine(query, r.embeddings[uuid])})
	}
	// Stable ranking: descending score, uuid tiebreak.
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].uuid < results[j].uuid
	})
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]registryrepo.NodeWithScore, len(results))
	for i, s := range results {
		out[i] = registryrepo.NodeWithScore{Node: *r.nodes[s.uuid].Clone(), Score: s.score}
	}
	return out, nil
}
