// Package embeddings overlays an external vector store onto a repository
// backend that has no native vector index, so every backend answers the same
// embedding operations.
package embeddings

import (
	"context"
	"fmt"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/registry/vector"
	"github.com/chirino/node-service/internal/vecmath"
)

// Wrap pairs a repository with a vector store. If the repository already
// supports embeddings natively it is returned unchanged.
func Wrap(inner repo.NodeRepository, store vector.VectorStore, dimension int) repo.NodeRepository {
	if inner.SupportsEmbeddings() || store == nil || !store.IsEnabled() {
		return inner
	}
	return &overlay{inner: inner, store: store, dimension: dimension}
}

type overlay struct {
	inner     repo.NodeRepository
	store     vector.VectorStore
	dimension int
}

func (o *overlay) Add(ctx context.Context, node *model.Node) error {
	return o.inner.Add(ctx, node)
}

func (o *overlay) Update(ctx context.Context, node *model.Node) error {
	return o.inner.Update(ctx, node)
}

// Delete cascades to the vector store so no orphaned entries survive the node.
func (o *overlay) Delete(ctx context.Context, uuid string) error {
	if err := o.inner.Delete(ctx, uuid); err != nil {
		return err
	}
	if err := o.store.DeleteByNode(ctx, uuid); err != nil {
		return &repo.UnknownError{Op: "embeddings: cascade delete", Err: err}
	}
	return nil
}

func (o *overlay) GetByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	return o.inner.GetByUUID(ctx, uuid)
}

func (o *overlay) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	return o.inner.GetByFid(ctx, fid)
}

func (o *overlay) Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*repo.NodePage, error) {
	return o.inner.Filter(ctx, filters, pageSize, pageToken)
}

func (o *overlay) UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error {
	if len(embedding) != o.dimension {
		return &repo.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match configured %d", len(embedding), o.dimension),
		}
	}
	if _, err := o.inner.GetByUUID(ctx, uuid); err != nil {
		return err
	}
	err := o.store.Upsert(ctx, vector.Entry{ID: uuid, NodeUUID: uuid, Vector: embedding})
	if err != nil {
		return &repo.UnknownError{Op: "embeddings: upsert", Err: err}
	}
	return nil
}

func (o *overlay) DeleteEmbedding(ctx context.Context, uuid string) error {
	if err := o.store.DeleteByNode(ctx, uuid); err != nil {
		return &repo.UnknownError{Op: "embeddings: delete", Err: err}
	}
	return nil
}

func (o *overlay) VectorSearch(ctx context.Context, query []float32, topK int) ([]repo.NodeWithScore, error) {
	if topK <= 0 {
		return nil, &repo.ValidationError{Field: "topK", Message: "must be positive"}
	}
	if len(query) != o.dimension || vecmath.IsZero(query) {
		return []repo.NodeWithScore{}, nil
	}
	matches, err := o.store.Search(ctx, query, topK)
	if err != nil {
		return nil, &repo.UnknownError{Op: "embeddings: search", Err: err}
	}
	results := make([]repo.NodeWithScore, 0, len(matches))
	for _, m := range matches {
		node, err := o.inner.GetByUUID(ctx, m.NodeUUID)
		if err != nil {
			if repo.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		results = append(results, repo.NodeWithScore{Node: *node, Score: m.Score})
	}
	return results, nil
}

func (o *overlay) SupportsEmbeddings() bool { return true }
func (o *overlay) Name() string             { return o.inner.Name() }

func (o *overlay) Close(ctx context.Context) error {
	return o.inner.Close(ctx)
}
