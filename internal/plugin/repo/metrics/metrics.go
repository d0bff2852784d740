package metrics

import (
	"context"
	"time"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/security"
)

// Wrap returns a NodeRepository that records RepoLatency for every operation.
func Wrap(inner repo.NodeRepository) repo.NodeRepository {
	return &metricsRepo{inner: inner}
}

type metricsRepo struct {
	inner repo.NodeRepository
}

func observe(op string, start time.Time) {
	if security.RepoLatency == nil {
		return
	}
	security.RepoLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsRepo) Add(ctx context.Context, node *model.Node) error {
	defer observe("add", time.Now())
	return m.inner.Add(ctx, node)
}

func (m *metricsRepo) Update(ctx context.Context, node *model.Node) error {
	defer observe("update", time.Now())
	return m.inner.Update(ctx, node)
}

func (m *metricsRepo) Delete(ctx context.Context, uuid string) error {
	defer observe("delete", time.Now())
	return m.inner.Delete(ctx, uuid)
}

func (m *metricsRepo) GetByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	defer observe("get_by_uuid", time.Now())
	return m.inner.GetByUUID(ctx, uuid)
}

func (m *metricsRepo) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	defer observe("get_by_fid", time.Now())
	return m.inner.GetByFid(ctx, fid)
}

func (m *metricsRepo) Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*repo.NodePage, error) {
	defer observe("filter", time.Now())
	return m.inner.Filter(ctx, filters, pageSize, pageToken)
}

func (m *metricsRepo) UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error {
	defer observe("upsert_embedding", time.Now())
	return m.inner.UpsertEmbedding(ctx, uuid, embedding)
}

func (m *metricsRepo) DeleteEmbedding(ctx context.Context, uuid string) error {
	defer observe("delete_embedding", time.Now())
	return m.inner.DeleteEmbedding(ctx, uuid)
}

func (m *metricsRepo) VectorSearch(ctx context.Context, query []float32, topK int) ([]repo.NodeWithScore, error) {
	defer observe("vector_search", time.Now())
	return m.inner.VectorSearch(ctx, query, topK)
}

func (m *metricsRepo) SupportsEmbeddings() bool { return m.inner.SupportsEmbeddings() }
func (m *metricsRepo) Name() string             { return m.inner.Name() }

func (m *metricsRepo) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}
