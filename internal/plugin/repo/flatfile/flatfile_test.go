package flatfile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/plugin/repo/embeddings"
	"github.com/chirino/node-service/internal/plugin/vector/inprocess"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/testutil/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		r, err := Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close(context.Background()) })
		return r
	})
}

// The flat-file backend has no vector index of its own; the embedding
// operations reach it through the overlay decorator. Running the suite over
// the wrapped form covers that combination end to end.
func TestConformanceWithEmbeddingsOverlay(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		r, err := Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close(context.Background()) })
		return embeddings.Wrap(r, inprocess.New(), 3)
	})
}
