package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/testutil/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		r, err := Open(filepath.Join(t.TempDir(), "nodes.db"), 3)
		require.NoError(t, err)
		require.NoError(t, r.Migrate(context.Background()))
		t.Cleanup(func() { _ = r.Close(context.Background()) })
		return r
	})
}
