package postgres

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/testutil/repotest"
	"github.com/chirino/node-service/internal/testutil/testpg"
)

var dbSeq atomic.Int64

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	adminDSN := testpg.StartPostgres(t)

	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		r, err := Open(freshDatabase(t, adminDSN), 3)
		require.NoError(t, err)
		require.NoError(t, r.Migrate(context.Background()))
		t.Cleanup(func() { _ = r.Close(context.Background()) })
		return r
	})
}

// freshDatabase creates a new database on the shared container so every
// subtest starts from an empty schema.
func freshDatabase(t *testing.T, adminDSN string) string {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("conformance_%d", dbSeq.Add(1))
	conn, err := pgx.Connect(ctx, adminDSN)
	require.NoError(t, err)
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	u, err := url.Parse(adminDSN)
	require.NoError(t, err)
	u.Path = "/" + name
	return u.String()
}
