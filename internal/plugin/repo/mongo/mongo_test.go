package mongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/testutil/repotest"
	"github.com/chirino/node-service/internal/testutil/testmongo"
)

var dbSeq atomic.Int64

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	uri := testmongo.StartMongo(t)

	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		ctx := context.Background()
		client, err := mongo.Connect(options.Client().ApplyURI(uri))
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

		// One database per subtest so the shared container stays clean.
		database := fmt.Sprintf("conformance_%d", dbSeq.Add(1))
		require.NoError(t, EnsureIndexes(ctx, client.Database(database)))
		return New(client, database, 3)
	})
}
