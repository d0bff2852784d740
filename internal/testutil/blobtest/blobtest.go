// Package blobtest is the shared conformance suite every BlobStore plugin
// runs: one Factory per backend, identical expectations for all of them.
package blobtest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/registry/blob"
	"github.com/chirino/node-service/internal/registry/repo"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) blob.BlobStore

// Run exercises the store contract: last write wins, reads stream the exact
// bytes back, and missing blobs surface as not-found.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newStore(t)) })
	t.Run("Missing", func(t *testing.T) { testMissing(t, newStore(t)) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, newStore(t)) })
}

func testPutGetDelete(t *testing.T, s blob.BlobStore) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "n-1", strings.NewReader("hello")))
	assert.Equal(t, "hello", read(t, s, "n-1"))

	// Put replaces
	require.NoError(t, s.Put(ctx, "n-1", strings.NewReader("world")))
	assert.Equal(t, "world", read(t, s, "n-1"))

	require.NoError(t, s.Delete(ctx, "n-1"))
	_, err := s.Get(ctx, "n-1")
	assert.True(t, repo.IsNotFound(err))
	err = s.Delete(ctx, "n-1")
	assert.True(t, repo.IsNotFound(err))
}

func testMissing(t *testing.T, s blob.BlobStore) {
	_, err := s.Get(context.Background(), "nope")
	assert.True(t, repo.IsNotFound(err))
	err = s.Delete(context.Background(), "nope")
	assert.True(t, repo.IsNotFound(err))
}

func testIsolation(t *testing.T, s blob.BlobStore) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "n-1", strings.NewReader("one")))
	require.NoError(t, s.Put(ctx, "n-2", strings.NewReader("two")))
	require.NoError(t, s.Delete(ctx, "n-1"))
	assert.Equal(t, "two", read(t, s, "n-2"))
}

func read(t *testing.T, s blob.BlobStore, uuid string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), uuid)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
