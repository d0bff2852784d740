package fsstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/registry/blob"
	"github.com/chirino/node-service/internal/testutil/blobtest"
)

func TestConformance(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) blob.BlobStore {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}
