package inmem

import (
	"testing"

	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/testutil/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repo.NodeRepository {
		return New(3)
	})
}
