// Package ristretto is an in-process node cache for single-instance
// deployments where a shared Redis is overkill.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	registrycache "github.com/chirino/node-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (registrycache.NodeCache, error) {
			cfg := config.FromContext(ctx)
			ttl := defaultTTL
			if cfg != nil && cfg.CacheTTL > 0 {
				ttl = cfg.CacheTTL
			}
			return New(ttl)
		},
	})
}

// New creates an in-process cache with the given default TTL.
func New(ttl time.Duration) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config[string, *model.Node]{
		NumCounters: 100_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}
	return &Cache{inner: inner, ttl: ttl}, nil
}

type Cache struct {
	inner *ristretto.Cache[string, *model.Node]
	ttl   time.Duration
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(ctx context.Context, uuid string) (*model.Node, error) {
	node, ok := c.inner.Get(uuid)
	if !ok || node == nil {
		return nil, nil
	}
	return node.Clone(), nil
}

func (c *Cache) Set(ctx context.Context, node *model.Node, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.inner.SetWithTTL(node.UUID, node.Clone(), 1, ttl)
	return nil
}

func (c *Cache) Remove(ctx context.Context, uuid string) error {
	c.inner.Del(uuid)
	return nil
}
