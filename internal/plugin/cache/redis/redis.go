// Package redis caches nodes in a Redis-compatible server, JSON encoded and
// keyed by uuid.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	registrycache "github.com/chirino/node-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.NodeCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: NODE_SERVICE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURL creates a NodeCache from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.NodeCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisNodeCache{client: client, ttl: ttl}, nil
}

type redisNodeCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func nodeKey(uuid string) string {
	return "node:" + uuid
}

func (c *redisNodeCache) Available() bool { return true }

func (c *redisNodeCache) Get(ctx context.Context, uuid string) (*model.Node, error) {
	data, err := c.client.Get(ctx, nodeKey(uuid)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get: %w", err)
	}
	var node model.Node
	if err := json.Unmarshal(data, &node); err != nil {
		// A corrupt entry is a miss; the next Set overwrites it.
		return nil, nil
	}
	return &node, nil
}

func (c *redisNodeCache) Set(ctx context.Context, node *model.Node, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("redis cache: marshal: %w", err)
	}
	return c.client.Set(ctx, nodeKey(node.UUID), data, ttl).Err()
}

func (c *redisNodeCache) Remove(ctx context.Context, uuid string) error {
	return c.client.Del(ctx, nodeKey(uuid)).Err()
}
