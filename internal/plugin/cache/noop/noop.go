// Package noop is the default cache plugin: every lookup is a miss.
package noop

import (
	"context"
	"time"

	"github.com/chirino/node-service/internal/model"
	registrycache "github.com/chirino/node-service/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrycache.NodeCache, error) {
			return Cache{}, nil
		},
	})
}

type Cache struct{}

func (Cache) Available() bool { return false }

func (Cache) Get(ctx context.Context, uuid string) (*model.Node, error) {
	return nil, nil
}

func (Cache) Set(ctx context.Context, node *model.Node, ttl time.Duration) error {
	return nil
}

func (Cache) Remove(ctx context.Context, uuid string) error {
	return nil
}
