package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/node-service/internal/model"
)

// NodeCache caches nodes by uuid in front of GetByUUID. A nil return from
// Get with a nil error is a miss, not a failure.
type NodeCache interface {
	Available() bool
	Get(ctx context.Context, uuid string) (*model.Node, error)
	Set(ctx context.Context, node *model.Node, ttl time.Duration) error
	Remove(ctx context.Context, uuid string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (NodeCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
