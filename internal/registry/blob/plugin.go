package blob

import (
	"context"
	"fmt"
	"io"
)

// BlobStore stores node content bytes keyed by the owning node's uuid. It is
// the storage-provider collaborator surface: services built on top of the
// repository call it, the repository itself never does. A node metadata
// write and its blob write are not atomic with each other; callers treat
// partial completion as retryable.
type BlobStore interface {
	Put(ctx context.Context, uuid string, data io.Reader) error
	Get(ctx context.Context, uuid string) (io.ReadCloser, error)
	Delete(ctx context.Context, uuid string) error
	Name() string
}

// Loader creates a BlobStore from config.
type Loader func(ctx context.Context) (BlobStore, error)

// Plugin represents a blob store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a blob store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered blob store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named blob store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown blob store %q; valid: %v", name, Names())
}
