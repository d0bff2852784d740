// Package fsstore keeps node content on the local filesystem, one file per
// node under the configured root.
package fsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chirino/node-service/internal/config"
	registryblob "github.com/chirino/node-service/internal/registry/blob"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
)

func init() {
	registryblob.Register(registryblob.Plugin{
		Name: "fs",
		Loader: func(ctx context.Context) (registryblob.BlobStore, error) {
			cfg := config.FromContext(ctx)
			root := ""
			if cfg != nil {
				root = cfg.BlobFSRoot
			}
			if root == "" {
				root = filepath.Join(os.TempDir(), "node-service-blobs")
			}
			return Open(root)
		},
	})
}

// Open creates the blob directory if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("fsstore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

type Store struct {
	root string
}

func (s *Store) Name() string { return "fs" }

func (s *Store) path(uuid string) string {
	return filepath.Join(s.root, uuid)
}

// Put writes to a temp file and renames it in, so readers never observe a
// partially written blob.
func (s *Store) Put(ctx context.Context, uuid string, data io.Reader) error {
	tmp, err := os.CreateTemp(s.root, uuid+".tmp-*")
	if err != nil {
		return fmt.Errorf("fsstore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("fsstore: write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsstore: sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsstore: close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(uuid)); err != nil {
		return fmt.Errorf("fsstore: rename blob: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, uuid string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(uuid))
	if os.IsNotExist(err) {
		return nil, &registryrepo.NotFoundError{Resource: "blob", ID: uuid}
	}
	if err != nil {
		return nil, fmt.Errorf("fsstore: open blob: %w", err)
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, uuid string) error {
	err := os.Remove(s.path(uuid))
	if os.IsNotExist(err) {
		return &registryrepo.NotFoundError{Resource: "blob", ID: uuid}
	}
	if err != nil {
		return fmt.Errorf("fsstore: delete blob: %w", err)
	}
	return nil
}
