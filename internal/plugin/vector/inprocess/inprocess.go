// Package inprocess is a brute-force in-memory vector store. It exists so the
// flat-file and test configurations can run the embedding operations without
// an external service.
package inprocess

import (
	"context"
	"sort"
	"sync"

	registryvector "github.com/chirino/node-service/internal/registry/vector"
	"github.com/chirino/node-service/internal/vecmath"
)

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "inprocess",
		Loader: func(ctx context.Context) (registryvector.VectorStore, error) {
			return New(), nil
		},
	})
}

// New returns an empty in-process store.
func New() *Store {
	return &Store{entries: map[string]registryvector.Entry{}}
}

// Store keeps every entry in memory, keyed by entry ID.
type Store struct {
	mu      sync.RWMutex
	entries map[string]registryvector.Entry
}

func (s *Store) IsEnabled() bool { return true }
func (s *Store) Name() string    { return "inprocess" }

func (s *Store) Upsert(ctx context.Context, entry registryvector.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vec := append([]float32(nil), entry.Vector...)
	entry.Vector = vec
	s.entries[entry.ID] = entry
	return nil
}

func (s *Store) DeleteByNode(ctx context.Context, nodeUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.NodeUUID == nodeUUID {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, limit int) ([]registryvector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]registryvector.Match, 0, len(s.entries))
	for _, e := range s.entries {
		matches = append(matches, registryvector.Match{
			NodeUUID: e.NodeUUID,
			Score:    vecmath.Cosine(query, e.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].NodeUUID < matches[j].NodeUUID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
