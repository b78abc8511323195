package manifest

import (
	"context"
	"sync"

	"ragpipeline/internal/ragdata"
)

// MemoryStore is an in-process Store keyed by doc_id.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]ragdata.ChunkManifest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{manifests: make(map[string]ragdata.ChunkManifest)}
}

func (s *MemoryStore) Load(_ context.Context, docID string) (ragdata.ChunkManifest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[docID]
	return m, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, m ragdata.ChunkManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[m.DocID] = m
	return nil
}

var _ Store = (*MemoryStore)(nil)
