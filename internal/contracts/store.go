package contracts

import (
	"context"
	"sort"
	"sync"

	"github.com/altuslabsxyz/dapp-builder/pkg/chain"
)

// SourceRecord remembers which cache keys were built from a source file and
// the content hash the file had at the time.
type SourceRecord struct {
	Path     string   `json:"path"`
	Hash     string   `json:"hash"`
	Compiler string   `json:"compiler,omitempty"`
	Keys     []string `json:"keys"`
}

// Store persists contract types across runs.
type Store interface {
	// Get returns ErrNotFound on a miss and *CacheCorruptionError when the
	// stored entry cannot be trusted.
	Get(ctx context.Context, key string) (*chain.ContractType, error)
	Put(ctx context.Context, key string, ct *chain.ContractType) error
	Delete(ctx context.Context, key string) error

	PutSource(ctx context.Context, rec SourceRecord) error
	// Source returns ErrNotFound when path was never recorded.
	Source(ctx context.Context, path string) (SourceRecord, error)
	Sources(ctx context.Context) ([]SourceRecord, error)
	DeleteSource(ctx context.Context, path string) error

	Close() error
}

// MemoryStore is an in-memory Store for tests and throwaway sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	types   map[string]*chain.ContractType
	sources map[string]SourceRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		types:   make(map[string]*chain.ContractType),
		sources: make(map[string]SourceRecord),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*chain.ContractType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ct, ok := m.types[key]
	if !ok {
		return nil, ErrNotFound
	}
	return ct, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, ct *chain.ContractType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[key] = ct
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.types, key)
	return nil
}

func (m *MemoryStore) PutSource(_ context.Context, rec SourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Keys = append([]string(nil), rec.Keys...)
	m.sources[rec.Path] = rec
	return nil
}

func (m *MemoryStore) Source(_ context.Context, path string) (SourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sources[path]
	if !ok {
		return SourceRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Sources(context.Context) ([]SourceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SourceRecord, 0, len(m.sources))
	for _, rec := range m.sources {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryStore) DeleteSource(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, path)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
