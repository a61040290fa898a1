package ttscache

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound reports that an object does not exist in the store.
var ErrNotFound = errors.New("ttscache: object not found")

// ObjectStore is the durable backing tier of the cache. Implementations must
// be safe for concurrent use.
type ObjectStore interface {
	// Get returns the object's bytes, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// Put stores the object under name, overwriting any previous version.
	Put(ctx context.Context, name string, data []byte) error
}

// Compile-time assertion that MemoryStore implements ObjectStore.
var _ ObjectStore = (*MemoryStore)(nil)

// MemoryStore is an in-process ObjectStore for tests and bucket-less
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Get implements ObjectStore.
func (s *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put implements ObjectStore.
func (s *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objects[name] = cp
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
