package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store. The zero value is ready to use.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]string
	writes int
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a MemStore pre-populated with seed, which may be nil.
func NewMemStore(seed map[string]string) *MemStore {
	m := &MemStore{data: make(map[string]string, len(seed))}
	for k, v := range seed {
		m.data[k] = v
	}
	return m
}

// Read implements Store.
func (m *MemStore) Read(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Write implements Store.
func (m *MemStore) Write(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	m.writes++
	return nil
}

// Writes returns the total number of Write calls, used by tests to assert
// that owners only persist on real changes.
func (m *MemStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Ping implements Pinger. A MemStore is always healthy.
func (m *MemStore) Ping(context.Context) error { return nil }
