// ABOUTME: In-memory snapshot Backend for tests and ephemeral deployments
// ABOUTME: Stores copies so callers cannot mutate persisted bodies

package store

import (
	"context"
	"sync"
)

// MemoryBackend implements Backend with a map
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailPuts makes every Put return this error when set
	FailPuts error
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPuts != nil {
		return m.FailPuts
	}
	m.docs[name] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
