package memory

import (
	"context"
	"errors"
	"sync"

	"dhastore/backend/internal/store"
)

var ErrUnavailable = errors.New("memory medium unavailable")

// Medium keeps documents in process memory. It can be switched offline to
// stand in for an evicted or unreachable backing store.
type Medium struct {
	mu          sync.RWMutex
	name        string
	docs        map[string][]byte
	unavailable bool
}

func New(name string) *Medium {
	if name == "" {
		name = "memory"
	}
	return &Medium{name: name, docs: make(map[string][]byte)}
}

func (m *Medium) Name() string {
	return m.name
}

func (m *Medium) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable {
		return nil, ErrUnavailable
	}
	raw, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *Medium) Write(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return ErrUnavailable
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.docs[key] = stored
	return nil
}

// SetUnavailable makes every subsequent Read and Write fail.
func (m *Medium) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = unavailable
}

// Evict drops every stored document, as a browser clearing site data would.
func (m *Medium) Evict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string][]byte)
}

var _ store.Medium = (*Medium)(nil)
