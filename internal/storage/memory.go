package storage

import (
	"context"
	"sync"
)

// Memory is an in-process StateStore used by tests and ephemeral runs.
type Memory struct {
	mu    sync.RWMutex
	state map[string][]byte

	// FailPuts makes every Put fail; tests use it to exercise the
	// persistence-failure path.
	FailPuts bool
}

// NewMemory creates an empty in-memory state store.
func NewMemory() *Memory {
	return &Memory{state: make(map[string][]byte)}
}

// Get returns the last committed snapshot for key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.state[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put replaces the snapshot for key.
func (m *Memory) Put(ctx context.Context, key string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts {
		return context.DeadlineExceeded
	}
	stored := make([]byte, len(state))
	copy(stored, state)
	m.state[key] = stored
	return nil
}

// Delete removes the snapshot for key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error {
	return nil
}

// Len reports the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.state)
}
