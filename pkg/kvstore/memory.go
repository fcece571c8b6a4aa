package kvstore

import (
	"strings"
	"sync"
)

// memBackend is an in-process Backend used by tests and, per the teacher's
// storage/database package, available as a standalone engine choice
// alongside badger.
type memBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns a Backend backed by a plain map, with no
// persistence across process restarts.
func NewMemoryBackend() Backend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Fetch(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok, nil
}

func (m *memBackend) Insert(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *memBackend) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *memBackend) Exists(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memBackend) FetchPrefix(prefix []byte) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memBackend) InsertBatch(items map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.data[k] = v
	}
	return nil
}

func (m *memBackend) Close() error { return nil }
