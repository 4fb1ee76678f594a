// Package kv provides the small durable key-value store backing
// sessions, the offline queue and the read cache. It plays the role a
// browser's localStorage plays for the web client: keys survive
// restarts when the SQLite backend is configured, and degrade
// gracefully to memory otherwise.
package kv

import (
	"context"
	"errors"
	"sync"
)

// Well-known keys. Cache entries use the CacheKeyPrefix followed by
// the logical cache name.
const (
	KeySession     = "agrivault:session"
	KeyQueue       = "agrivault:offline_queue"
	CacheKeyPrefix = "agrivault:cache:"
)

// ErrUnavailable is returned when the backing store cannot be read or
// written. Callers distinguish this from an absent key.
var ErrUnavailable = errors.New("kv storage unavailable")

// Store is a minimal key-value interface. Values are opaque bytes;
// callers own serialization.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any prior value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any underlying resources.
	Close() error
}

// memory implements Store over a mutex-guarded map.
type memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory key-value store.
func NewMemory() Store {
	return &memory{data: make(map[string][]byte)}
}

func (m *memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *memory) Close() error {
	return nil
}
