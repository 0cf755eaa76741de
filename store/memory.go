package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type inMemory struct {
	mu      sync.RWMutex
	storage map[string]memEntry
}

// NewMemoryStore returns an in-process Store. Expired entries are dropped
// lazily on access.
func NewMemoryStore() Store {
	return &inMemory{}
}

func (m *inMemory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.storage[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		m.mu.Lock()
		// re-check under the write lock: Set may have refreshed the entry
		if cur, ok := m.storage[key]; ok && cur.expired(time.Now()) {
			delete(m.storage, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *inMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage == nil {
		// create on first use
		m.storage = make(map[string]memEntry)
	}
	m.storage[key] = entry
	return nil
}

func (m *inMemory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storage != nil {
		delete(m.storage, key)
	}
	return nil
}
