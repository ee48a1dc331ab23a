// Package prefs persists theme, unit preferences and favorites across sessions.
package prefs

import (
	"errors"
	"sync"
)

// Storage keys.
const (
	KeyTheme     = "theme"
	KeyFavorites = "favorites"
	KeySettings  = "settings"
)

// ErrStorageFull is returned by a bounded MemoryStorage when a write exceeds its quota.
var ErrStorageFull = errors.New("prefs: storage quota exceeded")

// Storage is a synchronous string key-value store.
// Get reports ok=false for an absent key.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// MemoryStorage implements Storage in memory. A positive Quota bounds the total
// number of bytes held across all values.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string]string
	Quota  int
}

// NewMemoryStorage creates an unbounded MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if m.Quota > 0 {
		size := len(value)
		for k, v := range m.values {
			if k != key {
				size += len(v)
			}
		}
		if size > m.Quota {
			return ErrStorageFull
		}
	}
	m.values[key] = value
	return nil
}
