// Package assist holds acquisition assistance data shared across channels.
package assist

import "sync"

// Map is a concurrency-safe key/value store. A value inserted by
// InsertOrAssign is visible to every Lookup that starts after it returns.
type Map[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// NewMap creates an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{entries: make(map[K]V)}
}

// InsertOrAssign stores v under k, replacing any previous value.
func (m *Map[K, V]) InsertOrAssign(k K, v V) {
	m.mu.Lock()
	m.entries[k] = v
	m.mu.Unlock()
}

// Lookup returns the value stored under k. The bool is false if k is absent.
func (m *Map[K, V]) Lookup(k K) (V, bool) {
	m.mu.RLock()
	v, ok := m.entries[k]
	m.mu.RUnlock()
	return v, ok
}

// Len returns the number of stored entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
