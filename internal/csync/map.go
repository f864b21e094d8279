package csync

import "sync"

// Map is a thread-safe map with generic types.
// It uses a RWMutex for concurrent read access and exclusive write access.
type Map[K comparable, V any] struct {
	data map[K]V
	mu   sync.RWMutex
}

// NewMap creates a new thread-safe map
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data: make(map[K]V),
	}
}

// Set stores a key-value pair in the map
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Get retrieves a value by key, returns the value and whether it exists
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, exists := m.data[key]
	return value, exists
}

// Delete removes a key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.data[key]
	delete(m.data, key)
	return exists
}

// Update runs f under the write lock with the current value (if any).
// When f returns keep=false the key is removed; otherwise the returned value
// is stored.
func (m *Map[K, V]) Update(key K, f func(value V, exists bool) (V, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, exists := m.data[key]
	next, keep := f(current, exists)
	if !keep {
		delete(m.data, key)
		return
	}
	m.data[key] = next
}

// Len returns the number of key-value pairs in the map
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
