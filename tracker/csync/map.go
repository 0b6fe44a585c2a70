package csync

import "sync"

// Map is a generic thread-safe map.
type Map[K comparable, V comparable] struct {
	m  map[K]V
	mu sync.RWMutex
}

// NewMap creates an empty Map.
func NewMap[K comparable, V comparable]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Get returns the value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok
}

// Set stores value under key unconditionally.
func (m *Map[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
}

// LoadOrStore stores value only when key is absent.
// It returns the value left in the map and whether it was already present.
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.m[key]; ok {
		return existing, true
	}
	m.m[key] = value
	return value, false
}

// CompareAndSwap replaces old with new only when key currently holds old.
func (m *Map[K, V]) CompareAndSwap(key K, old, new V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.m[key]; !ok || existing != old {
		return false
	}
	m.m[key] = new
	return true
}

// CompareAndDelete removes key only when it currently holds value.
func (m *Map[K, V]) CompareAndDelete(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.m[key]; !ok || existing != value {
		return false
	}
	delete(m.m, key)
	return true
}

// Del removes key.
func (m *Map[K, V]) Del(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// Range calls f for each entry until f returns false.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.mu.RLock()
	snapshot := make(map[K]V, len(m.m))
	for k, v := range m.m {
		snapshot[k] = v
	}
	m.mu.RUnlock()
	for k, v := range snapshot {
		if !f(k, v) {
			return
		}
	}
}
