package trace

import "sync"

// Registry is an insertion-ordered keyed table with insert-if-absent semantics.
// Lookups are idempotent and safe for concurrent use; the values it hands out
// carry their own locks.
type Registry[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
	order []K
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// FindOrCreate returns the value for key, calling create to insert it if absent.
// The second result reports whether the value was created.
func (r *Registry[K, V]) FindOrCreate(key K, create func() V) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[key]; ok {
		return v, false
	}
	v := create()
	r.items[key] = v
	r.order = append(r.order, key)
	return v, true
}

// Get returns the value for key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	return v, ok
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Values returns all values in insertion order.
func (r *Registry[K, V]) Values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}
	return out
}
