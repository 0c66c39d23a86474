// Package registry provides an insertion-ordered, concurrency-safe collection
// keyed by a comparable id. Servers use it to hold their live connection
// handles: the accept loop inserts, any disconnecting goroutine removes, and
// broadcasts iterate over snapshots.
package registry

import "sync"

// Registry is a mutex-guarded ordered map. Iteration order is insertion order
// and a key can be present at most once. The zero value is not usable; call
// New.
type Registry[K comparable, V any] struct {
	mu    sync.RWMutex
	order []K
	items map[K]V
}

// New returns an empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Insert appends v under k. It returns false, leaving the registry unchanged,
// when k is already present.
//
// Parameters:
//   - k: The key to insert
//   - v: The value to associate with k
//
// Returns:
//   - true if the entry was added, false if k was already present
func (r *Registry[K, V]) Insert(k K, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[k]; ok {
		return false
	}

	r.items[k] = v
	r.order = append(r.order, k)
	return true
}

// InsertIf inserts v under k only if admit returns true. admit receives the
// current length and runs under the write lock, so the check and the insert
// are atomic with respect to other writers.
//
// Returns:
//   - true if the entry was added
func (r *Registry[K, V]) InsertIf(k K, v V, admit func(n int) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[k]; ok || !admit(len(r.order)) {
		return false
	}

	r.items[k] = v
	r.order = append(r.order, k)
	return true
}

// Remove deletes k and returns the value it held.
//
// Returns:
//   - The removed value and true, or the zero value and false if k was absent
func (r *Registry[K, V]) Remove(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.items[k]
	if !ok {
		return v, false
	}

	delete(r.items, k)
	for i, key := range r.order {
		if key == k {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	return v, true
}

// Get returns the value stored under k.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[k]
	return v, ok
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns the values in insertion order. The returned slice is a
// copy; callers may iterate it while other goroutines mutate the registry.
func (r *Registry[K, V]) Snapshot() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}

	return out
}

// Clear removes every entry and returns the removed values in insertion
// order.
func (r *Registry[K, V]) Clear() []V {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}

	r.items = make(map[K]V)
	r.order = nil
	return out
}
