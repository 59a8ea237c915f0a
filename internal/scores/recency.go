package scores

import "sync"

// RecencyBuffer keeps the latest value per key in two generations.
// Set writes the current generation; Get falls back to the previous
// one; Roll discards the previous generation and demotes the current
// one. Entries therefore survive between one and two roll periods
// unless refreshed.
type RecencyBuffer[V any] struct {
	mu       sync.Mutex
	current  map[string]V
	previous map[string]V
}

// NewRecencyBuffer creates an empty buffer.
func NewRecencyBuffer[V any]() *RecencyBuffer[V] {
	return &RecencyBuffer[V]{
		current:  make(map[string]V),
		previous: make(map[string]V),
	}
}

// Set stores the value for key in the current generation.
func (b *RecencyBuffer[V]) Set(key string, value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current[key] = value
}

// Get returns the value for key, preferring the current generation.
func (b *RecencyBuffer[V]) Get(key string) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.current[key]; ok {
		return v, true
	}
	v, ok := b.previous[key]
	return v, ok
}

// Refresh promotes a previous-generation entry into the current one
// without changing its value. A no-op when the key is already current
// or unknown.
func (b *RecencyBuffer[V]) Refresh(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.current[key]; ok {
		return
	}
	if v, ok := b.previous[key]; ok {
		b.current[key] = v
	}
}

// Roll discards the previous generation and demotes the current one.
func (b *RecencyBuffer[V]) Roll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.previous = b.current
	b.current = make(map[string]V)
}

// Delete removes the key from both generations.
func (b *RecencyBuffer[V]) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.current, key)
	delete(b.previous, key)
}

// Len approximates the number of live entries. Keys present in both
// generations are counted twice; callers only use this for logging.
func (b *RecencyBuffer[V]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.current) + len(b.previous)
}
