package queue

import (
	"sync"
)

// Queue is a thread-safe FIFO that admits each key once. Items keep the
// order of their first Add.
type Queue[T any] struct {
	items []T
	seen  map[string]bool
	key   func(T) string
	mu    sync.Mutex
}

// New creates a new Queue keyed by key
func New[T any](key func(T) string) *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		seen:  make(map[string]bool),
		key:   key,
	}
}

// Add appends item unless an item with the same key was already added
func (q *Queue[T]) Add(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := q.key(item)
	if q.seen[k] {
		return false
	}
	q.seen[k] = true
	q.items = append(q.items, item)
	return true
}

// Items returns the pending items in insertion order
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}
