package memory

import (
	"sync"
	"sync/atomic"
)

// Table is a concurrent key -> entry map with get-or-create semantics.
// Entries are compared by ==, so V is normally a pointer.
type Table[K comparable, V comparable] struct {
	entries sync.Map
	live    atomic.Int64
}

func New[K comparable, V comparable]() *Table[K, V] {
	return &Table[K, V]{}
}

// LoadOrCreate returns the entry stored under key. When there is none, the
// entry built by create is stored and returned with created=true. Racing
// callers for the same key all observe the single stored entry; a candidate
// that lost the race is dropped before anyone sees it.
func (t *Table[K, V]) LoadOrCreate(key K, create func() V) (v V, created bool) {
	if cur, ok := t.entries.Load(key); ok {
		return cur.(V), false
	}

	cur, loaded := t.entries.LoadOrStore(key, create())
	if !loaded {
		t.live.Add(1)
	}
	return cur.(V), !loaded
}

func (t *Table[K, V]) Load(key K) (V, bool) {
	cur, ok := t.entries.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return cur.(V), true
}

// Delete removes key only while it still maps to v.
func (t *Table[K, V]) Delete(key K, v V) bool {
	if !t.entries.CompareAndDelete(key, v) {
		return false
	}
	t.live.Add(-1)
	return true
}

func (t *Table[K, V]) Len() int {
	return int(t.live.Load())
}
