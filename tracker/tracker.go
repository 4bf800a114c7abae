// Package tracker reference-counts concurrent begin/end signals per key so
// that every key is started and finished exactly once.
package tracker

import "sync"

// Tracker holds one entry per live key. Operations on different keys never
// contend; operations on the same key are serialized by the entry's lock.
type Tracker[T any] struct {
	entries sync.Map // key -> *entry[T]
}

type entry[T any] struct {
	mu          sync.Mutex
	value       T
	initialized bool
	removed     bool
	live        int
}

// New creates an empty tracker
func New[T any]() *Tracker[T] {
	return &Tracker[T]{}
}

// Begin registers one more live user of key. The first caller runs factory;
// concurrent callers wait until it returned. If factory reports false no
// entry is kept and Begin returns false.
func (t *Tracker[T]) Begin(key string, factory func() (T, bool)) (T, bool) {
	for {
		actual, _ := t.entries.LoadOrStore(key, &entry[T]{})
		e := actual.(*entry[T])

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if !e.initialized {
			v, ok := factory()
			if !ok {
				e.removed = true
				t.entries.CompareAndDelete(key, e)
				e.mu.Unlock()
				var zero T
				return zero, false
			}
			e.value = v
			e.initialized = true
		}
		e.live++
		v := e.value
		e.mu.Unlock()
		return v, true
	}
}

// Get returns the value of a live key
func (t *Tracker[T]) Get(key string) (T, bool) {
	var zero T
	actual, ok := t.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := actual.(*entry[T])
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || !e.initialized {
		return zero, false
	}
	return e.value, true
}

// End releases one live user of key. When the count drops to zero,
// isTrulyDone is consulted; if it agrees, onDone runs exactly once and the
// key is forgotten so a later Begin starts fresh. End reports whether onDone ran.
func (t *Tracker[T]) End(key string, isTrulyDone func(T) bool, onDone func(T)) bool {
	actual, ok := t.entries.Load(key)
	if !ok {
		return false
	}
	e := actual.(*entry[T])

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || !e.initialized || e.live == 0 {
		return false
	}
	e.live--
	if e.live > 0 || !isTrulyDone(e.value) {
		return false
	}
	onDone(e.value)
	e.removed = true
	t.entries.CompareAndDelete(key, e)
	return true
}

// Live returns the number of live users of key
func (t *Tracker[T]) Live(key string) int {
	actual, ok := t.entries.Load(key)
	if !ok {
		return 0
	}
	e := actual.(*entry[T])
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live
}
