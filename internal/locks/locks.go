// Package locks provides keyed mutual exclusion. Operations against the same
// key are serialized; different keys proceed in parallel. The booking engine
// keys by court id and account id so that one busy court never blocks
// another.
package locks

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of mutexes addressed by int64 key. Entries are created on
// first use and removed once no goroutine holds or waits on them.
type Keyed struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[int64]*lockEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
// The unlock function must be called exactly once.
func (k *Keyed) Lock(key int64) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
