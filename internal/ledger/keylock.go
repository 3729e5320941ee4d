package ledger

import (
	"slices"
	"sync"
)

// keyLocks serializes commits per (product, location) key. Candidate events
// touching disjoint keys commit independently; events on the same key take
// the same mutex so check-then-act stays atomic.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// lockAll acquires the mutexes for all keys in sorted order (sorted
// acquisition prevents deadlock between events with overlapping key sets)
// and returns the unlock function.
func (k *keyLocks) lockAll(keys []string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	ms := make([]*sync.Mutex, 0, len(keys))
	k.mu.Lock()
	for _, key := range keys {
		m, ok := k.locks[key]
		if !ok {
			m = &sync.Mutex{}
			k.locks[key] = m
		}
		ms = append(ms, m)
	}
	k.mu.Unlock()

	for _, m := range ms {
		m.Lock()
	}
	return func() {
		for i := len(ms) - 1; i >= 0; i-- {
			ms[i].Unlock()
		}
	}
}
