package testutil

import (
	"fmt"
	"sync"
)

// IDs is a deterministic id generator for tests: prefix-0001,
// prefix-0002, and so on. Thread-safe.
type IDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDs creates a generator with the given prefix.
func NewIDs(prefix string) *IDs {
	return &IDs{prefix: prefix}
}

// NewID returns the next id in sequence.
func (g *IDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
