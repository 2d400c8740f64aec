// Package portpool hands out unique ports from a bounded range
// (spec.md §4.B).
package portpool

import (
	"sync"

	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
)

// Allocator hands out ports from a fixed inclusive [start, end] range.
// Safe for concurrent use.
type Allocator struct {
	mu       sync.Mutex
	start    int
	end      int
	inUse    map[int]struct{}
}

// New creates an Allocator over the inclusive range [start, end].
func New(start, end int) *Allocator {
	return &Allocator{
		start: start,
		end:   end,
		inUse: make(map[int]struct{}),
	}
}

// Allocate returns the lowest free port in the range, or an
// *baterrors.Exhausted error when none remain (spec.md §4.B, §8: "Port
// range [N, N]: two allocations without release -> second fails with
// exhaustion").
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.start; p <= a.end; p++ {
		if _, taken := a.inUse[p]; !taken {
			a.inUse[p] = struct{}{}
			return p, nil
		}
	}
	return 0, &baterrors.Exhausted{Start: a.start, End: a.end}
}

// Release frees p. Idempotent: releasing a port that isn't allocated
// (or was already released) is a no-op (spec.md §8).
func (a *Allocator) Release(p int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, p)
}

// InUseCount reports how many ports are currently leased (for tests and
// status reporting).
func (a *Allocator) InUseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
