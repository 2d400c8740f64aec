// Package gitlock provides the single process-wide mutex serializing
// every git-state-mutating operation against the shared root repository
// (spec.md §4.E, §5): worktree create/teardown and every step of the
// Integration Pipeline acquire it, but only around the git commands
// themselves — tests and worker subprocess I/O run outside it so they
// can overlap across concurrently-executing tasks.
package gitlock

import "sync"

// Lock is the global git_lock. A single instance is shared by the
// Worktree Manager and the Integration Pipeline for one project.
type Lock struct {
	mu sync.Mutex
}

// New creates an unlocked Lock.
func New() *Lock {
	return &Lock{}
}

// With runs fn while holding the lock, matching the teacher's
// "compound operation protected by mutex" pattern in internal/git/git.go.
func (l *Lock) With(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}
