// Package integration implements the merge/test/rebase/fast-forward/push
// pipeline that lands a successful worker's task branch onto main
// (spec.md §4.E).
package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
	"github.com/randalmurphal/baton-dispatcher/internal/gitcmd"
	"github.com/randalmurphal/baton-dispatcher/internal/gitlock"
)

// Pipeline runs the integration protocol for one project's root repo.
type Pipeline struct {
	root         string
	lock         *gitlock.Lock
	testCommand  string
	pushToRemote bool
	maxRetries   int
}

// New creates a Pipeline. testCommand may be empty (tests skipped,
// spec.md §8). maxRetries is the number of retries ALLOWED after the
// first stage-2 attempt — max_merge_retries=0 means a single attempt.
func New(root string, lock *gitlock.Lock, testCommand string, pushToRemote bool, maxRetries int) *Pipeline {
	return &Pipeline{root: root, lock: lock, testCommand: testCommand, pushToRemote: pushToRemote, maxRetries: maxRetries}
}

// branchName returns the task branch for taskID.
func branchName(taskID string) string {
	return "task/" + taskID
}

// Run executes the full integration protocol for taskID whose worktree
// lives at worktreePath. Returns a *baterrors.NonRetryable for stage-1/
// test failures, or a *baterrors.RetriesExhausted once stage-2 attempts
// are used up.
func (p *Pipeline) Run(ctx context.Context, taskID, worktreePath string) error {
	branch := branchName(taskID)
	wtRunner := gitcmd.New(worktreePath)
	rootRunner := gitcmd.New(p.root)

	// Stage 1: bring the task branch up to date with main. Any failure
	// here means the branch cannot accommodate current main — abort, no
	// retry (spec.md §4.E step 2, §7).
	err := p.lock.With(func() error {
		if _, err := wtRunner.Run(ctx, gitcmd.TimeoutFetch, "fetch", "origin"); err != nil {
			return &baterrors.NonRetryable{Reason: "fetch origin failed", Err: err}
		}
		if _, err := wtRunner.Run(ctx, gitcmd.TimeoutMerge, "merge", "origin/main"); err != nil {
			_, _ = wtRunner.Run(ctx, gitcmd.TimeoutMerge, "merge", "--abort")
			return &baterrors.NonRetryable{Reason: "cannot merge origin/main into task branch; requires human intervention", Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Tests run outside the git lock so they may overlap across tasks
	// (spec.md §4.E, §5).
	if p.testCommand != "" {
		if err := p.runTests(ctx, worktreePath); err != nil {
			return err
		}
	}

	// Stage 2: land the task branch onto main. Retried as a whole cycle
	// up to maxRetries+1 total attempts.
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries+1; attempt++ {
		err := p.lock.With(func() error {
			return p.stage2Attempt(ctx, rootRunner, wtRunner, branch)
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &baterrors.RetriesExhausted{Attempts: p.maxRetries + 1, LastErr: lastErr}
}

// stage2Attempt runs one full attempt of fetch/rebase/cleanup/checkout/
// merge/push, all already inside the git lock. Every failure here is
// retryable by the caller's loop.
func (p *Pipeline) stage2Attempt(ctx context.Context, rootRunner, wtRunner *gitcmd.Runner, branch string) error {
	if _, err := rootRunner.Run(ctx, gitcmd.TimeoutFetch, "fetch", "origin", "main"); err != nil {
		return fmt.Errorf("fetch origin main: %w", err)
	}

	if _, err := wtRunner.Run(ctx, gitcmd.TimeoutRebase, "rebase", "origin/main"); err != nil {
		_, _ = wtRunner.Run(ctx, gitcmd.TimeoutRebase, "rebase", "--abort")
		return fmt.Errorf("rebase origin/main: %w", err)
	}

	if err := p.clearStaleMergeState(ctx, rootRunner); err != nil {
		return err
	}

	if _, err := rootRunner.Run(ctx, gitcmd.TimeoutCheckout, "checkout", "main"); err != nil {
		return fmt.Errorf("checkout main: %w", err)
	}

	if _, err := rootRunner.Run(ctx, gitcmd.TimeoutMerge, "merge", branch); err != nil {
		_, _ = rootRunner.Run(ctx, gitcmd.TimeoutMerge, "merge", "--abort")
		return fmt.Errorf("merge %s into main: %w", branch, err)
	}

	if p.pushToRemote {
		if _, err := rootRunner.Run(ctx, gitcmd.TimeoutPush, "push", "origin", "main"); err != nil {
			return fmt.Errorf("push origin main: %w", err)
		}
	}

	return nil
}

// clearStaleMergeState clears a leftover MERGE_HEAD from a prior crashed
// attempt before proceeding (spec.md §4.E step 6, §7 corruption guard).
func (p *Pipeline) clearStaleMergeState(ctx context.Context, rootRunner *gitcmd.Runner) error {
	mergeHead := filepath.Join(p.root, ".git", "MERGE_HEAD")
	if _, err := os.Stat(mergeHead); err != nil {
		return nil // no stale state
	}
	if _, err := rootRunner.Run(ctx, gitcmd.TimeoutMerge, "merge", "--abort"); err != nil {
		if _, resetErr := rootRunner.Run(ctx, gitcmd.TimeoutMerge, "reset", "--hard", "HEAD"); resetErr != nil {
			return fmt.Errorf("clear stale merge state: abort failed (%v), reset failed (%v)", err, resetErr)
		}
		_ = os.Remove(mergeHead)
	}
	return nil
}

// runTests runs the configured test command inside the worktree. A
// non-zero exit is non-retryable (spec.md §4.E step 3, §7): "error
// contains Tests failed and <stderr>".
func (p *Pipeline) runTests(ctx context.Context, worktreePath string) error {
	ctx, cancel := context.WithTimeout(ctx, gitcmd.TimeoutTest)
	defer cancel()

	fields := strings.Fields(p.testCommand)
	if len(fields) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = worktreePath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &baterrors.NonRetryable{Reason: fmt.Sprintf("Tests failed: %s", strings.TrimSpace(string(output))), Err: err}
	}
	return nil
}
