// Package worktree creates and tears down isolated git worktrees for
// tasks (spec.md §4.D), with shared files symlinked in and per-task
// files copied in.
package worktree

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/randalmurphal/baton-dispatcher/internal/gitcmd"
	"github.com/randalmurphal/baton-dispatcher/internal/gitlock"
)

// Config mirrors the config.Config fields the Worktree Manager needs.
type Config struct {
	SymlinkFiles []string
	CopyFiles    []string
	PushToRemote bool
}

// Manager creates/tears down per-task worktrees under <root>/worktrees.
type Manager struct {
	root string
	lock *gitlock.Lock
	cfg  Config
}

// New creates a Manager rooted at the project root.
func New(root string, lock *gitlock.Lock, cfg Config) *Manager {
	return &Manager{root: root, lock: lock, cfg: cfg}
}

// BranchName returns the branch name for a task.
func BranchName(taskID string) string {
	return "task/" + taskID
}

// Path returns the worktree directory for a task.
func (m *Manager) Path(taskID string) string {
	return filepath.Join(m.root, "worktrees", taskID)
}

// Create materializes a worktree for taskID branched off main, then
// wires in shared/per-task files (spec.md §4.D). All git operations run
// under the global git lock.
func (m *Manager) Create(ctx context.Context, taskID string) (string, error) {
	path := m.Path(taskID)
	branch := BranchName(taskID)

	if err := os.MkdirAll(filepath.Join(m.root, "worktrees"), 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	runner := gitcmd.New(m.root)
	err := m.lock.With(func() error {
		_, err := runner.Run(ctx, gitcmd.TimeoutCheckout, "worktree", "add", "-b", branch, path, "main")
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create worktree for %s: %w", taskID, err)
	}

	if err := os.MkdirAll(filepath.Join(path, "data"), 0o755); err != nil {
		return "", fmt.Errorf("create worktree data dir: %w", err)
	}

	for _, rel := range m.cfg.SymlinkFiles {
		if err := symlinkIntoWorktree(m.root, path, rel); err != nil {
			return "", err
		}
	}

	// logs/ is always symlinked so every worker logs centrally (spec.md §4.D).
	if err := symlinkIntoWorktree(m.root, path, "logs"); err != nil {
		return "", err
	}

	for _, name := range m.cfg.CopyFiles {
		if err := copyIntoWorktree(m.root, path, name); err != nil {
			return "", err
		}
	}

	return path, nil
}

// symlinkIntoWorktree creates worktree/rel -> root/rel, creating parent
// directories and skipping if worktree/rel already exists (spec.md §4.D).
func symlinkIntoWorktree(root, worktreePath, rel string) error {
	target := filepath.Join(root, rel)
	link := filepath.Join(worktreePath, rel)

	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return fmt.Errorf("create parent dir for symlink %s: %w", rel, err)
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		// Nothing to link to yet (e.g. logs/ on first run) — create the
		// root-side directory so the symlink has somewhere to point.
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create symlink target %s: %w", rel, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("symlink %s: %w", rel, err)
	}
	return nil
}

// copyIntoWorktree copies root/name into worktree/name, skipped silently
// if the source doesn't exist (e.g. a project without PROGRESS.md yet).
func copyIntoWorktree(root, worktreePath, name string) error {
	src := filepath.Join(root, name)
	dst := filepath.Join(worktreePath, name)

	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", name, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

// Teardown force-removes the worktree, deletes the local branch, and —
// if push-to-remote is enabled — deletes the remote branch too (spec.md
// §4.D). Runs entirely under the global git lock.
func (m *Manager) Teardown(ctx context.Context, taskID string) error {
	path := m.Path(taskID)
	branch := BranchName(taskID)
	runner := gitcmd.New(m.root)

	return m.lock.With(func() error {
		_, _ = runner.Run(ctx, gitcmd.TimeoutCheckout, "worktree", "remove", path, "--force")
		_, _ = runner.Run(ctx, gitcmd.TimeoutCheckout, "branch", "-D", branch)
		if m.cfg.PushToRemote {
			_, _ = runner.Run(ctx, gitcmd.TimeoutPush, "push", "origin", "--delete", branch)
		}
		return nil
	})
}
