package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/baton-dispatcher/internal/config"
	"github.com/randalmurphal/baton-dispatcher/internal/events"
	"github.com/randalmurphal/baton-dispatcher/internal/gitlock"
	"github.com/randalmurphal/baton-dispatcher/internal/integration"
	"github.com/randalmurphal/baton-dispatcher/internal/portpool"
	"github.com/randalmurphal/baton-dispatcher/internal/task"
	"github.com/randalmurphal/baton-dispatcher/internal/worker"
	"github.com/randalmurphal/baton-dispatcher/internal/worktree"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

// newProjectRepo sets up a bare "origin" and a root checkout cloned from
// it, the shape the Integration Pipeline expects (spec.md §4.E).
func newProjectRepo(t *testing.T) string {
	t.Helper()
	origin := t.TempDir()
	run(t, origin, "init", "--bare", "-b", "main")

	seed := t.TempDir()
	run(t, seed, "init", "-b", "main")
	run(t, seed, "config", "user.email", "test@example.com")
	run(t, seed, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("hello"), 0o644))
	run(t, seed, "add", ".")
	run(t, seed, "commit", "-m", "initial")
	run(t, seed, "remote", "add", "origin", origin)
	run(t, seed, "push", "origin", "main")

	root := t.TempDir()
	run(t, root, "clone", origin, ".")
	run(t, root, "config", "user.email", "test@example.com")
	run(t, root, "config", "user.name", "Test")
	return root
}

// writeScript creates an executable shell script used as the stand-in
// worker command.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newExecutor(t *testing.T, root string, cfg *config.Config) (*Executor, *task.Store) {
	t.Helper()
	store, err := task.NewStore(root)
	require.NoError(t, err)
	ports := portpool.New(9300, 9310)
	lock := gitlock.New()
	wtMgr := worktree.New(root, lock, worktree.Config{CopyFiles: cfg.CopyFiles, SymlinkFiles: cfg.SymlinkFiles, PushToRemote: cfg.PushToRemote})
	pipeline := integration.New(root, lock, cfg.TestCommand, cfg.PushToRemote, cfg.MaxMergeRetries)
	sup := worker.New(filepath.Join(root, "data"), nil)
	pub := events.NewMemoryPublisher()

	exec := New(root, cfg, store, ports, wtMgr, pipeline, sup, pub, nil, nil)
	return exec, store
}

func TestExecutePlanPhase(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	cfg.Worker.Command = writeScript(t, `
echo '{"type":"assistant","message":"Here is my plan."}'
echo '{"type":"result","result":"Plan ready."}'
`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("aaaa1111", "Add feature", "implement the thing", task.KindFeature, true))

	require.NoError(t, exec.Execute(context.Background(), "aaaa1111"))

	snapshot, err := store.Load("aaaa1111")
	require.NoError(t, err)
	require.Equal(t, task.StatusPlanReview, snapshot.Status)
	require.Contains(t, snapshot.PlanContent, "Here is my plan.")
	require.Contains(t, snapshot.PlanContent, "Plan ready.")
	require.Nil(t, snapshot.WorkerPort)
}

func TestExecutePlanPhaseNoTextProducesFallback(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	cfg.Worker.Command = writeScript(t, `
echo '{"type":"tool_use","tool":"bash","input":{}}'
`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("bbbb2222", "Add feature", "implement the thing", task.KindFeature, true))

	require.NoError(t, exec.Execute(context.Background(), "bbbb2222"))

	snapshot, err := store.Load("bbbb2222")
	require.NoError(t, err)
	require.Equal(t, noPlanGenerated, snapshot.PlanContent)
}

func TestExecuteFullExecutionHappyPath(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	cfg.PushToRemote = false
	cfg.Worker.Command = writeScript(t, `
echo '{"type":"assistant","message":"working"}'
echo "change" > feature.txt
git add -A
git commit -m "feat: add feature" --quiet
echo '{"type":"result","result":"done"}'
`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("cccc3333", "Add feature", "implement the thing", task.KindFeature, false))

	require.NoError(t, exec.Execute(context.Background(), "cccc3333"))

	snapshot, err := store.Load("cccc3333")
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, snapshot.Status)
	require.Nil(t, snapshot.WorkerPort)

	run(t, root, "checkout", "main")
	_, statErr := os.Stat(filepath.Join(root, "feature.txt"))
	require.NoError(t, statErr)

	_, statErr = os.Stat(filepath.Join(root, "worktrees", "cccc3333"))
	require.True(t, os.IsNotExist(statErr), "worktree should be torn down after completion")
}

func TestExecuteFullExecutionWorkerFailure(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	cfg.Worker.Command = writeScript(t, `exit 3`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("dddd4444", "Add feature", "implement the thing", task.KindFeature, false))

	err := exec.Execute(context.Background(), "dddd4444")
	require.Error(t, err)

	snapshot, loadErr := store.Load("dddd4444")
	require.NoError(t, loadErr)
	require.Equal(t, task.StatusFailed, snapshot.Status)
	require.Contains(t, snapshot.Error, "3")
	require.Nil(t, snapshot.WorkerPort)
}

func TestExecuteFullExecutionAbortedOnCancel(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	cfg.Worker.Command = writeScript(t, `sleep 30`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("ffff6666", "Add feature", "implement the thing", task.KindFeature, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec.Execute(ctx, "ffff6666") }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(worker.TerminateGrace + worker.ReapGrace + 2*time.Second):
		t.Fatal("execute did not return after cancel")
	}

	snapshot, loadErr := store.Load("ffff6666")
	require.NoError(t, loadErr)
	require.Equal(t, task.StatusFailed, snapshot.Status)
	require.Equal(t, "aborted", snapshot.Error)
}

func TestExecuteFullExecutionUsesApprovedPlan(t *testing.T) {
	root := newProjectRepo(t)
	cfg := config.Default()
	cfg.TestCommand = ""
	var capturedPromptFile = filepath.Join(t.TempDir(), "prompt.txt")
	cfg.Worker.Command = writeScript(t, `
printf '%s' "$2" > `+capturedPromptFile+`
git add -A 2>/dev/null
git commit -m "feat: noop" --allow-empty --quiet
echo '{"type":"result","result":"ok"}'
`)

	exec, store := newExecutor(t, root, cfg)
	require.NoError(t, store.Add("eeee5555", "Add feature", "implement the thing", task.KindBugfix, false))
	require.NoError(t, store.ToPlanReview("eeee5555", "Do X then Y."))
	require.NoError(t, store.ToPending("eeee5555"))

	require.NoError(t, exec.Execute(context.Background(), "eeee5555"))

	captured, err := os.ReadFile(capturedPromptFile)
	require.NoError(t, err)
	require.Contains(t, string(captured), "Do X then Y.")
	require.Contains(t, string(captured), "fix(eeee5555)")
}
