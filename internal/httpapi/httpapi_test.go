package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/randalmurphal/baton-dispatcher/internal/events"
	"github.com/randalmurphal/baton-dispatcher/internal/lifecycle"
	"github.com/randalmurphal/baton-dispatcher/internal/task"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return string(out)
}

type lifecycleScheduler struct{}

func (lifecycleScheduler) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type lifecycleSupervisor struct{}

func (lifecycleSupervisor) CancelAll() {}

func newServer(t *testing.T) (*Server, *task.Store) {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-q")
	run(t, dir, "config", "user.email", "a@b.c")
	run(t, dir, "config", "user.name", "tester")

	store, err := task.NewStore(dir)
	require.NoError(t, err)

	controller := lifecycle.New(lifecycleScheduler{}, lifecycleSupervisor{}, nil)
	return New(dir, store, controller, events.NewMemoryPublisher(), nil), store
}

func TestHandleHealth(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"healthy": true}`, w.Body.String())
}

func TestHandleCreateAndListTasks(t *testing.T) {
	s, _ := newServer(t)

	body, _ := json.Marshal(createTaskRequest{Content: "# My Task\n\ndo the thing"})
	req := httptest.NewRequest(http.MethodPost, "/agent/tasks", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var created task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "My Task", created.Title)
	require.Equal(t, task.StatusPending, created.Status)

	req = httptest.NewRequest(http.MethodGet, "/agent/tasks/pending", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var list []*task.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, created.ID, list[0].ID)
}

func TestHandleListByStatusUnknownIs400(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/tasks/bogus", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTaskDetailNotFound(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/tasks/pending/missing.md", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleApprovePlanRequiresPlanReview(t *testing.T) {
	s, store := newServer(t)
	require.NoError(t, store.Add("aaaa1111", "t", "c", task.KindFeature, false))

	req := httptest.NewRequest(http.MethodPost, "/agent/tasks/aaaa1111/approve-plan", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleApprovePlanHappyPath(t *testing.T) {
	s, store := newServer(t)
	require.NoError(t, store.Add("bbbb2222", "t", "c", task.KindFeature, true))
	_, err := store.Claim("bbbb2222", nil)
	require.NoError(t, err)
	require.NoError(t, store.ToPlanReview("bbbb2222", "plan text"))

	req := httptest.NewRequest(http.MethodPost, "/agent/tasks/bbbb2222/approve-plan", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := store.Load("bbbb2222")
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, updated.Status)
}

func TestHandleRevisePlanAppendsFeedback(t *testing.T) {
	s, store := newServer(t)
	require.NoError(t, store.Add("cccc3333", "t", "original content", task.KindFeature, true))
	_, err := store.Claim("cccc3333", nil)
	require.NoError(t, err)
	require.NoError(t, store.ToPlanReview("cccc3333", "plan text"))

	body, _ := json.Marshal(revisePlanRequest{Feedback: "add tests"})
	req := httptest.NewRequest(http.MethodPost, "/agent/tasks/cccc3333/revise-plan", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := store.Load("cccc3333")
	require.NoError(t, err)
	require.Equal(t, task.StatusPending, updated.Status)
	require.Contains(t, updated.Content, "add tests")
}

func TestHandleDispatcherStatus(t *testing.T) {
	s, _ := newServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/dispatcher", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"stopped"}`, w.Body.String())
}

func TestHandleWorktreesParsesPorcelain(t *testing.T) {
	s, _ := newServer(t)

	run(t, s.root, "commit", "--allow-empty", "-m", "init")

	req := httptest.NewRequest(http.MethodGet, "/agent/worktrees", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var worktrees []Worktree
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &worktrees))
	require.Len(t, worktrees, 1)
	require.Equal(t, s.root, worktrees[0].Path)
}

func TestHandleCommitsParsesLog(t *testing.T) {
	s, _ := newServer(t)
	run(t, s.root, "commit", "--allow-empty", "-m", "first commit")
	run(t, s.root, "commit", "--allow-empty", "-m", "second commit")

	req := httptest.NewRequest(http.MethodGet, "/agent/commits?count=5", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var commits []Commit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &commits))
	require.Len(t, commits, 2)
	require.Equal(t, "second commit", commits[0].Subject)
	require.Equal(t, "first commit", commits[1].Subject)
}

func TestParseWorktreesHandlesBareAndBranch(t *testing.T) {
	output := "worktree /repo\nHEAD abc123\nbranch refs/heads/main\n\n" +
		"worktree /repo/worktrees/task-1\nHEAD def456\nbranch refs/heads/task/task-1\n"
	worktrees := parseWorktrees(output)
	require.Len(t, worktrees, 2)
	require.Equal(t, "main", worktrees[0].Branch)
	require.Equal(t, "task/task-1", worktrees[1].Branch)
}

func TestExtractTitleFallsBackToHeading(t *testing.T) {
	require.Equal(t, "My Task", extractTitle("# My Task\n\nbody text"))
	require.Equal(t, "plain first line", extractTitle("\n\nplain first line\nmore"))
	require.Equal(t, "untitled", extractTitle(""))
}
