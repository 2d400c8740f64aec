// Package httpapi exposes the Dispatcher's task, worktree, commit, and
// lifecycle operations over HTTP, plus a live event stream over a
// websocket (spec.md §6).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
	"github.com/randalmurphal/baton-dispatcher/internal/events"
	"github.com/randalmurphal/baton-dispatcher/internal/lifecycle"
	"github.com/randalmurphal/baton-dispatcher/internal/task"
)

// Server wires the Task Store and Lifecycle Controller to HTTP routes
// (spec.md §6).
type Server struct {
	root       string
	store      *task.Store
	controller *lifecycle.Controller
	publisher  events.Publisher
	logger     *slog.Logger
	router     *mux.Router
}

// New builds a Server with every route registered.
func New(root string, store *task.Store, controller *lifecycle.Controller, publisher events.Publisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{root: root, store: store, controller: controller, publisher: publisher, logger: logger}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// Handler returns the server as an http.Handler, for http.Server or
// httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.HandleFunc("/agent/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/agent/tasks", s.handleListTasks).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/tasks", s.handleCreateTask).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/tasks/bulk", s.handleBulkCreate).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/tasks/{status}", s.handleListByStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/tasks/{status}/{filename}", s.handleTaskDetail).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/tasks/{id}/approve-plan", s.handleApprovePlan).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/tasks/{id}/revise-plan", s.handleRevisePlan).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/tasks/{id}/reject-plan", s.handleRejectPlan).Methods(http.MethodPost)
	s.router.HandleFunc("/agent/tasks/{id}/rerun", s.handleRerun).Methods(http.MethodPost)

	s.router.HandleFunc("/agent/worktrees", s.handleWorktrees).Methods(http.MethodGet)
	s.router.HandleFunc("/agent/commits", s.handleCommits).Methods(http.MethodGet)

	s.router.HandleFunc("/agent/dispatcher", s.handleDispatcherStatus).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/agent/dispatcher/start", s.handleDispatcherStart).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/agent/dispatcher/stop", s.handleDispatcherStop).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/agent/dispatcher/restart", s.handleDispatcherRestart).Methods(http.MethodGet, http.MethodPost)

	s.router.HandleFunc("/agent/events", s.handleEventStream).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeStoreError maps a baterrors.Error (or anything else) to the
// right HTTP status, per spec.md §7.
func writeStoreError(w http.ResponseWriter, err error) {
	var be *baterrors.Error
	if e, ok := err.(*baterrors.Error); ok {
		be = e
		writeError(w, be.Category().HTTPStatus(), be.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	grouped, err := s.store.ListAll()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (s *Server) handleListByStatus(w http.ResponseWriter, r *http.Request) {
	status := task.Status(mux.Vars(r)["status"])
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	list, err := s.store.ListByStatus(status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// taskDetail adds the persisted worker session log to a task snapshot
// (spec.md §6: "task detail incl. session log").
type taskDetail struct {
	*task.Task
	SessionLog json.RawMessage `json:"session_log,omitempty"`
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	status := task.Status(vars["status"])
	if !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	id := strings.TrimSuffix(vars["filename"], ".md")

	t, err := s.store.Load(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if t.Status != status {
		writeError(w, http.StatusNotFound, "task not found under status "+string(status))
		return
	}

	detail := taskDetail{Task: t}
	if raw, err := readSessionLog(s.root, id); err == nil {
		detail.SessionLog = raw
	}
	writeJSON(w, http.StatusOK, detail)
}

type createTaskRequest struct {
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Kind            task.Kind `json:"kind"`
	NeedsPlanReview bool      `json:"needs_plan_review"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := s.createTask(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type bulkCreateRequest struct {
	Tasks []createTaskRequest `json:"tasks"`
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created := make([]*task.Task, 0, len(req.Tasks))
	for _, item := range req.Tasks {
		t, err := s.createTask(item)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		created = append(created, t)
	}
	writeJSON(w, http.StatusOK, created)
}

// createTask applies the title-extraction fallback (SPEC_FULL.md §12)
// before delegating to the Task Store.
func (s *Server) createTask(req createTaskRequest) (*task.Task, error) {
	kind := req.Kind
	if kind == "" {
		kind = task.KindFeature
	}
	if !kind.Valid() {
		return nil, baterrors.New(baterrors.CodeTaskInvalidState, "unknown kind %q", kind)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = extractTitle(req.Content)
	}

	id := task.NewID()
	if err := s.store.Add(id, title, req.Content, kind, req.NeedsPlanReview); err != nil {
		return nil, err
	}
	return s.store.Load(id)
}

// extractTitle falls back to the first non-blank line of content,
// trimmed to 80 characters, matching original_source/backend/agent.py's
// _extract_title (SPEC_FULL.md §12).
func extractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "# ")
		if r := []rune(line); len(r) > 80 {
			line = string(r[:80])
		}
		return line
	}
	return "untitled"
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	s.planTransition(w, r, task.StatusPlanReview, func(id string) error { return s.store.ToPending(id) })
}

func (s *Server) handleRejectPlan(w http.ResponseWriter, r *http.Request) {
	s.planTransition(w, r, task.StatusPlanReview, func(id string) error { return s.store.RejectPlan(id) })
}

func (s *Server) handleRerun(w http.ResponseWriter, r *http.Request) {
	s.planTransition(w, r, task.StatusFailed, func(id string) error { return s.store.Rerun(id) })
}

type revisePlanRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleRevisePlan(w http.ResponseWriter, r *http.Request) {
	var req revisePlanRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.planTransition(w, r, task.StatusPlanReview, func(id string) error { return s.store.RevisePlan(id, req.Feedback) })
}

// planTransition enforces the required current status (404 otherwise,
// spec.md §6) before applying mutate.
func (s *Server) planTransition(w http.ResponseWriter, r *http.Request, required task.Status, mutate func(id string) error) {
	id := mux.Vars(r)["id"]
	t, err := s.store.Load(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if t.Status != required {
		writeError(w, http.StatusNotFound, "task not in "+string(required))
		return
	}
	if err := mutate(id); err != nil {
		writeStoreError(w, err)
		return
	}
	updated, err := s.store.Load(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDispatcherStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}

func (s *Server) handleDispatcherStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}

func (s *Server) handleDispatcherStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}

func (s *Server) handleDispatcherRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Restart(context.WithoutCancel(r.Context())); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.controller.Status())})
}
