package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
)

const (
	dataDirName  = "data"
	storeFile    = "dev-tasks.json"
)

// document is the single JSON document persisted to disk (spec.md §6:
// `data/dev-tasks.json` — `{"tasks": {<id>: {...task fields...}}}`).
type document struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Store is the atomically-persisted, single-mutex Task Store (spec.md
// §4.A). Every mutation is a full-document read-modify-write followed by
// a temp-file-plus-rename replace; every reader goes through the same
// mutex so there is never a stale in-memory cache to fall out of sync
// with the file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store rooted at <projectDir>/data/dev-tasks.json,
// creating the data directory if needed.
func NewStore(projectDir string) (*Store, error) {
	dir := filepath.Join(projectDir, dataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, storeFile)}, nil
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{Tasks: map[string]*Task{}}, nil
		}
		return nil, fmt.Errorf("read task store: %w", err)
	}
	if len(data) == 0 {
		return &document{Tasks: map[string]*Task{}}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse task store: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}
	return &doc, nil
}

// save performs the atomic temp-file + rename replace (spec.md §3, §8:
// "at no point does the file contain a partially written JSON document").
func (s *Store) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".dev-tasks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Add creates a new pending task. id must be unique.
func (s *Store) Add(id, title, content string, kind Kind, needsPlanReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := doc.Tasks[id]; exists {
		return baterrors.New(baterrors.CodeTaskInvalidState, "task %s already exists", id)
	}
	now := time.Now().UTC()
	doc.Tasks[id] = &Task{
		ID:              id,
		Title:           title,
		Content:         content,
		Kind:            kind,
		Status:          StatusPending,
		NeedsPlanReview: needsPlanReview,
		Created:         now,
		Modified:        now,
	}
	return s.save(doc)
}

// Claim transitions id from pending to in_progress, leasing port (may be
// nil for the plan phase, which runs without a worker port). Returns a
// snapshot of the claimed task, or (nil, nil) if the precondition
// (status == pending) was violated — no state is mutated in that case.
func (s *Store) Claim(id string, port *int) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[id]
	if !ok || t.Status != StatusPending {
		return nil, nil
	}
	t.Status = StatusInProgress
	t.WorkerPort = port
	t.Modified = time.Now().UTC()
	if err := s.save(doc); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Complete marks id completed and clears worker_port.
func (s *Store) Complete(id string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusCompleted
		t.WorkerPort = nil
	})
}

// Fail marks id failed with the given error and clears worker_port.
func (s *Store) Fail(id, errMsg string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errMsg
		t.WorkerPort = nil
	})
}

// ToPlanReview stores the plan phase's output and moves id to
// plan_review, clearing worker_port.
func (s *Store) ToPlanReview(id, planContent string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusPlanReview
		t.PlanContent = planContent
		t.WorkerPort = nil
	})
}

// ToPending moves id back to pending and clears worker_port. Used by the
// approve-plan and rerun endpoints (spec.md §6).
func (s *Store) ToPending(id string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusPending
		t.WorkerPort = nil
	})
}

// RevisePlan moves a plan_review task back to pending, clearing
// plan_content and appending feedback to content — all in a single
// read-modify-write so the three field changes are atomically visible
// together (spec.md §6, Open Question (a) in SPEC_FULL.md §13: earlier
// revision feedback already folded into content is never stripped).
func (s *Store) RevisePlan(id, feedback string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusPending
		t.PlanContent = ""
		t.WorkerPort = nil
		if feedback != "" {
			t.Content = t.Content + "\n\n---\nReviewer feedback:\n" + feedback
		}
	})
}

// RejectPlan moves a plan_review task to failed.
func (s *Store) RejectPlan(id string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = "plan rejected"
		t.WorkerPort = nil
	})
}

// Rerun moves a failed task back to pending, clearing its error.
func (s *Store) Rerun(id string) error {
	return s.mutate(id, func(t *Task) {
		t.Status = StatusPending
		t.Error = ""
		t.WorkerPort = nil
	})
}

// mutate is the shared read-modify-write helper behind every
// unconditional transition above. It returns baterrors.CodeTaskNotFound
// if id does not exist.
func (s *Store) mutate(id string, fn func(t *Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	t, ok := doc.Tasks[id]
	if !ok {
		return baterrors.New(baterrors.CodeTaskNotFound, "task %s not found", id)
	}
	fn(t)
	t.Modified = time.Now().UTC()
	return s.save(doc)
}

// Load returns a snapshot of a single task.
func (s *Store) Load(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	t, ok := doc.Tasks[id]
	if !ok {
		return nil, baterrors.New(baterrors.CodeTaskNotFound, "task %s not found", id)
	}
	return t.Clone(), nil
}

// ListPending returns pending task IDs ordered by created ascending
// (spec.md §4.G tie-break rule).
func (s *Store) ListPending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var pending []*Task
	for _, t := range doc.Tasks {
		if t.Status == StatusPending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Created.Before(pending[j].Created)
	})
	ids := make([]string, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
	}
	return ids, nil
}

// ListByStatus returns every task with the given status, most-recently
// modified first (matching the HTTP façade's listing order in
// original_source/backend/agent.py's _list_tasks).
func (s *Store) ListByStatus(status Status) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range doc.Tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// ListAll returns every task grouped by status (spec.md §6 GET /agent/tasks).
func (s *Store) ListAll() (map[Status][]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	grouped := make(map[Status][]*Task, len(ValidStatuses))
	for _, st := range ValidStatuses {
		grouped[st] = nil
	}
	for _, t := range doc.Tasks {
		grouped[t.Status] = append(grouped[t.Status], t.Clone())
	}
	for _, st := range ValidStatuses {
		sort.Slice(grouped[st], func(i, j int) bool {
			return grouped[st][i].Modified.After(grouped[st][j].Modified)
		})
	}
	return grouped, nil
}
