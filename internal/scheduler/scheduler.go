// Package scheduler runs the single long-lived polling loop that picks
// up pending tasks and hands them to the Task Executor, bounded to
// max_parallel_workers concurrent executions (spec.md §4.G).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/baton-dispatcher/internal/task"
	"golang.org/x/sync/semaphore"
)

// Runner executes one task to completion or failure. Satisfied by
// *executor.Executor; declared locally to avoid an import cycle.
type Runner interface {
	Execute(ctx context.Context, taskID string) error
}

// Scheduler is the bounded-concurrency poller (spec.md §4.G).
type Scheduler struct {
	store        *task.Store
	runner       Runner
	pollInterval time.Duration
	maxParallel  int64
	logger       *slog.Logger

	sem *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. maxParallel bounds concurrent executions via
// a weighted semaphore (spec.md §5: "bounded pool sized to
// max_parallel_workers").
func New(store *task.Store, runner Runner, maxParallel int, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		runner:       runner,
		pollInterval: pollInterval,
		maxParallel:  int64(maxParallel),
		logger:       logger,
		sem:          semaphore.NewWeighted(int64(maxParallel)),
		active:       make(map[string]struct{}),
	}
}

// Run executes the scheduler loop until ctx is cancelled (the stop
// event, spec.md §4.G, §4.H), then waits for in-flight executions to
// return before returning itself. Run never returns a non-nil error —
// individual task failures are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-time.After(s.pollInterval):
		}
	}
}

// tick reaps nothing explicitly — completion is observed by the
// semaphore release and active-map deletion inside each submitted
// goroutine — computes free slots, and submits newly-pending tasks not
// already active, in created-ascending order (spec.md §4.G tie-break).
func (s *Scheduler) tick(ctx context.Context) {
	pending, err := s.store.ListPending()
	if err != nil {
		s.logger.Error("list pending tasks failed", "error", err)
		return
	}

	for _, id := range pending {
		if !s.sem.TryAcquire(1) {
			return // no free slots this tick
		}

		s.mu.Lock()
		_, already := s.active[id]
		if !already {
			s.active[id] = struct{}{}
		}
		s.mu.Unlock()

		if already {
			s.sem.Release(1)
			continue
		}

		s.wg.Add(1)
		go s.run(ctx, id)
	}
}

func (s *Scheduler) run(ctx context.Context, taskID string) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer func() {
		s.mu.Lock()
		delete(s.active, taskID)
		s.mu.Unlock()
	}()

	if err := s.runner.Execute(ctx, taskID); err != nil {
		s.logger.Error("task execution failed", "task_id", taskID, "error", err)
	}
}

// ActiveCount reports how many tasks are currently executing.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ActiveTaskIDs returns a snapshot of the currently executing task IDs.
func (s *Scheduler) ActiveTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}
