// Package lifecycle implements start/stop/restart/status for the
// Dispatcher's scheduler loop (spec.md §4.H).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// JoinTimeout bounds how long Stop waits for the scheduler goroutine to
// return before giving up (spec.md §4.H).
const JoinTimeout = 10 * time.Second

// Status is the Lifecycle Controller's externally visible state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Scheduler is the subset of scheduler.Scheduler the controller drives.
// Declared locally to avoid an import cycle.
type Scheduler interface {
	Run(ctx context.Context) error
}

// Supervisor is the subset of worker.Supervisor the controller drives.
type Supervisor interface {
	CancelAll()
}

// Controller is the Lifecycle Controller (spec.md §4.H).
type Controller struct {
	scheduler  Scheduler
	supervisor Supervisor
	logger     *slog.Logger

	stopping atomic.Bool

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	eg     *errgroup.Group
	done   chan struct{}
}

// New creates a stopped Controller.
func New(scheduler Scheduler, supervisor Supervisor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{scheduler: scheduler, supervisor: supervisor, logger: logger, status: StatusStopped}
}

// IsStopping reports whether the stop event is set — consulted by the
// Task Executor to decide whether to skip worktree teardown (spec.md
// §4.F, §4.H). It becomes true when Stop begins and stays true after
// Stop returns, until the next Start.
func (c *Controller) IsStopping() bool {
	return c.stopping.Load()
}

// Start launches the scheduler loop. Returns an error if already running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusRunning {
		return fmt.Errorf("dispatcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.eg = eg
	c.done = make(chan struct{})
	c.status = StatusRunning
	c.stopping.Store(false)

	eg.Go(func() error {
		return c.scheduler.Run(egCtx)
	})

	done := c.done
	go func() {
		_ = eg.Wait()
		close(done)
	}()

	c.logger.Info("dispatcher started")
	return nil
}

// Stop sets the stop event, snapshot-terminates every tracked worker
// process, and joins the scheduler goroutine with JoinTimeout (spec.md
// §4.H). Worktree cleanup is skipped by the executor while IsStopping
// is true, so an interrupted task can be inspected post-mortem.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.status != StatusRunning {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.stopping.Store(true)
	c.supervisor.CancelAll()
	cancel()

	select {
	case <-done:
	case <-time.After(JoinTimeout):
		c.logger.Warn("scheduler did not stop within join timeout", "timeout", JoinTimeout)
	}

	c.mu.Lock()
	c.status = StatusStopped
	c.mu.Unlock()

	c.logger.Info("dispatcher stopped")
	return nil
}

// Restart stops then starts the Dispatcher.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Status returns the controller's current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
