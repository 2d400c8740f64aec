// Package executor decides each task's execution path and drives it
// through the worker and integration pipeline (spec.md §4.F).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/randalmurphal/baton-dispatcher/internal/baterrors"
	"github.com/randalmurphal/baton-dispatcher/internal/config"
	"github.com/randalmurphal/baton-dispatcher/internal/events"
	"github.com/randalmurphal/baton-dispatcher/internal/integration"
	"github.com/randalmurphal/baton-dispatcher/internal/logging"
	"github.com/randalmurphal/baton-dispatcher/internal/portpool"
	"github.com/randalmurphal/baton-dispatcher/internal/task"
	"github.com/randalmurphal/baton-dispatcher/internal/worker"
	"github.com/randalmurphal/baton-dispatcher/internal/worktree"
)

const noPlanGenerated = "No plan generated."

// Executor wires the Task Store, Worktree Manager, Worker Supervisor,
// and Integration Pipeline together for one project (spec.md §4.F).
type Executor struct {
	root       string
	cfg        *config.Config
	store      *task.Store
	ports      *portpool.Allocator
	worktrees  *worktree.Manager
	pipeline   *integration.Pipeline
	supervisor *worker.Supervisor
	publisher  events.Publisher
	logger     *slog.Logger
	isStopping func() bool
}

// New creates an Executor. isStopping is consulted in cleanup to decide
// whether to tear down the worktree (spec.md §4.F, §4.H: worktree
// cleanup is skipped while the Lifecycle Controller is stopping).
func New(
	root string,
	cfg *config.Config,
	store *task.Store,
	ports *portpool.Allocator,
	worktrees *worktree.Manager,
	pipeline *integration.Pipeline,
	supervisor *worker.Supervisor,
	publisher events.Publisher,
	logger *slog.Logger,
	isStopping func() bool,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if isStopping == nil {
		isStopping = func() bool { return false }
	}
	return &Executor{
		root: root, cfg: cfg, store: store, ports: ports, worktrees: worktrees,
		pipeline: pipeline, supervisor: supervisor, publisher: publisher,
		logger: logger, isStopping: isStopping,
	}
}

// Execute runs taskID to completion (or failure), choosing the plan or
// full-execution path per spec.md §4.F. A nil return with no state
// change means the task's claim precondition was no longer true (e.g.
// another tick already claimed it) — the scheduler simply moves on.
func (e *Executor) Execute(ctx context.Context, taskID string) error {
	snapshot, err := e.store.Load(taskID)
	if err != nil {
		return err
	}

	if snapshot.NeedsPlanReview && snapshot.PlanContent == "" {
		return e.runPlanPhase(ctx, taskID, snapshot)
	}
	return e.runFullExecution(ctx, taskID, snapshot)
}

func (e *Executor) runPlanPhase(ctx context.Context, taskID string, snapshot *task.Task) error {
	claimed, err := e.store.Claim(taskID, nil)
	if err != nil {
		return err
	}
	if claimed == nil {
		return nil
	}

	taskLogger, detach, err := logging.TaskHandler(e.root, taskID, slog.LevelInfo)
	if err != nil {
		return e.fail(taskID, err)
	}
	defer detach()

	prompt := planPrompt(claimed.Content)
	spec := worker.Spec{
		Command: e.cfg.Worker.Command,
		Args:    workerArgs(e.cfg, prompt),
		Dir:     e.root,
		Timeout: e.cfg.Worker.Timeout,
	}

	taskLogger.Info("starting plan phase", "task_id", taskID)
	result := e.supervisor.Run(ctx, taskID, spec)
	if result.Err != nil {
		if e.aborted(ctx) {
			return e.fail(taskID, baterrors.ErrAborted)
		}
		return e.fail(taskID, result.Err)
	}

	planText := collectPlanText(result.Log.Events)
	if err := e.store.ToPlanReview(taskID, planText); err != nil {
		return e.fail(taskID, err)
	}
	e.publish(events.TypePlanReview, taskID, map[string]any{"plan_content": planText})
	return nil
}

func (e *Executor) runFullExecution(ctx context.Context, taskID string, snapshot *task.Task) error {
	port, err := e.ports.Allocate()
	if err != nil {
		return e.fail(taskID, err)
	}

	claimed, err := e.store.Claim(taskID, &port)
	if err != nil {
		e.ports.Release(port)
		return err
	}
	if claimed == nil {
		e.ports.Release(port)
		return nil
	}

	taskLogger, detach, err := logging.TaskHandler(e.root, taskID, slog.LevelInfo)
	if err != nil {
		e.ports.Release(port)
		return e.fail(taskID, err)
	}

	worktreePath, err := e.worktrees.Create(ctx, taskID)
	if err != nil {
		detach()
		e.ports.Release(port)
		return e.fail(taskID, err)
	}

	// Cleanup runs in spec order: worktree teardown (unless stopping),
	// then port release, then detaching the task-scoped log handler
	// (spec.md §4.F).
	defer func() {
		if !e.isStopping() {
			if err := e.worktrees.Teardown(context.Background(), taskID); err != nil {
				taskLogger.Warn("worktree teardown failed", "task_id", taskID, "error", err)
			}
		}
		e.ports.Release(port)
		detach()
	}()

	prompt := executionPrompt(claimed)
	spec := worker.Spec{
		Command: e.cfg.Worker.Command,
		Args:    workerArgs(e.cfg, prompt),
		Dir:     worktreePath,
		Env:     map[string]string{"TASK_PORT": strconv.Itoa(port)},
		Timeout: e.cfg.Worker.Timeout,
	}

	taskLogger.Info("starting full execution", "task_id", taskID, "port", port, "worktree", worktreePath)
	result := e.supervisor.Run(ctx, taskID, spec)
	if result.Err != nil {
		if e.aborted(ctx) {
			return e.fail(taskID, baterrors.ErrAborted)
		}
		return e.fail(taskID, result.Err)
	}

	if err := e.pipeline.Run(ctx, taskID, worktreePath); err != nil {
		return e.fail(taskID, err)
	}

	if err := e.store.Complete(taskID); err != nil {
		return e.fail(taskID, err)
	}
	e.publish(events.TypeComplete, taskID, nil)
	return nil
}

// aborted reports whether a worker failure was caused by the Lifecycle
// Controller's stop event rather than the worker itself (spec.md §7,
// scenario 6): either the stop flag is already set, or the run context
// was cancelled out from under the worker.
func (e *Executor) aborted(ctx context.Context) bool {
	return e.isStopping() || errors.Is(ctx.Err(), context.Canceled)
}

func (e *Executor) fail(taskID string, cause error) error {
	if saveErr := e.store.Fail(taskID, cause.Error()); saveErr != nil {
		e.logger.Error("failed to persist task failure", "task_id", taskID, "cause", cause, "save_error", saveErr)
	}
	e.publish(events.TypeFailed, taskID, map[string]any{"error": cause.Error()})
	return fmt.Errorf("task %s: %w", taskID, cause)
}

func (e *Executor) publish(t events.Type, taskID string, data any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.New(t, taskID, data))
}

// workerArgs builds the CLI invocation for the configured worker
// command (spec.md §4.C, §6; Open Question (b): only stream-json).
func workerArgs(cfg *config.Config, prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json"}
	if cfg.Worker.Verbose {
		args = append(args, "--verbose")
	}
	if cfg.Worker.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// planPrompt instructs the worker to analyze only, never write files
// (spec.md §4.F).
func planPrompt(content string) string {
	return "Analyze the following task and produce a plan. Do not write, " +
		"edit, or delete any files — this is analysis only.\n\n" + content
}

// executionPrompt prefixes the approved plan (if any) as context and
// appends commit/test/progress-file instructions, including the
// Kind-derived commit prefix (SPEC_FULL.md §12).
func executionPrompt(t *task.Task) string {
	var b strings.Builder
	if t.PlanContent != "" {
		b.WriteString("An approved plan exists for this task:\n\n")
		b.WriteString(t.PlanContent)
		b.WriteString("\n\n---\n\n")
	}
	b.WriteString(t.Content)
	b.WriteString("\n\n---\nWhen finished, commit your changes with a message prefixed `")
	b.WriteString(t.Kind.CommitPrefix())
	b.WriteString("(")
	b.WriteString(t.ID)
	b.WriteString("): `. Run the project's tests before committing. Update PROGRESS.md with lessons learned.")
	return b.String()
}

// collectPlanText concatenates every assistant text block and the
// final result text with double-newline separators (spec.md §4.F).
func collectPlanText(evs []worker.Event) string {
	var parts []string
	for _, ev := range evs {
		if text := worker.AssistantText(ev); text != "" {
			parts = append(parts, text)
		}
	}
	var lastResult string
	for _, ev := range evs {
		if text := worker.ResultText(ev); text != "" {
			lastResult = text
		}
	}
	if lastResult != "" {
		parts = append(parts, lastResult)
	}
	if len(parts) == 0 {
		return noPlanGenerated
	}
	return strings.Join(parts, "\n\n")
}
