package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/internal/state"
	pctx "github.com/poltergeist/haunt/pkg/context"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/notifier"
)

// TaskError reports the task whose own work failed
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task '%s' failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes tasks after their dependencies
type Runner struct {
	registry    *Registry
	logger      logger.Logger
	state       *state.StateManager
	recorder    metrics.Recorder
	notifier    *notifier.TaskNotifier
	parallelism int
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithState records every run in the state manager
func WithState(sm *state.StateManager) RunnerOption {
	return func(r *Runner) { r.state = sm }
}

// WithRecorder records metrics for every run
func WithRecorder(rec metrics.Recorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithNotifier sends desktop notifications for run results
func WithNotifier(n *notifier.TaskNotifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithParallelism bounds how many tasks do their own work at once. Zero
// or less means no bound.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) { r.parallelism = n }
}

// NewRunner creates a runner over the registry
func NewRunner(reg *Registry, log logger.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		registry: reg,
		logger:   log,
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the runner executes from
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes the named tasks one after another. Each task runs after its
// dependencies, which run concurrently; within one call a task runs at most
// once. The first failure cancels the remaining work and is returned.
func (r *Runner) Run(ctx context.Context, names ...string) error {
	if err := r.registry.Validate(); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := r.registry.Lookup(name); err != nil {
			return err
		}
	}

	if pctx.GetRunID(ctx) == "" {
		ctx = pctx.WithRunID(ctx, pctx.GenerateRunID())
	}

	inv := &invocation{
		runner: r,
		calls:  make(map[string]*call),
	}
	if r.parallelism > 0 {
		inv.slots = make(chan struct{}, r.parallelism)
	}

	for _, name := range names {
		if err := inv.run(ctx, r.registry.Resolve(name)); err != nil {
			return err
		}
	}
	return nil
}

type call struct {
	done chan struct{}
	err  error
}

// invocation tracks the tasks of one Run call
type invocation struct {
	runner *Runner
	mu     sync.Mutex
	calls  map[string]*call
	slots  chan struct{}
}

func (inv *invocation) run(ctx context.Context, name string) error {
	inv.mu.Lock()
	if c, ok := inv.calls[name]; ok {
		inv.mu.Unlock()
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	inv.calls[name] = c
	inv.mu.Unlock()

	c.err = inv.execute(ctx, name)
	close(c.done)
	return c.err
}

func (inv *invocation) execute(ctx context.Context, name string) error {
	r := inv.runner
	task, err := r.registry.Lookup(name)
	if err != nil {
		return err
	}

	if deps := task.Deps(); len(deps) > 0 {
		g, gctx := NewSafeGroup(ctx, r.logger)
		for _, dep := range deps {
			dep := r.registry.Resolve(dep)
			g.Go(func() error {
				return inv.run(gctx, dep)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// only a task's own work takes a slot; waiting on dependencies does not
	if inv.slots != nil {
		select {
		case inv.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-inv.slots }()
	}

	return r.runTask(ctx, task)
}

func (r *Runner) runTask(ctx context.Context, task Task) error {
	name := task.Name()
	start := time.Now()
	ctx = pctx.WithStartTime(pctx.WithTask(ctx, name), start)
	log := logger.WithContext(ctx, r.logger)

	log.Info(fmt.Sprintf("Starting '%s'...", name))
	if r.state != nil {
		if err := r.state.MarkRunning(name, pctx.GetRunID(ctx), pctx.GetTrigger(ctx)); err != nil {
			log.Warn("Failed to record task state", logger.WithError(err))
		}
	}

	err := r.safeRun(ctx, task)
	duration := time.Since(start)

	if r.state != nil {
		if serr := r.state.MarkFinished(name, duration, err); serr != nil {
			log.Warn("Failed to record task state", logger.WithError(serr))
		}
	}
	r.recorder.ObserveTaskDuration(name, duration)

	if err != nil {
		result := metrics.ResultFailed
		if errors.Is(err, context.Canceled) {
			result = metrics.ResultCanceled
		}
		r.recorder.IncTaskResult(name, result)

		cause := err
		var te *TaskError
		if !errors.As(err, &te) {
			err = &TaskError{Task: name, Err: err}
		}
		if result == metrics.ResultFailed {
			log.Error(fmt.Sprintf("'%s' errored after %s", name, notifier.FormatDuration(duration)), logger.WithError(cause))
			r.notifier.NotifyTaskFailure(name, cause)
		}
		return err
	}

	r.recorder.IncTaskResult(name, metrics.ResultSuccess)
	log.Info(fmt.Sprintf("Finished '%s' after %s", name, notifier.FormatDuration(duration)))
	r.notifier.NotifyTaskSuccess(name, duration)
	return nil
}

func (r *Runner) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Task panic recovered",
				logger.WithField("task", task.Name()),
				logger.WithField("panic", rec),
				logger.WithField("stack_trace", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task.Run(ctx)
}
