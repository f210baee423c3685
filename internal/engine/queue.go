package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poltergeist/haunt/pkg/logger"
)

// RebuildRequest asks for a task to run again after file changes
type RebuildRequest struct {
	ID        string
	Task      string
	Files     []string
	Timestamp time.Time
}

// RebuildFunc performs a rebuild
type RebuildFunc func(ctx context.Context, req *RebuildRequest) error

// RebuildQueue serialises rebuilds per task. A request for a task that is
// already running is held as pending and runs once the current run ends;
// further requests merge into the pending one.
type RebuildQueue struct {
	run    RebuildFunc
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]*rebuildWorker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	idle    *sync.Cond
}

type rebuildWorker struct {
	running bool
	pending *RebuildRequest
}

// NewRebuildQueue creates a queue that hands requests to run
func NewRebuildQueue(run RebuildFunc, log logger.Logger) *RebuildQueue {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &RebuildQueue{
		run:     run,
		logger:  log,
		workers: make(map[string]*rebuildWorker),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Start binds the queue to ctx; canceling it stops accepting work. Call it
// before the first Enqueue.
func (q *RebuildQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cancel()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels running rebuilds and waits for the workers to exit
func (q *RebuildQueue) Stop() {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue schedules task and returns the ID of the request that will
// carry the change
func (q *RebuildQueue) Enqueue(task string, files ...string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return ""
	}

	w, ok := q.workers[task]
	if !ok {
		w = &rebuildWorker{}
		q.workers[task] = w
	}

	if w.running {
		if w.pending == nil {
			w.pending = newRebuildRequest(task, files)
		} else {
			w.pending.Files = mergeFiles(w.pending.Files, files)
		}
		q.logger.Debug("Rebuild queued behind running task",
			logger.WithField("task", task),
			logger.WithField("files", len(w.pending.Files)))
		return w.pending.ID
	}

	req := newRebuildRequest(task, files)
	w.running = true
	q.wg.Add(1)
	go q.work(w, req)
	return req.ID
}

// Running reports whether task is rebuilding
func (q *RebuildQueue) Running(task string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.workers[task]
	return ok && w.running
}

// Pending reports whether another rebuild of task is waiting
func (q *RebuildQueue) Pending(task string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.workers[task]
	return ok && w.pending != nil
}

// WaitIdle blocks until no task is running or pending
func (q *RebuildQueue) WaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.busyLocked() {
		q.idle.Wait()
	}
}

func (q *RebuildQueue) busyLocked() bool {
	for _, w := range q.workers {
		if w.running {
			return true
		}
	}
	return false
}

func (q *RebuildQueue) work(w *rebuildWorker, req *RebuildRequest) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		ctx := q.ctx
		q.mu.Unlock()

		if ctx.Err() == nil {
			if err := q.run(ctx, req); err != nil {
				q.logger.Debug("Rebuild failed",
					logger.WithField("task", req.Task),
					logger.WithField("request", req.ID),
					logger.WithError(err))
			}
		}

		q.mu.Lock()
		if w.pending == nil || ctx.Err() != nil {
			w.running = false
			w.pending = nil
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		req = w.pending
		w.pending = nil
		q.mu.Unlock()
	}
}

func newRebuildRequest(task string, files []string) *RebuildRequest {
	return &RebuildRequest{
		ID:        uuid.New().String(),
		Task:      task,
		Files:     mergeFiles(nil, files),
		Timestamp: time.Now(),
	}
}

// mergeFiles returns the sorted union of a and b
func mergeFiles(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
