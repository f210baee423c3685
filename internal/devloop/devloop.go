// Package devloop implements the browserSync task: it serves the build
// directory, rebuilds when sources change and reloads connected browsers
// when outputs change.
package devloop

import (
	"context"
	"errors"
	"net/http"
	"path"
	"reflect"
	"sync"
	"time"

	"github.com/poltergeist/haunt/internal/engine"
	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/internal/server"
	"github.com/poltergeist/haunt/internal/state"
	"github.com/poltergeist/haunt/internal/tasks"
	"github.com/poltergeist/haunt/internal/watcher"
	"github.com/poltergeist/haunt/pkg/config"
	pctx "github.com/poltergeist/haunt/pkg/context"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// Trigger marks runs started by file changes
const Trigger = "watch"

// ReloadSubscription is the name of the subscription that reloads browsers
const ReloadSubscription = "reload"

// Subscription maps source globs to the task they rebuild. An empty Task
// reloads browsers instead.
type Subscription struct {
	Name     string
	Patterns []string
	Task     string
}

// Subscriptions derives the watch table from cfg
func Subscriptions(cfg *types.Config) []Subscription {
	templates := []string{cfg.Paths.Templates}
	if cfg.Templates.Data != "" {
		templates = append(templates, cfg.Templates.Data)
	}
	return []Subscription{
		{Name: "templates", Patterns: templates, Task: tasks.TaskCompile},
		{Name: "styles", Patterns: []string{cfg.Paths.Src.Styles}, Task: tasks.TaskCSS},
		{Name: "scripts", Patterns: []string{cfg.Paths.Src.Scripts}, Task: tasks.TaskJS},
		{Name: "images", Patterns: []string{cfg.Paths.Src.Images}, Task: tasks.TaskImages},
		{Name: "fonts", Patterns: []string{cfg.Paths.Src.Fonts}, Task: tasks.TaskFonts},
		{Name: ReloadSubscription, Patterns: []string{path.Join(cfg.Server.BaseDir, "**", "*")}},
	}
}

// Options configures a Loop
type Options struct {
	Root string
	// ConfigPath is reloaded on change; empty disables reloading
	ConfigPath string
	Env        *tasks.Env
	// Run executes tasks, normally engine.Runner.Run
	Run            func(ctx context.Context, names ...string) error
	Logger         logger.Logger
	Recorder       metrics.Recorder
	MetricsHandler http.Handler
	State          *state.StateManager
}

// Loop is the development loop
type Loop struct {
	opts   Options
	logger logger.Logger

	mu     sync.Mutex
	server *server.Server
	queue  *engine.RebuildQueue
	ready  chan struct{}
}

// New creates a loop
func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return &Loop{
		opts:   opts,
		logger: opts.Logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the server is listening and sources are watched
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Server returns the running server, or nil before Ready
func (l *Loop) Server() *server.Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.server
}

// Serve runs until ctx is done
func (l *Loop) Serve(ctx context.Context) error {
	if l.opts.Run == nil {
		return errors.New("devloop: no task runner")
	}
	cfg := l.opts.Env.Config()
	log := logger.WithContext(ctx, l.logger)

	serverOpts := []server.Option{server.WithRecorder(l.opts.Recorder)}
	if l.opts.MetricsHandler != nil {
		serverOpts = append(serverOpts, server.WithMetricsHandler(l.opts.MetricsHandler))
	}
	srv := server.New(l.opts.Root, cfg.Server, l.logger, serverOpts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Server shutdown failed", logger.WithError(err))
		}
	}()

	queue := engine.NewRebuildQueue(l.rebuild, l.logger)
	queue.Start(ctx)
	defer queue.Stop()

	w, err := watcher.New(l.opts.Root, l.logger,
		watcher.WithSettlingDelay(time.Duration(cfg.Watch.SettlingDelay)*time.Millisecond),
		watcher.WithExclusions(cfg.Watch.Exclude))
	if err != nil {
		return err
	}
	defer w.Close()

	for _, sub := range Subscriptions(cfg) {
		handler := func(events []types.ChangeEvent) {
			files := changedFiles(events)
			if sub.Task == "" {
				srv.Reload(files)
				return
			}
			log.Info("Files changed",
				logger.WithField("task", sub.Task),
				logger.WithField("files", files))
			queue.Enqueue(sub.Task, files...)
		}
		if err := w.Watch(sub.Name, sub.Patterns, handler); err != nil {
			return err
		}
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	if l.opts.ConfigPath != "" {
		rm := config.NewReloadManager(l.opts.ConfigPath, l.logger)
		rm.AddCallback(func(next *types.Config, err error) {
			l.applyConfig(ctx, queue, next, err)
		})
		if err := rm.StartWatching(); err != nil {
			log.Warn("Configuration changes will not be picked up", logger.WithError(err))
		} else {
			defer rm.StopWatching()
		}
	}

	if l.opts.State != nil {
		l.opts.State.StartHeartbeat(ctx)
		defer l.opts.State.StopHeartbeat()
	}

	l.mu.Lock()
	l.server = srv
	l.queue = queue
	l.mu.Unlock()
	close(l.ready)

	log.Info("Watching for changes, press Ctrl+C to stop", logger.WithField("url", srv.URL()))
	<-ctx.Done()
	log.Info("Stopping development server")
	return nil
}

func (l *Loop) rebuild(ctx context.Context, req *engine.RebuildRequest) error {
	ctx = pctx.WithTrigger(ctx, Trigger)
	err := l.opts.Run(ctx, req.Task)
	if err != nil && !errors.Is(err, context.Canceled) {
		// the runner already logged the failure; keep watching
		l.logger.Debug("Rebuild failed",
			logger.WithField("task", req.Task),
			logger.WithField("request", req.ID))
	}
	return err
}

// applyConfig swaps in a reloaded configuration and rebuilds. Changes to
// watch globs or server settings need a restart.
func (l *Loop) applyConfig(ctx context.Context, queue *engine.RebuildQueue, next *types.Config, err error) {
	log := logger.WithContext(ctx, l.logger)
	if err != nil {
		log.Warn("Keeping the previous configuration", logger.WithError(err))
		return
	}

	prev := l.opts.Env.Config()
	l.opts.Env.SetConfig(next)
	if !reflect.DeepEqual(Subscriptions(prev), Subscriptions(next)) ||
		!reflect.DeepEqual(prev.Watch, next.Watch) ||
		prev.Server != next.Server {
		log.Warn("Watch or server settings changed; restart to apply them")
	}
	queue.Enqueue(tasks.TaskBuild)
}

func changedFiles(events []types.ChangeEvent) []string {
	files := make([]string, 0, len(events))
	for _, e := range events {
		files = append(files, e.Rel)
	}
	return files
}
