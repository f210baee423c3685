// Package tasks defines haunt's build tasks. Each task is a one-directional
// pipeline: read a source set, apply ordered transforms, write the result.
package tasks

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/poltergeist/haunt/internal/engine"
	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/pkg/config"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/notifier"
	"github.com/poltergeist/haunt/pkg/types"
)

// Env is what tasks run against. The configuration may be swapped while
// watching; each run reads it once at start.
type Env struct {
	Root     string
	Logger   logger.Logger
	Recorder metrics.Recorder
	Notifier *notifier.TaskNotifier
	// Output receives lint reports
	Output io.Writer
	// Strict makes lint tasks fail on error-severity problems
	Strict bool
	// CleanState makes clean also remove haunt's state directory
	CleanState bool
	// Production reports whether outputs are minified
	Production func() bool

	mu     sync.RWMutex
	config *types.Config
}

// NewEnv creates an environment for the project at root
func NewEnv(root string, cfg *types.Config, log logger.Logger) *Env {
	if log == nil {
		log = logger.Nop()
	}
	return &Env{
		Root:       root,
		Logger:     log,
		Recorder:   metrics.NoopRecorder{},
		Output:     os.Stdout,
		Production: config.IsProduction,
		config:     cfg,
	}
}

// Config returns the current configuration
func (e *Env) Config() *types.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// SetConfig replaces the configuration for subsequent runs
func (e *Env) SetConfig(cfg *types.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
}

func (e *Env) production() bool {
	return e.Production != nil && e.Production()
}

func (e *Env) log(ctx context.Context) logger.Logger {
	return logger.WithContext(ctx, e.Logger)
}

func (e *Env) recorder() metrics.Recorder {
	if e.Recorder == nil {
		return metrics.NoopRecorder{}
	}
	return e.Recorder
}

func (e *Env) output() io.Writer {
	if e.Output == nil {
		return io.Discard
	}
	return e.Output
}

// Leaf task names
const (
	TaskCSS       = "css"
	TaskJS        = "js"
	TaskCompile   = "compile"
	TaskImages    = "images"
	TaskFonts     = "fonts"
	TaskESLint    = "eslint"
	TaskStylelint = "stylelint"
	TaskClean     = "clean"
)

// Composite and server task names
const (
	TaskLint        = "lint"
	TaskBuild       = "build"
	TaskDefault     = "default"
	TaskDev         = "dev"
	TaskBrowserSync = "browserSync"
	AliasServe      = "serve"
)

// BuildTasks are the tasks the build task depends on
var BuildTasks = []string{TaskCompile, TaskCSS, TaskJS, TaskImages, TaskFonts}

// Register adds every task to reg. serve implements browserSync; when it
// is nil the browserSync, serve and dev tasks are not registered.
func Register(reg *engine.Registry, env *Env, serve func(ctx context.Context) error) error {
	tasks := []engine.Task{
		engine.NewFunc(TaskCSS, "Process, bundle and prefix stylesheets", nil, env.runStyles),
		engine.NewFunc(TaskJS, "Bundle and transpile scripts", nil, env.runScripts),
		engine.NewFunc(TaskCompile, "Render Handlebars templates to HTML", nil, env.runCompile),
		engine.NewFunc(TaskImages, "Optimise images", nil, env.runImages),
		engine.NewFunc(TaskFonts, "Copy fonts", nil, env.runFonts),
		engine.NewFunc(TaskESLint, "Lint scripts", nil, env.runESLint),
		engine.NewFunc(TaskStylelint, "Lint stylesheets", nil, env.runStylelint),
		engine.NewFunc(TaskClean, "Remove the build directory", nil, env.runClean),
		engine.Composite(TaskLint, "Run all linters", TaskESLint, TaskStylelint),
		engine.Composite(TaskBuild, "Build everything", BuildTasks...),
		engine.Composite(TaskDefault, "Build everything", TaskBuild),
	}
	if serve != nil {
		tasks = append(tasks,
			engine.NewFunc(TaskBrowserSync, "Serve the build directory and rebuild on change", nil, serve),
			engine.Composite(TaskDev, "Build, then serve with live reload", TaskBuild, TaskBrowserSync),
		)
	}

	if err := reg.Register(tasks...); err != nil {
		return err
	}
	if serve != nil {
		if err := reg.Alias(AliasServe, TaskBrowserSync); err != nil {
			return err
		}
	}
	return reg.Validate()
}
