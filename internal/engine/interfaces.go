package engine

import (
	"context"
)

// Task is a named, invocable build step. A task without work of its own
// only groups its dependencies.
type Task interface {
	Name() string
	Description() string
	Deps() []string
	Run(ctx context.Context) error
}

// Func adapts a function into a Task
type Func struct {
	TaskName     string
	Desc         string
	Dependencies []string
	Fn           func(ctx context.Context) error
}

// NewFunc creates a task from fn. fn may be nil for a composite task.
func NewFunc(name, desc string, deps []string, fn func(ctx context.Context) error) *Func {
	return &Func{TaskName: name, Desc: desc, Dependencies: deps, Fn: fn}
}

// Composite creates a task that only runs its dependencies
func Composite(name, desc string, deps ...string) *Func {
	return NewFunc(name, desc, deps, nil)
}

func (f *Func) Name() string        { return f.TaskName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Deps() []string      { return f.Dependencies }

// Run implements Task
func (f *Func) Run(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}
