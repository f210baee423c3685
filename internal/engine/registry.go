package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrTaskNotFound is returned for unknown task names
	ErrTaskNotFound = errors.New("task not found")
	// ErrDependencyCycle is returned when tasks depend on each other
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrDuplicateTask is returned when a name is registered twice
	ErrDuplicateTask = errors.New("task already registered")
)

// Registry holds the known tasks
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	aliases map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tasks:   make(map[string]Task),
		aliases: make(map[string]string),
	}
}

// Register adds tasks to the registry
func (r *Registry) Register(tasks ...Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tasks {
		name := t.Name()
		if name == "" {
			return fmt.Errorf("task name must not be empty")
		}
		if _, ok := r.tasks[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
		}
		if _, ok := r.aliases[name]; ok {
			return fmt.Errorf("%w: %s is an alias", ErrDuplicateTask, name)
		}
		r.tasks[name] = t
	}
	return nil
}

// Alias makes alias resolve to the task name
func (r *Registry) Alias(alias, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[alias]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, alias)
	}
	if _, ok := r.tasks[name]; !ok {
		return fmt.Errorf("alias %s: %w: %s", alias, ErrTaskNotFound, name)
	}
	r.aliases[alias] = name
	return nil
}

// Resolve returns the task name an alias points to, or name itself
func (r *Registry) Resolve(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}

// Lookup finds a task by name or alias
func (r *Registry) Lookup(name string) (Task, error) {
	name = r.Resolve(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return t, nil
}

// Names returns the registered task names, sorted. Aliases are not included.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns a copy of the alias table
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		out[k] = v
	}
	return out
}

// Validate checks that every dependency exists and that there are no cycles
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, dep := range r.tasks[name].Deps() {
			if _, ok := r.tasks[r.resolveLocked(dep)]; !ok {
				return fmt.Errorf("task %s: dependency %w: %s", name, ErrTaskNotFound, dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	marks := make(map[string]int, len(names))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		case visited:
			return nil
		}

		marks[name] = visiting
		path = append(path, name)
		for _, dep := range r.tasks[name].Deps() {
			if err := visit(r.resolveLocked(dep)); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[name] = visited
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Plan lists the tasks that running names would execute, dependencies
// first. The registry must be valid.
func (r *Registry) Plan(names ...string) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var order []string
	seen := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		name = r.resolveLocked(name)
		t, ok := r.tasks[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
		}
		if seen[name] {
			return nil
		}
		seen[name] = true
		for _, dep := range t.Deps() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (r *Registry) resolveLocked(name string) string {
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}
