// Package engine runs haunt's tasks. It holds the task registry, the runner
// that executes a task after its dependencies, and the rebuild queue used by
// watch mode.
package engine

// The implementation is split across files:
// - interfaces.go: Task and the function adapter
// - registry.go: registration, lookup and dependency validation
// - runner.go: dependency-ordered execution and per-run bookkeeping
// - queue.go: per-task rebuild queue for watch mode
// - factory.go: default runner dependencies
// - safegroup.go: panic-safe concurrency utilities
