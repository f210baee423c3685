// Package process handles signals and shutdown for long-running commands
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/poltergeist/haunt/pkg/logger"
)

// ExitCodeInterrupted is used when a second signal forces an exit
const ExitCodeInterrupted = 130

// Manager cancels work on the first interrupt and forces an exit on the
// second. Shutdown handlers run once, most recently registered first.
type Manager struct {
	logger   logger.Logger
	handlers []func()
	once     sync.Once
	mu       sync.Mutex
	wg       sync.WaitGroup

	// exit is replaced in tests
	exit func(code int)
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		logger: log,
		exit:   os.Exit,
	}
}

// RegisterShutdownHandler adds a shutdown handler
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// WithSignals returns a context canceled on SIGINT, SIGTERM or SIGHUP. A
// second signal runs the shutdown handlers and exits the process. The
// returned stop function releases the signal handlers.
func (m *Manager) WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case sig := <-sigChan:
			m.logger.Info("Received signal, shutting down", logger.WithField("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigChan:
			m.logger.Warn("Received second signal, exiting", logger.WithField("signal", sig.String()))
			m.Shutdown()
			m.exit(ExitCodeInterrupted)
		case <-done:
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
			m.wg.Wait()
		})
	}
	return ctx, stop
}

// Shutdown runs the shutdown handlers once
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		handlers := make([]func(), len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		for i := len(handlers) - 1; i >= 0; i-- {
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.logger.Error("Shutdown handler panicked", logger.WithField("panic", r))
					}
				}()
				handlers[i]()
			}()
		}
	})
}

// IsAlive reports whether a process with pid exists
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
