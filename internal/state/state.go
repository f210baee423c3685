// Package state provides persistent task run state for haunt
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/process"
	"github.com/poltergeist/haunt/pkg/types"
	"github.com/poltergeist/haunt/pkg/utils"
)

// Dir is the project-relative directory holding haunt's own files
const Dir = ".haunt"

const heartbeatInterval = 10 * time.Second

// TaskState is the persistent state of a task
type TaskState struct {
	TaskName     string           `json:"taskName"`
	Status       types.TaskStatus `json:"status"`
	LastRunTime  time.Time        `json:"lastRunTime"`
	LastRunID    string           `json:"lastRunId,omitempty"`
	Trigger      string           `json:"trigger,omitempty"`
	RunCount     int              `json:"runCount"`
	FailureCount int              `json:"failureCount"`
	ProcessID    int              `json:"processId"`
	Heartbeat    time.Time        `json:"heartbeat"`
	LastError    string           `json:"lastError,omitempty"`
	Duration     time.Duration    `json:"duration,omitempty"`
}

// StateManager handles persistent state files
type StateManager struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	states         map[string]*TaskState
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// StateDir returns the state directory of a project
func StateDir(projectRoot string) string {
	return filepath.Join(projectRoot, Dir, "state")
}

// NewStateManager creates a new state manager
func NewStateManager(projectRoot string, log logger.Logger) *StateManager {
	if log == nil {
		log = logger.Nop()
	}
	return &StateManager{
		stateDir: StateDir(projectRoot),
		logger:   log,
		states:   make(map[string]*TaskState),
	}
}

// InitializeState creates or refreshes the state of a task, keeping the
// counters of a previous run
func (sm *StateManager) InitializeState(task string) (*TaskState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.initLocked(task)
}

func (sm *StateManager) initLocked(task string) (*TaskState, error) {
	if s, ok := sm.states[task]; ok {
		return s, nil
	}

	s := &TaskState{
		TaskName:  task,
		Status:    types.TaskStatusIdle,
		ProcessID: os.Getpid(),
		Heartbeat: time.Now(),
	}

	if existing, err := sm.loadStateFile(task); err == nil {
		s.Status = existing.Status
		s.RunCount = existing.RunCount
		s.FailureCount = existing.FailureCount
		s.LastRunTime = existing.LastRunTime
		s.LastRunID = existing.LastRunID
		s.Trigger = existing.Trigger
		s.LastError = existing.LastError
		s.Duration = existing.Duration
		if s.Status == types.TaskStatusRunning {
			// left behind by a process that did not shut down cleanly
			s.Status = types.TaskStatusIdle
		}
	}

	if err := sm.saveStateFile(s); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[task] = s
	return s, nil
}

// ReadState returns a copy of the state of a task
func (sm *StateManager) ReadState(task string) (*TaskState, error) {
	sm.mu.RLock()
	if s, ok := sm.states[task]; ok {
		cp := *s
		sm.mu.RUnlock()
		return &cp, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(task)
}

// MarkRunning records the start of a task run
func (sm *StateManager) MarkRunning(task, runID, trigger string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, err := sm.initLocked(task)
	if err != nil {
		return err
	}
	s.Status = types.TaskStatusRunning
	s.LastRunID = runID
	s.Trigger = trigger
	s.ProcessID = os.Getpid()
	s.Heartbeat = time.Now()
	return sm.saveStateFile(s)
}

// MarkFinished records the outcome of a task run
func (sm *StateManager) MarkFinished(task string, duration time.Duration, runErr error) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, err := sm.initLocked(task)
	if err != nil {
		return err
	}

	now := time.Now()
	s.LastRunTime = now
	s.Heartbeat = now
	s.Duration = duration
	s.RunCount++
	if runErr != nil {
		s.Status = types.TaskStatusFailed
		s.FailureCount++
		s.LastError = runErr.Error()
	} else {
		s.Status = types.TaskStatusSucceeded
		s.LastError = ""
	}
	return sm.saveStateFile(s)
}

// RemoveState removes the state of a task
func (sm *StateManager) RemoveState(task string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, task)

	if err := os.Remove(sm.getStateFilePath(task)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// IsLocked reports whether a task is running in another live process
func (sm *StateManager) IsLocked(task string) (bool, error) {
	s, err := sm.loadStateFile(task)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if s.Status != types.TaskStatusRunning || s.ProcessID == os.Getpid() || s.ProcessID <= 0 {
		return false, nil
	}

	// consider the owner dead if it stopped beating
	if time.Since(s.Heartbeat) > 3*heartbeatInterval {
		return false, nil
	}

	return process.IsAlive(s.ProcessID), nil
}

// DiscoverStates reads every state file in the state directory
func (sm *StateManager) DiscoverStates() (map[string]*TaskState, error) {
	states := make(map[string]*TaskState)

	files, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		task := strings.TrimSuffix(file.Name(), ".json")
		s, err := sm.loadStateFile(task)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("task", task),
				logger.WithError(err))
			continue
		}
		states[task] = s
	}
	return states, nil
}

// StartHeartbeat keeps the heartbeat of running tasks fresh until ctx is
// done or StopHeartbeat is called
func (sm *StateManager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return
	}

	stop := make(chan struct{})
	ticker := time.NewTicker(heartbeatInterval)
	sm.heartbeatStop = stop
	sm.heartbeatTimer = ticker

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (sm *StateManager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}
	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup stops the heartbeat and releases tasks still marked running
func (sm *StateManager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, s := range sm.states {
		if s.Status == types.TaskStatusRunning {
			s.Status = types.TaskStatusIdle
		}
		s.ProcessID = 0
		if err := sm.saveStateFile(s); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("task", s.TaskName),
				logger.WithError(err))
		}
	}
	return nil
}

func (sm *StateManager) getStateFilePath(task string) string {
	return filepath.Join(sm.stateDir, task+".json")
}

func (sm *StateManager) loadStateFile(task string) (*TaskState, error) {
	data, err := os.ReadFile(sm.getStateFilePath(task))
	if err != nil {
		return nil, err
	}

	var s TaskState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &s, nil
}

func (sm *StateManager) saveStateFile(s *TaskState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := utils.WriteFile(sm.getStateFilePath(s.TaskName), data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func (sm *StateManager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, s := range sm.states {
		if s.Status != types.TaskStatusRunning {
			continue
		}
		s.Heartbeat = now
		if err := sm.saveStateFile(s); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("task", s.TaskName),
				logger.WithError(err))
		}
	}
}
