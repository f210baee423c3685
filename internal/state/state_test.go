package state_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/haunt/internal/state"
	"github.com/poltergeist/haunt/pkg/types"
)

func TestStateManager_InitializeState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	s, err := sm.InitializeState("css")
	if err != nil {
		t.Fatalf("failed to initialize state: %v", err)
	}

	if s.TaskName != "css" {
		t.Errorf("expected task name 'css', got %s", s.TaskName)
	}
	if s.Status != types.TaskStatusIdle {
		t.Errorf("expected idle status, got %s", s.Status)
	}
	if s.ProcessID != os.Getpid() {
		t.Errorf("expected current PID, got %d", s.ProcessID)
	}

	stateFile := filepath.Join(tmpDir, ".haunt", "state", "css.json")
	if _, err := os.Stat(stateFile); os.IsNotExist(err) {
		t.Error("state file was not created")
	}
}

func TestStateManager_RunLifecycle(t *testing.T) {
	sm := state.NewStateManager(t.TempDir(), nil)

	if err := sm.MarkRunning("js", "run_1", "watch"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	s, err := sm.ReadState("js")
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if s.Status != types.TaskStatusRunning || s.LastRunID != "run_1" || s.Trigger != "watch" {
		t.Errorf("unexpected running state: %+v", s)
	}

	if err := sm.MarkFinished("js", 20*time.Millisecond, nil); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}
	if err := sm.MarkFinished("js", 10*time.Millisecond, errors.New("boom")); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}

	s, _ = sm.ReadState("js")
	if s.Status != types.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", s.Status)
	}
	if s.RunCount != 2 || s.FailureCount != 1 {
		t.Errorf("expected 2 runs and 1 failure, got %d and %d", s.RunCount, s.FailureCount)
	}
	if s.LastError != "boom" {
		t.Errorf("expected last error 'boom', got %q", s.LastError)
	}
	if s.Duration != 10*time.Millisecond {
		t.Errorf("expected duration 10ms, got %v", s.Duration)
	}

	if err := sm.MarkFinished("js", time.Millisecond, nil); err != nil {
		t.Fatalf("MarkFinished: %v", err)
	}
	s, _ = sm.ReadState("js")
	if s.Status != types.TaskStatusSucceeded || s.LastError != "" {
		t.Errorf("success should clear the last error: %+v", s)
	}
}

func TestStateManager_ReadStateReturnsCopy(t *testing.T) {
	sm := state.NewStateManager(t.TempDir(), nil)
	if _, err := sm.InitializeState("fonts"); err != nil {
		t.Fatal(err)
	}

	s, _ := sm.ReadState("fonts")
	s.RunCount = 99

	again, _ := sm.ReadState("fonts")
	if again.RunCount != 0 {
		t.Errorf("mutating a read state leaked into the manager")
	}
}

func TestStateManager_PreservesCountersAcrossManagers(t *testing.T) {
	tmpDir := t.TempDir()

	first := state.NewStateManager(tmpDir, nil)
	if err := first.MarkRunning("images", "run_a", "cli"); err != nil {
		t.Fatal(err)
	}
	if err := first.MarkFinished("images", time.Second, nil); err != nil {
		t.Fatal(err)
	}

	second := state.NewStateManager(tmpDir, nil)
	s, err := second.InitializeState("images")
	if err != nil {
		t.Fatal(err)
	}
	if s.RunCount != 1 || s.Status != types.TaskStatusSucceeded {
		t.Errorf("expected preserved counters, got %+v", s)
	}
}

func TestStateManager_StaleRunningStateIsReset(t *testing.T) {
	tmpDir := t.TempDir()
	dir := state.StateDir(tmpDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(state.TaskState{TaskName: "css", Status: types.TaskStatusRunning, ProcessID: 1})
	if err := os.WriteFile(filepath.Join(dir, "css.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	sm := state.NewStateManager(tmpDir, nil)
	s, err := sm.InitializeState("css")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != types.TaskStatusIdle {
		t.Errorf("expected idle, got %s", s.Status)
	}
}

func TestStateManager_RemoveState(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	if _, err := sm.InitializeState("clean"); err != nil {
		t.Fatal(err)
	}
	if err := sm.RemoveState("clean"); err != nil {
		t.Fatalf("RemoveState: %v", err)
	}

	if _, err := os.Stat(filepath.Join(state.StateDir(tmpDir), "clean.json")); !os.IsNotExist(err) {
		t.Error("state file should be removed")
	}
	if _, err := sm.ReadState("clean"); err == nil {
		t.Error("expected error reading removed state")
	}

	// removing twice is fine
	if err := sm.RemoveState("clean"); err != nil {
		t.Errorf("second RemoveState: %v", err)
	}
}

func TestStateManager_IsLocked(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	locked, err := sm.IsLocked("missing")
	if err != nil || locked {
		t.Errorf("missing state should not be locked: %v %v", locked, err)
	}

	if err := sm.MarkRunning("css", "run_1", "cli"); err != nil {
		t.Fatal(err)
	}
	locked, err = sm.IsLocked("css")
	if err != nil {
		t.Fatal(err)
	}
	if locked {
		t.Error("own process should not hold a lock")
	}

	dir := state.StateDir(tmpDir)
	stale := state.TaskState{
		TaskName:  "js",
		Status:    types.TaskStatusRunning,
		ProcessID: os.Getpid() + 100000,
		Heartbeat: time.Now().Add(-time.Hour),
	}
	data, _ := json.Marshal(stale)
	if err := os.WriteFile(filepath.Join(dir, "js.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	locked, err = sm.IsLocked("js")
	if err != nil {
		t.Fatal(err)
	}
	if locked {
		t.Error("state with a stale heartbeat should not be locked")
	}
}

func TestStateManager_DiscoverStates(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	states, err := sm.DiscoverStates()
	if err != nil {
		t.Fatalf("DiscoverStates on empty dir: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("expected no states, got %d", len(states))
	}

	for _, name := range []string{"css", "js", "compile"} {
		if _, err := sm.InitializeState(name); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(state.StateDir(tmpDir), "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(state.StateDir(tmpDir), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	states, err = sm.DiscoverStates()
	if err != nil {
		t.Fatalf("DiscoverStates: %v", err)
	}
	if len(states) != 3 {
		t.Errorf("expected 3 states, got %d", len(states))
	}
	for _, name := range []string{"css", "js", "compile"} {
		if _, ok := states[name]; !ok {
			t.Errorf("state %s not discovered", name)
		}
	}
}

func TestStateManager_Cleanup(t *testing.T) {
	tmpDir := t.TempDir()
	sm := state.NewStateManager(tmpDir, nil)

	if err := sm.MarkRunning("dev", "run_1", "cli"); err != nil {
		t.Fatal(err)
	}
	if err := sm.MarkRunning("css", "run_1", "cli"); err != nil {
		t.Fatal(err)
	}
	if err := sm.MarkFinished("css", time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}

	if err := sm.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	fresh := state.NewStateManager(tmpDir, nil)
	states, err := fresh.DiscoverStates()
	if err != nil {
		t.Fatal(err)
	}
	if states["dev"].Status != types.TaskStatusIdle {
		t.Errorf("running task should be idle after cleanup, got %s", states["dev"].Status)
	}
	if states["css"].Status != types.TaskStatusSucceeded {
		t.Errorf("finished task should keep its status, got %s", states["css"].Status)
	}
	if states["css"].ProcessID != 0 {
		t.Errorf("expected process id cleared, got %d", states["css"].ProcessID)
	}
}

func TestStateManager_Concurrency(t *testing.T) {
	sm := state.NewStateManager(t.TempDir(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := fmt.Sprintf("task-%d", i%3)
			if err := sm.MarkRunning(task, fmt.Sprintf("run_%d", i), "cli"); err != nil {
				t.Errorf("MarkRunning: %v", err)
				return
			}
			if err := sm.MarkFinished(task, time.Millisecond, nil); err != nil {
				t.Errorf("MarkFinished: %v", err)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 3; i++ {
		s, err := sm.ReadState(fmt.Sprintf("task-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		total += s.RunCount
	}
	if total != 10 {
		t.Errorf("expected 10 recorded runs, got %d", total)
	}
}

func BenchmarkStateManager_MarkFinished(b *testing.B) {
	sm := state.NewStateManager(b.TempDir(), nil)
	if _, err := sm.InitializeState("bench"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sm.MarkFinished("bench", time.Millisecond, nil)
	}
}
