package engine

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

func TestRebuildQueue_CoalescesWhileRunning(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var mu sync.Mutex
	var got []*RebuildRequest

	q := NewRebuildQueue(func(ctx context.Context, req *RebuildRequest) error {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	id1 := q.Enqueue("css", "src/css/a.css")
	<-started

	if !q.Running("css") {
		t.Fatal("css should be running")
	}

	id2 := q.Enqueue("css", "src/css/c.css")
	id3 := q.Enqueue("css", "src/css/b.css", "src/css/c.css")
	if id2 != id3 {
		t.Errorf("requests during a run should merge: %s != %s", id2, id3)
	}
	if id1 == id2 {
		t.Error("pending request should be new")
	}
	if !q.Pending("css") {
		t.Error("css should have a pending rebuild")
	}

	close(release)
	q.WaitIdle()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if want := []string{"src/css/b.css", "src/css/c.css"}; !reflect.DeepEqual(got[1].Files, want) {
		t.Errorf("merged files = %v, want %v", got[1].Files, want)
	}
	if q.Running("css") || q.Pending("css") {
		t.Error("queue should be idle")
	}
}

func TestRebuildQueue_TasksAreIndependent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	q := NewRebuildQueue(func(ctx context.Context, req *RebuildRequest) error {
		started <- req.Task
		<-release
		return nil
	}, nil)
	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue("css")
	q.Enqueue("js")

	seen := map[string]bool{<-started: true, <-started: true}
	if !seen["css"] || !seen["js"] {
		t.Errorf("both tasks should run concurrently, saw %v", seen)
	}
	close(release)
	q.WaitIdle()
}

func TestRebuildQueue_StopCancels(t *testing.T) {
	started := make(chan struct{})
	q := NewRebuildQueue(func(ctx context.Context, req *RebuildRequest) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	q.Start(context.Background())

	q.Enqueue("compile")
	<-started
	q.Stop()

	if id := q.Enqueue("compile"); id != "" {
		t.Errorf("stopped queue accepted work: %s", id)
	}
	if q.Running("compile") {
		t.Error("worker should have exited")
	}
}
