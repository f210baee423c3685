package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/haunt/pkg/types"
)

type collector struct {
	mu      sync.Mutex
	batches [][]types.ChangeEvent
}

func (c *collector) handle(events []types.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, events)
}

func (c *collector) rels() map[string]types.ChangeType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]types.ChangeType)
	for _, b := range c.batches {
		for _, e := range b {
			out[e.Rel] = e.Type
		}
	}
	return out
}

func (c *collector) has(rel string) func() bool {
	return func() bool {
		_, ok := c.rels()[rel]
		return ok
	}
}

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(root, nil,
		WithSettlingDelay(20*time.Millisecond),
		WithExclusions([]string{"node_modules", ".haunt"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0755))
	}
}

func write(t *testing.T, root, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte(contents), 0644))
}

func TestWatcher_DispatchesMatchingChanges(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src/css", "src/js", "node_modules/pkg")

	w := startWatcher(t, root)
	styles, scripts := &collector{}, &collector{}
	require.NoError(t, w.Watch("styles", []string{"src/css/**/*.css"}, styles.handle))
	require.NoError(t, w.Watch("scripts", []string{"src/js/**/*.js"}, scripts.handle))
	require.NoError(t, w.Start(context.Background()))

	write(t, root, "src/css/a.css", "a{}")
	write(t, root, "src/css/notes.txt", "x")

	assert.Eventually(t, styles.has("src/css/a.css"), 2*time.Second, 10*time.Millisecond)
	_, ok := styles.rels()["src/css/notes.txt"]
	assert.False(t, ok)
	assert.Empty(t, scripts.rels())
}

func TestWatcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src/css")

	w := startWatcher(t, root)
	c := &collector{}
	require.NoError(t, w.Watch("styles", []string{"src/css/**/*.css"}, c.handle))
	require.NoError(t, w.Start(context.Background()))

	mkdirs(t, root, "src/css/components")
	write(t, root, "src/css/components/button.css", ".b{}")

	assert.Eventually(t, c.has("src/css/components/button.css"), 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, w.WatchList(), filepath.Join(w.root, "src/css/components"))
}

func TestWatcher_Exclusions(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "node_modules/pkg", "src")

	w := startWatcher(t, root)
	c := &collector{}
	require.NoError(t, w.Watch("all", []string{"**/*"}, c.handle))
	require.NoError(t, w.Start(context.Background()))

	assert.NotContains(t, w.WatchList(), filepath.Join(w.root, "node_modules"))

	write(t, root, "node_modules/pkg/index.js", "x")
	write(t, root, "src/app.js", "y")

	assert.Eventually(t, c.has("src/app.js"), 2*time.Second, 10*time.Millisecond)
	_, ok := c.rels()["node_modules/pkg/index.js"]
	assert.False(t, ok)
}

func TestWatcher_Removal(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "build")
	write(t, root, "build/index.html", "<p>")

	w := startWatcher(t, root)
	c := &collector{}
	require.NoError(t, w.Watch("reload", []string{"build/**/*"}, c.handle))
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(root, "build/index.html")))

	assert.Eventually(t, func() bool {
		return c.rels()["build/index.html"] == types.ChangeTypeRemoved
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_UnwatchAndReplace(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "src")

	w := startWatcher(t, root)
	first, second := &collector{}, &collector{}
	require.NoError(t, w.Watch("sub", []string{"src/*.js"}, first.handle))
	require.NoError(t, w.Watch("sub", []string{"src/*.js"}, second.handle))
	require.NoError(t, w.Start(context.Background()))

	write(t, root, "src/a.js", "1")
	assert.Eventually(t, second.has("src/a.js"), 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, first.rels())

	w.Unwatch("sub")
	write(t, root, "src/b.js", "2")
	time.Sleep(100 * time.Millisecond)
	_, ok := second.rels()["src/b.js"]
	assert.False(t, ok)
}

func TestWatcher_InvalidPattern(t *testing.T) {
	w := startWatcher(t, t.TempDir())
	assert.Error(t, w.Watch("bad", []string{"src/[.js"}, func([]types.ChangeEvent) {}))
}

func TestWatcher_Closed(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Watch("x", []string{"*"}, func([]types.ChangeEvent) {}), ErrClosed)
	assert.ErrorIs(t, w.Start(context.Background()), ErrClosed)
}
