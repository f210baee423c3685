// Package watcher provides recursive, debounced file watching on top of
// fsnotify. Subscribers register glob patterns and receive batches of the
// changes that settled since the last batch.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/types"
	"github.com/poltergeist/haunt/pkg/utils"
)

const defaultSettlingDelay = 100 * time.Millisecond

// ErrClosed is returned when using a closed watcher
var ErrClosed = errors.New("watcher closed")

// Handler receives the settled changes matching a subscription
type Handler func(events []types.ChangeEvent)

type subscription struct {
	name    string
	matcher *utils.PatternMatcher
	handler Handler
}

// Watcher watches a project tree
type Watcher struct {
	root       string
	logger     logger.Logger
	settling   time.Duration
	exclusions *utils.ExclusionMatcher

	fs *fsnotify.Watcher

	mu      sync.Mutex
	subs    []*subscription
	pending map[string]types.ChangeEvent
	timer   *time.Timer
	started bool
	closed  bool

	wg sync.WaitGroup
}

// Option configures a Watcher
type Option func(*Watcher) error

// WithSettlingDelay sets how long the tree must be quiet before a batch is
// dispatched
func WithSettlingDelay(d time.Duration) Option {
	return func(w *Watcher) error {
		if d > 0 {
			w.settling = d
		}
		return nil
	}
}

// WithExclusions skips paths under the given names or globs
func WithExclusions(patterns []string) Option {
	return func(w *Watcher) error {
		em, err := utils.NewExclusionMatcher(patterns)
		if err != nil {
			return err
		}
		w.exclusions = em
		return nil
	}
}

// New creates a watcher for root
func New(root string, log logger.Logger, opts ...Option) (*Watcher, error) {
	if log == nil {
		log = logger.Nop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     abs,
		logger:   log,
		settling: defaultSettlingDelay,
		pending:  make(map[string]types.ChangeEvent),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w.fs = fw
	return w, nil
}

// Watch subscribes handler to changes of root-relative paths matching
// patterns. A name already in use is replaced.
func (w *Watcher) Watch(name string, patterns []string, handler Handler) error {
	matcher, err := utils.NewPatternMatcher(patterns)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	sub := &subscription{name: name, matcher: matcher, handler: handler}
	for i, s := range w.subs {
		if s.name == name {
			w.subs[i] = sub
			return nil
		}
	}
	w.subs = append(w.subs, sub)
	return nil
}

// Unwatch removes a subscription
func (w *Watcher) Unwatch(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.subs {
		if s.name == name {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			return
		}
	}
}

// Start adds the directory tree and processes events until ctx is done or
// the watcher is closed
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if _, err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("Watching for changes",
		logger.WithField("root", w.root),
		logger.WithField("directories", len(w.fs.WatchList())))
	return nil
}

// Close stops watching; pending changes are dropped
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = make(map[string]types.ChangeEvent)
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}

// WatchList returns the watched directories
func (w *Watcher) WatchList() []string {
	list := w.fs.WatchList()
	sort.Strings(list)
	return list
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", logger.WithError(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	rel, ok := w.relative(event.Name)
	if !ok || w.excluded(rel) {
		return
	}

	var change types.ChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = types.ChangeTypeCreated
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			files, err := w.addTree(event.Name)
			if err != nil {
				w.logger.Warn("Failed to watch new directory",
					logger.WithField("dir", rel),
					logger.WithError(err))
			}
			// files written before the directory was added
			for _, f := range files {
				if frel, ok := w.relative(f); ok {
					w.queue(f, frel, types.ChangeTypeCreated)
				}
			}
			return
		}
	case event.Has(fsnotify.Write):
		change = types.ChangeTypeModified
	case event.Has(fsnotify.Remove):
		change = types.ChangeTypeRemoved
	case event.Has(fsnotify.Rename):
		change = types.ChangeTypeRenamed
	default:
		return
	}
	w.queue(event.Name, rel, change)
}

func (w *Watcher) queue(path, rel string, change types.ChangeType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if prev, ok := w.pending[rel]; ok && prev.Type == types.ChangeTypeCreated && change == types.ChangeTypeModified {
		change = types.ChangeTypeCreated
	}
	w.pending[rel] = types.ChangeEvent{
		Path:      path,
		Rel:       rel,
		Timestamp: time.Now(),
		Type:      change,
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.settling, w.flush)
	} else {
		w.timer.Reset(w.settling)
	}
}

// flush dispatches the settled batch to every matching subscription
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	events := make([]types.ChangeEvent, 0, len(w.pending))
	for _, e := range w.pending {
		events = append(events, e)
	}
	w.pending = make(map[string]types.ChangeEvent)
	subs := make([]*subscription, len(w.subs))
	copy(subs, w.subs)
	w.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Rel < events[j].Rel })

	for _, sub := range subs {
		var matched []types.ChangeEvent
		for _, e := range events {
			if sub.matcher.Match(e.Rel) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		w.logger.Debug("Changes matched",
			logger.WithField("subscription", sub.name),
			logger.WithField("files", len(matched)))
		sub.handler(matched)
	}
}

// addTree watches dir and its subdirectories and returns the files found
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// vanished while walking
			return nil
		}
		rel, ok := w.relative(path)
		if ok && rel != "." && w.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				logger.WithField("dir", path),
				logger.WithError(err))
		}
		return nil
	})
	return files, err
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) excluded(rel string) bool {
	return w.exclusions != nil && w.exclusions.IsExcluded(rel)
}
