package shadowfs

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"grits/internal/logging"
)

// ExternalChange is one debounced filesystem event under the watched root,
// e.g. a human editing a file in an open editor while an atom run is in
// flight.
type ExternalChange struct {
	Path      string
	Op        string // always "modify"; the fsnotify operation is not distinguished
	Detected  time.Time
}

// Watcher advisorily watches a workspace root for file changes, ignoring
// paths inside .git. It does not tell this process's own writes (such as a
// Rollback's reset of the working tree) from anyone else's. It never blocks
// a caller and never vetoes anything: consumers decide what, if anything,
// to do with a change notification.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	root        string
	debounce    time.Duration
	pending     map[string]time.Time
	events      chan ExternalChange
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a Watcher for root. Call Start to begin watching.
func NewWatcher(root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		root:     root,
		debounce: 300 * time.Millisecond,
		pending:  make(map[string]time.Time),
		events:   make(chan ExternalChange, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Events returns the channel external changes are published on.
func (w *Watcher) Events() <-chan ExternalChange {
	return w.events
}

// Start begins watching root. Non-blocking; runs the event loop in a
// goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.root); err != nil {
		logging.Get(logging.CategoryShadowFS).Warn("watcher: failed to watch %s: %v", w.root, err)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.record(ev)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) record(ev fsnotify.Event) {
	if strings.Contains(ev.Name, string(filepath.Separator)+".git"+string(filepath.Separator)) || strings.HasSuffix(ev.Name, ".git") {
		return
	}
	w.mu.Lock()
	w.pending[ev.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, seen := range w.pending {
		if now.Sub(seen) >= w.debounce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		select {
		case w.events <- ExternalChange{Path: path, Op: "modify", Detected: now}:
		default:
			logging.Get(logging.CategoryShadowFS).Warn("watcher: event channel full, dropping %s", path)
		}
	}
}
