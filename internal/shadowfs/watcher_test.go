package shadowfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsExternalWrite(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(root, "external.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	select {
	case ev := <-w.Events():
		assert.Equal(t, path, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for external change event")
	}
}

func TestWatcherIgnoresGitInternals(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))

	w, err := NewWatcher(root)
	require.NoError(t, err)
	w.record(fsnotify.Event{Name: filepath.Join(root, ".git", "index"), Op: fsnotify.Write})

	w.mu.Lock()
	_, tracked := w.pending[filepath.Join(root, ".git", "index")]
	w.mu.Unlock()
	assert.False(t, tracked)
}
