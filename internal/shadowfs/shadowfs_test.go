package shadowfs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found on PATH")
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func TestOpenInitializesRepo(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()

	_, err := Open(ctx, root)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, ".git"))
}

func TestSnapshotSucceedsOnCleanTree(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "hello")
	snap1, err := sfs.Snapshot(ctx, "first")
	require.NoError(t, err)

	snap2, err := sfs.Snapshot(ctx, "second (empty)")
	require.NoError(t, err)
	assert.NotEqual(t, snap1.Hash, snap2.Hash)
	assert.Len(t, sfs.GetHistory(0), 2)
}

func TestRollbackRestoresWorkingTree(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v1")
	_, err = sfs.Snapshot(ctx, "v1")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v2")
	_, err = sfs.Snapshot(ctx, "v2")
	require.NoError(t, err)

	require.NoError(t, sfs.Rollback(ctx))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Len(t, sfs.GetHistory(0), 1)
}

func TestRollbackRequiresTwoSnapshots(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	_, err = sfs.Snapshot(ctx, "only")
	require.NoError(t, err)

	err = sfs.Rollback(ctx)
	assert.Error(t, err)
}

func TestRollbackToTruncatesStackAboveTarget(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v1")
	snap1, err := sfs.Snapshot(ctx, "v1")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v2")
	_, err = sfs.Snapshot(ctx, "v2")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v3")
	_, err = sfs.Snapshot(ctx, "v3")
	require.NoError(t, err)

	require.NoError(t, sfs.RollbackTo(ctx, snap1.ID))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	assert.Len(t, sfs.GetHistory(0), 1)
}

func TestSquashCollapsesStackToOneCommit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v1")
	_, err = sfs.Snapshot(ctx, "v1")
	require.NoError(t, err)

	writeFile(t, root, "b.txt", "v2")
	_, err = sfs.Snapshot(ctx, "v2")
	require.NoError(t, err)

	squashed, err := sfs.Squash(ctx, "final")
	require.NoError(t, err)

	history := sfs.GetHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, squashed.ID, history[0].ID)

	assert.FileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b.txt"))
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	root := t.TempDir()
	sfs, err := Open(ctx, root)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := sfs.Snapshot(ctx, "snap")
		require.NoError(t, err)
	}

	assert.Len(t, sfs.GetHistory(2), 2)
	assert.Len(t, sfs.GetHistory(0), 3)
	assert.Len(t, sfs.GetHistory(100), 3)
}
