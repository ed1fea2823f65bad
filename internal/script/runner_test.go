package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grits/internal/layers"
	"grits/internal/shadowfs"
)

func TestRunnerRejectsForbiddenImport(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil, layers.Default())
	code := `
import "net/http"

func Main() error {
	return nil
}
`
	outcome := r.Run(context.Background(), code, Options{})
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "forbidden imports")

	lastKind := outcome.Log[len(outcome.Log)-1].Kind
	assert.Equal(t, EventScriptEnd, lastKind)
}

func TestRunnerExecutesScriptCallingHostFunctions(t *testing.T) {
	pool := testAtomPool(t, "hello from atom")
	r := NewRunner(pool, nil, nil, nil, layers.Default())

	code := `
package main

import "grits/host"

func Main() error {
	host.Log("running")
	host.SpawnAtom("Search", "look around")
	return nil
}
`
	outcome := r.Run(context.Background(), code, Options{})
	require.NoError(t, outcome.Err)

	kinds := make(map[EventKind]int)
	for _, ev := range outcome.Log {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[EventScriptStart])
	assert.Equal(t, 1, kinds[EventAtomSpawned])
	assert.Equal(t, 1, kinds[EventAtomCompleted])
	assert.Equal(t, 1, kinds[EventScriptEnd])
}

func TestRunnerMainWithWrongSignatureErrors(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil, layers.Default())
	code := `
package main

func Main() string {
	return "wrong signature"
}
`
	outcome := r.Run(context.Background(), code, Options{})
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "incorrect signature")
}

func TestRunnerMissingMainErrors(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil, layers.Default())
	code := `
package main

func helper() {}
`
	outcome := r.Run(context.Background(), code, Options{})
	require.Error(t, outcome.Err)
	assert.Contains(t, outcome.Err.Error(), "Main entrypoint not found")
}

func TestRunnerAutoRollbackOnScriptError(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	ctx := context.Background()
	sfs, err := shadowfs.Open(ctx, root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v1"), 0o644))
	_, err = sfs.Snapshot(ctx, "initial")
	require.NoError(t, err)

	r := NewRunner(nil, nil, nil, sfs, layers.Default())
	code := `
package main

import "errors"

func Main() error {
	return errors.New("boom")
}
`
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v2"), 0o644))
	outcome := r.Run(ctx, code, Options{Recover: true})
	require.Error(t, outcome.Err)
	assert.True(t, outcome.RolledBack)

	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	// The workspace is restored to its state at the start of the run (v2),
	// not to the older "initial" snapshot.
	assert.Equal(t, "v2", string(content))

	found := false
	for _, ev := range outcome.Log {
		if ev.Kind == EventRollback {
			found = true
		}
	}
	assert.True(t, found)
}
