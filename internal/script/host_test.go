package script

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grits/internal/atoms"
	"grits/internal/collab"
	"grits/internal/graph"
	"grits/internal/layers"
	"grits/internal/runtime"
	"grits/internal/shadowfs"
)

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, req collab.CompletionRequest) (collab.CompletionResult, error) {
	if f.err != nil {
		return collab.CompletionResult{}, f.err
	}
	return collab.CompletionResult{Text: f.text, Model: "fake"}, nil
}

func testAtomPool(t *testing.T, text string) *runtime.AtomPool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	exec := atoms.NewExecutor(&fakeLLM{text: text}, atoms.ExecutorConfig{})
	return runtime.InitAtomPool(ctx, exec)
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found on PATH")
	}
}

func TestHostSpawnAtomRoutesThroughPool(t *testing.T) {
	pool := testAtomPool(t, "hello from atom")
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), pool, nil, nil, nil, layers.Default(), log)

	result := host.SpawnAtom("Search", "find the widget")
	assert.Equal(t, "hello from atom", result.Text)

	kinds := make(map[EventKind]int)
	for _, ev := range log.Events() {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[EventAtomSpawned])
	assert.Equal(t, 1, kinds[EventAtomCompleted])
}

func TestHostSpawnAtomWithoutPoolReportsError(t *testing.T) {
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)

	result := host.SpawnAtom("Search", "find the widget")
	assert.Equal(t, "Search", result.Kind)
	assert.Empty(t, result.Text)

	found := false
	for _, ev := range log.Events() {
		if ev.Kind == EventError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHostCheckRedFlagsFalseWithoutCachedGraph(t *testing.T) {
	runtime.InvalidateGraph()
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)
	assert.False(t, host.CheckRedFlags("package main\nfunc main() {}\n"))
}

func TestHostCheckRedFlagsFlagsIntroducedCycle(t *testing.T) {
	g := graph.New()
	g.AddSymbol(graph.Symbol{Key: "a.go::A", Name: "A", File: "a.go"})
	g.AddSymbol(graph.Symbol{Key: "b.go::B", Name: "B", File: "b.go"})
	g.AddSymbol(graph.Symbol{Key: "c.go::C", Name: "C", File: "c.go"})
	g.AddDependency("a.go::A", "b.go::B", graph.RelationCalls, graph.StrengthCall)
	g.AddDependency("b.go::B", "c.go::C", graph.RelationCalls, graph.StrengthCall)

	runtime.InvalidateGraph()
	_, err := runtime.InitGraph(func() (*graph.Graph, error) { return g, nil })
	require.NoError(t, err)
	t.Cleanup(runtime.InvalidateGraph)

	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)

	// Virtual apply reads import targets, not call expressions: importing
	// both ends of the a->b->c chain from the script file closes a cycle.
	code := "import \"a.go::A\"\nimport \"c.go::C\"\n"
	assert.True(t, host.CheckRedFlags(code))
}

func TestHostSnapshotAndRollback(t *testing.T) {
	requireGit(t)
	root := t.TempDir()
	ctx := context.Background()
	sfs, err := shadowfs.Open(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v1"), 0o644))
	log := NewExecutionLog(nil)
	host := NewHost(ctx, nil, nil, nil, sfs, layers.Default(), log)

	assert.True(t, host.Snapshot("checkpoint"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v2"), 0o644))
	assert.True(t, host.Snapshot("checkpoint 2"))

	assert.True(t, host.Rollback())
	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
}

func TestHostRollbackWithoutShadowIsFalse(t *testing.T) {
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)
	assert.False(t, host.Rollback())
}

func TestHostRLMRoundTrip(t *testing.T) {
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)

	host.LoadContextVar("doc", "line one\nline two\n", "string")
	assert.True(t, host.HasContext("doc"))
	assert.Equal(t, len("line one\nline two\n"), host.ContextLength("doc"))
	assert.Equal(t, "line one", host.PeekContext("doc", 0, 8))

	lines := host.RegexFilter("doc", "two")
	require.Len(t, lines, 1)
	assert.Equal(t, "line two", lines[0])

	assert.Contains(t, host.ListContexts(), "doc")
	host.ClearContext()
	assert.False(t, host.HasContext("doc"))
}

func TestHostWebResearchRoutesByOp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool := runtime.InitWebResearchPool(ctx, fakeResearcherForScript{})

	log := NewExecutionLog(nil)
	host := NewHost(ctx, nil, pool, nil, nil, layers.Default(), log)

	assert.Equal(t, "crawled:https://example.com", host.CrawlURL("https://example.com"))
	assert.Equal(t, "researched:widgets", host.ResearchDocs("widgets"))
}

func TestHostRunConsensusReturnsOutcome(t *testing.T) {
	pool := testAtomPool(t, "hello from atom")
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), pool, nil, nil, nil, layers.Default(), log)

	outcome := host.RunConsensus("Search", "find it", 1)
	assert.True(t, outcome.Success)
	assert.Equal(t, "hello from atom", outcome.Winner)

	kinds := make(map[EventKind]int)
	for _, ev := range log.Events() {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[EventConsensusStart])
	assert.Equal(t, 1, kinds[EventConsensusEnd])
}

func TestHostSpawnRLMUsesContextContent(t *testing.T) {
	pool := testAtomPool(t, "hello from atom")
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), pool, nil, nil, nil, layers.Default(), log)

	host.LoadContextVar("doc", "payload text", "string")
	result := host.SpawnRLM("RLMProcessor", "summarize", "doc")
	assert.Equal(t, "hello from atom", result.Text)
}

func TestHostSpawnRLMMissingVariableReportsError(t *testing.T) {
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, nil, nil, layers.Default(), log)

	result := host.SpawnRLM("RLMProcessor", "summarize", "missing")
	assert.Empty(t, result.Text)

	found := false
	for _, ev := range log.Events() {
		if ev.Kind == EventError {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHostLLMQueryFallsBackToDirectLLMWithoutPool(t *testing.T) {
	log := NewExecutionLog(nil)
	host := NewHost(context.Background(), nil, nil, &fakeLLM{text: "direct answer"}, nil, layers.Default(), log)

	result := host.LLMQuery("what is it")
	assert.Equal(t, "direct answer", result.Text)
	assert.True(t, result.Valid)
}

type fakeResearcherForScript struct{}

func (fakeResearcherForScript) CrawlURL(ctx context.Context, url string) (string, error) {
	return "crawled:" + url, nil
}
func (fakeResearcherForScript) ResearchDocs(ctx context.Context, query string) (string, error) {
	return "researched:" + query, nil
}
func (fakeResearcherForScript) ExtractContent(ctx context.Context, html string) (string, error) {
	return "extracted:" + html, nil
}
