package layers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grits/internal/graph"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrefersLayersYAML(t *testing.T) {
	dir := t.TempDir()
	content := []byte("layers:\n  - name: core\n    patterns: [\"/core/\"]\n    allowed_deps: []\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layers.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, "core", cfg.Layers[0].Name)
}

func TestLoadFallsBackToGritsDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".grits"), 0o755))
	content := []byte("layers:\n  - name: nested\n    patterns: [\"/nested/\"]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".grits", "layers.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, "nested", cfg.Layers[0].Name)
}

func TestValidateCatchesAllFourProblems(t *testing.T) {
	cfg := Config{Layers: []Layer{
		{Name: "a", Patterns: nil, AllowedDeps: []string{"a", "ghost"}},
		{Name: "a", Patterns: []string{"/a/"}},
	}}
	issues := Validate(cfg)

	kinds := make(map[string]bool)
	for _, i := range issues {
		kinds[i.Kind] = true
	}
	assert.True(t, kinds["duplicate_layer"])
	assert.True(t, kinds["self_dependency"])
	assert.True(t, kinds["unknown_layer"])
	assert.True(t, kinds["empty_patterns"])
}

func TestCheckFlagsDisallowedDependency(t *testing.T) {
	cfg := Config{Layers: []Layer{
		{Name: "domain", Patterns: []string{"/domain/"}},
		{Name: "infra", Patterns: []string{"/infra/"}, AllowedDeps: []string{"domain"}},
	}}
	g := graph.New()
	g.AddSymbol(graph.Symbol{Key: "d", File: "pkg/domain/user.go"})
	g.AddSymbol(graph.Symbol{Key: "i", File: "pkg/infra/db.go"})
	// domain -> infra is disallowed (domain has no allowed_deps).
	g.AddDependency("d", "i", graph.RelationImports, graph.StrengthImport)

	violations := Check(cfg, g)
	require.Len(t, violations, 1)
	assert.Equal(t, "domain", violations[0].FromLayer)
	assert.Equal(t, "infra", violations[0].ToLayer)
}

func TestCheckAllowsPermittedDependency(t *testing.T) {
	cfg := Config{Layers: []Layer{
		{Name: "domain", Patterns: []string{"/domain/"}},
		{Name: "infra", Patterns: []string{"/infra/"}, AllowedDeps: []string{"domain"}},
	}}
	g := graph.New()
	g.AddSymbol(graph.Symbol{Key: "d", File: "pkg/domain/user.go"})
	g.AddSymbol(graph.Symbol{Key: "i", File: "pkg/infra/db.go"})
	g.AddDependency("i", "d", graph.RelationImports, graph.StrengthImport)

	assert.Empty(t, Check(cfg, g))
}
