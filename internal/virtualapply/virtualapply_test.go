package virtualapply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grits/internal/graph"
	"grits/internal/layers"
)

func TestPureCreateNeverRegressesBeta1(t *testing.T) {
	base := graph.New()
	base.AddDependency("a.go", "b.go", graph.RelationImports, graph.StrengthImport)

	report, mutated := ApplyVirtual(base, []ProposedChange{
		{File: "c.go", Kind: ChangeCreate, Code: "func Helper() {}\n"},
	}, nil)

	assert.False(t, report.IntroducedCycle)
	assert.False(t, report.Unsafe)
	assert.True(t, mutated.HasSymbol("c.go"))
	assert.True(t, mutated.HasSymbol("c.go::Helper"))
}

func TestApplyIsIdempotentOnEmptyChangeSet(t *testing.T) {
	base := graph.New()
	base.AddDependency("a.go", "b.go", graph.RelationImports, graph.StrengthImport)

	report1, mutated1 := ApplyVirtual(base, nil, nil)
	report2, mutated2 := ApplyVirtual(base, nil, nil)

	assert.Equal(t, report1.NewBeta1, report2.NewBeta1)
	assert.Equal(t, len(mutated1.Symbols()), len(mutated2.Symbols()))
	assert.Equal(t, len(mutated1.Edges()), len(mutated2.Edges()))
}

func TestDeleteRemovesSymbolsFromMutatedGraphOnly(t *testing.T) {
	base := graph.New()
	base.AddSymbol(graph.Symbol{Key: "a.go", File: "a.go"})
	base.AddDependency("a.go", "b.go", graph.RelationImports, graph.StrengthImport)

	report, mutated := ApplyVirtual(base, []ProposedChange{
		{File: "a.go", Kind: ChangeDelete},
	}, nil)

	assert.False(t, mutated.HasSymbol("a.go"))
	assert.True(t, base.HasSymbol("a.go"), "base graph must be untouched")
	assert.Empty(t, report.Violations)
}

func TestClosingACycleIsFlaggedUnsafe(t *testing.T) {
	// Four files chained a->b->c->d, closed with d->a: a chordless 4-cycle,
	// so no triangle forms and the cycle registers cleanly as a beta1
	// increase (topology.Analyze subtracts triangles from the cycle basis).
	base := graph.New()
	base.AddDependency("a.go", "b.go", graph.RelationImports, graph.StrengthImport)
	base.AddDependency("b.go", "c.go", graph.RelationImports, graph.StrengthImport)
	base.AddDependency("c.go", "d.go", graph.RelationImports, graph.StrengthImport)

	report, _ := ApplyVirtual(base, []ProposedChange{
		{File: "d.go", Kind: ChangeModify, Code: `import "a.go"` + "\n"},
	}, nil)

	require.True(t, report.IntroducedCycle)
	assert.True(t, report.Unsafe)
	assert.Greater(t, report.NewBeta1, report.OriginalBeta1)
}

func TestLiteralMentionOfForbiddenModuleTriggersLayerViolation(t *testing.T) {
	cfg := &layers.Config{Layers: []layers.Layer{
		{Name: "domain", Patterns: []string{"/domain/"}},
		{Name: "infra", Patterns: []string{"/infra/"}, AllowedDeps: []string{"domain"}},
	}}
	base := graph.New()
	base.AddSymbol(graph.Symbol{Key: "pkg/infra/db.go", File: "pkg/infra/db.go"})

	report, _ := ApplyVirtual(base, []ProposedChange{
		{File: "pkg/domain/user.go", Kind: ChangeCreate, Code: "// references pkg/infra/db.go directly\n"},
	}, cfg)

	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "domain", report.Violations[0].FromLayer)
	assert.Equal(t, "infra", report.Violations[0].ToLayer)
	assert.True(t, report.Unsafe)
}

func TestPreexistingViolationIsNotReportedAsNew(t *testing.T) {
	cfg := &layers.Config{Layers: []layers.Layer{
		{Name: "domain", Patterns: []string{"/domain/"}},
		{Name: "infra", Patterns: []string{"/infra/"}, AllowedDeps: []string{"domain"}},
	}}
	base := graph.New()
	base.AddSymbol(graph.Symbol{Key: "pkg/domain/user.go", File: "pkg/domain/user.go"})
	base.AddSymbol(graph.Symbol{Key: "pkg/infra/db.go", File: "pkg/infra/db.go"})
	base.AddDependency("pkg/domain/user.go", "pkg/infra/db.go", graph.RelationImports, graph.StrengthImport)

	report, _ := ApplyVirtual(base, []ProposedChange{
		{File: "pkg/domain/other.go", Kind: ChangeCreate, Code: "func Other() {}\n"},
	}, cfg)

	assert.Empty(t, report.Violations)
	assert.False(t, report.Unsafe)
}

func TestUnknownChangeKindIsRecordedAsError(t *testing.T) {
	base := graph.New()
	report, _ := ApplyVirtual(base, []ProposedChange{
		{File: "x.go", Kind: ChangeKind("rename")},
	}, nil)
	require.Len(t, report.Errors, 1)
}
