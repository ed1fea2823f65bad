// Package virtualapply implements Virtual Apply (C4): a diff-against-graph
// simulator that answers "would this change introduce a cycle or layer
// violation?" without touching disk.
package virtualapply

import (
	"fmt"
	"regexp"
	"strings"

	"grits/internal/graph"
	"grits/internal/layers"
	"grits/internal/logging"
	"grits/internal/topology"
)

// ChangeKind is the closed set of proposed change kinds.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeModify ChangeKind = "modify"
	ChangeDelete ChangeKind = "delete"
)

// ProposedChange describes one file-level edit to simulate.
type ProposedChange struct {
	File     string
	Kind     ChangeKind
	Code     string
	Language string
}

// Report is the output of ApplyVirtual.
type Report struct {
	OriginalBeta1    int
	NewBeta1         int
	IntroducedCycle  bool
	Violations       []layers.Violation
	NewSymbols       []graph.Symbol
	NewEdges         []graph.Edge
	Warnings         []string
	Errors           []string
	Unsafe           bool
}

var declPattern = regexp.MustCompile(`\b(?:func|fn|def|class|struct)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// declArrowPattern catches the `const name = (...) => ...` / `const name = arg => ...`
// symbol-declaration form that declPattern's keyword-prefix match misses.
// Missing it would under-approximate new symbols, which spec.md §9 calls
// a bug (over-approximation is fine, under-approximation is not).
var declArrowPattern = regexp.MustCompile(`\bconst\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(?:\([^)]*\)|[A-Za-z_][A-Za-z0-9_]*)\s*=>`)

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`import\s+"([^"]+)"`),
	regexp.MustCompile(`from\s+([A-Za-z0-9_.]+)\s+import`),
	regexp.MustCompile(`import\s+([A-Za-z0-9_.]+)`),
	regexp.MustCompile(`use\s+([A-Za-z0-9_:]+)`),
}

// extractHeuristic performs the keyword-pattern extraction described in
// spec.md §4.4/§9: approximate, over-approximation acceptable, under-
// approximation is a bug.
func extractHeuristic(file, code string) (symbols []graph.Symbol, importTargets []string) {
	for _, m := range declPattern.FindAllStringSubmatch(code, -1) {
		name := m[1]
		symbols = append(symbols, graph.Symbol{
			Key:  fmt.Sprintf("%s::%s", file, name),
			Name: name,
			File: file,
			Kind: graph.KindFunction,
		})
	}
	for _, m := range declArrowPattern.FindAllStringSubmatch(code, -1) {
		name := m[1]
		symbols = append(symbols, graph.Symbol{
			Key:  fmt.Sprintf("%s::%s", file, name),
			Name: name,
			File: file,
			Kind: graph.KindFunction,
		})
	}
	for _, re := range importPatterns {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			importTargets = append(importTargets, m[1])
		}
	}
	return symbols, importTargets
}

// literalMentions over-approximates import edges: the file path of any
// existing symbol that appears verbatim in the new code body is treated as
// a referenced dependency, even without a recognized import statement.
// Symbol names alone are not matched. This
// is what lets a literal mention of a forbidden module in the code body
// trigger a layer violation, per spec.md §9.
func literalMentions(base *graph.Graph, code string) []string {
	var hits []string
	for _, s := range base.Symbols() {
		if s.File == "" {
			continue
		}
		if strings.Contains(code, s.File) {
			hits = append(hits, s.File)
		}
	}
	return hits
}

// ApplyVirtual deep-clones base, applies every change in order, and reports
// whether the result is safe. layerCfg may be nil to skip layer checking.
func ApplyVirtual(base *graph.Graph, changes []ProposedChange, layerCfg *layers.Config) (*Report, *graph.Graph) {
	timer := logging.StartTimer(logging.CategoryVirtualApply, "ApplyVirtual")
	defer timer.Stop()

	mutated := base.Clone()
	report := &Report{}

	baseAnalysis := topology.Analyze(base)
	report.OriginalBeta1 = baseAnalysis.Beta1

	var baseViolations []layers.Violation
	if layerCfg != nil {
		baseViolations = layers.Check(*layerCfg, base)
	}
	baseViolationKey := func(v layers.Violation) string {
		return v.Edge.From + "->" + v.Edge.To + ":" + string(v.Edge.Relation)
	}
	baseViolationSet := make(map[string]bool, len(baseViolations))
	for _, v := range baseViolations {
		baseViolationSet[baseViolationKey(v)] = true
	}

	for _, change := range changes {
		switch change.Kind {
		case ChangeDelete:
			mutated.RemoveFile(change.File)
		case ChangeCreate, ChangeModify:
			symbols, imports := extractHeuristic(change.File, change.Code)
			fileSym := graph.Symbol{Key: change.File, Name: change.File, File: change.File, Kind: graph.KindFile}
			mutated.AddSymbol(fileSym)
			report.NewSymbols = append(report.NewSymbols, fileSym)

			for _, s := range symbols {
				mutated.AddSymbol(s)
				mutated.AddDependency(change.File, s.Key, graph.RelationDefinedIn, graph.StrengthImport)
				report.NewSymbols = append(report.NewSymbols, s)
			}
			for _, target := range imports {
				mutated.AddDependency(change.File, target, graph.RelationImports, graph.StrengthImport)
				report.NewEdges = append(report.NewEdges, graph.Edge{From: change.File, To: target, Relation: graph.RelationImports, Strength: graph.StrengthImport})
			}
			for _, target := range literalMentions(base, change.Code) {
				if target == change.File {
					continue
				}
				mutated.AddDependency(change.File, target, graph.RelationImports, graph.StrengthImport)
				report.NewEdges = append(report.NewEdges, graph.Edge{From: change.File, To: target, Relation: graph.RelationImports, Strength: graph.StrengthImport})
			}
		default:
			report.Errors = append(report.Errors, fmt.Sprintf("unknown change kind %q for %s", change.Kind, change.File))
		}
	}

	newAnalysis := topology.Analyze(mutated)
	report.NewBeta1 = newAnalysis.Beta1
	report.IntroducedCycle = report.NewBeta1 > report.OriginalBeta1

	if layerCfg != nil {
		newViolations := layers.Check(*layerCfg, mutated)
		for _, v := range newViolations {
			_, fromInBase := base.Symbol(v.Edge.From)
			_, toInBase := base.Symbol(v.Edge.To)
			if baseViolationSet[baseViolationKey(v)] {
				continue // pre-existing, not introduced by this change
			}
			if fromInBase && toInBase {
				// Both endpoints pre-date the change: a genuinely new
				// violation between existing code, not just new code
				// reaching into existing code.
				report.Violations = append(report.Violations, v)
				continue
			}
			report.Violations = append(report.Violations, v)
		}
	}

	report.Unsafe = report.IntroducedCycle || len(report.Violations) > 0
	if report.Unsafe {
		logging.Get(logging.CategoryVirtualApply).Warn("virtual apply unsafe: cycle=%v violations=%d", report.IntroducedCycle, len(report.Violations))
	}

	return report, mutated
}
