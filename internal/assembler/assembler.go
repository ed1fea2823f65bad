// Package assembler implements the Mini-Codebase Assembler (C5): star-
// neighborhood extraction and optional code hydration over a seed symbol
// set, rendered as a markdown document for an atom's context window.
package assembler

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"grits/internal/graph"
	"grits/internal/layers"
	"grits/internal/logging"
	"grits/internal/topology"
)

// Options configures one Assemble call. See SPEC_FULL.md §9(4) for the
// default depth and threshold rationale.
type Options struct {
	Depth             int
	StrengthThreshold float64
	Hydrate           bool
	FileCache         *FileCache
	LayerConfig       *layers.Config
}

// DefaultOptions returns depth 2, threshold 0.05, no hydration.
func DefaultOptions() Options {
	return Options{Depth: 2, StrengthThreshold: 0.05}
}

// SymbolEntry is one retained symbol, enriched with rank and cycle status.
type SymbolEntry struct {
	graph.Symbol
	Rank    float64
	InCycle bool
	Code    string
}

// Invariants carries the facts the atom must respect while editing.
type Invariants struct {
	Beta1         int
	ForbiddenDeps []string // human-readable sentences, one per layer rule
	Violations    []layers.Violation
}

// MiniCodebase is the full assembled context for a seed set.
type MiniCodebase struct {
	SeedIssue   string
	SeedSymbols []string
	Symbols     []SymbolEntry
	Files       []string
	Invariants  Invariants
}

// Assemble computes the d-star union of seeds, retains seeds plus any
// symbol whose normalized PageRank clears opts.StrengthThreshold, and
// returns the result sorted by rank descending.
func Assemble(g *graph.Graph, seedIssue string, seeds []string, opts Options) MiniCodebase {
	timer := logging.StartTimer(logging.CategoryAssembler, "Assemble")
	defer timer.Stop()

	if opts.Depth <= 0 {
		opts.Depth = DefaultOptions().Depth
	}

	adj := g.UndirectedNeighbors()
	visited := make(map[string]bool)
	isSeed := make(map[string]bool)
	for _, s := range seeds {
		if !g.HasSymbol(s) {
			continue
		}
		isSeed[s] = true
		for node := range dStar(adj, s, opts.Depth) {
			visited[node] = true
		}
	}

	ranks := topology.PageRank(g, 0.85, 20)
	retained := make(map[string]bool, len(visited))
	for node := range visited {
		retained[node] = isSeed[node] || ranks[node] >= opts.StrengthThreshold
	}

	analysis := topology.Analyze(g)
	inCycle := make(map[string]bool)
	for _, tri := range analysis.Triangles {
		inCycle[tri.A] = true
		inCycle[tri.B] = true
		inCycle[tri.C] = true
	}

	var entries []SymbolEntry
	fileSet := make(map[string]bool)
	for node, keep := range retained {
		if !keep {
			continue
		}
		sym, ok := g.Symbol(node)
		if !ok {
			continue
		}
		entry := SymbolEntry{Symbol: sym, Rank: ranks[node], InCycle: inCycle[node]}
		if opts.Hydrate && opts.FileCache != nil && sym.File != "" && sym.Range != nil {
			if code, err := opts.FileCache.Read(sym.File, *sym.Range); err == nil {
				entry.Code = code
			} else {
				logging.Get(logging.CategoryAssembler).Warn("hydrate %s: %v", sym.Key, err)
			}
		}
		entries = append(entries, entry)
		if sym.File != "" {
			fileSet[sym.File] = true
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank > entries[j].Rank
		}
		return entries[i].Key < entries[j].Key
	})

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)

	invariants := Invariants{Beta1: analysis.Beta1}
	if opts.LayerConfig != nil {
		invariants.Violations = layers.Check(*opts.LayerConfig, g)
		invariants.ForbiddenDeps = describeLayerRules(*opts.LayerConfig)
	}

	return MiniCodebase{
		SeedIssue:   seedIssue,
		SeedSymbols: append([]string(nil), seeds...),
		Symbols:     entries,
		Files:       files,
		Invariants:  invariants,
	}
}

// dStar returns the set of nodes reachable from seed within depth hops,
// including seed itself.
func dStar(adj map[string]map[string]bool, seed string, depth int) map[string]bool {
	visited := map[string]bool{seed: true}
	frontier := []string{seed}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, node := range frontier {
			for neighbor := range adj[node] {
				if !visited[neighbor] {
					visited[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}
	return visited
}

// describeLayerRules renders each layer's allowed-dependency rule as a
// human-readable sentence, in config order.
func describeLayerRules(cfg layers.Config) []string {
	out := make([]string, 0, len(cfg.Layers))
	for _, l := range cfg.Layers {
		if len(l.AllowedDeps) == 0 {
			out = append(out, fmt.Sprintf("layer %q may not depend on any other layer", l.Name))
			continue
		}
		out = append(out, fmt.Sprintf("layer %q may depend on: %s", l.Name, strings.Join(l.AllowedDeps, ", ")))
	}
	return out
}

// Render produces the markdown document an atom consumes: header, stats,
// invariants, file list, then one section per retained symbol.
func (mc MiniCodebase) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Mini-Codebase")
	if mc.SeedIssue != "" {
		fmt.Fprintf(&b, ": %s", mc.SeedIssue)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "- seeds: %s\n", strings.Join(mc.SeedSymbols, ", "))
	fmt.Fprintf(&b, "- symbols: %d\n", len(mc.Symbols))
	fmt.Fprintf(&b, "- files: %d\n\n", len(mc.Files))

	b.WriteString("## Invariants\n\n")
	fmt.Fprintf(&b, "- current cycle count (β₁): %d\n", mc.Invariants.Beta1)
	if len(mc.Invariants.Violations) == 0 {
		b.WriteString("- no layer violations detected\n")
	} else {
		for _, v := range mc.Invariants.Violations {
			fmt.Fprintf(&b, "- forbidden dependency: %s -> %s (%s -> %s)\n", v.Edge.From, v.Edge.To, v.FromLayer, v.ToLayer)
		}
	}
	for _, rule := range mc.Invariants.ForbiddenDeps {
		fmt.Fprintf(&b, "- %s\n", rule)
	}
	b.WriteString("\n## Files\n\n")
	for _, f := range mc.Files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\n## Symbols\n\n")
	for _, e := range mc.Symbols {
		marker := ""
		if e.InCycle {
			marker = " (in cycle)"
		}
		fmt.Fprintf(&b, "### %s%s\n\n", e.Name, marker)
		fmt.Fprintf(&b, "- kind: %s\n- file: %s\n- rank: %.4f\n\n", e.Kind, e.File, e.Rank)
		if e.Code != "" {
			lang := e.Lang
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, e.Code)
		}
	}

	return b.String()
}

// FileCache memoizes whole-file reads so that hydrating many symbols from
// the same file costs one disk read.
type FileCache struct {
	mu    sync.Mutex
	cache map[string][]byte
}

// NewFileCache returns an empty cache.
func NewFileCache() *FileCache {
	return &FileCache{cache: make(map[string][]byte)}
}

// Read returns the byte range [rng.Start, rng.End) of file, reading and
// caching the whole file on first access.
func (fc *FileCache) Read(file string, rng graph.Range) (string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	data, ok := fc.cache[file]
	if !ok {
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return "", err
		}
		fc.cache[file] = data
	}
	if rng.Start < 0 || rng.End > len(data) || rng.Start > rng.End {
		return "", fmt.Errorf("assembler: range [%d,%d) out of bounds for %s (len %d)", rng.Start, rng.End, file, len(data))
	}
	return string(data[rng.Start:rng.End]), nil
}

// Invalidate drops file from the cache, forcing a re-read on next access.
func (fc *FileCache) Invalidate(file string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.cache, file)
}
