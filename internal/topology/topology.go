// Package topology implements the Topological Analyzer (C2): Betti
// numbers, triangles, PageRank, edge persistence, and the solid score,
// computed over a grits/internal/graph.Graph snapshot.
//
// Analysis is pure and infallible: an empty graph yields zeros throughout,
// and PageRank on an empty graph returns an empty map.
package topology

import (
	"math"
	"sort"
	"strings"

	"grits/internal/graph"
)

// Triangle is an unordered triple of mutually connected nodes (a 2-simplex).
type Triangle struct {
	A, B, C       string
	RelAB, RelBC, RelCA graph.Relation
}

// FeatureVolume is a maximal set of triangles connected by shared edges.
type FeatureVolume struct {
	TriangleIndices []int
	Cohesion        float64
}

// Result is the full output of an analysis pass.
type Result struct {
	Beta0          int
	Beta1          int
	Beta2          int
	NumVertices    int
	NumEdges       int
	TriangleCount  int
	Triangles      []Triangle
	FeatureVolumes []FeatureVolume
	SolidScore     float64
}

// Analyze computes the full topological summary of g.
func Analyze(g *graph.Graph) Result {
	symbols := g.Symbols()
	edges := g.Edges()
	adj := g.UndirectedNeighbors()

	beta0 := connectedComponents(adj)
	triangles := findTriangles(adj, g)
	tetraCount := countTetrahedra(adj, triangles)

	numV := len(symbols)
	numE := len(edges)

	basis := numE - numV + beta0
	if basis < 0 {
		basis = 0
	}
	triCount := len(triangles)
	saturated := triCount
	if saturated > basis {
		saturated = basis
	}
	beta1 := basis - saturated

	chi := numV - numE + triCount - tetraCount
	beta2 := chi - beta0 + beta1
	if beta2 < 0 {
		beta2 = 0
	}

	volumes := clusterFeatureVolumes(triangles, numV)

	// A graph with no feature volumes has no cyclic coupling to score, so it
	// is treated as maximally cohesive rather than zero: an acyclic tree
	// should not be penalized on an axis that doesn't apply to it.
	meanCohesion := 1.0
	if len(volumes) > 0 {
		sum := 0.0
		for _, v := range volumes {
			sum += v.Cohesion
		}
		meanCohesion = sum / float64(len(volumes))
	}

	solid := 0.0
	if beta0 > 0 {
		solid = 0.3*(1.0/float64(beta0)) + 0.5*math.Exp(-0.5*float64(beta1)) + 0.2*meanCohesion
		if solid > 1 {
			solid = 1
		}
		if solid < 0 {
			solid = 0
		}
	}

	return Result{
		Beta0:          beta0,
		Beta1:          beta1,
		Beta2:          beta2,
		NumVertices:    numV,
		NumEdges:       numE,
		TriangleCount:  triCount,
		Triangles:      triangles,
		FeatureVolumes: volumes,
		SolidScore:     solid,
	}
}

func connectedComponents(adj map[string]map[string]bool) int {
	visited := make(map[string]bool, len(adj))
	count := 0
	for node := range adj {
		if visited[node] {
			continue
		}
		count++
		stack := []string{node}
		visited[node] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for nb := range adj[n] {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
	}
	return count
}

// relationBetween returns the relation of any edge (in either direction)
// connecting a and b, used to label a triangle's sides.
func relationBetween(g *graph.Graph, a, b string) graph.Relation {
	for _, e := range g.Edges() {
		if (e.From == a && e.To == b) || (e.From == b && e.To == a) {
			return e.Relation
		}
	}
	return ""
}

func findTriangles(adj map[string]map[string]bool, g *graph.Graph) []Triangle {
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	seen := make(map[[3]string]bool)
	var out []Triangle
	for _, u := range nodes {
		for v := range adj[u] {
			if v <= u {
				continue
			}
			for w := range adj[u] {
				if w <= v || !adj[v][w] {
					continue
				}
				key := [3]string{u, v, w}
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, Triangle{
					A: u, B: v, C: w,
					RelAB: relationBetween(g, u, v),
					RelBC: relationBetween(g, v, w),
					RelCA: relationBetween(g, w, u),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		if out[i].B != out[j].B {
			return out[i].B < out[j].B
		}
		return out[i].C < out[j].C
	})
	return out
}

func countTetrahedra(adj map[string]map[string]bool, triangles []Triangle) int {
	count := 0
	for _, tri := range triangles {
		for x := range adj[tri.A] {
			if x == tri.B || x == tri.C {
				continue
			}
			if adj[tri.B][x] && adj[tri.C][x] {
				count++
			}
		}
	}
	// Each 4-clique is counted once per triangular face (4 faces), so the
	// raw scan over-counts by a factor of 4.
	return count / 4
}

// clusterFeatureVolumes unions triangles that share at least two nodes via
// union-find, then reports one FeatureVolume per resulting component.
func clusterFeatureVolumes(triangles []Triangle, numVertices int) []FeatureVolume {
	if len(triangles) == 0 {
		return nil
	}
	parent := make([]int, len(triangles))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	nodeSets := make([]map[string]bool, len(triangles))
	for i, tri := range triangles {
		nodeSets[i] = map[string]bool{tri.A: true, tri.B: true, tri.C: true}
	}

	for i := 0; i < len(triangles); i++ {
		for j := i + 1; j < len(triangles); j++ {
			shared := 0
			for n := range nodeSets[i] {
				if nodeSets[j][n] {
					shared++
				}
			}
			if shared >= 2 {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range triangles {
		r := find(i)
		groups[r] = append(groups[r], i)
	}

	roots := make([]int, 0, len(groups))
	for r := range groups {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	var volumes []FeatureVolume
	for _, r := range roots {
		indices := groups[r]
		nodes := make(map[string]bool)
		for _, idx := range indices {
			for n := range nodeSets[idx] {
				nodes[n] = true
			}
		}
		n := len(nodes)
		cohesion := 0.0
		if n >= 2 {
			estEdges := 1.5 * float64(len(indices))
			maxEdges := float64(n*(n-1)) / 2
			if maxEdges > 0 {
				cohesion = estEdges / maxEdges
			}
		}
		if cohesion > 1 {
			cohesion = 1
		}
		volumes = append(volumes, FeatureVolume{TriangleIndices: indices, Cohesion: cohesion})
	}
	return volumes
}

// PageRank computes weighted PageRank with the given damping factor and
// iteration count. Ranks are normalized to [0,1] by dividing by the maximum
// rank. An empty graph returns an empty map. A single-node graph returns
// that node with rank 1.
func PageRank(g *graph.Graph, damping float64, iterations int) map[string]float64 {
	symbols := g.Symbols()
	if len(symbols) == 0 {
		return map[string]float64{}
	}
	if len(symbols) == 1 {
		return map[string]float64{symbols[0].Key: 1.0}
	}

	adj := g.DirectedNeighbors()
	n := float64(len(symbols))
	ranks := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		ranks[s.Key] = 1.0 / n
	}

	outWeight := make(map[string]float64, len(symbols))
	for k, edges := range adj {
		var sum float64
		for _, e := range edges {
			sum += e.Strength
		}
		outWeight[k] = sum
	}

	for iter := 0; iter < iterations; iter++ {
		next := make(map[string]float64, len(symbols))
		base := (1 - damping) / n
		for _, s := range symbols {
			next[s.Key] = base
		}
		for u, edges := range adj {
			if outWeight[u] <= 0 {
				continue
			}
			for _, e := range edges {
				next[e.To] += damping * ranks[u] * (e.Strength / outWeight[u])
			}
		}
		ranks = next
	}

	maxRank := 0.0
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}
	if maxRank > 0 {
		for k := range ranks {
			ranks[k] /= maxRank
		}
	}
	return ranks
}

// PersistenceEvent records the fate of one edge in the filtration.
type PersistenceEvent struct {
	Edge     graph.Edge
	Lifetime float64 // 0 for cycle-closing, math.Inf(1) for component-merging
	CycleID  int     // set only when Lifetime == 0
}

// EdgePersistence runs the descending-rank filtration described in
// spec.md §4.2 and returns a refactor suggestion: the edge in a named cycle
// with the smallest lifetime (ties broken by filtration order), or the zero
// value and ok=false if no cycle exists.
func EdgePersistence(g *graph.Graph, ranks map[string]float64) (events []PersistenceEvent, suggestion graph.Edge, ok bool) {
	edges := g.Edges()
	maxRank := func(e graph.Edge) float64 {
		a, b := ranks[e.From], ranks[e.To]
		if a > b {
			return a
		}
		return b
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return maxRank(edges[i]) > maxRank(edges[j])
	})

	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		if _, ok := parent[x]; !ok {
			parent[x] = x
		}
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	cycleID := 0
	for _, e := range edges {
		ra, rb := find(e.From), find(e.To)
		if ra == rb {
			cycleID++
			events = append(events, PersistenceEvent{Edge: e, Lifetime: 0, CycleID: cycleID})
			if !ok {
				suggestion = e
				ok = true
			}
		} else {
			parent[ra] = rb
			events = append(events, PersistenceEvent{Edge: e, Lifetime: math.Inf(1)})
		}
	}
	return events, suggestion, ok
}

// ShortestPath runs unit-cost A* (equivalently Dijkstra, since the
// heuristic is always zero) on the directed graph from `from` to `to`.
func ShortestPath(g *graph.Graph, from, to string) ([]string, bool) {
	if from == to {
		return []string{from}, g.HasSymbol(from)
	}
	adj := g.DirectedNeighbors()
	if _, ok := adj[from]; !ok {
		return nil, false
	}

	dist := map[string]int{from: 0}
	prev := map[string]string{}
	visited := map[string]bool{}
	for {
		// Pick the unvisited node with the smallest known distance.
		cur := ""
		best := -1
		for node, d := range dist {
			if visited[node] {
				continue
			}
			if best == -1 || d < best {
				best = d
				cur = node
			}
		}
		if cur == "" {
			break
		}
		if cur == to {
			break
		}
		visited[cur] = true
		for _, e := range adj[cur] {
			nd := dist[cur] + 1
			if d, ok := dist[e.To]; !ok || nd < d {
				dist[e.To] = nd
				prev[e.To] = cur
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil, false
	}
	var path []string
	for n := to; ; {
		path = append([]string{n}, path...)
		if n == from {
			break
		}
		n = prev[n]
	}
	return path, true
}

// FindSymbolFuzzy implements the fuzzy-lookup cascade from spec.md §4.2:
// exact key match, then suffix match against "::name"/"/name"/".name",
// then exact final-segment match, then case-insensitive final-segment
// match. The first hit wins.
func FindSymbolFuzzy(g *graph.Graph, query string) (graph.Symbol, bool) {
	if s, ok := g.Symbol(query); ok {
		return s, true
	}

	symbols := g.Symbols()
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Key < symbols[j].Key })

	for _, sep := range []string{"::", "/", "."} {
		suffix := sep + query
		for _, s := range symbols {
			if strings.HasSuffix(s.Key, suffix) {
				return s, true
			}
		}
	}

	lastSegment := func(key string) string {
		idx := strings.LastIndexAny(key, ":/.")
		if idx == -1 {
			return key
		}
		return key[idx+1:]
	}

	for _, s := range symbols {
		if lastSegment(s.Key) == query {
			return s, true
		}
	}
	for _, s := range symbols {
		if strings.EqualFold(lastSegment(s.Key), query) {
			return s, true
		}
	}
	return graph.Symbol{}, false
}
