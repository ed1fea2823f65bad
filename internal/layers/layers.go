// Package layers implements the Layer Invariant Checker (C3): pattern-based
// layer assignment and forbidden cross-layer dependency detection.
package layers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"grits/internal/graph"
	"grits/internal/logging"
)

// Layer is one named architectural tier.
type Layer struct {
	Name         string   `yaml:"name"`
	Patterns     []string `yaml:"patterns"`
	AllowedDeps  []string `yaml:"allowed_deps"`
}

// Config is the layers.yaml document shape.
type Config struct {
	Layers []Layer `yaml:"layers"`
}

// searchPaths, in order, first hit wins.
var searchPaths = []string{
	"layers.yaml",
	"layers.yml",
	filepath.Join(".grits", "layers.yaml"),
	filepath.Join(".grits", "layers.yml"),
}

// Default returns the conventional domain -> application -> infrastructure
// -> presentation layering used when no config file is found.
func Default() Config {
	return Config{Layers: []Layer{
		{Name: "domain", Patterns: []string{"/domain/", "/model/"}, AllowedDeps: nil},
		{Name: "application", Patterns: []string{"/application/", "/usecase/", "/service/"}, AllowedDeps: []string{"domain"}},
		{Name: "infrastructure", Patterns: []string{"/infrastructure/", "/infra/", "/adapter/"}, AllowedDeps: []string{"domain", "application"}},
		{Name: "presentation", Patterns: []string{"/presentation/", "/ui/", "/api/", "/handler/"}, AllowedDeps: []string{"domain", "application", "infrastructure"}},
	}}
}

// Load searches root for a layer config file in the documented order and
// parses the first one it finds. A missing file yields Default().
func Load(root string) (Config, error) {
	for _, rel := range searchPaths {
		path := filepath.Join(root, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("layers: read %s: %w", path, err)
		}
		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("layers: parse %s: %w", path, err)
		}
		logging.Get(logging.CategoryLayers).Info("loaded layer config from %s", path)
		return cfg, nil
	}
	logging.Get(logging.CategoryLayers).Info("no layer config found under %s, using defaults", root)
	return Default(), nil
}

// ValidationIssue is a problem with a Config, independent of any graph.
type ValidationIssue struct {
	Kind    string // unknown_layer | self_dependency | empty_patterns | duplicate_layer
	Layer   string
	Detail  string
}

// Validate checks a Config for the four documented problems.
func Validate(cfg Config) []ValidationIssue {
	var issues []ValidationIssue

	names := make(map[string]int)
	known := make(map[string]bool)
	for _, l := range cfg.Layers {
		names[l.Name]++
		known[l.Name] = true
	}
	for name, count := range names {
		if count > 1 {
			issues = append(issues, ValidationIssue{Kind: "duplicate_layer", Layer: name})
		}
	}

	for _, l := range cfg.Layers {
		if len(l.Patterns) == 0 {
			issues = append(issues, ValidationIssue{Kind: "empty_patterns", Layer: l.Name})
		}
		for _, dep := range l.AllowedDeps {
			if dep == l.Name {
				issues = append(issues, ValidationIssue{Kind: "self_dependency", Layer: l.Name})
			}
			if !known[dep] {
				issues = append(issues, ValidationIssue{Kind: "unknown_layer", Layer: l.Name, Detail: dep})
			}
		}
	}
	return issues
}

// LayerOf assigns a node to the first layer whose pattern substring-matches
// its file path or name, checked in config order. Empty string means
// unassigned.
func LayerOf(cfg Config, s graph.Symbol) string {
	for _, l := range cfg.Layers {
		for _, pat := range l.Patterns {
			if pat == "" {
				continue
			}
			if strings.Contains(s.File, pat) || strings.Contains(s.Name, pat) {
				return l.Name
			}
		}
	}
	return ""
}

// Violation is a single disallowed cross-layer dependency.
type Violation struct {
	Edge      graph.Edge
	FromLayer string
	ToLayer   string
}

// Check scans every edge in g and reports every edge whose endpoints sit in
// different layers where the target layer is not in the source layer's
// AllowedDeps.
func Check(cfg Config, g *graph.Graph) []Violation {
	allowed := make(map[string]map[string]bool, len(cfg.Layers))
	for _, l := range cfg.Layers {
		set := make(map[string]bool, len(l.AllowedDeps))
		for _, d := range l.AllowedDeps {
			set[d] = true
		}
		allowed[l.Name] = set
	}

	var violations []Violation
	for _, e := range g.Edges() {
		from, fok := g.Symbol(e.From)
		to, tok := g.Symbol(e.To)
		if !fok || !tok {
			continue
		}
		fromLayer := LayerOf(cfg, from)
		toLayer := LayerOf(cfg, to)
		if fromLayer == "" || toLayer == "" || fromLayer == toLayer {
			continue
		}
		if !allowed[fromLayer][toLayer] {
			violations = append(violations, Violation{Edge: e, FromLayer: fromLayer, ToLayer: toLayer})
		}
	}
	return violations
}
