// Package script implements the Script Runtime (C10): a sandboxed,
// single-threaded-cooperative interpreter that exposes the rest of the
// core (atom spawn, consensus, red-flag checks, snapshots, the RLM store,
// web research) to interpreted Go scripts as host functions.
package script

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"grits/internal/collab"
	"grits/internal/layers"
	"grits/internal/logging"
	"grits/internal/runtime"
	"grits/internal/shadowfs"
)

// hostImportPath is the fixed package name scripts import to reach the
// host function surface, per SPEC_FULL.md §4.10.
const hostImportPath = "grits/host"

// defaultAllowedPackages is the stdlib import allowlist, grounded
// directly on internal/autopoiesis/yaegi_executor.go's safe-package set:
// no os, os/exec, net, net/http, syscall, or unsafe.
func defaultAllowedPackages() map[string]bool {
	return map[string]bool{
		"strings":         true,
		"strconv":         true,
		"fmt":             true,
		"math":            true,
		"regexp":          true,
		"encoding/json":   true,
		"encoding/base64": true,
		"time":            true,
		"sort":            true,
		"bytes":           true,
		"path":            true,
		"path/filepath":   true,
		"errors":          true,
	}
}

// Options controls one Run call.
type Options struct {
	// Recover takes a pre-execution snapshot and automatically rolls back
	// to it if the script errors, per spec.md §4.10's "Pre-execution hook".
	Recover bool
}

// Outcome is the result of one Run call.
type Outcome struct {
	Log        []Event
	Err        error
	RolledBack bool
}

// Runner holds the process-lifetime collaborators a script run needs:
// the atom and web-research worker pools, the shadow filesystem, and the
// layer configuration used by check_red_flags. It does not itself hold
// any global mutable state; callers obtain the pools from
// grits/internal/runtime's singleton accessors.
type Runner struct {
	atomPool        *runtime.AtomPool
	webPool         *runtime.WebResearchPool
	llm             collab.LLMClient
	shadow          *shadowfs.ShadowFS
	layerCfg        layers.Config
	allowedPackages map[string]bool
}

// NewRunner constructs a Runner. shadow may be nil (snapshot/rollback host
// functions then report false rather than panicking); llm may be nil if
// llm_query is never called by the scripts this Runner executes.
func NewRunner(atomPool *runtime.AtomPool, webPool *runtime.WebResearchPool, llm collab.LLMClient, shadow *shadowfs.ShadowFS, layerCfg layers.Config) *Runner {
	return &Runner{
		atomPool:        atomPool,
		webPool:         webPool,
		llm:             llm,
		shadow:          shadow,
		layerCfg:        layerCfg,
		allowedPackages: defaultAllowedPackages(),
	}
}

// Run evaluates code, which must define `func Main() error` in package
// main, and invokes it. Every host call the script makes blocks the
// calling goroutine on the relevant worker pool's response channel; the
// script itself runs single-threaded to completion.
func (r *Runner) Run(ctx context.Context, code string, opts Options) Outcome {
	log := NewExecutionLog(nil)
	log.Append(EventScriptStart, "")

	if err := validateImports(code, r.allowedPackages); err != nil {
		log.Append(EventError, err.Error())
		log.Append(EventScriptEnd, "rejected: invalid imports")
		return Outcome{Log: log.Events(), Err: err}
	}

	host := NewHost(ctx, r.atomPool, r.webPool, r.llm, r.shadow, r.layerCfg, log)

	snapshotTaken := false
	var preSnap shadowfs.Snapshot
	if opts.Recover && r.shadow != nil {
		if snap, err := r.shadow.Snapshot(ctx, "pre-execution: script run"); err != nil {
			logging.Get(logging.CategoryScript).Warn("pre-execution snapshot failed: %v", err)
		} else {
			preSnap = snap
			snapshotTaken = true
			log.Append(EventSnapshot, "pre-execution")
		}
	}

	fail := func(err error) Outcome {
		log.Append(EventError, err.Error())
		rolledBack := false
		if opts.Recover && snapshotTaken {
			if rbErr := r.shadow.RollbackTo(ctx, preSnap.ID); rbErr != nil {
				logging.Get(logging.CategoryScript).Warn("auto-rollback failed: %v", rbErr)
			} else {
				log.Append(EventRollback, "auto-rollback after script error")
				rolledBack = true
			}
		}
		log.Append(EventScriptEnd, "error")
		return Outcome{Log: log.Events(), Err: err, RolledBack: rolledBack}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fail(fmt.Errorf("script: load stdlib: %w", err))
	}
	if err := i.Use(hostExports(host)); err != nil {
		return fail(fmt.Errorf("script: load host exports: %w", err))
	}

	if _, err := i.Eval(wrapCode(code)); err != nil {
		return fail(fmt.Errorf("script: evaluation failed: %w", err))
	}

	v, err := i.Eval("main.Main")
	if err != nil {
		return fail(fmt.Errorf("script: Main entrypoint not found: %w", err))
	}
	mainFn, ok := v.Interface().(func() error)
	if !ok {
		return fail(fmt.Errorf("script: Main has incorrect signature (expected: func() error)"))
	}

	if err := mainFn(); err != nil {
		return fail(fmt.Errorf("script: Main returned error: %w", err))
	}

	log.Append(EventScriptEnd, "ok")
	return Outcome{Log: log.Events()}
}

// hostExports builds the interp.Exports map binding one Host instance's
// methods into the `grits/host` package scripts import, per SPEC_FULL.md
// §4.10 ("host.SpawnAtom(...)" is the idiomatic yaegi exposure pattern).
func hostExports(host *Host) interp.Exports {
	return interp.Exports{
		hostImportPath + "/host": map[string]reflect.Value{
			"SpawnAtom":          reflect.ValueOf(host.SpawnAtom),
			"SpawnAtomWithFlags": reflect.ValueOf(host.SpawnAtomWithFlags),
			"RunConsensus":       reflect.ValueOf(host.RunConsensus),
			"CheckRedFlags":      reflect.ValueOf(host.CheckRedFlags),
			"Snapshot":           reflect.ValueOf(host.Snapshot),
			"Rollback":           reflect.ValueOf(host.Rollback),
			"LoadContextVar":     reflect.ValueOf(host.LoadContextVar),
			"PeekContext":        reflect.ValueOf(host.PeekContext),
			"ContextLength":      reflect.ValueOf(host.ContextLength),
			"ChunkContext":       reflect.ValueOf(host.ChunkContext),
			"RegexFilter":        reflect.ValueOf(host.RegexFilter),
			"HasContext":         reflect.ValueOf(host.HasContext),
			"ClearContext":       reflect.ValueOf(host.ClearContext),
			"ListContexts":       reflect.ValueOf(host.ListContexts),
			"LLMQuery":           reflect.ValueOf(host.LLMQuery),
			"SpawnRLM":           reflect.ValueOf(host.SpawnRLM),
			"CrawlURL":           reflect.ValueOf(host.CrawlURL),
			"ResearchDocs":       reflect.ValueOf(host.ResearchDocs),
			"ExtractContent":     reflect.ValueOf(host.ExtractContent),
			"Log":                reflect.ValueOf(host.Log),
		},
	}
}

// validateImports rejects any import outside allowed or the fixed host
// package, mirroring internal/autopoiesis/yaegi_executor.go's
// validateImports line-scan.
func validateImports(code string, allowed map[string]bool) error {
	lines := strings.Split(code, "\n")
	var imports []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := strings.Trim(trimmed, `"`); pkg != "" {
				imports = append(imports, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.TrimPrefix(trimmed, "import ")
			imports = append(imports, strings.Trim(strings.TrimSpace(pkg), `"`))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg == hostImportPath || allowed[pkg] {
			continue
		}
		forbidden = append(forbidden, pkg)
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("script: forbidden imports: %v", forbidden)
	}
	return nil
}

// wrapCode ensures code is a complete package main source file.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}
