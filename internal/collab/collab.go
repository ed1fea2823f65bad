// Package collab declares the boundary the core talks across: an LLM
// collaborator for atom completions and a Parser collaborator for turning
// source bytes into symbols and edges. Concrete adapters live in
// sub-packages (genai, goparser); the core only depends on these
// interfaces.
package collab

import (
	"context"
	"strings"

	"grits/internal/graph"
)

// CompletionRequest is one call to an LLM collaborator.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// CompletionResult is what the collaborator returns. Tokens is 0 when the
// provider does not report usage.
type CompletionResult struct {
	Text   string
	Model  string
	Tokens int
}

// LLMClient is the external collaborator for completions, per spec.md §6.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// Parser is the external collaborator that extracts symbols and edges from
// one file's source. The core assumes edges may reference endpoints not
// present in symbols; the graph auto-materializes them (grits/internal/graph
// does this on AddDependency).
type Parser interface {
	Extract(fileID string, source []byte) ([]graph.Symbol, []graph.Edge, error)
}

// WebResearcher is the external collaborator backing the Script Runtime's
// web-research host functions (crawl_url, research_docs, extract_content).
// The core never talks HTTP directly; a concrete adapter is injected.
type WebResearcher interface {
	CrawlURL(ctx context.Context, url string) (string, error)
	ResearchDocs(ctx context.Context, query string) (string, error)
	ExtractContent(ctx context.Context, html string) (string, error)
}

// ErrorKind is the closed taxonomy of error kinds the core surfaces, per
// spec.md §7.
type ErrorKind string

const (
	ErrParse              ErrorKind = "parse_error"
	ErrConfig             ErrorKind = "config_error"
	ErrIO                 ErrorKind = "io_error"
	ErrLLM                ErrorKind = "llm_error"
	ErrValidation         ErrorKind = "validation_error"
	ErrInvariantViolation ErrorKind = "invariant_violation"
	ErrConsensusTimeout   ErrorKind = "consensus_timeout"
	ErrConsensusExhausted ErrorKind = "consensus_exhausted"
	ErrScript             ErrorKind = "script_error"
	ErrSnapshot           ErrorKind = "snapshot_error"
	ErrRollback           ErrorKind = "rollback_error"
)

// CoreError wraps an underlying error with its kind and transience, so that
// retry policies (the Orchestrator's script-generation retry, most
// notably) can decide whether to back off and retry or fail the task.
type CoreError struct {
	Kind      ErrorKind
	Transient bool
	Err       error
}

func (e *CoreError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError wraps err as kind, classifying transience from its message the
// way classifyTaskError does for campaign task failures.
func NewError(kind ErrorKind, err error) *CoreError {
	return &CoreError{Kind: kind, Transient: isTransient(err), Err: err}
}

var transientHints = []string{
	"timeout",
	"context deadline",
	"rate limit",
	"too many requests",
	"temporar",
	"connection",
	"unavailable",
	"network",
	"i/o",
	"server error",
	"bad gateway",
	"service unavailable",
}

// isTransient buckets an error by message heuristics: network, rate-limit,
// 5xx, and timeouts are transient; everything else defaults to permanent,
// per spec.md §7's classification policy.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, h := range transientHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// Fatal reports whether kind is always fatal to the current task,
// regardless of retry budget, per spec.md §7.
func (k ErrorKind) Fatal() bool {
	switch k {
	case ErrRollback:
		return true
	default:
		return false
	}
}
