package script

import (
	"context"
	"fmt"
	"time"

	"grits/internal/atoms"
	"grits/internal/collab"
	"grits/internal/consensus"
	"grits/internal/layers"
	"grits/internal/logging"
	"grits/internal/rlm"
	"grits/internal/runtime"
	"grits/internal/shadowfs"
	"grits/internal/virtualapply"
)

// defaultConsensusTimeout bounds a script-initiated run_consensus call
// that does not specify its own timeout.
const defaultConsensusTimeout = 30 * time.Second

// AtomResult is the value spawn_atom/spawn_atom_with_flags/llm_query/
// spawn_rlm return to a script.
type AtomResult struct {
	ID            string
	Kind          string
	Text          string
	Valid         bool
	RedFlagged    bool
	RedFlagReason string
}

// ConsensusResult is the value run_consensus returns to a script.
type ConsensusResult struct {
	RoundID       string
	Winner        string
	Votes         map[string]int
	AtomsSpawned  int
	Success       bool
	FailureReason string
}

// Host is the receiver behind the script host function surface described
// in spec.md §4.10. One Host is constructed per script run so that its
// execution log, RLM store, and snapshot hook are scoped to that run; the
// worker pools and shadow filesystem it talks to are process-lifetime
// singletons injected at construction.
type Host struct {
	ctx      context.Context
	atomPool *runtime.AtomPool
	webPool  *runtime.WebResearchPool
	llm      collab.LLMClient
	shadow   *shadowfs.ShadowFS
	layerCfg layers.Config
	store    *rlm.Store
	log      *ExecutionLog
}

// NewHost wires a Host for one script run. store and log are owned by the
// run and discarded at its end; atomPool, webPool, and shadow are
// process-lifetime and shared across runs.
func NewHost(ctx context.Context, atomPool *runtime.AtomPool, webPool *runtime.WebResearchPool, llm collab.LLMClient, shadow *shadowfs.ShadowFS, layerCfg layers.Config, log *ExecutionLog) *Host {
	return &Host{
		ctx:      ctx,
		atomPool: atomPool,
		webPool:  webPool,
		llm:      llm,
		shadow:   shadow,
		layerCfg: layerCfg,
		store:    rlm.New(),
		log:      log,
	}
}

func toAtomResult(r atoms.Result) AtomResult {
	return AtomResult{
		ID:            r.ID,
		Kind:          string(r.Kind),
		Text:          r.RawText,
		Valid:         r.Valid,
		RedFlagged:    r.RedFlagged,
		RedFlagReason: r.RedFlagReason,
	}
}

// SpawnAtom is the `spawn_atom(kind, prompt) -> AtomResult` host function.
func (h *Host) SpawnAtom(kind, prompt string) AtomResult {
	return h.SpawnAtomWithFlags(kind, prompt, false, 0)
}

// SpawnAtomWithFlags is `spawn_atom_with_flags(kind, prompt, flags)`.
// Scripts pass flags as plain arguments (requireJSON, maxTokens) since
// yaegi scripts have no access to Go struct literals for unexported
// fields across the interpreter boundary.
func (h *Host) SpawnAtomWithFlags(kind, prompt string, requireJSON bool, maxTokens int) AtomResult {
	h.log.Append(EventAtomSpawned, fmt.Sprintf("kind=%s", kind))
	if h.atomPool == nil {
		h.log.Append(EventError, "spawn_atom: no atom pool configured")
		return AtomResult{Kind: kind}
	}
	result, err := h.atomPool.Submit(h.ctx, runtime.AtomRequest{
		Kind: atoms.Kind(kind),
		Task: prompt,
		Flags: atoms.Flags{
			RequireJSON:  requireJSON,
			MaxTokens:    maxTokens,
			RedFlagCheck: true,
		},
	})
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("spawn_atom: %v", err))
		return AtomResult{Kind: kind}
	}
	if result.RedFlagged {
		h.log.Append(EventRedFlagDetected, result.RedFlagReason)
	}
	h.log.Append(EventAtomCompleted, fmt.Sprintf("kind=%s valid=%v", kind, result.Valid))
	return toAtomResult(result)
}

// RunConsensus is `run_consensus(kind, task, k) -> ConsensusResult`.
func (h *Host) RunConsensus(kind, task string, k int) ConsensusResult {
	h.log.Append(EventConsensusStart, fmt.Sprintf("kind=%s k=%d", kind, k))
	cfg := consensus.Config{
		KThreshold:       k,
		MaxAtoms:         10,
		Timeout:          defaultConsensusTimeout,
		MinVotes:         1,
		InitialBatchSize: 3,
		ParallelEnabled:  true,
		DiscardRedFlags:  true,
	}
	outcome := consensus.Run(h.ctx, cfg, func(ctx context.Context) (string, bool, error) {
		if h.atomPool == nil {
			return "", false, fmt.Errorf("run_consensus: no atom pool configured")
		}
		result, err := h.atomPool.Submit(ctx, runtime.AtomRequest{
			Kind:  atoms.Kind(kind),
			Task:  task,
			Flags: atoms.Flags{RedFlagCheck: true},
		})
		if err != nil {
			return "", false, err
		}
		h.log.Append(EventConsensusVote, truncateForLog(result.RawText))
		return result.RawText, result.RedFlagged, nil
	})
	h.log.Append(EventConsensusEnd, fmt.Sprintf("success=%v atoms_spawned=%d", outcome.Success, outcome.AtomsSpawned))
	return ConsensusResult{
		RoundID:       outcome.RoundID,
		Winner:        outcome.Winner,
		Votes:         outcome.Votes,
		AtomsSpawned:  outcome.AtomsSpawned,
		Success:       outcome.Success,
		FailureReason: outcome.FailureReason,
	}
}

// CheckRedFlags is `check_red_flags(code) -> bool`: it virtually applies
// code against the cached symbol graph and reports whether doing so would
// be unsafe (a topology regression or a layer violation), per spec.md's
// "runs analyzer on the cached graph".
func (h *Host) CheckRedFlags(code string) bool {
	g := runtime.CachedGraph()
	if g == nil {
		return false
	}
	report, _ := virtualapply.ApplyVirtual(g, []virtualapply.ProposedChange{
		{File: "<script>", Kind: virtualapply.ChangeModify, Code: code, Language: "go"},
	}, &h.layerCfg)
	if report.Unsafe {
		h.log.Append(EventRedFlagDetected, "check_red_flags: virtual apply reported unsafe")
	}
	return report.Unsafe
}

// Snapshot is `snapshot(message) -> bool`.
func (h *Host) Snapshot(message string) bool {
	if h.shadow == nil {
		return false
	}
	if _, err := h.shadow.Snapshot(h.ctx, message); err != nil {
		h.log.Append(EventError, fmt.Sprintf("snapshot: %v", err))
		return false
	}
	h.log.Append(EventSnapshot, message)
	return true
}

// Rollback is `rollback() -> bool`.
func (h *Host) Rollback() bool {
	if h.shadow == nil {
		return false
	}
	if err := h.shadow.Rollback(h.ctx); err != nil {
		h.log.Append(EventError, fmt.Sprintf("rollback: %v", err))
		return false
	}
	h.log.Append(EventRollback, "")
	return true
}

// LoadContextVar is `load_context_var(name, content, tag)`.
func (h *Host) LoadContextVar(name, content, tag string) {
	h.store.Load(name, content, rlm.Tag(tag))
	h.log.Append(EventRLMLoad, name)
}

// PeekContext is `peek_context(name, start, end) -> string`.
func (h *Host) PeekContext(name string, start, end int) string {
	out, err := h.store.Peek(name, start, end)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("peek_context: %v", err))
		return ""
	}
	return out
}

// ContextLength is `context_length(name) -> int`.
func (h *Host) ContextLength(name string) int {
	n, err := h.store.Length(name)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("context_length: %v", err))
		return 0
	}
	return n
}

// ChunkContext is `chunk_context(name, size) -> []string`.
func (h *Host) ChunkContext(name string, size int) []string {
	chunks, err := h.store.Chunk(name, size)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("chunk_context: %v", err))
		return nil
	}
	return chunks
}

// RegexFilter is `regex_filter(name, pattern) -> []string`.
func (h *Host) RegexFilter(name, pattern string) []string {
	lines, err := h.store.RegexFilter(name, pattern)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("regex_filter: %v", err))
		return nil
	}
	return lines
}

// HasContext is `has_context(name) -> bool`.
func (h *Host) HasContext(name string) bool {
	for _, n := range h.store.List() {
		if n == name {
			return true
		}
	}
	return false
}

// ClearContext is `clear_context()`.
func (h *Host) ClearContext() {
	h.store.Clear()
}

// ListContexts is `list_contexts() -> []string`.
func (h *Host) ListContexts() []string {
	return h.store.List()
}

// LLMQuery is `llm_query(prompt) -> AtomResult`: a direct completion
// outside the atom/consensus machinery, still routed through the atom
// pool so it shares the same single reactor.
func (h *Host) LLMQuery(prompt string) AtomResult {
	h.log.Append(EventRLMQuery, truncateForLog(prompt))
	if h.atomPool != nil {
		result, err := h.atomPool.Submit(h.ctx, runtime.AtomRequest{
			Kind: atoms.KindRLMProcessor,
			Task: prompt,
		})
		if err != nil {
			h.log.Append(EventError, fmt.Sprintf("llm_query: %v", err))
			return AtomResult{}
		}
		return toAtomResult(result)
	}
	if h.llm == nil {
		h.log.Append(EventError, "llm_query: no atom pool or LLM client configured")
		return AtomResult{}
	}
	resp, err := h.llm.Complete(h.ctx, collab.CompletionRequest{User: prompt})
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("llm_query: %v", err))
		return AtomResult{}
	}
	return AtomResult{Kind: string(atoms.KindRLMProcessor), Text: resp.Text, Valid: true}
}

// SpawnRLM is `spawn_rlm(kind, task, ctx_var) -> AtomResult`: spawns an
// atom whose Context is the named RLM blob's full content.
func (h *Host) SpawnRLM(kind, task, ctxVar string) AtomResult {
	n, err := h.store.Length(ctxVar)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("spawn_rlm: %v", err))
		return AtomResult{}
	}
	content, err := h.store.Peek(ctxVar, 0, n)
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("spawn_rlm: %v", err))
		return AtomResult{}
	}
	h.log.Append(EventAtomSpawned, fmt.Sprintf("kind=%s ctx_var=%s", kind, ctxVar))
	if h.atomPool == nil {
		h.log.Append(EventError, "spawn_rlm: no atom pool configured")
		return AtomResult{}
	}
	result, err := h.atomPool.Submit(h.ctx, runtime.AtomRequest{
		Kind:    atoms.Kind(kind),
		Task:    task,
		Context: content,
	})
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("spawn_rlm: %v", err))
		return AtomResult{}
	}
	h.log.Append(EventAtomCompleted, fmt.Sprintf("kind=%s ctx_var=%s", kind, ctxVar))
	return toAtomResult(result)
}

// CrawlURL is `crawl_url(url) -> string`.
func (h *Host) CrawlURL(url string) string {
	return h.submitWeb(runtime.OpCrawlURL, url)
}

// ResearchDocs is `research_docs(query) -> string`.
func (h *Host) ResearchDocs(query string) string {
	return h.submitWeb(runtime.OpResearchDocs, query)
}

// ExtractContent is `extract_content(html) -> string`.
func (h *Host) ExtractContent(html string) string {
	return h.submitWeb(runtime.OpExtractContent, html)
}

func (h *Host) submitWeb(op runtime.WebResearchOp, arg string) string {
	if h.webPool == nil {
		h.log.Append(EventError, fmt.Sprintf("%s: no web-research pool configured", op))
		return ""
	}
	content, err := h.webPool.Submit(h.ctx, runtime.WebResearchRequest{Op: op, Arg: arg})
	if err != nil {
		h.log.Append(EventError, fmt.Sprintf("%s: %v", op, err))
		return ""
	}
	return content
}

// Log is the script-visible `log(message)`. It goes through the
// categorized script logger, not the execution log, since spec.md's
// execution-log event taxonomy has no generic "Log" kind.
func (h *Host) Log(message string) {
	logging.Get(logging.CategoryScript).Info("%s", message)
}

func truncateForLog(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
