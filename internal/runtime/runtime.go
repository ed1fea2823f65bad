// Package runtime owns the three lifecycle singletons the Script Runtime is
// allowed to depend on: the atom worker pool, the web-research worker pool,
// and a cached symbol graph. Each is initialized once, lazily, and guarded
// so that re-entrant initialization is a no-op, per spec.md §9's global
// state allowance.
//
// The pools exist because host calls that are fundamentally async (atom
// spawn, consensus, web research) must never open a fresh reactor per call;
// instead each pool owns one dedicated worker goroutine for the lifetime of
// the process, fed by a buffered request channel and replying on a
// per-request one-shot channel.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"grits/internal/atoms"
	"grits/internal/collab"
	"grits/internal/graph"
)

var (
	processLogger   *zap.Logger
	processLoggerMu sync.Mutex
)

// ProcessLogger returns the lazily-built production zap logger used for
// operational lifecycle events of the long-lived singletons in this
// package. Categorized per-subsystem debug logging still goes through
// grits/internal/logging; this logger is reserved for pool/process events.
func ProcessLogger(debug bool) *zap.Logger {
	processLoggerMu.Lock()
	defer processLoggerMu.Unlock()
	if processLogger != nil {
		return processLogger
	}
	config := zap.NewProductionConfig()
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		// Fall back to a no-op logger rather than panic; lifecycle logging
		// is best-effort and must never block startup.
		logger = zap.NewNop()
	}
	processLogger = logger
	return processLogger
}

// AtomRequest is one request/response round trip through the atom pool.
type AtomRequest struct {
	Kind          atoms.Kind
	Task          string
	Context       string
	Flags         atoms.Flags
	ForbiddenDeps []string
}

// AtomResponse is the atom pool's reply to an AtomRequest.
type AtomResponse struct {
	Result atoms.Result
	Err    error
}

type atomJob struct {
	ctx    context.Context
	req    AtomRequest
	respCh chan AtomResponse
}

// AtomPool is the application-lifetime worker pool that owns the async
// reactor for atom spawns. Script Runtime host functions submit requests
// and block on the per-request response channel; the pool never spins up a
// fresh goroutine-and-forget per call.
type AtomPool struct {
	executor *atoms.Executor
	logger   *zap.Logger
	jobs     chan atomJob
	done     chan struct{}
}

var (
	atomPool     *AtomPool
	atomPoolOnce sync.Once
)

// InitAtomPool builds the atom pool exactly once for the process. Calling
// it again with a different executor is a no-op; the first call wins.
func InitAtomPool(ctx context.Context, executor *atoms.Executor) *AtomPool {
	atomPoolOnce.Do(func() {
		logger := ProcessLogger(false)
		p := &AtomPool{
			executor: executor,
			logger:   logger,
			jobs:     make(chan atomJob, 64),
			done:     make(chan struct{}),
		}
		go p.run(ctx)
		logger.Info("atom pool started")
		atomPool = p
	})
	return atomPool
}

// AtomPoolOrNil returns the singleton if InitAtomPool has already run, or
// nil otherwise. Host functions use this to fail loudly rather than
// silently constructing a throwaway reactor.
func AtomPoolOrNil() *AtomPool {
	return atomPool
}

func (p *AtomPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("atom pool shutting down", zap.Error(ctx.Err()))
			close(p.done)
			return
		case job := <-p.jobs:
			result, err := p.executor.Execute(job.ctx, atoms.Request{
				Kind:          job.req.Kind,
				Task:          job.req.Task,
				Context:       job.req.Context,
				Flags:         job.req.Flags,
				ForbiddenDeps: job.req.ForbiddenDeps,
			})
			job.respCh <- AtomResponse{Result: result, Err: err}
		}
	}
}

// Done is closed once the pool's worker goroutine has observed context
// cancellation and returned.
func (p *AtomPool) Done() <-chan struct{} { return p.done }

// Submit enqueues req and blocks until the pool's worker goroutine replies
// or ctx is cancelled, whichever comes first.
func (p *AtomPool) Submit(ctx context.Context, req AtomRequest) (atoms.Result, error) {
	respCh := make(chan AtomResponse, 1)
	select {
	case p.jobs <- atomJob{ctx: ctx, req: req, respCh: respCh}:
	case <-ctx.Done():
		return atoms.Result{}, ctx.Err()
	}
	select {
	case resp := <-respCh:
		return resp.Result, resp.Err
	case <-ctx.Done():
		return atoms.Result{}, ctx.Err()
	}
}

// WebResearchOp names the operation a web-research request performs.
type WebResearchOp string

const (
	OpCrawlURL       WebResearchOp = "crawl_url"
	OpResearchDocs   WebResearchOp = "research_docs"
	OpExtractContent WebResearchOp = "extract_content"
)

// WebResearchRequest is one request/response round trip through the
// web-research pool.
type WebResearchRequest struct {
	Op  WebResearchOp
	Arg string // url for crawl_url/extract_content, query for research_docs
}

// WebResearchResponse is the pool's reply to a WebResearchRequest.
type WebResearchResponse struct {
	Content string
	Err     error
}

type webJob struct {
	ctx    context.Context
	req    WebResearchRequest
	respCh chan WebResearchResponse
}

// WebResearchPool is the application-lifetime worker pool that owns the
// async reactor for outbound HTTP research calls.
type WebResearchPool struct {
	researcher collab.WebResearcher
	logger     *zap.Logger
	jobs       chan webJob
	done       chan struct{}
}

var (
	webPool     *WebResearchPool
	webPoolOnce sync.Once
)

// InitWebResearchPool builds the web-research pool exactly once for the
// process. Re-entrant calls are a no-op.
func InitWebResearchPool(ctx context.Context, researcher collab.WebResearcher) *WebResearchPool {
	webPoolOnce.Do(func() {
		logger := ProcessLogger(false)
		p := &WebResearchPool{
			researcher: researcher,
			logger:     logger,
			jobs:       make(chan webJob, 64),
			done:       make(chan struct{}),
		}
		go p.run(ctx)
		logger.Info("web-research pool started")
		webPool = p
	})
	return webPool
}

// WebResearchPoolOrNil returns the singleton if InitWebResearchPool has
// already run, or nil otherwise.
func WebResearchPoolOrNil() *WebResearchPool {
	return webPool
}

func (p *WebResearchPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("web-research pool shutting down", zap.Error(ctx.Err()))
			close(p.done)
			return
		case job := <-p.jobs:
			var content string
			var err error
			switch job.req.Op {
			case OpCrawlURL:
				content, err = p.researcher.CrawlURL(job.ctx, job.req.Arg)
			case OpResearchDocs:
				content, err = p.researcher.ResearchDocs(job.ctx, job.req.Arg)
			case OpExtractContent:
				content, err = p.researcher.ExtractContent(job.ctx, job.req.Arg)
			default:
				err = fmt.Errorf("web-research pool: unknown op %q", job.req.Op)
			}
			job.respCh <- WebResearchResponse{Content: content, Err: err}
		}
	}
}

// Done is closed once the pool's worker goroutine has observed context
// cancellation and returned.
func (p *WebResearchPool) Done() <-chan struct{} { return p.done }

// Submit enqueues req and blocks until the pool's worker goroutine replies
// or ctx is cancelled.
func (p *WebResearchPool) Submit(ctx context.Context, req WebResearchRequest) (string, error) {
	respCh := make(chan WebResearchResponse, 1)
	select {
	case p.jobs <- webJob{ctx: ctx, req: req, respCh: respCh}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case resp := <-respCh:
		return resp.Content, resp.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// cached symbol graph singleton.
var (
	cachedGraph   *graph.Graph
	cachedGraphMu sync.RWMutex
)

// InitGraph builds the cached symbol graph exactly once for the process by
// calling loader. Re-entrant calls are a no-op; later callers get the
// graph produced by the first successful call. Double-checked locking is
// used instead of sync.Once so a failed first load can be retried.
func InitGraph(loader func() (*graph.Graph, error)) (*graph.Graph, error) {
	cachedGraphMu.RLock()
	if cachedGraph != nil {
		g := cachedGraph
		cachedGraphMu.RUnlock()
		return g, nil
	}
	cachedGraphMu.RUnlock()

	cachedGraphMu.Lock()
	defer cachedGraphMu.Unlock()
	if cachedGraph != nil {
		return cachedGraph, nil
	}
	g, err := loader()
	if err != nil {
		return nil, err
	}
	cachedGraph = g
	return g, nil
}

// CachedGraph returns the current cached graph, or nil if InitGraph has
// never succeeded.
func CachedGraph() *graph.Graph {
	cachedGraphMu.RLock()
	defer cachedGraphMu.RUnlock()
	return cachedGraph
}

// InvalidateGraph drops the cached graph, forcing the next InitGraph call
// to reload. Used after a mutation that changes the underlying sources
// (e.g. an applied Coder atom's output) rather than a simulated one.
func InvalidateGraph() {
	cachedGraphMu.Lock()
	defer cachedGraphMu.Unlock()
	cachedGraph = nil
}
