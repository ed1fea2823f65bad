// Package atoms implements the Atom Executor (C8): spawns one LLM worker of
// a given kind, builds its prompt from a canonical template, parses and
// kind-validates the result, and scans Coder output for red flags.
package atoms

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"grits/internal/collab"
	"grits/internal/logging"
)

// Kind is the closed set of atom roles, per spec.md §4.8.
type Kind string

const (
	KindSearch        Kind = "Search"
	KindCoder         Kind = "Coder"
	KindReviewer      Kind = "Reviewer"
	KindPlanner       Kind = "Planner"
	KindValidator     Kind = "Validator"
	KindTester        Kind = "Tester"
	KindGritsAnalyzer Kind = "GritsAnalyzer"
	KindArchitect     Kind = "Architect"
	KindRLMProcessor  Kind = "RLMProcessor"
	KindWebResearcher Kind = "WebResearcher"
)

// canonicalTemplates holds the system-prompt opening line for each kind.
// Constraint bullets and context are appended around this at call time.
var canonicalTemplates = map[Kind]string{
	KindSearch:        "You are a Search atom. Locate the relevant symbols, files, or facts for the task and report them precisely.",
	KindCoder:         "You are a Coder atom. Produce code changes using FILE:<path> markers followed by fenced code blocks. Do not narrate outside of comments.",
	KindReviewer:      "You are a Reviewer atom. Evaluate the proposed change and respond with JSON including an \"approved\" boolean.",
	KindPlanner:       "You are a Planner atom. Decompose the task into an ordered list of concrete steps.",
	KindValidator:     "You are a Validator atom. Check the given artifact against its constraints and respond with JSON including a \"valid\" boolean.",
	KindTester:        "You are a Tester atom. Write or run tests for the given target and report the outcome.",
	KindGritsAnalyzer: "You are a GritsAnalyzer atom. Interpret topology and layer analysis results for a human reader.",
	KindArchitect:     "You are an Architect atom. Propose a structural design satisfying the stated constraints.",
	KindRLMProcessor:  "You are an RLMProcessor atom. Operate on the given context-store excerpt as instructed.",
	KindWebResearcher: "You are a WebResearcher atom. Summarize externally researched material relevant to the task.",
}

// Flags controls how a Request is executed and its output interpreted.
type Flags struct {
	RequireJSON  bool
	Temperature  float64
	MaxTokens    int
	RedFlagCheck bool
}

// Request is one atom invocation.
type Request struct {
	Kind          Kind
	Task          string
	Context       string   // rendered context (e.g. a mini-codebase document)
	Flags         Flags
	ForbiddenDeps []string // module names the output must not reference, from a layer report
}

// CodeFile is one file-level edit extracted from a Coder atom's output.
type CodeFile struct {
	File     string
	Content  string
	Language string
}

// Result is the outcome of one atom invocation.
type Result struct {
	ID            string // per spec.md §3's shared-identifier convention, uuid-generated
	Kind          Kind
	RawText       string
	Valid         bool
	ParseError    string
	JSON          map[string]interface{}
	Files         []CodeFile
	RedFlagged    bool
	RedFlagReason string
}

// Executor spawns atoms against an LLMClient.
type Executor struct {
	llm             collab.LLMClient
	redFlagPatterns []string
}

// DefaultRedFlagPatterns is the denylist of dangerous string patterns
// scanned for in Coder output, per spec.md §4.8 and §9(3).
func DefaultRedFlagPatterns() []string {
	return []string{
		"rm -rf",
		"DROP TABLE",
		"eval(",
		"exec(",
		"subprocess.call",
		"os.system",
		"__import__",
		"importlib.import_module",
	}
}

// ExecutorConfig configures NewExecutor. A nil or empty RedFlagPatterns
// falls back to DefaultRedFlagPatterns.
type ExecutorConfig struct {
	RedFlagPatterns []string
}

// NewExecutor returns an Executor backed by llm.
func NewExecutor(llm collab.LLMClient, cfg ExecutorConfig) *Executor {
	patterns := cfg.RedFlagPatterns
	if len(patterns) == 0 {
		patterns = DefaultRedFlagPatterns()
	}
	return &Executor{llm: llm, redFlagPatterns: patterns}
}

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// Execute builds the system prompt for req.Kind, calls the LLM, parses the
// response per req.Flags, applies kind-specific validation, and scans for
// red flags when requested.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	timer := logging.StartTimer(logging.CategoryAtoms, "Execute")
	defer timer.Stop()

	system := buildSystemPrompt(req)
	resp, err := e.llm.Complete(ctx, collab.CompletionRequest{
		System:      system,
		User:        req.Task,
		Temperature: req.Flags.Temperature,
		MaxTokens:   req.Flags.MaxTokens,
	})
	if err != nil {
		return Result{}, collab.NewError(collab.ErrLLM, fmt.Errorf("atom %s: %w", req.Kind, err))
	}

	result := Result{ID: uuid.NewString(), Kind: req.Kind, RawText: resp.Text, Valid: true}

	if req.Flags.RequireJSON {
		parsed, perr := parseJSON(resp.Text)
		if perr != nil {
			result.Valid = false
			result.ParseError = perr.Error()
		} else {
			result.JSON = parsed
			result.Valid = validateKindJSON(req.Kind, parsed)
			if !result.Valid {
				result.ParseError = fmt.Sprintf("atom %s: response JSON missing required field", req.Kind)
			}
		}
	}

	if req.Kind == KindCoder {
		result.Files = ParseCodeOutput(resp.Text)
		if len(result.Files) == 0 && !strings.Contains(resp.Text, "FILE:") && !strings.Contains(resp.Text, "```") {
			result.Valid = false
			result.ParseError = "atom Coder: response contains no fenced block or FILE: marker"
		}
	}

	if req.Flags.RedFlagCheck && req.Kind == KindCoder {
		flagged, reason := scanRedFlags(resp.Text, e.redFlagPatterns, req.ForbiddenDeps)
		result.RedFlagged = flagged
		result.RedFlagReason = reason
		if flagged {
			logging.Get(logging.CategoryAtoms).Warn("red flag in Coder output: %s", reason)
		}
	}

	return result, nil
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(canonicalTemplates[req.Kind])
	if b.Len() == 0 {
		b.WriteString(fmt.Sprintf("You are a %s atom.", req.Kind))
	}
	if req.Context != "" {
		b.WriteString("\n\n## Context\n\n")
		b.WriteString(req.Context)
	}
	if len(req.ForbiddenDeps) > 0 {
		b.WriteString("\n\n## Constraints\n\n")
		for _, dep := range req.ForbiddenDeps {
			fmt.Fprintf(&b, "- do not introduce a dependency on %s\n", dep)
		}
	}
	return b.String()
}

// parseJSON attempts a direct unmarshal, then falls back to extracting a
// fenced ```json block and retrying once.
func parseJSON(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err == nil {
		return out, nil
	}
	m := fencedJSONBlock.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("no direct JSON and no fenced json block found")
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &out); err != nil {
		return nil, fmt.Errorf("fenced json block did not parse: %w", err)
	}
	return out, nil
}

func validateKindJSON(kind Kind, parsed map[string]interface{}) bool {
	switch kind {
	case KindReviewer:
		_, ok := parsed["approved"].(bool)
		return ok
	case KindValidator:
		_, ok := parsed["valid"].(bool)
		return ok
	default:
		return true
	}
}

// ParseCodeOutput is the Coder code-output parser: a line-oriented state
// machine recognizing FILE:<path> markers and fenced code blocks.
func ParseCodeOutput(raw string) []CodeFile {
	var files []CodeFile
	lines := strings.Split(raw, "\n")

	pendingFile := ""
	inFence := false
	var fenceLang string
	var buf []string

	flush := func() {
		if len(buf) == 0 && pendingFile == "" {
			return
		}
		files = append(files, CodeFile{File: pendingFile, Content: strings.Join(buf, "\n"), Language: fenceLang})
		buf = nil
		pendingFile = ""
		fenceLang = ""
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inFence && strings.HasPrefix(trimmed, "FILE:"):
			pendingFile = strings.TrimSpace(strings.TrimPrefix(trimmed, "FILE:"))
		case !inFence && strings.HasPrefix(trimmed, "```"):
			inFence = true
			fenceLang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			buf = nil
		case inFence && strings.HasPrefix(trimmed, "```"):
			inFence = false
			flush()
		case inFence:
			buf = append(buf, line)
		}
	}
	return files
}

// scanRedFlags reports whether raw contains any denylisted pattern or
// literally mentions a forbidden module.
func scanRedFlags(raw string, patterns, forbiddenDeps []string) (bool, string) {
	for _, p := range patterns {
		if strings.Contains(raw, p) {
			return true, fmt.Sprintf("matched denylisted pattern %q", p)
		}
	}
	for _, dep := range forbiddenDeps {
		if dep != "" && strings.Contains(raw, dep) {
			return true, fmt.Sprintf("references forbidden dependency %q", dep)
		}
	}
	return false, ""
}
