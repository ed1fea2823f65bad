// Package orchestrator implements the Orchestrator (C11): markdown plan
// parsing, Kahn's-algorithm cycle validation, and wave-based execution
// through the Script Runtime.
package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"grits/internal/atoms"
)

// TaskStatus is the lifecycle state of one task within a Plan.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one parsed plan line.
type Task struct {
	ID          string
	Name        string // from a [name] prefix; empty when absent
	Description string
	Phase       string
	Kind        atoms.Kind
	DependsOn   []string // resolved task IDs
	Checked     bool
	Status      TaskStatus
	Attempts    int
	LastError   string
}

// Plan is a parsed, Kahn-validated markdown task list.
type Plan struct {
	Tasks []*Task
	byID  map[string]*Task
}

// ByID looks up a task by its resolved ID.
func (p *Plan) ByID(id string) (*Task, bool) {
	t, ok := p.byID[id]
	return t, ok
}

var (
	taskLinePattern = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*(.*)$`)
	namePrefix      = regexp.MustCompile(`^\[([^\]]+)\]\s*`)
	trailingDeps    = regexp.MustCompile(`[\(\[](depends|after):\s*([^\)\]]*)[\)\]]\s*$`)
)

// ParsePlan scans markdown line by line. Phase headers are `## ...` lines;
// tasks are `- [ ]`/`- [x]` lines, per spec.md §4.11.
func ParsePlan(markdown string) (*Plan, error) {
	plan := &Plan{byID: make(map[string]*Task)}
	byName := make(map[string]*Task)

	currentPhase := ""
	taskIndex := 0

	var pendingDeps []struct {
		task *Task
		refs []string
	}

	for _, rawLine := range strings.Split(markdown, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			currentPhase = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			continue
		}

		m := taskLinePattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		checked := strings.EqualFold(m[1], "x")
		rest := strings.TrimSpace(m[2])

		var depRefs []string
		if dm := trailingDeps.FindStringSubmatch(rest); dm != nil {
			rest = strings.TrimSpace(rest[:len(rest)-len(dm[0])])
			for _, ref := range strings.Split(dm[2], ",") {
				ref = strings.TrimSpace(ref)
				if ref != "" {
					depRefs = append(depRefs, ref)
				}
			}
		}

		name := ""
		if nm := namePrefix.FindStringSubmatch(rest); nm != nil {
			name = nm[1]
			rest = strings.TrimSpace(rest[len(nm[0]):])
		}

		taskIndex++
		id := fmt.Sprintf("t%d", taskIndex)

		status := TaskPending
		if checked {
			status = TaskCompleted
		}

		task := &Task{
			ID:          id,
			Name:        name,
			Description: rest,
			Phase:       currentPhase,
			Kind:        inferKind(rest),
			Checked:     checked,
			Status:      status,
		}
		plan.Tasks = append(plan.Tasks, task)
		plan.byID[id] = task
		if name != "" {
			byName[name] = task
		}
		if len(depRefs) > 0 {
			pendingDeps = append(pendingDeps, struct {
				task *Task
				refs []string
			}{task, depRefs})
		}
	}

	for _, pd := range pendingDeps {
		for _, ref := range pd.refs {
			if t, ok := byName[ref]; ok {
				pd.task.DependsOn = append(pd.task.DependsOn, t.ID)
				continue
			}
			if t, ok := plan.byID[ref]; ok {
				pd.task.DependsOn = append(pd.task.DependsOn, t.ID)
				continue
			}
			return nil, fmt.Errorf("orchestrator: task %q depends on unresolved reference %q", pd.task.ID, ref)
		}
	}

	if err := validateAcyclic(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// inferKind heuristically assigns an atom kind from the cleaned
// description, per spec.md §4.11.
func inferKind(description string) atoms.Kind {
	d := strings.ToLower(description)
	switch {
	case containsAny(d, "test", "verify", "assert"):
		return atoms.KindTester
	case containsAny(d, "review", "check", "validate"):
		return atoms.KindReviewer
	case containsAny(d, "design", "architect", "interface"):
		return atoms.KindArchitect
	case containsAny(d, "analyze", "topology", "dependency"):
		return atoms.KindGritsAnalyzer
	default:
		return atoms.KindCoder
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// validateAcyclic runs Kahn's algorithm over the dependency graph and
// rejects the plan if any task is left unconsumed (a cycle).
func validateAcyclic(plan *Plan) error {
	inDegree := make(map[string]int, len(plan.Tasks))
	dependents := make(map[string][]string)
	for _, t := range plan.Tasks {
		inDegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for _, t := range plan.Tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	consumed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		consumed++
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if consumed != len(plan.Tasks) {
		var cyclic []string
		for _, t := range plan.Tasks {
			if inDegree[t.ID] > 0 {
				cyclic = append(cyclic, t.ID)
			}
		}
		return fmt.Errorf("orchestrator: plan contains a dependency cycle among tasks %v", cyclic)
	}
	return nil
}
