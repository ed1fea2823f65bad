package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grits/internal/collab"
	"grits/internal/logging"
)

// Config controls wave execution and script-generation retry policy, per
// spec.md §4.11.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptRecoder func(taskID string, attempt int, err error) // optional, for execution-log style observers
}

// TaskRunner executes one task, either by generating and running a script
// through the Script Runtime or by dispatching a single atom spawn. The
// Orchestrator is deliberately decoupled from the Script Runtime's
// concrete type so it can be driven by either path.
type TaskRunner func(ctx context.Context, task *Task) error

// WaveResult summarizes one execute_plan call.
type WaveResult struct {
	Completed []string // task IDs completed this run, in completion order across waves
	Failed    []string // task IDs that exhausted retries
	Stalled   []string // task IDs left pending because no wave made progress
	Waves     int
}

// Orchestrator runs a validated Plan wave by wave.
type Orchestrator struct {
	cfg Config
}

// New returns an Orchestrator. A zero Config falls back to MaxRetries=3,
// RetryDelay=2s.
func New(cfg Config) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Orchestrator{cfg: cfg}
}

// ExecutePlan runs plan's tasks in dependency waves. A wave is every
// pending task whose dependencies have all completed; wave members run
// concurrently via errgroup. Loop continues until every task has settled
// (completed or permanently failed) or a wave makes no progress, which
// signals a runtime stall distinct from the parse-time cycle check.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan *Plan, run TaskRunner) WaveResult {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "ExecutePlan")
	defer timer.Stop()

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	for _, t := range plan.Tasks {
		if t.Status == TaskCompleted {
			completed[t.ID] = true
		}
	}

	var result WaveResult
	for {
		wave := o.nextWave(plan, completed, failed)
		if len(wave) == 0 {
			break
		}
		result.Waves++

		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		for _, task := range wave {
			task := task
			g.Go(func() error {
				err := o.runWithRetry(gctx, task, run)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed[task.ID] = true
					task.Status = TaskFailed
					task.LastError = err.Error()
					logging.Get(logging.CategoryOrchestrator).Warn("task %s failed permanently: %v", task.ID, err)
				} else {
					completed[task.ID] = true
					task.Status = TaskCompleted
				}
				return nil
			})
		}
		_ = g.Wait()

		progressed := false
		for _, task := range wave {
			if completed[task.ID] || failed[task.ID] {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for _, t := range plan.Tasks {
		switch {
		case completed[t.ID]:
			result.Completed = append(result.Completed, t.ID)
		case failed[t.ID]:
			result.Failed = append(result.Failed, t.ID)
		default:
			result.Stalled = append(result.Stalled, t.ID)
		}
	}
	return result
}

// nextWave returns every task whose dependencies have all settled
// (completed) and which is itself neither completed nor failed.
func (o *Orchestrator) nextWave(plan *Plan, completed, failed map[string]bool) []*Task {
	var wave []*Task
	for _, t := range plan.Tasks {
		if completed[t.ID] || failed[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, t)
		}
	}
	return wave
}

// runWithRetry attempts run up to cfg.MaxRetries times with a fixed delay
// between attempts, per spec.md §4.11. Every attempt is recorded via
// cfg.AttemptRecoder when set. A *collab.CoreError that is not transient,
// or whose kind is always fatal, ends the retries at once; any other error
// is retried.
func (o *Orchestrator) runWithRetry(ctx context.Context, task *Task, run TaskRunner) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		task.Attempts = attempt
		task.Status = TaskRunning
		err := run(ctx, task)
		if o.cfg.AttemptRecoder != nil {
			o.cfg.AttemptRecoder(task.ID, attempt, err)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		task.LastError = err.Error()
		logging.Get(logging.CategoryOrchestrator).Warn("task %s attempt %d/%d failed: %v", task.ID, attempt, o.cfg.MaxRetries, err)

		var coreErr *collab.CoreError
		if errors.As(err, &coreErr) && (!coreErr.Transient || coreErr.Kind.Fatal()) {
			return fmt.Errorf("task %s failed with a permanent error on attempt %d: %w", task.ID, attempt, err)
		}

		if attempt < o.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.RetryDelay):
			}
		}
	}
	return fmt.Errorf("task %s exhausted %d attempts: %w", task.ID, o.cfg.MaxRetries, lastErr)
}
