// Package consensus implements the Consensus Voter (C9): first-to-ahead-by-k
// voting across parallel and sequential atom spawns.
package consensus

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"grits/internal/logging"
)

// Config holds the voting parameters, per spec.md §4.9.
type Config struct {
	KThreshold       int
	MaxAtoms         int
	Timeout          time.Duration
	DiscardRedFlags  bool
	MinVotes         int
	InitialBatchSize int
	ParallelEnabled  bool
}

// AtomRunner spawns one atom and returns its raw output, whether it was
// red-flagged, and any execution error.
type AtomRunner func(ctx context.Context) (output string, redFlagged bool, err error)

// Outcome is the result of a Run call.
type Outcome struct {
	RoundID       string // per spec.md §3's shared-identifier convention, uuid-generated
	Winner        string
	Votes         map[string]int
	AtomsSpawned  int
	Discarded     int
	Success       bool
	FailureReason string // "consensus_timeout" | "consensus_exhausted" | ""
}

// Run spawns atoms via spawn until a winner opens a k-lead, max_atoms is
// reached, or timeout elapses.
func Run(ctx context.Context, cfg Config, spawn AtomRunner) Outcome {
	timer := logging.StartTimer(logging.CategoryConsensus, "Run")
	defer timer.Stop()

	roundID := uuid.NewString()
	deadline := time.Now().Add(cfg.Timeout)
	votes := make(map[string]int)
	var mu sync.Mutex
	atomsSpawned := 0
	discarded := 0

	record := func(out string, redFlagged bool, err error) {
		mu.Lock()
		defer mu.Unlock()
		atomsSpawned++
		if err != nil {
			discarded++
			return
		}
		if redFlagged && cfg.DiscardRedFlags {
			discarded++
			return
		}
		votes[normalize(out)]++
	}

	batchSize := cfg.InitialBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	if cfg.ParallelEnabled && batchSize > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < batchSize; i++ {
			g.Go(func() error {
				out, flagged, err := spawn(gctx)
				record(out, flagged, err)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := 0; i < batchSize; i++ {
			out, flagged, err := spawn(ctx)
			record(out, flagged, err)
		}
	}

	for {
		mu.Lock()
		winner, ok := checkWinner(votes, cfg.MinVotes, cfg.KThreshold)
		votesCopy := copyVotes(votes)
		spawned := atomsSpawned
		mu.Unlock()

		if ok {
			logging.Get(logging.CategoryConsensus).Info("consensus reached after %d atoms: %q", spawned, truncate(winner, 80))
			return Outcome{RoundID: roundID, Winner: winner, Votes: votesCopy, AtomsSpawned: spawned, Discarded: discarded, Success: true}
		}
		if spawned >= cfg.MaxAtoms {
			logging.Get(logging.CategoryConsensus).Warn("consensus exhausted after %d atoms", spawned)
			return Outcome{RoundID: roundID, Votes: votesCopy, AtomsSpawned: spawned, Discarded: discarded, Success: false, FailureReason: "consensus_exhausted"}
		}
		if time.Now().After(deadline) {
			logging.Get(logging.CategoryConsensus).Warn("consensus timed out after %d atoms", spawned)
			return Outcome{RoundID: roundID, Votes: votesCopy, AtomsSpawned: spawned, Discarded: discarded, Success: false, FailureReason: "consensus_timeout"}
		}

		out, flagged, err := spawn(ctx)
		record(out, flagged, err)
	}
}

// checkWinner sorts votes by count descending (ties broken lexically for
// determinism) and applies the sole-candidate / k-lead rule.
func checkWinner(votes map[string]int, minVotes, kThreshold int) (string, bool) {
	if len(votes) == 0 {
		return "", false
	}
	type candidate struct {
		value string
		count int
	}
	list := make([]candidate, 0, len(votes))
	for v, c := range votes {
		list = append(list, candidate{v, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].value < list[j].value
	})

	top := list[0]
	if len(list) == 1 {
		return top.value, top.count >= minVotes
	}
	second := list[1]
	if top.count >= minVotes && top.count-second.count >= kThreshold {
		return top.value, true
	}
	return "", false
}

// normalize collapses any run of whitespace to a single space so that
// cosmetic formatting differences do not split a vote.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func copyVotes(votes map[string]int) map[string]int {
	out := make(map[string]int, len(votes))
	for k, v := range votes {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
