package script

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of execution log event types, per spec.md
// §4.10/§5. Timestamps are monotonic within one run; ordering is by
// arrival at the log mutex, not wall clock.
type EventKind string

const (
	EventScriptStart     EventKind = "ScriptStart"
	EventScriptEnd       EventKind = "ScriptEnd"
	EventAtomSpawned     EventKind = "AtomSpawned"
	EventAtomCompleted   EventKind = "AtomCompleted"
	EventConsensusStart  EventKind = "ConsensusStart"
	EventConsensusVote   EventKind = "ConsensusVote"
	EventConsensusEnd    EventKind = "ConsensusEnd"
	EventRedFlagDetected EventKind = "RedFlagDetected"
	EventSnapshot        EventKind = "Snapshot"
	EventRollback        EventKind = "Rollback"
	EventError           EventKind = "Error"
	EventRLMLoad         EventKind = "RLMLoad"
	EventRLMQuery        EventKind = "RLMQuery"
)

// Event is one entry in a script's execution log.
type Event struct {
	ID        string // per spec.md §3's shared-identifier convention, uuid-generated
	Kind      EventKind
	Message   string
	Timestamp time.Time
	Seq       int
}

// ExecutionLog is the linear, append-only, mutex-ordered record of a
// script run. Append order is authoritative, not Timestamp: two events
// appended in the same nanosecond still sort by Seq.
type ExecutionLog struct {
	mu     sync.Mutex
	events []Event
	seq    int
	clock  func() time.Time
}

// NewExecutionLog returns an empty log. clock lets tests inject a
// deterministic time source; a nil clock uses time.Now.
func NewExecutionLog(clock func() time.Time) *ExecutionLog {
	if clock == nil {
		clock = time.Now
	}
	return &ExecutionLog{clock: clock}
}

// Append records one event and returns its sequence number.
func (l *ExecutionLog) Append(kind EventKind, message string) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	ev := Event{ID: uuid.NewString(), Kind: kind, Message: message, Timestamp: l.clock(), Seq: l.seq}
	l.events = append(l.events, ev)
	return ev
}

// Events returns a snapshot of the log in append order.
func (l *ExecutionLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
