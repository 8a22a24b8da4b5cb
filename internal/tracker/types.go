// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tracker implements the RalphTracker (spec §4.E): a stateful
// parser over one Session's ANSI-stripped byte stream that recognizes
// iteration counters, a structured status block, a todo list, and a
// completion sentinel, deriving progress, stall, circuit-breaker, and
// completion-confidence signals. It is the hardest single subsystem in
// the core (spec §2: ~30% of the implementation budget) and has no
// direct analogue in the teacher repo; its hand-rolled-text-algorithm
// style (Levenshtein, bigram Dice, djb2 hashing) follows the teacher's
// own precedent of writing small text algorithms from scratch rather
// than reaching for a library (internal/claude/diff.go).
package tracker

import "time"

// TodoStatus is one of a Todo's three lifecycle states (spec §3).
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Priority is a Todo's inferred priority (spec §3, §4.E.5). The zero
// value means "no priority inferred".
type Priority string

const (
	PriorityNone Priority = ""
	P0           Priority = "P0"
	P1           Priority = "P1"
	P2           Priority = "P2"
)

// Todo is one tracked unit of work (spec §3).
type Todo struct {
	ID                   string
	Content              string
	Status               TodoStatus
	Priority             Priority
	DetectedAt           time.Time
	EstimatedComplexity  string
	EstimatedDurationMs  int64
}

// CircuitState is the three-state circuit breaker (spec §4.E.8).
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
	CircuitOpen     CircuitState = "OPEN"
)

// CircuitBreaker tracks the progress-failure counters driving
// CircuitState transitions (spec §4.E.8).
type CircuitBreaker struct {
	State                   CircuitState
	ConsecutiveNoProgress   int
	ConsecutiveSameError    int
	ConsecutiveTestsFailure int
	LastProgressIteration   int
	ReasonCode              string
	LastTransitionAt        time.Time
}

// TestsStatus is the structured status block's TESTS_STATUS enum
// (spec §4.E.7).
type TestsStatus string

const (
	TestsPassing TestsStatus = "PASSING"
	TestsFailing TestsStatus = "FAILING"
	TestsNotRun  TestsStatus = "NOT_RUN"
)

// BlockStatus is the structured status block's STATUS enum.
type BlockStatus string

const (
	StatusInProgress BlockStatus = "IN_PROGRESS"
	StatusComplete   BlockStatus = "COMPLETE"
	StatusBlocked    BlockStatus = "BLOCKED"
)

// WorkType is the structured status block's WORK_TYPE enum.
type WorkType string

const (
	WorkImplementation WorkType = "IMPLEMENTATION"
	WorkTesting        WorkType = "TESTING"
	WorkDocumentation  WorkType = "DOCUMENTATION"
	WorkRefactoring    WorkType = "REFACTORING"
)

// StatusBlock is one parsed `---RALPH_STATUS---` block (spec §4.E.7,
// §6.3).
type StatusBlock struct {
	Status                BlockStatus
	TasksCompletedThisLoop int
	FilesModified          int
	TestsStatus            TestsStatus
	WorkType               WorkType
	ExitSignal             bool
	Recommendation         string
	UnknownFields          []string
	FieldWarnings          []string
}

// Config bounds and thresholds for one Tracker instance (spec §6.6).
type Config struct {
	MinPhraseLength   int
	CommonPhrases     []string
	MaxTodos          int
	MaxCompletionPhraseEntries int
	MaxTaskMappings   int
	MaxPartialPromise int
	MaxLineBuffer     int
	StallWarningAfter time.Duration
	StallCriticalAfter time.Duration
	DebounceDelay     time.Duration
	AutoEnableDisabled bool
}

// DefaultConfig returns the recommended defaults from spec §6.6.
func DefaultConfig() Config {
	return Config{
		MinPhraseLength:            6,
		CommonPhrases:              []string{"DONE", "OK", "COMPLETE", "FINISHED", "READY", "YES", "NO"},
		MaxTodos:                   50,
		MaxCompletionPhraseEntries: 50,
		MaxTaskMappings:            100,
		MaxPartialPromise:          256,
		MaxLineBuffer:              64 * 1024,
		StallWarningAfter:          10 * time.Minute,
		StallCriticalAfter:         20 * time.Minute,
		DebounceDelay:              50 * time.Millisecond,
	}
}

// State is the full TrackerState for one Session (spec §3).
type State struct {
	Enabled                   bool
	Active                    bool
	StartedAt                 time.Time
	CycleCount                int
	MaxIterations             int
	ElapsedHours              float64
	LastActivity              time.Time
	CompletionPhrase          string
	AlternateCompletionPhrases []string

	Todos                 map[string]*Todo
	CompletionPhraseCount map[string]int
	TaskNumberToContent    map[int]string

	StatusBlock *StatusBlock

	CircuitBreaker CircuitBreaker

	CompletionTimes []time.Duration
	TodoStartTimes  map[string]time.Time

	PartialPromiseBuffer string
	LineBuffer           string

	CompletionIndicators int
	TotalFilesModified   int
	TotalTasksCompleted  int
	ExitGateMetFired     bool

	LastIterationChangeTime time.Time
	StallWarningFired       bool

	FixPlanAuthoritative bool

	firstPhraseSeen bool
}

// NewState constructs a zeroed State with its maps initialized.
func NewState() *State {
	return &State{
		Todos:                  make(map[string]*Todo),
		CompletionPhraseCount:  make(map[string]int),
		TaskNumberToContent:    make(map[int]string),
		TodoStartTimes:         make(map[string]time.Time),
		CircuitBreaker:         CircuitBreaker{State: CircuitClosed},
	}
}

// Event is the closed, typed tagged-sum of tracker occurrences
// (spec §4.E.10). Exactly one of the typed payload fields is
// meaningful, selected by Kind.
type Event struct {
	Kind      EventKind
	SessionID string
	Loop      *LoopUpdate
	Todo      *TodoUpdate
	Completion *CompletionDetected
	StatusBlk *StatusBlockDetected
	Circuit   *CircuitBreakerUpdate
	Stall     *StallEvent
	PhraseWarn *PhraseValidationWarning
	ExitGate  *ExitGateMet
}

// EventKind names one of the tagged-sum's cases.
type EventKind string

const (
	EventLoopUpdate             EventKind = "loopUpdate"
	EventTodoUpdate             EventKind = "todoUpdate"
	EventCompletionDetected     EventKind = "completionDetected"
	EventEnabled                EventKind = "enabled"
	EventStatusBlockDetected    EventKind = "statusBlockDetected"
	EventCircuitBreakerUpdate   EventKind = "circuitBreakerUpdate"
	EventExitGateMet            EventKind = "exitGateMet"
	EventIterationStallWarning  EventKind = "iterationStallWarning"
	EventIterationStallCritical EventKind = "iterationStallCritical"
	EventPhraseValidationWarning EventKind = "phraseValidationWarning"
)

// ExitGateMet payload (spec §4.E.7: exitSignal==true AND
// completionIndicators>=2 AND not already met).
type ExitGateMet struct {
	CompletionIndicators int
	ExitSignal           bool
}

// LoopUpdate payload (spec §4.E.6).
type LoopUpdate struct {
	CycleCount       int
	MaxIterations    int
	ElapsedHours     float64
	Active           bool
	CompletionPhrase string
}

// TodoUpdate payload (spec §4.E.5, §4.E.9).
type TodoUpdate struct {
	Todos   []*Todo
	Summary TodoProgress
}

// TodoProgress is the §4.E.9 getTodoProgress result.
type TodoProgress struct {
	Total                int
	Completed            int
	InProgress            int
	Pending               int
	PercentComplete       float64
	EstimatedRemainingMs  int64
	ProjectedCompletionAt time.Time
}

// CompletionDetected payload (spec §4.E.3).
type CompletionDetected struct {
	Phrase string
}

// StatusBlockDetected payload (spec §4.E.7).
type StatusBlockDetected struct {
	Block StatusBlock
}

// CircuitBreakerUpdate payload (spec §4.E.8).
type CircuitBreakerUpdate struct {
	Snapshot CircuitBreaker
}

// StallEvent payload for iterationStallWarning/Critical.
type StallEvent struct {
	SinceLastChange time.Duration
}

// PhraseValidationWarning payload (spec §4.E.4).
type PhraseValidationWarning struct {
	Phrase    string
	Reason    string // "common" | "short" | "numeric"
	Suggested string
}
