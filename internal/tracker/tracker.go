// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/stream"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/watcher"
)

// Tracker is one Session's RalphTracker instance (spec §3, §4.E). A
// Tracker is fed raw child-process bytes via Feed; it strips ANSI,
// buffers partial lines, and dispatches complete lines through the
// E.1-E.9 pipeline, emitting typed Events as state changes warrant.
//
// A Tracker is fed by exactly one Session's reader goroutine (spec
// §5: single reader), but it is also driven by the App's tick loop and
// by debounce timers, and read through Snapshot and Enabled, so every
// method that touches state holds mu.
type Tracker struct {
	mu sync.Mutex

	sessionID string
	state     *State
	cfg       Config
	now       func() time.Time
	emitFn    func(Event)

	statusParser *statusBlockParser
	debouncer    *watcher.Debouncer
	pending      map[EventKind]bool
}

// NewTracker constructs a Tracker for sessionID. emit receives every
// Event the tracker produces, with SessionID already populated; emit
// may be nil to discard events (useful in tests).
func NewTracker(sessionID string, cfg Config, emit func(Event)) *Tracker {
	return &Tracker{
		sessionID:    sessionID,
		state:        NewState(),
		cfg:          cfg,
		now:          time.Now,
		emitFn:       emit,
		statusParser: newStatusBlockParser(),
		debouncer:    watcher.NewDebouncer(cfg.DebounceDelay),
		pending:      make(map[EventKind]bool),
	}
}

// Snapshot returns a defensive copy of the tracker's current state,
// safe to read from a concurrent goroutine (e.g. an HTTP handler).
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := *t.state
	snap.Todos = make(map[string]*Todo, len(t.state.Todos))
	for id, td := range t.state.Todos {
		cp := *td
		snap.Todos[id] = &cp
	}
	snap.CompletionPhraseCount = maps.Clone(t.state.CompletionPhraseCount)
	snap.TaskNumberToContent = maps.Clone(t.state.TaskNumberToContent)
	snap.TodoStartTimes = maps.Clone(t.state.TodoStartTimes)
	snap.CompletionTimes = slices.Clone(t.state.CompletionTimes)
	snap.AlternateCompletionPhrases = slices.Clone(t.state.AlternateCompletionPhrases)
	return snap
}

// Enabled reports whether the tracker is currently parsing (spec
// §4.E.1).
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Enabled
}

// Enable turns tracking on, emitting an "enabled" event the first time
// it transitions from disabled (spec §4.E.1).
func (t *Tracker) Enable() {
	t.mu.Lock()
	already := t.state.Enabled
	t.state.Enabled = true
	t.mu.Unlock()
	if !already {
		t.emit(Event{Kind: EventEnabled})
	}
}

// Disable turns tracking off without discarding accumulated state
// (spec §4.E.11: distinct from reset/clear).
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Enabled = false
}

// Reset clears todos, phrase counts, partial buffers, and status-block
// state and reinitializes cycle/iteration counters, but preserves
// Enabled and the circuit breaker (spec §4.E.11 "reset").
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state
	st.CycleCount = 0
	st.MaxIterations = 0
	st.ElapsedHours = 0
	st.Active = false
	st.CompletionPhrase = ""
	st.AlternateCompletionPhrases = nil
	st.firstPhraseSeen = false
	st.StatusBlock = nil
	st.CompletionTimes = nil
	st.LastIterationChangeTime = t.now()
	st.StallWarningFired = false
	st.ExitGateMetFired = false

	st.Todos = make(map[string]*Todo)
	st.CompletionPhraseCount = make(map[string]int)
	st.TaskNumberToContent = make(map[int]string)
	st.TodoStartTimes = make(map[string]time.Time)
	st.PartialPromiseBuffer = ""
	st.LineBuffer = ""
}

// FullReset discards all tracker state, including todos and the circuit
// breaker, and starts fresh; only the Enabled flag is kept (spec
// §4.E.11 "fullReset").
func (t *Tracker) FullReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	enabled := t.state.Enabled
	t.state = NewState()
	t.state.Enabled = enabled
	t.statusParser = newStatusBlockParser()
	t.debouncer.Stop()
	t.pending = make(map[EventKind]bool)
}

// Clear empties the todo list only, leaving loop/circuit-breaker state
// untouched (spec §4.E.11 "clear").
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Todos = make(map[string]*Todo)
	t.state.TaskNumberToContent = make(map[int]string)
	t.state.TodoStartTimes = make(map[string]time.Time)
}

// SetAlternatePhrases registers additional completion phrases a bare
// sentinel may match against (spec §4.E.3).
func (t *Tracker) SetAlternatePhrases(phrases []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.AlternateCompletionPhrases = phrases
}

// SetFixPlanAuthoritative toggles whether an external @fix_plan.md is
// governing todo state, suppressing the heuristic "all tasks complete"
// detector while true (spec §4.E.5, §6.4).
func (t *Tracker) SetFixPlanAuthoritative(authoritative bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.FixPlanAuthoritative = authoritative
}

// Feed processes one chunk of raw (not yet ANSI-stripped) child bytes.
// It matches the session.ChunkHook signature so a Supervisor can
// register it directly via AddChunkHook, with sessionID ignored (a
// Tracker is already bound to one session at construction).
func (t *Tracker) Feed(sessionID string, chunk []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clean := string(stream.StripANSI(chunk))
	if !t.state.Enabled {
		if t.cfg.AutoEnableDisabled || !isAutoEnableTrigger(clean) {
			return
		}
		t.state.Enabled = true
		t.emit(Event{Kind: EventEnabled})
	}

	t.state.LineBuffer += clean
	if len(t.state.LineBuffer) > t.cfg.MaxLineBuffer {
		// Retain only the tail: a line longer than the cap cannot
		// ever complete, so drop its head rather than grow unbounded
		// (spec §5: bounded memory).
		overflow := len(t.state.LineBuffer) - t.cfg.MaxLineBuffer
		t.state.LineBuffer = t.state.LineBuffer[overflow:]
	}

	for {
		idx := strings.IndexByte(t.state.LineBuffer, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(t.state.LineBuffer[:idx], "\r")
		t.state.LineBuffer = t.state.LineBuffer[idx+1:]
		t.processLine(line)
	}
}

// processLine dispatches one complete, ANSI-stripped line through the
// E.2-E.9 pipeline. Callers hold t.mu.
func (t *Tracker) processLine(line string) {
	st := t.state
	if !st.Enabled {
		return
	}

	if block, ok := t.statusParser.feed(line); ok {
		t.applyStatusBlock(block)
		return
	}
	if t.statusParser.inBlock {
		return // lines inside a block are not also todo/sentinel candidates
	}

	if t.processLoopStatusLine(line) {
		t.emitLoopUpdate()
	}

	if m := reTaggedSentinel.FindStringSubmatch(line); m != nil {
		if t.processTaggedSentinel(m[1]) {
			t.emitTodoUpdate()
		}
		return
	}
	if t.processBareSentinel(line) {
		t.emitTodoUpdate()
		return
	}

	t.accumulatePartialPromise(line)

	for _, p := range parseTodoLines(line) {
		if todo := t.upsertTodo(p); todo != nil {
			t.emitTodoUpdate()
		}
	}

	if !st.FixPlanAuthoritative && looksLikeAllTasksComplete(line, len(st.Todos)) {
		st.CompletionIndicators++
		for _, todo := range st.Todos {
			if todo.Status != TodoCompleted {
				t.applyStatusTransition(todo, TodoCompleted)
			}
		}
		t.emitTodoUpdate()
	}

	t.checkStall()
}

// accumulatePartialPromise buffers a bounded tail of recent lines so a
// completion phrase split across chunk boundaries can still be
// recognized (spec §4.E.3, §5: 256-byte cap).
func (t *Tracker) accumulatePartialPromise(line string) {
	st := t.state
	st.PartialPromiseBuffer += line + "\n"
	if len(st.PartialPromiseBuffer) > t.cfg.MaxPartialPromise {
		overflow := len(st.PartialPromiseBuffer) - t.cfg.MaxPartialPromise
		st.PartialPromiseBuffer = st.PartialPromiseBuffer[overflow:]
	}
}

func (t *Tracker) applyStatusBlock(block StatusBlock) {
	st := t.state
	st.StatusBlock = &block
	if block.FilesModified > 0 {
		st.TotalFilesModified += block.FilesModified
	}
	if block.TasksCompletedThisLoop > 0 {
		st.TotalTasksCompleted += block.TasksCompletedThisLoop
	}

	applyCircuitBreaker(&st.CircuitBreaker, block, st.CycleCount, t.now())
	t.emit(Event{Kind: EventStatusBlockDetected, StatusBlk: &StatusBlockDetected{Block: block}})
	t.emit(Event{Kind: EventCircuitBreakerUpdate, Circuit: &CircuitBreakerUpdate{Snapshot: st.CircuitBreaker}})

	if block.Status == StatusComplete {
		st.CompletionIndicators++
	}
	if block.ExitSignal && st.CompletionIndicators >= 2 && !st.ExitGateMetFired {
		st.ExitGateMetFired = true
		t.emit(Event{Kind: EventExitGateMet, ExitGate: &ExitGateMet{
			CompletionIndicators: st.CompletionIndicators,
			ExitSignal:           block.ExitSignal,
		}})
	}
}

// CompletionConfidence computes the §4.E.9 on-demand confidence score
// from the tracker's current accumulated signals (as opposed to a
// single line's immediate context, which callers with a specific line
// in hand should fold in themselves via completionConfidence).
func (t *Tracker) CompletionConfidence() (score int, isConfident bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state

	secondOrLater := false
	if st.CompletionPhrase != "" {
		secondOrLater = st.CompletionPhraseCount[st.CompletionPhrase] >= 1
	}
	lastExitSignal := st.StatusBlock != nil && st.StatusBlock.ExitSignal

	return completionConfidence(completionConfidenceInputs{
		TaggedSentinelPresent:        st.CompletionPhrase != "",
		MatchesKnownPhrase:           st.CompletionPhrase != "",
		AllTodosCompleted:            allTodosCompleted(st),
		LastBlockExitSignal:          lastExitSignal,
		CompletionIndicatorsAtLeast2: st.CompletionIndicators >= 2,
		LoopActive:                  st.Active,
		SecondOrLaterOccurrence:     secondOrLater,
	})
}

func allTodosCompleted(st *State) bool {
	if len(st.Todos) == 0 {
		return false
	}
	for _, todo := range st.Todos {
		if todo.Status != TodoCompleted {
			return false
		}
	}
	return true
}

// checkStall raises iterationStallWarning/Critical when no iteration
// change has occurred for the configured thresholds (spec §4.E.6,
// §4.E.8, §6.6). Callers must already hold t.mu.
func (t *Tracker) checkStall() {
	st := t.state
	if !st.Active || st.LastIterationChangeTime.IsZero() {
		return
	}
	since := t.now().Sub(st.LastIterationChangeTime)
	switch {
	case since >= t.cfg.StallCriticalAfter:
		t.emit(Event{Kind: EventIterationStallCritical, Stall: &StallEvent{SinceLastChange: since}})
	case since >= t.cfg.StallWarningAfter && !st.StallWarningFired:
		st.StallWarningFired = true
		t.emit(Event{Kind: EventIterationStallWarning, Stall: &StallEvent{SinceLastChange: since}})
	}
}

// CheckStallTick re-evaluates the stall thresholds against wall-clock
// time. Spec §4.E.8 runs this on a 60-second tick regardless of
// whether new bytes arrive; the App's tick loop invokes this
// periodically so a stalled loop is detected even when the child falls
// silent.
func (t *Tracker) CheckStallTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkStall()
}

func (t *Tracker) emitTodoUpdate() {
	t.debouncedEmit(EventTodoUpdate, t.buildTodoUpdateLocked)
}

// buildTodoUpdateLocked assembles the current todoUpdate event. Callers
// must already hold t.mu.
func (t *Tracker) buildTodoUpdateLocked() Event {
	st := t.state
	all := make([]*Todo, 0, len(st.Todos))
	for _, td := range st.Todos {
		all = append(all, td)
	}
	return Event{Kind: EventTodoUpdate, Todo: &TodoUpdate{
		Todos:   all,
		Summary: getTodoProgress(st, t.now()),
	}}
}

// debouncedEmit schedules a trailing-delay emission of the latest state
// for kind (spec §4.E.10: ~50ms trailing delay), reusing the teacher's
// Debouncer so repeated state changes within one window coalesce into a
// single event reflecting the final state rather than every
// intermediate one. buildLocked is invoked with t.mu held, possibly
// much later and from a different goroutine than the caller.
func (t *Tracker) debouncedEmit(kind EventKind, buildLocked func() Event) {
	t.pending[kind] = true
	t.debouncer.Debounce(string(kind), func() {
		t.mu.Lock()
		t.pending[kind] = false
		ev := buildLocked()
		t.mu.Unlock()
		t.emit(ev)
	})
}

// Flush cancels any pending debounced emission and immediately delivers
// the current todo and loop summaries, for callers that need a
// guaranteed up-to-date snapshot (e.g. before a session is torn down,
// or in tests that want deterministic, synchronous event delivery).
func (t *Tracker) Flush() {
	t.debouncer.Cancel(string(EventTodoUpdate))
	t.debouncer.Cancel(string(EventLoopUpdate))

	t.mu.Lock()
	todoPending := t.pending[EventTodoUpdate]
	loopPending := t.pending[EventLoopUpdate]
	t.pending[EventTodoUpdate] = false
	t.pending[EventLoopUpdate] = false
	var todoEv, loopEv Event
	if todoPending {
		todoEv = t.buildTodoUpdateLocked()
	}
	if loopPending {
		loopEv = t.buildLoopUpdateLocked()
	}
	t.mu.Unlock()

	if todoPending {
		t.emit(todoEv)
	}
	if loopPending {
		t.emit(loopEv)
	}
}

// emit dispatches ev to emitFn. It never locks t.mu itself, so it is
// safe to call both while t.mu is held (from processLine) and while it
// is not (from Enable).
func (t *Tracker) emit(ev Event) {
	ev.SessionID = t.sessionID
	if t.emitFn != nil {
		t.emitFn(ev)
	}
}
