// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reTaggedSentinel = regexp.MustCompile(`(?i)<promise>\s*(.*?)\s*</promise>`)

	reLoopStart     = regexp.MustCompile(`(?i)\b(starting\s+(?:the\s+)?(?:autonomous\s+)?loop|beginning\s+iteration|ralph\s+loop\s+start(?:ed|ing)?)\b`)
	reIterationFull = regexp.MustCompile(`(?i)\biteration\s+(\d+)\s*/\s*(\d+)\b`)
	reIterationBrk  = regexp.MustCompile(`^\s*\[(\d+)\s*/\s*(\d+)\]`)
	reLegacyCycle   = regexp.MustCompile(`(?i)\bcycle\s*#?\s*(\d+)\b`)
	reTodoWrite     = regexp.MustCompile(`(?i)\bTodoWrite\b`)
	reElapsed       = regexp.MustCompile(`(?i)\belapsed\D+(\d+(?:\.\d+)?)\s*h(?:ours?)?\b`)
	reTaskCreatedHdr = regexp.MustCompile(`(?i)✔\s*Task\s*#\d+\s*created:`)
	reAllTasksDoneHdr = reAllDone

	rePromptishContext = regexp.MustCompile(`(?i)\b(output:|completion\s+phrase)\b`)
)

// isAutoEnableTrigger reports whether chunk contains any of the §4.E.1
// auto-enable patterns.
func isAutoEnableTrigger(chunk string) bool {
	switch {
	case reLoopStart.MatchString(chunk),
		reTaggedSentinel.MatchString(chunk),
		reIterationFull.MatchString(chunk),
		reIterationBrk.MatchString(chunk),
		reCheckboxPending.MatchString(chunk), reCheckboxInProgress.MatchString(chunk), reCheckboxDone.MatchString(chunk),
		reBareIcon.MatchString(chunk),
		reTaskCreatedHdr.MatchString(chunk),
		strings.Contains(chunk, statusBlockStart),
		reAllTasksDoneHdr.MatchString(chunk):
		return true
	default:
		return false
	}
}

// processTaggedSentinel handles a `<promise>PHRASE</promise>` match
// (spec §4.E.3 case 1). It reports whether a completion fired.
func (t *Tracker) processTaggedSentinel(phrase string) (completed bool) {
	st := t.state
	firstOccurrence := !st.firstPhraseSeen
	st.firstPhraseSeen = true

	if firstOccurrence {
		st.CompletionPhrase = phrase
		t.validatePhrase(phrase)
		t.emitLoopUpdate()
		return false
	}

	st.CompletionPhraseCount[phrase]++
	trimPhraseCounts(st)

	if st.CompletionPhraseCount[phrase] >= 1 || st.Active {
		t.completeAll(phrase)
		return true
	}
	return false
}

// processBareSentinel handles a standalone PHRASE occurrence after the
// tagged form was already seen, or while the loop is active
// (spec §4.E.3 case 2).
func (t *Tracker) processBareSentinel(line string) (completed bool) {
	st := t.state
	if st.CompletionPhrase == "" && !st.Active {
		return false
	}
	if rePromptishContext.MatchString(line) || strings.Contains(strings.ToLower(line), "<promise>") {
		return false
	}

	candidates := append([]string{st.CompletionPhrase}, st.AlternateCompletionPhrases...)
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if st.CompletionPhraseCount[candidate+":bare-fired"] > 0 {
			continue // fires at most once per phrase
		}
		if isFuzzyPhraseMatch(line, candidate, 2) || strings.Contains(normalizeForCompare(line), normalizeForCompare(candidate)) {
			st.CompletionPhraseCount[candidate+":bare-fired"] = 1
			t.completeAll(candidate)
			return true
		}
	}
	return false
}

func (t *Tracker) completeAll(phrase string) {
	st := t.state
	for _, todo := range st.Todos {
		if todo.Status != TodoCompleted {
			t.applyStatusTransition(todo, TodoCompleted)
		}
	}
	st.Active = false
	t.emit(Event{Kind: EventCompletionDetected, Completion: &CompletionDetected{Phrase: phrase}})
}

func trimPhraseCounts(st *State) {
	if len(st.CompletionPhraseCount) <= 50 {
		return
	}
	// "keep-top-counts" trim policy: drop the lowest-count entries
	// until back under cap.
	for len(st.CompletionPhraseCount) > 50 {
		var minKey string
		minVal := -1
		for k, v := range st.CompletionPhraseCount {
			if minVal == -1 || v < minVal {
				minKey, minVal = k, v
			}
		}
		delete(st.CompletionPhraseCount, minKey)
	}
}

// validatePhrase emits phraseValidationWarning for risky declared
// phrases (spec §4.E.4).
func (t *Tracker) validatePhrase(phrase string) {
	normalized := normalizeForCompare(phrase)
	// Common words match case-sensitively against the declared phrase's
	// words (split on space, '_', '-', '.'): "DONE" and "DONE_TOKEN" are
	// common, while a lowercase "ok" falls through to the length check.
	words := strings.FieldsFunc(phrase, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})

	for _, common := range t.cfg.CommonPhrases {
		for _, w := range words {
			if w == common {
				t.emitPhraseWarning(phrase, "common")
				return
			}
		}
	}
	if isNumeric(normalized) {
		t.emitPhraseWarning(phrase, "numeric")
		return
	}
	if len(normalized) < t.cfg.MinPhraseLength {
		t.emitPhraseWarning(phrase, "short")
		return
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			if r != ' ' {
				return false
			}
		}
	}
	return true
}

func (t *Tracker) emitPhraseWarning(phrase, reason string) {
	suggested := fmt.Sprintf("%s-%d", phrase, t.now().Unix()%100000)
	t.emit(Event{Kind: EventPhraseValidationWarning, PhraseWarn: &PhraseValidationWarning{
		Phrase: phrase, Reason: reason, Suggested: suggested,
	}})
}

// processLoopStatusLine applies §4.E.6 loop-status updates for one
// line, returning true if anything changed.
func (t *Tracker) processLoopStatusLine(line string) bool {
	st := t.state
	changed := false

	if m := reIterationFull.FindStringSubmatch(line); m != nil {
		changed = t.applyIteration(m[1], m[2]) || changed
	} else if m := reIterationBrk.FindStringSubmatch(line); m != nil {
		changed = t.applyIteration(m[1], m[2]) || changed
	} else if m := reLegacyCycle.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > st.CycleCount {
			st.CycleCount = n
			changed = true
		}
	}

	if m := reElapsed.FindStringSubmatch(line); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			st.ElapsedHours = f
			changed = true
		}
	}

	if reTodoWrite.MatchString(line) {
		st.LastActivity = t.now()
	}

	if reLoopStart.MatchString(line) {
		st.Active = true
		st.StartedAt = t.now()
		changed = true
	}

	return changed
}

func (t *Tracker) applyIteration(nStr, maxStr string) bool {
	st := t.state
	n, errN := strconv.Atoi(nStr)
	maxN, errM := strconv.Atoi(maxStr)
	if errN != nil {
		return false
	}
	changed := false
	if n > st.CycleCount || n != st.CycleCount {
		if n > st.CycleCount {
			st.CircuitBreaker.ConsecutiveNoProgress = 0
			if st.CircuitBreaker.State == CircuitHalfOpen {
				transition(&st.CircuitBreaker, CircuitClosed, "", t.now())
			}
			st.StallWarningFired = false
			st.LastIterationChangeTime = t.now()
		}
		st.CycleCount = n
		changed = true
	}
	if errM == nil && maxN > 0 {
		st.MaxIterations = maxN
	}
	st.LastActivity = t.now()
	return changed
}

func (t *Tracker) emitLoopUpdate() {
	t.debouncedEmit(EventLoopUpdate, t.buildLoopUpdateLocked)
}

// buildLoopUpdateLocked assembles the current loopUpdate event. Callers
// must already hold t.mu.
func (t *Tracker) buildLoopUpdateLocked() Event {
	st := t.state
	return Event{Kind: EventLoopUpdate, Loop: &LoopUpdate{
		CycleCount: st.CycleCount, MaxIterations: st.MaxIterations,
		ElapsedHours: st.ElapsedHours, Active: st.Active,
		CompletionPhrase: st.CompletionPhrase,
	}}
}
