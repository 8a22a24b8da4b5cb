// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import "time"

// getTodoProgress computes the §4.E.9 progress summary over st's
// current todo set.
func getTodoProgress(st *State, now time.Time) TodoProgress {
	var total, completed, inProgress, pending int
	for _, todo := range st.Todos {
		total++
		switch todo.Status {
		case TodoCompleted:
			completed++
		case TodoInProgress:
			inProgress++
		default:
			pending++
		}
	}

	progress := TodoProgress{
		Total:      total,
		Completed:  completed,
		InProgress: inProgress,
		Pending:    pending,
	}
	if total > 0 {
		progress.PercentComplete = 100 * float64(completed) / float64(total)
	}

	remaining := total - completed
	if remaining <= 0 {
		return progress
	}

	var remainingMs int64
	switch {
	case len(st.CompletionTimes) > 0:
		var sum time.Duration
		for _, d := range st.CompletionTimes {
			sum += d
		}
		avg := sum / time.Duration(len(st.CompletionTimes))
		remainingMs = avg.Milliseconds() * int64(remaining)
	case completed > 0 && !st.StartedAt.IsZero():
		elapsed := now.Sub(st.StartedAt)
		perTodo := elapsed / time.Duration(completed)
		remainingMs = perTodo.Milliseconds() * int64(remaining)
	default:
		for _, todo := range st.Todos {
			if todo.Status != TodoCompleted {
				remainingMs += todo.EstimatedDurationMs
			}
		}
	}

	progress.EstimatedRemainingMs = remainingMs
	if remainingMs > 0 {
		progress.ProjectedCompletionAt = now.Add(time.Duration(remainingMs) * time.Millisecond)
	}
	return progress
}

// completionConfidenceInputs bundles the signals the §4.E.9 scoring
// rubric reads, so the scorer itself stays a pure function of state.
type completionConfidenceInputs struct {
	TaggedSentinelPresent bool
	MatchesKnownPhrase    bool
	AllTodosCompleted     bool
	LastBlockExitSignal   bool
	CompletionIndicatorsAtLeast2 bool
	AppropriateContext    bool
	PromptishContext      bool
	LoopActive            bool
	SecondOrLaterOccurrence bool
}

// completionConfidence computes the 0-100 score and isConfident flag
// described in spec §4.E.9.
func completionConfidence(in completionConfidenceInputs) (score int, isConfident bool) {
	if in.TaggedSentinelPresent {
		score += 30
	}
	if in.MatchesKnownPhrase {
		score += 25
	}
	if in.AllTodosCompleted {
		score += 20
	}
	if in.LastBlockExitSignal {
		score += 15
	}
	if in.CompletionIndicatorsAtLeast2 {
		score += 10
	}
	if in.AppropriateContext {
		score += 10
	} else if in.PromptishContext {
		score -= 20
	}
	if in.LoopActive {
		score += 10
	}
	if in.SecondOrLaterOccurrence {
		score += 15
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, score >= 70
}
