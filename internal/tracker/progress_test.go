// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"testing"
	"time"
)

func TestGetTodoProgressCounts(t *testing.T) {
	st := NewState()
	st.Todos["a"] = &Todo{ID: "a", Status: TodoCompleted}
	st.Todos["b"] = &Todo{ID: "b", Status: TodoInProgress}
	st.Todos["c"] = &Todo{ID: "c", Status: TodoPending}

	p := getTodoProgress(st, time.Now())
	if p.Total != 3 || p.Completed != 1 || p.InProgress != 1 || p.Pending != 1 {
		t.Fatalf("unexpected counts: %+v", p)
	}
	want := 100.0 / 3.0
	if diff := p.PercentComplete - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("percentComplete = %v, want ~%v", p.PercentComplete, want)
	}
}

func TestGetTodoProgressUsesHistoricalAverageFirst(t *testing.T) {
	st := NewState()
	st.Todos["a"] = &Todo{ID: "a", Status: TodoPending, EstimatedDurationMs: 99999}
	st.CompletionTimes = []time.Duration{2 * time.Minute, 4 * time.Minute}

	p := getTodoProgress(st, time.Now())
	want := int64(3 * time.Minute / time.Millisecond)
	if p.EstimatedRemainingMs != want {
		t.Errorf("estimatedRemainingMs = %d, want %d (avg completion time)", p.EstimatedRemainingMs, want)
	}
}

func TestGetTodoProgressFallsBackToPerTodoDefaults(t *testing.T) {
	st := NewState()
	st.Todos["a"] = &Todo{ID: "a", Status: TodoPending, EstimatedDurationMs: 60000}
	st.Todos["b"] = &Todo{ID: "b", Status: TodoPending, EstimatedDurationMs: 120000}

	p := getTodoProgress(st, time.Now())
	if p.EstimatedRemainingMs != 180000 {
		t.Errorf("expected sum of default estimates 180000, got %d", p.EstimatedRemainingMs)
	}
}

func TestGetTodoProgressAllCompleteHasNoRemaining(t *testing.T) {
	st := NewState()
	st.Todos["a"] = &Todo{ID: "a", Status: TodoCompleted}
	p := getTodoProgress(st, time.Now())
	if p.EstimatedRemainingMs != 0 {
		t.Errorf("expected 0 remaining when all complete, got %d", p.EstimatedRemainingMs)
	}
}

func TestCompletionConfidenceScoringAndClamp(t *testing.T) {
	score, confident := completionConfidence(completionConfidenceInputs{
		TaggedSentinelPresent: true,
		MatchesKnownPhrase:    true,
		AllTodosCompleted:     true,
		LastBlockExitSignal:   true,
	})
	if score != 90 || !confident {
		t.Errorf("score = %d confident = %v, want 90/true", score, confident)
	}

	score, confident = completionConfidence(completionConfidenceInputs{PromptishContext: true})
	if score != 0 || confident {
		t.Errorf("negative contributions must clamp to 0, got %d/%v", score, confident)
	}

	score, _ = completionConfidence(completionConfidenceInputs{
		TaggedSentinelPresent: true, MatchesKnownPhrase: true, AllTodosCompleted: true,
		LastBlockExitSignal: true, CompletionIndicatorsAtLeast2: true, AppropriateContext: true,
		LoopActive: true, SecondOrLaterOccurrence: true,
	})
	if score != 100 {
		t.Errorf("sum exceeds 100 and must clamp, got %d", score)
	}
}

func TestCompletionConfidenceThreshold(t *testing.T) {
	score, confident := completionConfidence(completionConfidenceInputs{
		TaggedSentinelPresent: true, MatchesKnownPhrase: true, AllTodosCompleted: true,
	})
	if score != 75 || !confident {
		t.Errorf("score = %d, want 75 and confident, got confident=%v", score, confident)
	}
	score, confident = completionConfidence(completionConfidenceInputs{
		TaggedSentinelPresent: true, MatchesKnownPhrase: true,
	})
	if score != 55 || confident {
		t.Errorf("score = %d, want 55 and not confident", score)
	}
}
