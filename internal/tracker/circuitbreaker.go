// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import "time"

// applyCircuitBreaker advances the circuit breaker per the transition
// table in spec §4.E.8, given one parsed StatusBlock and the current
// iteration number. It returns true if the state changed (callers emit
// circuitBreakerUpdate unconditionally per block; this return value is
// informational).
func applyCircuitBreaker(cb *CircuitBreaker, block StatusBlock, iteration int, now time.Time) bool {
	hasProgress := block.FilesModified > 0 || block.TasksCompletedThisLoop > 0
	before := cb.State

	if hasProgress {
		cb.ConsecutiveNoProgress = 0
		cb.ConsecutiveSameError = 0
		cb.LastProgressIteration = iteration
		if cb.State == CircuitHalfOpen {
			transition(cb, CircuitClosed, "", now)
		}
	} else {
		cb.ConsecutiveNoProgress++
		if cb.State == CircuitClosed && cb.ConsecutiveNoProgress >= 2 {
			transition(cb, CircuitHalfOpen, "no progress for 2 consecutive checks", now)
		}
		if cb.ConsecutiveNoProgress >= 3 {
			transition(cb, CircuitOpen, "no_progress_open", now)
		}
	}

	if block.TestsStatus == TestsFailing {
		cb.ConsecutiveTestsFailure++
		if cb.ConsecutiveTestsFailure >= 5 {
			transition(cb, CircuitOpen, "tests failing too long", now)
		}
	} else {
		cb.ConsecutiveTestsFailure = 0
	}

	if block.Status == StatusBlocked {
		transition(cb, CircuitOpen, "reported BLOCKED", now)
	}

	return cb.State != before
}

// resetCircuitBreaker is the "manual reset" transition (spec §4.E.8).
func resetCircuitBreaker(cb *CircuitBreaker, now time.Time) {
	*cb = CircuitBreaker{State: CircuitClosed, LastTransitionAt: now}
}

func transition(cb *CircuitBreaker, to CircuitState, reason string, now time.Time) {
	if cb.State == to {
		return
	}
	cb.State = to
	cb.ReasonCode = reason
	cb.LastTransitionAt = now
}
