// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events is the consumer-facing pub/sub bus for Supervisor-level
// events (spec §6.5): session lifecycle, respawn state changes, and
// screen/process-stats notifications. Tracker events (§4.E.10) are a
// closed, typed set and are NOT routed through this generic bus — see
// internal/tracker for their tagged-sum encoding.
package events

import (
	"context"
	"time"
)

// Event is one occurrence on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Version   int                    `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"sessionId,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventHandler processes one event. An error is logged but never
// propagated to the publisher.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies a live subscription for later Unsubscribe.
type SubscriptionID string

// EventFilter restricts an EventHistory query.
type EventFilter struct {
	Types     []string
	SessionID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// EventBus is the Supervisor-facing pub/sub contract.
type EventBus interface {
	Publish(ctx context.Context, eventType string, sessionID string, payload map[string]interface{}) Event
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)
	SubscribeAsync(pattern string, bufferSize int, handler EventHandler) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(filter EventFilter) ([]Event, error)
	Close() error
}

// Session lifecycle event type names (spec §6.5).
const (
	EventSessionCreated       = "session.created"
	EventSessionDeleted       = "session.deleted"
	EventSessionTerminal      = "session.terminal"
	EventSessionClearTerminal = "session.clearTerminal"
	EventSessionExit          = "session.exit"
	EventSessionIdle          = "session.idle"
	EventSessionWorking       = "session.working"
	EventSessionCompletion    = "session.completion"
	EventSessionError         = "session.error"
	EventSessionAutoClear     = "session.autoClear"
	EventScreenCreated        = "screen.created"
	EventScreenKilled         = "screen.killed"
	EventScreenDied           = "screen.died"
	EventScreenStatsUpdated   = "screen.statsUpdated"
	EventSessionDiscovered    = "session.discovered"
)

// Respawn controller event type names (spec §6.5, §4.F).
const (
	EventRespawnStarted      = "respawn.started"
	EventRespawnStopped      = "respawn.stopped"
	EventRespawnStateChanged = "respawn.stateChanged"
	EventRespawnCycleStarted = "respawn.cycleStarted"
	EventRespawnStepSent     = "respawn.stepSent"
	EventRespawnTimerStarted = "respawn.timerStarted"
)
