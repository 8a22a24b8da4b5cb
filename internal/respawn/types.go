// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package respawn implements the Respawn Controller (spec §4.F): a
// per-Session state machine that watches RalphTracker events and idle
// time, and drives a scripted "refresh" keystroke sequence into the
// child's window to keep an autonomous loop alive across natural lulls.
// It is a subscriber of tracker events and a caller into internal/window
// only; it never touches the session registry beyond the config blob a
// Supervisor persists on its behalf.
package respawn

import "time"

// State is one of the controller's six lifecycle states (spec §4.F).
type State string

const (
	StateStopped      State = "STOPPED"
	StateWatching     State = "WATCHING"
	StateIdleDetected State = "IDLE_DETECTED"
	StateRefreshing   State = "REFRESHING"
	StateCoolingDown  State = "COOLING_DOWN"
	StateCompleted    State = "COMPLETED"
)

// AutoClear configures the token-threshold triggered refresh (spec §4.F:
// "session token accounting crossing autoClear.threshold").
type AutoClear struct {
	Enabled   bool  `json:"enabled"`
	Threshold int64 `json:"threshold"`
}

// RefreshStep is one step of the scripted refresh sequence run in
// IDLE_DETECTED (spec §4.F: "updatePrompt text, optional /clear,
// optional /init, optional wait").
type RefreshStep struct {
	// Payload is the literal text injected via window.SendKeys. Empty
	// for a pure wait step.
	Payload string
	// Wait, when > 0, makes this step a pause rather than a keystroke
	// injection.
	Wait time.Duration
}

// Config is one Session's persisted respawn configuration (spec §4.F
// start(config); the JSON form is what Session.RespawnConfig holds).
type Config struct {
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	AutoClear       AutoClear `json:"autoClear,omitempty"`

	UpdatePromptText string `json:"updatePromptText,omitempty"`
	ClearEnabled     bool   `json:"clearEnabled,omitempty"`
	InitEnabled      bool   `json:"initEnabled,omitempty"`
	WaitMs           int    `json:"waitMs,omitempty"`

	InterStepDelayMs int `json:"interStepDelayMs,omitempty"`
	IdleTimeoutMs    int `json:"idleTimeoutMs,omitempty"`
	CooldownMs       int `json:"cooldownMs,omitempty"`
}

// Defaults from spec §6.6 (interStepDelayMs default 1s, idle default 5s).
const (
	DefaultInterStepDelayMs = 1000
	DefaultIdleTimeoutMs    = 5000
	DefaultCooldownMs       = 30000
	tickInterval            = 250 * time.Millisecond
)

// WithDefaults returns a copy of cfg with zero-valued timing fields
// filled from the spec's recommended defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.InterStepDelayMs <= 0 {
		cfg.InterStepDelayMs = DefaultInterStepDelayMs
	}
	if cfg.IdleTimeoutMs <= 0 {
		cfg.IdleTimeoutMs = DefaultIdleTimeoutMs
	}
	if cfg.CooldownMs <= 0 {
		cfg.CooldownMs = DefaultCooldownMs
	}
	return cfg
}

// steps renders the scripted refresh sequence for cfg (spec §4.F).
func (cfg Config) steps() []RefreshStep {
	var out []RefreshStep
	if cfg.UpdatePromptText != "" {
		out = append(out, RefreshStep{Payload: cfg.UpdatePromptText})
	}
	if cfg.ClearEnabled {
		out = append(out, RefreshStep{Payload: "/clear"})
	}
	if cfg.InitEnabled {
		out = append(out, RefreshStep{Payload: "/init"})
	}
	if cfg.WaitMs > 0 {
		out = append(out, RefreshStep{Wait: time.Duration(cfg.WaitMs) * time.Millisecond})
	}
	return out
}

// Status is a defensive snapshot of a Controller's current state,
// suitable for an API/CLI surface.
type Status struct {
	State       State
	StartedAt   time.Time
	Deadline    time.Time
	CycleCount  int
	LastCycleAt time.Time
}
