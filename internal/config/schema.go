// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for claudemand.
package config

// Config is the root configuration structure for claudemand.
type Config struct {
	Version string        `json:"version"`
	App     AppConfig     `json:"app"`
	Store   StoreConfig   `json:"store"`
	Session SessionConfig `json:"session"`
	Watch   WatchConfig   `json:"watch"`
	Tracker TrackerConfig `json:"tracker"`
	Respawn RespawnConfig `json:"respawn"`
	Logging LoggingConfig `json:"logging"`
	Events  EventsConfig  `json:"events"`
}

// AppConfig names the application and the tmux host session it supervises
// windows inside of.
type AppConfig struct {
	Name        string `json:"name"`
	HostSession string `json:"host_session"`
}

// StoreConfig locates the persisted session registry (spec §4.B).
type StoreConfig struct {
	Path string `json:"path"` // defaults to ~/.<app>/screens.json
}

// SessionConfig holds per-session defaults (spec §4.C).
type SessionConfig struct {
	DefaultShell      string `json:"default_shell"`
	DefaultWorkingDir string `json:"default_working_dir"`
	HistoryBytes      int    `json:"history_bytes"` // ring buffer capacity
	IdleTimeoutMs     int    `json:"idle_timeout_ms"`
}

// WatchConfig configures debounce durations for file and tracker-event
// watchers (spec §4.E.10, §6.4).
type WatchConfig struct {
	EventDebounce   string `json:"event_debounce"`    // e.g. "50ms"
	FixPlanDebounce string `json:"fix_plan_debounce"` // e.g. "500ms"
}

// TrackerConfig holds RalphTracker defaults (spec §4.E).
type TrackerConfig struct {
	MinPhraseLength  int      `json:"min_phrase_length"`
	CommonPhrases    []string `json:"common_phrases"`
	StallIterations  int      `json:"stall_iterations"`
	CircuitOpenAfter int      `json:"circuit_open_after"`
}

// RespawnConfig holds Respawn Controller defaults (spec §4.F).
type RespawnConfig struct {
	IdleTimeoutMs      int `json:"idle_timeout_ms"`
	CooldownMs         int `json:"cooldown_ms"`
	AutoClearThreshold int `json:"auto_clear_threshold"`
	DurationMinutes    int `json:"duration_minutes"`
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// EventsConfig bounds the Supervisor event history (internal/events).
type EventsConfig struct {
	History EventsHistoryConfig `json:"history"`
}

// EventsHistoryConfig bounds retained Supervisor events.
type EventsHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}
