// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateApp(cfg, errs)
	v.validateSession(cfg, errs)
	v.validateWatch(cfg, errs)
	v.validateTracker(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateApp(cfg *Config, errs *ValidationError) {
	if cfg.App.HostSession != "" {
		for _, r := range cfg.App.HostSession {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
				errs.Add("app.host_session", "must contain only letters, digits, '_' or '-'")
				break
			}
		}
	}
}

func (v *Validator) validateSession(cfg *Config, errs *ValidationError) {
	if cfg.Session.HistoryBytes < 0 {
		errs.Add("session.history_bytes", "must not be negative")
	}
	if cfg.Session.IdleTimeoutMs < 0 {
		errs.Add("session.idle_timeout_ms", "must not be negative")
	}
}

func (v *Validator) validateWatch(cfg *Config, errs *ValidationError) {
	if cfg.Watch.EventDebounce != "" {
		if _, err := time.ParseDuration(cfg.Watch.EventDebounce); err != nil {
			errs.Add("watch.event_debounce", fmt.Sprintf("invalid duration: %v", err))
		}
	}
	if cfg.Watch.FixPlanDebounce != "" {
		if _, err := time.ParseDuration(cfg.Watch.FixPlanDebounce); err != nil {
			errs.Add("watch.fix_plan_debounce", fmt.Sprintf("invalid duration: %v", err))
		}
	}
}

func (v *Validator) validateTracker(cfg *Config, errs *ValidationError) {
	if cfg.Tracker.MinPhraseLength < 0 {
		errs.Add("tracker.min_phrase_length", "must not be negative")
	}
	if cfg.Tracker.CircuitOpenAfter < 0 {
		errs.Add("tracker.circuit_open_after", "must not be negative")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}
	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{"text": true, "json": true}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: text, json", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if cfg.Events.History.MaxAge != "" {
		if _, err := time.ParseDuration(cfg.Events.History.MaxAge); err != nil {
			errs.Add("events.history.max_age", fmt.Sprintf("invalid duration: %v", err))
		}
	}
}
