// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package window wraps an external terminal-multiplexer tool (tmux) and
// exposes the narrow contract the session supervisor needs: create a
// detached named window running a child command, list windows, inject
// keystrokes, snapshot the visible buffer, and kill with escalation.
package window

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the underlying window tool is missing
// or otherwise cannot be used.
var ErrUnavailable = errors.New("window: tool unavailable")

// ErrInject is returned when keystroke injection exhausts its retries.
var ErrInject = errors.New("window: keystroke injection failed")

// ErrCreate is returned when window creation fails for a reason other
// than tool unavailability.
var ErrCreate = errors.New("window: create failed")

// Info describes one live window as reported by the tool.
type Info struct {
	PID  int
	Name string
}

// Executor is the contract over the external window tool. A real
// implementation shells out to tmux; a fake implementation is used in
// tests (see fake.go).
type Executor interface {
	// EnsureHost ensures the backing tmux session used to hold all
	// claudeman-managed windows exists.
	EnsureHost(ctx context.Context, hostSession string) error
	// Create spawns a detached named window running argv with env in
	// workingDir, returning the multiplexer's pid for that window.
	Create(ctx context.Context, hostSession, name, workingDir string, argv []string, env []string) (int, error)
	// List enumerates live windows in the host session.
	List(ctx context.Context, hostSession string) ([]Info, error)
	// SendKeys injects a literal key sequence into the named window.
	SendKeys(ctx context.Context, hostSession, name, payload string, literal bool) error
	// Snapshot returns the textual content of the window's visible buffer.
	Snapshot(ctx context.Context, hostSession, name string) ([]byte, error)
	// StartPipe begins streaming the window's output to pipePath.
	StartPipe(ctx context.Context, hostSession, name, pipePath string) error
	// StopPipe stops output streaming for the window.
	StopPipe(ctx context.Context, hostSession, name string) error
	// KillQuit sends the tool's graceful "quit" equivalent for a window.
	KillQuit(ctx context.Context, hostSession, name string) error
	// KillWindow force-kills the window itself.
	KillWindow(ctx context.Context, hostSession, name string) error
	// Alive reports whether pid is still a live process (liveness probe).
	Alive(pid int) bool
	// Descendants returns the full descendant pid set of pid, leaf-first.
	Descendants(pid int) ([]int, error)
	// Signal sends TERM (terminate=true) or KILL (terminate=false) to pid.
	Signal(pid int, terminate bool) error
}

// nameAllowed is the strict character allowlist applied to window names
// (session id derived, but validated defensively at the boundary).
func nameAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// ValidateName checks name against the allowlist used for window names.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("window: empty name")
	}
	for _, r := range name {
		if !nameAllowed(r) {
			return errors.New("window: invalid character in name")
		}
	}
	return nil
}
