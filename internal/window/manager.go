// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

const (
	sendKeysInterDelay = 100 * time.Millisecond
	sendKeysMaxRetries = 3

	killStage2Delay = 200 * time.Millisecond
	livenessSweep   = 2 * time.Second
	livenessPoll    = 50 * time.Millisecond
)

// Manager is the Window Manager component (spec §4.A): a thin wrapper
// over one Executor, all windows living inside a single host tmux
// session named hostSession.
type Manager struct {
	exec        Executor
	hostSession string
}

// NewManager constructs a Manager backed by exec, using hostSession as
// the tmux session all managed windows live inside.
func NewManager(exec Executor, hostSession string) *Manager {
	return &Manager{exec: exec, hostSession: hostSession}
}

// Start ensures the host session exists. Call once at startup.
func (m *Manager) Start(ctx context.Context) error {
	return m.exec.EnsureHost(ctx, m.hostSession)
}

// Create spawns a detached named window running argv with env in
// workingDir, returning the window-managing process's pid.
func (m *Manager) Create(ctx context.Context, name, workingDir string, argv []string, env []string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if strings.ContainsAny(workingDir, "\x00") {
		return 0, fmt.Errorf("window: invalid working directory")
	}
	pid, err := m.exec.Create(ctx, m.hostSession, name, workingDir, argv, env)
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// List enumerates visible windows matching the supervisor's host session.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	return m.exec.List(ctx, m.hostSession)
}

// SendKeys injects text followed by Return, per spec §4.A: text and the
// terminating Return are sent as two separate calls with a short
// intervening sleep; Return injection is retried with back-off.
func (m *Manager) SendKeys(ctx context.Context, name, payload string) error {
	if payload != "" {
		if err := m.exec.SendKeys(ctx, m.hostSession, name, payload, true); err != nil {
			return fmt.Errorf("%w: %v", ErrInject, err)
		}
	}
	time.Sleep(sendKeysInterDelay)

	var lastErr error
	backoff := sendKeysInterDelay
	for attempt := 0; attempt < sendKeysMaxRetries; attempt++ {
		if err := m.exec.SendKeys(ctx, m.hostSession, name, "Enter", false); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return fmt.Errorf("%w: return injection: %v", ErrInject, lastErr)
}

// emojiSubstitutions is a non-exhaustive table for tools known to mangle
// multibyte sequences under capture-pane.
var emojiSubstitutions = map[string]string{
	"✔": "[v]",
	"✖": "[x]",
	"☐": "[ ]",
	"☒": "[x]",
	"◐": "[~]",
}

// Snapshot produces a textual snapshot of the window's visible buffer,
// honoring UTF-8, stripping the replacement character and C0 controls
// other than \t \n \r, and applying the emoji substitution table.
func (m *Manager) Snapshot(ctx context.Context, name string) ([]byte, error) {
	raw, err := m.exec.Snapshot(ctx, m.hostSession, name)
	if err != nil {
		return nil, err
	}
	return cleanSnapshot(raw), nil
}

func cleanSnapshot(raw []byte) []byte {
	s := string(raw)
	for from, to := range emojiSubstitutions {
		s = strings.ReplaceAll(s, from, to)
	}
	s = strings.ReplaceAll(s, "�", "")

	var out bytes.Buffer
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		out.WriteRune(r)
	}
	return out.Bytes()
}

// StartPipe begins streaming window output to pipePath.
func (m *Manager) StartPipe(ctx context.Context, name, pipePath string) error {
	return m.exec.StartPipe(ctx, m.hostSession, name, pipePath)
}

// StopPipe stops output streaming for the window.
func (m *Manager) StopPipe(ctx context.Context, name string) error {
	return m.exec.StopPipe(ctx, m.hostSession, name)
}

// Kill performs the four-stage escalation documented in spec §4.A.
// It returns nil on success (no survivors after the liveness sweep) or
// once all stages have been attempted, logging a warning for
// "best-effort" success.
func (m *Manager) Kill(ctx context.Context, name string, windowPID int) error {
	descendants, err := m.exec.Descendants(windowPID)
	if err != nil {
		log.Printf("window: descendant enumeration failed for %s: %v", name, err)
		descendants = nil
	}

	// Stage 1: TERM all descendants, leaf-first (Descendants already
	// returns leaf-first order).
	for _, pid := range descendants {
		_ = m.exec.Signal(pid, true)
	}
	if m.allDead(descendants, windowPID) {
		return nil
	}

	time.Sleep(killStage2Delay)

	// Stage 2: KILL survivors.
	for _, pid := range descendants {
		if m.exec.Alive(pid) {
			_ = m.exec.Signal(pid, false)
		}
	}
	if m.allDead(descendants, windowPID) {
		return nil
	}

	// Stage 3: tool's "quit" equivalent.
	_ = m.exec.KillQuit(ctx, m.hostSession, name)
	if m.allDead(descendants, windowPID) {
		return nil
	}

	// Stage 4: KILL the window pid directly.
	_ = m.exec.KillWindow(ctx, m.hostSession, name)

	deadline := time.Now().Add(livenessSweep)
	for time.Now().Before(deadline) {
		if m.allDead(descendants, windowPID) {
			return nil
		}
		time.Sleep(livenessPoll)
	}

	log.Printf("window: kill(%s) best-effort success; survivors remain after full escalation", name)
	return nil
}

func (m *Manager) allDead(descendants []int, windowPID int) bool {
	if m.exec.Alive(windowPID) {
		return false
	}
	for _, pid := range descendants {
		if m.exec.Alive(pid) {
			return false
		}
	}
	return true
}
