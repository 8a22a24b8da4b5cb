// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"context"
	"fmt"
	"sync"
)

// FakeKeystroke records one injected payload for assertions in tests.
type FakeKeystroke struct {
	Name    string
	Payload string
	Literal bool
}

// FakeExecutor is a faithful in-memory Executor used by tests. It
// maintains an in-memory windows map, captures injected keystrokes in an
// ordered log, and simulates alive/dead pids.
type FakeExecutor struct {
	mu sync.Mutex

	nextPID    int
	windows    map[string]Info // name -> Info
	alive      map[int]bool
	keystrokes []FakeKeystroke

	// Unavailable, when set, makes EnsureHost, Create, List, SendKeys and
	// Snapshot fail with ErrUnavailable.
	Unavailable bool
	// FailCreate makes Create fail once per name in this set.
	FailCreate map[string]bool
	// SurviveStage, keyed by window name, is the number of KillQuit or
	// SignalTerm calls after which the fake pid reports dead; 0 and 1 both
	// mean the first such call. KillWindow kills it regardless.
	SurviveStage map[string]int
	killStage    map[string]int
}

// NewFakeExecutor constructs an empty FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		nextPID:      1000,
		windows:      make(map[string]Info),
		alive:        make(map[int]bool),
		FailCreate:   make(map[string]bool),
		SurviveStage: make(map[string]int),
		killStage:    make(map[string]int),
	}
}

func (f *FakeExecutor) EnsureHost(ctx context.Context, hostSession string) error {
	if f.Unavailable {
		return ErrUnavailable
	}
	return nil
}

func (f *FakeExecutor) Create(ctx context.Context, hostSession, name, workingDir string, argv []string, env []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return 0, ErrUnavailable
	}
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if f.FailCreate[name] {
		delete(f.FailCreate, name)
		return 0, fmt.Errorf("%w: simulated failure", ErrCreate)
	}
	f.nextPID++
	pid := f.nextPID
	f.windows[name] = Info{PID: pid, Name: name}
	f.alive[pid] = true
	return pid, nil
}

func (f *FakeExecutor) List(ctx context.Context, hostSession string) ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return nil, ErrUnavailable
	}
	out := make([]Info, 0, len(f.windows))
	for _, info := range f.windows {
		out = append(out, info)
	}
	return out, nil
}

func (f *FakeExecutor) SendKeys(ctx context.Context, hostSession, name, payload string, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return ErrUnavailable
	}
	if _, ok := f.windows[name]; !ok {
		return fmt.Errorf("window %q not found", name)
	}
	f.keystrokes = append(f.keystrokes, FakeKeystroke{Name: name, Payload: payload, Literal: literal})
	return nil
}

// Keystrokes returns the ordered log of injected keystrokes.
func (f *FakeExecutor) Keystrokes() []FakeKeystroke {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeKeystroke, len(f.keystrokes))
	copy(out, f.keystrokes)
	return out
}

func (f *FakeExecutor) Snapshot(ctx context.Context, hostSession, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return nil, ErrUnavailable
	}
	if _, ok := f.windows[name]; !ok {
		return nil, fmt.Errorf("window %q not found", name)
	}
	return []byte(""), nil
}

func (f *FakeExecutor) StartPipe(ctx context.Context, hostSession, name, pipePath string) error {
	return nil
}

func (f *FakeExecutor) StopPipe(ctx context.Context, hostSession, name string) error {
	return nil
}

func (f *FakeExecutor) killStep(name string) {
	f.killStage[name]++
	if f.killStage[name] >= f.SurviveStage[name] {
		if info, ok := f.windows[name]; ok {
			f.alive[info.PID] = false
		}
	}
}

func (f *FakeExecutor) KillQuit(ctx context.Context, hostSession, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killStep(name)
	return nil
}

// KillWindow simulates tmux kill-window: it always kills the window's
// own pane process directly, matching the real executor. Any lingering
// descendants wired in by a test remain whatever Signal() left them as.
func (f *FakeExecutor) KillWindow(ctx context.Context, hostSession, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.windows[name]; ok {
		f.alive[info.PID] = false
	}
	delete(f.windows, name)
	return nil
}

func (f *FakeExecutor) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *FakeExecutor) Descendants(pid int) ([]int, error) {
	return nil, nil
}

// Signal simulates TERM/KILL delivery to a descendant pid. Since the
// fake has no per-pid window association for descendants, it is a no-op
// unless a test wires descendant pids directly into f.alive.
func (f *FakeExecutor) Signal(pid int, terminate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !terminate {
		f.alive[pid] = false
	}
	return nil
}

// Kill simulates an out-of-band kill of a window (used to test reconcile).
func (f *FakeExecutor) Kill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.windows[name]; ok {
		f.alive[info.PID] = false
		delete(f.windows, name)
	}
}

// SignalTerm simulates stage-1/stage-2 TERM/KILL signals reaching pid,
// honoring SurviveStage.
func (f *FakeExecutor) SignalTerm(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killStep(name)
}
