// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/store"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/window"
)

// Dispatcher is the narrow contract the Stream Dispatcher (spec §4.D)
// offers the Supervisor: a non-blocking fan-out of one chunk of a
// Session's output to its live subscribers. Defined here (rather than
// imported from internal/stream) so internal/stream never needs to
// import internal/session.
type Dispatcher interface {
	Publish(sessionID string, chunk []byte)
}

// ChunkHook receives every byte chunk captured for sessionID, after it
// has been appended to the ring and handed to the Dispatcher. The
// RalphTracker and token-accounting parsers attach as hooks.
type ChunkHook func(sessionID string, chunk []byte)

// Options configures a Supervisor beyond its required collaborators.
type Options struct {
	APIURL       string
	PathPrefix   string
	DefaultShell string
	AgentBin     string
	RingCap      int
	PipeDir      string
}

// Supervisor is the Session Supervisor (spec §4.C): it owns the
// in-memory Session registry, composes and spawns child processes via
// internal/window, persists via internal/store, and fires lifecycle
// events via internal/events.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*Session
	readers  map[string]*pipeReader

	win   *window.Manager
	st    *store.Store
	bus   events.EventBus
	dispF Dispatcher
	hooks []ChunkHook

	opts Options
}

// NewSupervisor constructs a Supervisor. bus may be nil (events are
// then simply not published).
func NewSupervisor(win *window.Manager, st *store.Store, bus events.EventBus, opts Options) *Supervisor {
	if opts.PipeDir == "" {
		opts.PipeDir = "/tmp"
	}
	return &Supervisor{
		sessions: make(map[string]*Session),
		readers:  make(map[string]*pipeReader),
		win:      win,
		st:       st,
		bus:      bus,
		opts:     opts,
	}
}

// SetDispatcher wires the Stream Dispatcher used to fan out captured
// bytes. Must be called before any reader starts for dispatch to take
// effect on that reader.
func (s *Supervisor) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispF = d
}

// AddChunkHook registers a hook invoked, in registration order, for
// every chunk captured on any Session (e.g. the RalphTracker).
func (s *Supervisor) AddChunkHook(h ChunkHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Load hydrates the in-memory registry from the persistence store.
// Liveness is not verified here — that is the Reconciler's job
// (spec §4.G).
func (s *Supervisor) Load() error {
	records, err := s.st.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		sess := recordToSession(r)
		sess.Ring = NewRing(s.ringCap())
		s.sessions[sess.ID] = sess
	}
	return nil
}

func (s *Supervisor) ringCap() int {
	if s.opts.RingCap > 0 {
		return s.opts.RingCap
	}
	return DefaultRingCap
}

// CreateSession allocates a new Session, composes its command line,
// spawns its window, records and persists it, and starts its reader
// (spec §4.C createSession).
func (s *Supervisor) CreateSession(ctx context.Context, workingDir string, mode Mode, name string, nice *int) (*Session, error) {
	if err := ValidateWorkingDir(workingDir); err != nil {
		return nil, fmt.Errorf("session: invalid working dir: %w", err)
	}

	id := uuid.NewString()
	windowName := WindowName(id)

	env := ChildEnv(id, windowName, s.opts.APIURL)

	var cmd string
	switch mode {
	case ModeShell:
		cmd = ShellCommand("", s.opts.DefaultShell)
	default:
		mode = ModeAgent
		cmd = AgentCommand(s.opts.AgentBin)
	}
	argv := CommandLine(workingDir, s.opts.PathPrefix, env, nice, cmd)

	pid, err := s.win.Create(ctx, windowName, workingDir, argv, env)
	if err != nil {
		return nil, fmt.Errorf("session: create window: %w", err)
	}

	sess := &Session{
		ID:          id,
		WindowName:  windowName,
		CreatedAt:   time.Now(),
		DisplayName: name,
		WorkingDir:  workingDir,
		Mode:        mode,
		PID:         pid,
		Attached:    true,
		Ring:        NewRing(s.ringCap()),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	err = s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		log.Printf("session: persist after create(%s): %v", id, err)
	}

	s.publish(ctx, events.EventSessionCreated, id, nil)
	s.startReader(ctx, sess)

	return sess.clone(), nil
}

// KillSession stops the reader, optionally kills the window, removes
// the Session from the registry, and persists (spec §4.C killSession).
func (s *Supervisor) KillSession(ctx context.Context, id string, killWindow bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: unknown id %s", id)
	}
	delete(s.sessions, id)
	reader := s.readers[id]
	delete(s.readers, id)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		log.Printf("session: persist after kill(%s): %v", id, err)
	}

	if reader != nil {
		reader.Close()
	}

	if killWindow {
		if err := s.win.Kill(ctx, sess.WindowName, sess.PID); err != nil {
			log.Printf("session: kill window %s: %v", sess.WindowName, err)
		}
	}

	s.publish(ctx, events.EventSessionDeleted, id, nil)
	return nil
}

// RenameSession sets a Session's display name and persists.
func (s *Supervisor) RenameSession(id, name string) error {
	return s.mutate(id, func(sess *Session) { sess.DisplayName = name })
}

// SetAttached records whether the Session's window is currently alive.
func (s *Supervisor) SetAttached(id string, attached bool) error {
	return s.mutate(id, func(sess *Session) { sess.Attached = attached })
}

// UpdateRespawnConfig replaces a Session's persisted respawn config
// blob. cfg may be nil to clear it.
func (s *Supervisor) UpdateRespawnConfig(id string, cfg json.RawMessage) error {
	return s.mutate(id, func(sess *Session) { sess.RespawnConfig = cfg })
}

// UpdateTrackerEnabled flips a Session's persisted RalphTracker-enabled
// flag.
func (s *Supervisor) UpdateTrackerEnabled(id string, enabled bool) error {
	return s.mutate(id, func(sess *Session) { sess.RalphEnabled = enabled })
}

func (s *Supervisor) mutate(id string, fn func(*Session)) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: unknown id %s", id)
	}
	fn(sess)
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

// Adopt synthesizes a Session for a window discovered with no matching
// registry entry (spec §4.C adopt, §4.G reconciliation).
func (s *Supervisor) Adopt(ctx context.Context, pid int, windowName, cwd string) (*Session, error) {
	id := RestoredIDPrefix + windowName

	s.mu.Lock()
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing.clone(), nil
	}
	sess := &Session{
		ID:         id,
		WindowName: windowName,
		CreatedAt:  time.Now(),
		WorkingDir: cwd,
		Mode:       ModeAgent,
		PID:        pid,
		Attached:   true,
		Ring:       NewRing(s.ringCap()),
	}
	s.sessions[id] = sess
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		log.Printf("session: persist after adopt(%s): %v", id, err)
	}

	s.publish(ctx, events.EventSessionDiscovered, id, nil)
	s.startReader(ctx, sess)
	return sess.clone(), nil
}

// Get returns a copy of the Session with id, if known.
func (s *Supervisor) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// List returns a copy of every known Session.
func (s *Supervisor) List() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	return out
}

// Snapshot returns the current ring contents for id, for hydrating
// late subscribers (spec §4.D snapshot).
func (s *Supervisor) Snapshot(id string) ([]byte, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.Ring.Bytes(), true
}

func (s *Supervisor) persistLocked() error {
	records := make([]store.Record, 0, len(s.sessions))
	for _, sess := range s.sessions {
		records = append(records, sessionToRecord(sess))
	}
	return s.st.Save(records)
}

func (s *Supervisor) publish(ctx context.Context, eventType, sessionID string, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, eventType, sessionID, payload)
}

func recordToSession(r store.Record) *Session {
	createdAt, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return &Session{
		ID:            r.ID,
		WindowName:    r.WindowName,
		PID:           r.PID,
		CreatedAt:     createdAt,
		WorkingDir:    r.WorkingDir,
		Mode:          Mode(r.Mode),
		Attached:      r.Attached,
		DisplayName:   r.Name,
		RespawnConfig: r.RespawnConfig,
		RalphEnabled:  r.RalphEnabled,
	}
}

func sessionToRecord(sess *Session) store.Record {
	return store.Record{
		ID:            sess.ID,
		WindowName:    sess.WindowName,
		PID:           sess.PID,
		CreatedAt:     sess.CreatedAt.Format(time.RFC3339),
		WorkingDir:    sess.WorkingDir,
		Mode:          string(sess.Mode),
		Attached:      sess.Attached,
		Name:          sess.DisplayName,
		RespawnConfig: sess.RespawnConfig,
		RalphEnabled:  sess.RalphEnabled,
	}
}
