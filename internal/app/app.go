// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires claudemand's components together: load config, build
// the Window Manager, Store, Supervisor, Reconciler and Sampler, attach
// per-Session RalphTracker/Respawn Controller pairs to the Supervisor's
// chunk hook, and run until a shutdown signal arrives. There is no
// HTTP/SSE server here (spec §1: transport framing is out of scope) —
// Run blocks on a signal instead of an api.Server.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/config"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/reconcile"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/respawn"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/session"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/stats"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/store"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/tracker"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/window"
)

// tickInterval drives both the Respawn Controller's wall-clock
// transitions and the RalphTracker's stall check (spec §4.F Tick,
// §4.E.8 checkStall). It is independent of the Process Stats interval.
const tickInterval = 250 * time.Millisecond

// Options configures an App at construction time.
type Options struct {
	// ConfigPath, when empty, uses config.Default() rather than reading
	// a file (claudemand runs with sane defaults out of the box).
	ConfigPath string
	Version    string
}

// agentRuntime is the per-Session pairing of a RalphTracker and its
// Respawn Controller, lazily created the first time a Session's output
// is observed (spec §3: both are scoped one-per-Session).
type agentRuntime struct {
	tracker *tracker.Tracker
	ctrl    *respawn.Controller
}

// App owns every long-lived component claudemand runs.
type App struct {
	version string
	cfg     *config.Config

	win        *window.Manager
	st         *store.Store
	bus        events.EventBus
	sup        *session.Supervisor
	reconciler *reconcile.Reconciler
	sampler    *stats.Sampler

	mu       sync.Mutex
	runtimes map[string]*agentRuntime

	tickDone chan struct{}
	done     chan struct{}
}

// New loads configuration and constructs an App. It does not yet talk
// to tmux or disk beyond reading the config file.
func New(opts Options) (*App, error) {
	var cfg *config.Config
	if opts.ConfigPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.NewLoader().LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("app: load config: %w", err)
		}
		cfg = loaded
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}

	return &App{
		version:  opts.Version,
		cfg:      cfg,
		runtimes: make(map[string]*agentRuntime),
		tickDone: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Initialize constructs every component and loads the persisted
// registry, but does not yet start background loops (mirrors the
// two-phase Initialize/Start split so tests can inspect a constructed-
// but-not-running App).
func (a *App) Initialize(ctx context.Context) error {
	exec := window.NewTmuxExecutor()
	a.win = window.NewManager(exec, a.cfg.App.HostSession)
	if err := a.win.Start(ctx); err != nil {
		return fmt.Errorf("app: start window manager: %w", err)
	}

	storePath := a.cfg.Store.Path
	if storePath == "" {
		p, err := store.DefaultPath(a.cfg.App.Name)
		if err != nil {
			return fmt.Errorf("app: resolve store path: %w", err)
		}
		storePath = p
	}
	a.st = store.New(storePath)

	historyMaxAge, err := time.ParseDuration(a.cfg.Events.History.MaxAge)
	if err != nil {
		historyMaxAge = time.Hour
	}
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: a.cfg.Events.History.MaxEvents,
		HistoryMaxAge:    historyMaxAge,
	})
	a.bus = bus

	a.sup = session.NewSupervisor(a.win, a.st, a.bus, session.Options{
		DefaultShell: a.cfg.Session.DefaultShell,
		RingCap:      a.cfg.Session.HistoryBytes,
	})
	a.sup.AddChunkHook(a.handleChunk)
	if err := a.sup.Load(); err != nil {
		return fmt.Errorf("app: load session registry: %w", err)
	}

	a.reconciler = reconcile.New(a.sup, 0)
	a.sampler = stats.New(sessionProvider{a.sup}, a.bus, 0)

	return nil
}

// Start begins every background loop: the Reconciler's periodic sweep,
// the Sampler's periodic poll, and this App's own tick loop driving
// Respawn Controllers and RalphTrackers.
func (a *App) Start(ctx context.Context) error {
	a.reconciler.Start(ctx)
	a.sampler.Start(ctx)
	go a.tickLoop(ctx)
	log.Printf("claudemand %s: supervising %q (%d sessions restored)", a.version, a.cfg.App.HostSession, len(a.sup.List()))
	return nil
}

// Run initializes, starts, and blocks until a shutdown signal, ctx
// cancellation, or an explicit Stop arrives, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("context cancelled, shutting down...")
	case <-a.done:
		log.Printf("shutdown requested...")
	}

	return a.Shutdown(context.Background())
}

// Stop requests Run's select loop to exit; safe to call once.
func (a *App) Stop() {
	close(a.done)
}

// Shutdown stops every background loop. Sessions themselves (tmux
// windows) are left running — claudemand supervises, it does not own
// the child processes' lifetime beyond the window it spawned them in.
func (a *App) Shutdown(ctx context.Context) error {
	close(a.tickDone)
	a.reconciler.Stop()
	a.sampler.Stop()
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			log.Printf("app: close event bus: %v", err)
		}
	}
	return nil
}

// tickLoop drives wall-clock-based transitions for every live agent
// Session's Respawn Controller and RalphTracker stall check (spec
// §4.F Tick, §4.E.8), independent of the Sampler's own interval.
func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.tickDone:
			return
		case <-ticker.C:
			a.tickAll(ctx)
		}
	}
}

func (a *App) tickAll(ctx context.Context) {
	live := make(map[string]bool)
	for _, sess := range a.sup.List() {
		live[sess.ID] = true
	}

	a.mu.Lock()
	for id := range a.runtimes {
		if !live[id] {
			delete(a.runtimes, id)
		}
	}
	runtimes := make([]*agentRuntime, 0, len(a.runtimes))
	for _, rt := range a.runtimes {
		runtimes = append(runtimes, rt)
	}
	a.mu.Unlock()

	for _, rt := range runtimes {
		rt.tracker.CheckStallTick()
		rt.ctrl.Tick(ctx)
	}
}

// handleChunk is the Supervisor's ChunkHook: it lazily attaches a
// RalphTracker + Respawn Controller pair to agent-mode Sessions the
// first time their output is observed, then feeds both (spec §3: the
// tracker and controller are per-Session and fed from the same byte
// stream the Stream Dispatcher fans out).
func (a *App) handleChunk(sessionID string, chunk []byte) {
	sess, ok := a.sup.Get(sessionID)
	if !ok || sess.Mode != session.ModeAgent {
		return
	}

	rt := a.runtimeFor(sess)
	rt.tracker.Feed(sessionID, chunk)
	rt.ctrl.Touch()
}

func (a *App) runtimeFor(sess *session.Session) *agentRuntime {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rt, ok := a.runtimes[sess.ID]; ok {
		return rt
	}

	ctrl := respawn.NewController(sess.ID, sess.WindowName, a.win, a.bus)
	trk := tracker.NewTracker(sess.ID, a.trackerConfig(), func(ev tracker.Event) {
		ctrl.HandleTrackerEvent(ev)
	})
	if sess.RalphEnabled {
		trk.Enable()
	}
	if len(sess.RespawnConfig) > 0 {
		var rcfg respawn.Config
		if err := json.Unmarshal(sess.RespawnConfig, &rcfg); err != nil {
			log.Printf("app: unmarshal respawn config for %s: %v", sess.ID, err)
		} else {
			ctrl.Start(rcfg)
		}
	}

	rt := &agentRuntime{tracker: trk, ctrl: ctrl}
	a.runtimes[sess.ID] = rt
	return rt
}

// trackerConfig builds a tracker.Config from the loaded claudemand
// config, filling the fields spec §6.6 leaves unconfigurable per-app
// (buffer caps, stall durations) from tracker.DefaultConfig.
func (a *App) trackerConfig() tracker.Config {
	cfg := tracker.DefaultConfig()
	if a.cfg.Tracker.MinPhraseLength > 0 {
		cfg.MinPhraseLength = a.cfg.Tracker.MinPhraseLength
	}
	if len(a.cfg.Tracker.CommonPhrases) > 0 {
		cfg.CommonPhrases = a.cfg.Tracker.CommonPhrases
	}
	return cfg
}

// sessionProvider adapts session.Supervisor to stats.SessionProvider,
// keeping internal/stats ignorant of internal/session's richer type.
type sessionProvider struct {
	sup *session.Supervisor
}

func (p sessionProvider) PIDs() []stats.PidSession {
	sessions := p.sup.List()
	out := make([]stats.PidSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, stats.PidSession{SessionID: s.ID, PID: int32(s.PID)})
	}
	return out
}
