// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package respawn

import (
	"context"
	"sync"
	"time"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/tracker"
)

// Injector is the narrow keystroke-injection contract the controller
// needs from the Window Manager (spec §4.A sendKeys).
type Injector interface {
	SendKeys(ctx context.Context, name, payload string) error
}

// Controller is one Session's Respawn Controller (spec §4.F). It is
// driven by three external inputs: Tick (wall-clock polling, driven by
// the App's tick loop), Touch (byte activity), and
// HandleTrackerEvent (RalphTracker events). All three may be called
// from different goroutines; Controller serializes them internally.
type Controller struct {
	mu sync.Mutex

	sessionID  string
	windowName string
	win        Injector
	bus        events.EventBus
	now        func() time.Time

	cfg   Config
	state State

	startedAt   time.Time
	deadline    time.Time
	lastByteAt  time.Time
	coolingUntil time.Time

	cycleCount  int
	lastCycleAt time.Time

	tokenTotal   int64
	stoppedFired bool

	// afterCycle, when set, is invoked (unlocked) after each full
	// refresh cycle completes; used by tests to synchronize with the
	// injection goroutine without sleeping on wall-clock time.
	afterCycle func()
}

// NewController constructs a stopped Controller for one Session.
func NewController(sessionID, windowName string, win Injector, bus events.EventBus) *Controller {
	return &Controller{
		sessionID:  sessionID,
		windowName: windowName,
		win:        win,
		bus:        bus,
		now:        time.Now,
		state:      StateStopped,
	}
}

// Status returns a defensive snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		StartedAt:   c.startedAt,
		Deadline:    c.deadline,
		CycleCount:  c.cycleCount,
		LastCycleAt: c.lastCycleAt,
	}
}

// Start transitions STOPPED → WATCHING (spec §4.F start(config)).
func (c *Controller) Start(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg.WithDefaults()
	c.state = StateWatching
	c.startedAt = c.now()
	c.lastByteAt = c.startedAt
	c.stoppedFired = false
	if c.cfg.DurationMinutes > 0 {
		c.deadline = c.startedAt.Add(time.Duration(c.cfg.DurationMinutes) * time.Minute)
	} else {
		c.deadline = time.Time{}
	}
	c.emit(events.EventRespawnStarted, nil)
	c.emitStateChanged()
}

// Stop forces the controller back to STOPPED without emitting
// respawn:stopped twice for an already-completed run.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toStoppedLocked()
}

func (c *Controller) toStoppedLocked() {
	if c.state == StateStopped {
		return
	}
	c.state = StateStopped
	if !c.stoppedFired {
		c.stoppedFired = true
		c.emit(events.EventRespawnStopped, nil)
	}
}

// Touch records byte activity from the child, resetting the idle clock
// (spec §4.F: "no byte from child for idleTimeoutMs").
func (c *Controller) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastByteAt = c.now()
}

// UpdateTokenCount feeds cumulative token accounting so the next Tick
// can evaluate the autoClear threshold (spec §4.F).
func (c *Controller) UpdateTokenCount(total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenTotal = total
}

// Tick re-evaluates wall-clock-driven transitions: deadline expiration,
// idle detection, the autoClear threshold, and the end of a cooldown
// window. The App's tick loop invokes this periodically, right after the
// tracker's CheckStallTick.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	now := c.now()

	if c.state == StateStopped || c.state == StateCompleted {
		c.mu.Unlock()
		return
	}

	if !c.deadline.IsZero() && !now.Before(c.deadline) {
		c.toStoppedLocked()
		c.mu.Unlock()
		return
	}

	switch c.state {
	case StateWatching:
		idleFor := now.Sub(c.lastByteAt)
		idleTimeout := time.Duration(c.cfg.IdleTimeoutMs) * time.Millisecond
		autoClearDue := c.cfg.AutoClear.Enabled && c.tokenTotal >= c.cfg.AutoClear.Threshold
		if idleFor >= idleTimeout || autoClearDue {
			c.mu.Unlock()
			c.beginRefreshCycle(ctx)
			return
		}
	case StateCoolingDown:
		if !now.Before(c.coolingUntil) {
			c.state = StateWatching
			c.emitStateChanged()
		}
	}
	c.mu.Unlock()
}

// HandleTrackerEvent applies one RalphTracker event (spec §4.F: the
// controller is a subscriber of tracker events).
func (c *Controller) HandleTrackerEvent(ev tracker.Event) {
	switch ev.Kind {
	case tracker.EventCompletionDetected, tracker.EventExitGateMet:
		c.complete()
	case tracker.EventIterationStallCritical:
		c.mu.Lock()
		watching := c.state == StateWatching
		c.mu.Unlock()
		if watching {
			c.beginRefreshCycle(context.Background())
		}
	case tracker.EventCircuitBreakerUpdate:
		if ev.Circuit != nil && ev.Circuit.Snapshot.State == tracker.CircuitOpen {
			c.mu.Lock()
			if c.state == StateWatching || c.state == StateRefreshing {
				c.coolingUntil = c.now().Add(time.Duration(c.cfg.CooldownMs) * time.Millisecond)
				c.state = StateCoolingDown
				c.emitStateChanged()
			}
			c.mu.Unlock()
		}
	}
}

// complete handles completionDetected/exitGateMet: COMPLETED then
// immediately STOPPED, emitting respawn:stopped exactly once (spec
// §4.F: "In COMPLETED ... emit respawn:stopped once; return to
// STOPPED; do not auto-restart").
func (c *Controller) complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}
	c.state = StateCompleted
	c.toStoppedLocked()
}

// beginRefreshCycle runs the IDLE_DETECTED → REFRESHING → COOLING_DOWN
// sequence (spec §4.F). The scripted steps require real wall-clock
// delays between injections, so the sequence runs on its own goroutine;
// Controller state is only ever mutated under c.mu.
func (c *Controller) beginRefreshCycle(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateWatching {
		c.mu.Unlock()
		return
	}
	c.state = StateIdleDetected
	steps := c.cfg.steps()
	interStep := time.Duration(c.cfg.InterStepDelayMs) * time.Millisecond
	windowName := c.windowName
	c.emit(events.EventRespawnCycleStarted, nil)
	c.state = StateRefreshing
	c.emitStateChanged()
	c.mu.Unlock()

	go c.runRefreshSteps(ctx, windowName, steps, interStep)
}

func (c *Controller) runRefreshSteps(ctx context.Context, windowName string, steps []RefreshStep, interStep time.Duration) {
	for i, step := range steps {
		if step.Wait > 0 {
			time.Sleep(step.Wait)
			continue
		}
		if c.win != nil {
			_ = c.win.SendKeys(ctx, windowName, step.Payload)
		}
		c.emit(events.EventRespawnStepSent, map[string]interface{}{"step": i, "payload": step.Payload})
		if i < len(steps)-1 {
			time.Sleep(interStep)
		}
	}

	c.mu.Lock()
	c.cycleCount++
	c.lastCycleAt = c.now()
	c.coolingUntil = c.lastCycleAt.Add(interStep)
	if c.state == StateRefreshing {
		c.state = StateCoolingDown
		c.emitStateChanged()
	}
	after := c.afterCycle
	c.mu.Unlock()

	if after != nil {
		after()
	}
}

func (c *Controller) emitStateChanged() {
	c.emit(events.EventRespawnStateChanged, map[string]interface{}{"state": string(c.state)})
}

func (c *Controller) emit(eventType string, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.Background(), eventType, c.sessionID, payload)
}
