// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
)

func TestReconcileDropsDeadSessionAndEmitsScreenDied(t *testing.T) {
	sup, fake := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, t.TempDir(), ModeAgent, "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var captured []events.Event
	sub := func(ctx context.Context, ev events.Event) error {
		captured = append(captured, ev)
		return nil
	}
	if _, err := sup.bus.Subscribe(events.EventScreenDied, sub); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Simulate an out-of-band kill: the window disappears without going
	// through KillSession.
	fake.Kill(sess.WindowName)

	died, discovered, err := sup.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(died) != 1 || died[0] != sess.ID {
		t.Fatalf("died = %v, want [%s]", died, sess.ID)
	}
	if len(discovered) != 0 {
		t.Errorf("discovered = %v, want none", discovered)
	}
	if _, ok := sup.Get(sess.ID); ok {
		t.Error("expected dead session to be dropped from registry")
	}

	if len(captured) != 1 {
		t.Fatalf("expected exactly one screen:died, got %d", len(captured))
	}
	if captured[0].SessionID != sess.ID {
		t.Errorf("screen:died sessionID = %q, want %q", captured[0].SessionID, sess.ID)
	}

	// A second reconcile sweep is a no-op (P8: exactly one screen:died).
	died2, _, err := sup.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile (2nd): %v", err)
	}
	if len(died2) != 0 {
		t.Errorf("second sweep died = %v, want none", died2)
	}
	if len(captured) != 1 {
		t.Errorf("expected still exactly one screen:died after second sweep, got %d", len(captured))
	}
}

func TestReconcileAdoptsOrphanedWindow(t *testing.T) {
	sup, fake := newTestSupervisor(t)
	ctx := context.Background()

	// A window created directly through the executor, bypassing
	// CreateSession entirely, simulates a claudeman-prefixed window left
	// over from a prior process (spec §4.G step 2).
	pid, err := fake.Create(ctx, "claudeman-host", "claudeman-orphan-1", "/work", []string{"sh"}, nil)
	if err != nil {
		t.Fatalf("fake.Create: %v", err)
	}

	var captured []events.Event
	sup.bus.Subscribe(events.EventSessionDiscovered, func(ctx context.Context, ev events.Event) error {
		captured = append(captured, ev)
		return nil
	})

	died, discovered, err := sup.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(died) != 0 {
		t.Errorf("died = %v, want none", died)
	}
	if len(discovered) != 1 {
		t.Fatalf("discovered = %v, want exactly one", discovered)
	}

	got, ok := sup.Get(discovered[0])
	if !ok {
		t.Fatal("expected adopted session to be retrievable")
	}
	if got.PID != pid {
		t.Errorf("adopted PID = %d, want %d", got.PID, pid)
	}
	if got.WindowName != "claudeman-orphan-1" {
		t.Errorf("adopted WindowName = %q, want claudeman-orphan-1", got.WindowName)
	}
	if len(captured) != 1 {
		t.Errorf("expected exactly one session:discovered, got %d", len(captured))
	}

	// Reconciling again must not adopt the same window twice.
	_, discovered2, err := sup.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile (2nd): %v", err)
	}
	if len(discovered2) != 0 {
		t.Errorf("second sweep discovered = %v, want none", discovered2)
	}
}

func TestReconcileUpdatesPIDAndAttachedOnSurvivor(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, t.TempDir(), ModeAgent, "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := sup.SetAttached(sess.ID, false); err != nil {
		t.Fatalf("SetAttached: %v", err)
	}

	died, discovered, err := sup.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(died) != 0 || len(discovered) != 0 {
		t.Fatalf("expected no changes for a live session, got died=%v discovered=%v", died, discovered)
	}

	got, _ := sup.Get(sess.ID)
	if !got.Attached {
		t.Error("expected Reconcile to restore Attached=true for a live window")
	}
	if got.PID != sess.PID {
		t.Errorf("PID = %d, want %d", got.PID, sess.PID)
	}
}
