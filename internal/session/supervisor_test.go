// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/store"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/window"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *window.FakeExecutor) {
	t.Helper()
	dir := t.TempDir()
	fake := window.NewFakeExecutor()
	mgr := window.NewManager(fake, "claudeman-host")
	st := store.New(filepath.Join(dir, "screens.json"))
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100, HistoryMaxAge: time.Hour})

	sup := NewSupervisor(mgr, st, bus, Options{
		APIURL:       "http://localhost:1234",
		DefaultShell: "/bin/sh",
		AgentBin:     "claude",
		PipeDir:      dir,
	})
	return sup, fake
}

func TestSupervisorCreateSessionRecordsAndPersists(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, t.TempDir(), ModeAgent, "my-session", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if sess.WindowName != WindowName(sess.ID) {
		t.Errorf("WindowName = %q, want %q", sess.WindowName, WindowName(sess.ID))
	}
	if sess.Mode != ModeAgent {
		t.Errorf("Mode = %q, want agent", sess.Mode)
	}
	if !sess.Attached {
		t.Error("expected Attached=true after create")
	}
	if sess.PID == 0 {
		t.Error("expected non-zero pid")
	}

	got, ok := sup.Get(sess.ID)
	if !ok {
		t.Fatal("expected Get to find the created session")
	}
	if got.DisplayName != "my-session" {
		t.Errorf("DisplayName = %q, want my-session", got.DisplayName)
	}

	sup2, _ := newTestSupervisorFromSameDir(t, sup)
	if err := sup2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := sup2.Get(sess.ID); !ok {
		t.Fatal("expected reloaded supervisor to find the persisted session")
	}

	sup.KillSession(ctx, sess.ID, true)
}

// newTestSupervisorFromSameDir builds a second Supervisor instance
// backed by the same store path as sup, to exercise persistence
// round-trips across a simulated restart.
func newTestSupervisorFromSameDir(t *testing.T, sup *Supervisor) (*Supervisor, *window.FakeExecutor) {
	t.Helper()
	fake := window.NewFakeExecutor()
	mgr := window.NewManager(fake, "claudeman-host")
	sup2 := NewSupervisor(mgr, sup.st, nil, sup.opts)
	return sup2, fake
}

func TestSupervisorRenameSetAttachedUpdateConfigs(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, t.TempDir(), ModeShell, "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer sup.KillSession(ctx, sess.ID, true)

	if err := sup.RenameSession(sess.ID, "renamed"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if got, _ := sup.Get(sess.ID); got.DisplayName != "renamed" {
		t.Errorf("DisplayName = %q, want renamed", got.DisplayName)
	}

	if err := sup.SetAttached(sess.ID, false); err != nil {
		t.Fatalf("SetAttached: %v", err)
	}
	if got, _ := sup.Get(sess.ID); got.Attached {
		t.Error("expected Attached=false")
	}

	if err := sup.UpdateTrackerEnabled(sess.ID, true); err != nil {
		t.Fatalf("UpdateTrackerEnabled: %v", err)
	}
	if got, _ := sup.Get(sess.ID); !got.RalphEnabled {
		t.Error("expected RalphEnabled=true")
	}

	cfg := []byte(`{"idleTimeoutMs":5000}`)
	if err := sup.UpdateRespawnConfig(sess.ID, cfg); err != nil {
		t.Fatalf("UpdateRespawnConfig: %v", err)
	}
	if got, _ := sup.Get(sess.ID); string(got.RespawnConfig) != string(cfg) {
		t.Errorf("RespawnConfig = %s, want %s", got.RespawnConfig, cfg)
	}
}

func TestSupervisorMutateUnknownIDFails(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	if err := sup.RenameSession("no-such-id", "x"); err == nil {
		t.Fatal("expected error renaming unknown session")
	}
}

func TestSupervisorKillSessionRemovesFromRegistry(t *testing.T) {
	sup, fake := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.CreateSession(ctx, t.TempDir(), ModeAgent, "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := sup.KillSession(ctx, sess.ID, true); err != nil {
		t.Fatalf("KillSession: %v", err)
	}
	if _, ok := sup.Get(sess.ID); ok {
		t.Error("expected session to be gone after kill")
	}
	if fake.Alive(sess.PID) {
		t.Error("expected window pid to be dead after kill")
	}
}

func TestSupervisorAdoptSynthesizesSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	sess, err := sup.Adopt(ctx, 4242, "claudeman-orphan", "/some/dir")
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	if sess.ID != RestoredIDPrefix+"claudeman-orphan" {
		t.Errorf("ID = %q, want restored- prefix", sess.ID)
	}
	if sess.Mode != ModeAgent {
		t.Errorf("Mode = %q, want agent default", sess.Mode)
	}

	// Adopting the same window again returns the existing Session
	// rather than creating a duplicate.
	again, err := sup.Adopt(ctx, 4242, "claudeman-orphan", "/some/dir")
	if err != nil {
		t.Fatalf("Adopt (again): %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("second Adopt() ID = %q, want %q", again.ID, sess.ID)
	}
	if len(sup.List()) != 1 {
		t.Errorf("List() len = %d, want 1 (no duplicate)", len(sup.List()))
	}

	sup.KillSession(ctx, sess.ID, true)
}

func TestSupervisorListReturnsCopies(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	sess, _ := sup.CreateSession(ctx, t.TempDir(), ModeAgent, "", nil)
	defer sup.KillSession(ctx, sess.ID, true)

	list := sup.List()
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	list[0].DisplayName = "mutated-outside"

	got, _ := sup.Get(sess.ID)
	if got.DisplayName == "mutated-outside" {
		t.Error("List() leaked a live reference into the registry")
	}
}
