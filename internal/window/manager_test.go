// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"context"
	"testing"
)

func TestManagerCreateAndList(t *testing.T) {
	fe := NewFakeExecutor()
	m := NewManager(fe, "claudeman")
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pid, err := m.Create(ctx, "cm-abc123", "/tmp", []string{"bash"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pid == 0 {
		t.Fatalf("expected nonzero pid")
	}

	infos, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "cm-abc123" {
		t.Fatalf("unexpected list: %+v", infos)
	}
}

func TestManagerCreateInvalidName(t *testing.T) {
	fe := NewFakeExecutor()
	m := NewManager(fe, "claudeman")
	if _, err := m.Create(context.Background(), "bad name!", "/tmp", nil, nil); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestManagerCreateUnavailable(t *testing.T) {
	fe := NewFakeExecutor()
	fe.Unavailable = true
	m := NewManager(fe, "claudeman")
	_, err := m.Create(context.Background(), "cm-x", "/tmp", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestManagerSendKeys(t *testing.T) {
	fe := NewFakeExecutor()
	m := NewManager(fe, "claudeman")
	ctx := context.Background()
	if _, err := m.Create(ctx, "cm-a", "/tmp", nil, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.SendKeys(ctx, "cm-a", "hello"); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	ks := fe.Keystrokes()
	if len(ks) != 2 {
		t.Fatalf("expected 2 keystrokes (text+Enter), got %d: %+v", len(ks), ks)
	}
	if ks[0].Payload != "hello" || ks[1].Payload != "Enter" {
		t.Fatalf("unexpected keystrokes: %+v", ks)
	}
}

func TestManagerSnapshotCleans(t *testing.T) {
	raw := cleanSnapshot([]byte("✔ done\x01\x02line2\n\tindented\r\n"))
	s := string(raw)
	if want := "[v] done"; s[:len(want)] != want {
		t.Fatalf("expected emoji substitution, got %q", s)
	}
	for _, b := range []byte{0x01, 0x02} {
		for _, r := range s {
			if r == rune(b) {
				t.Fatalf("expected C0 control stripped, found %v in %q", b, s)
			}
		}
	}
}

func TestManagerKillEscalationStage1(t *testing.T) {
	fe := NewFakeExecutor()
	m := NewManager(fe, "claudeman")
	ctx := context.Background()
	pid, err := m.Create(ctx, "cm-a", "/tmp", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// No descendants; SIGTERM via Signal(pid,true) won't mark it dead
	// (only Signal(pid,false)/KILL does in the fake), so stage progression
	// is exercised via explicit kill helpers.
	fe.alive[pid] = true
	if err := m.Kill(ctx, "cm-a", pid); err != nil {
		t.Fatalf("Kill: %v", err)
	}
}

func TestManagerKillFallsThroughToWindowKill(t *testing.T) {
	fe := NewFakeExecutor()
	m := NewManager(fe, "claudeman")
	ctx := context.Background()
	pid, err := m.Create(ctx, "cm-a", "/tmp", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fe.SurviveStage["cm-a"] = 4
	if err := m.Kill(ctx, "cm-a", pid); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if fe.Alive(pid) {
		t.Fatalf("expected pid dead after stage-4 kill-window")
	}
}
