// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"testing"
	"time"
)

func TestEventHistoryAdd(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	if err := history.Add(Event{ID: "1", Type: "service.started", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := history.Query(EventFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestEventHistoryMaxEvents(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 5, MaxAge: time.Hour})
	defer history.Close()

	for i := 0; i < 10; i++ {
		_ = history.Add(Event{ID: string(rune('0' + i)), Type: "service.started", Timestamp: time.Now()})
	}

	got, err := history.Query(EventFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, e := range got {
		want := string(rune('0' + (5 + i)))
		if e.ID != want {
			t.Fatalf("event %d: got id %s want %s", i, e.ID, want)
		}
	}
}

func TestEventHistoryMaxAge(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: 100 * time.Millisecond})
	defer history.Close()

	_ = history.Add(Event{ID: "old", Type: "service.started", Timestamp: time.Now().Add(-200 * time.Millisecond)})
	_ = history.Add(Event{ID: "new", Type: "service.started", Timestamp: time.Now()})

	if err := history.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := history.Query(EventFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only 'new' to survive, got %+v", got)
	}
}

func TestEventHistoryQueryTypes(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	for _, e := range []Event{
		{ID: "1", Type: "service.started", Timestamp: time.Now()},
		{ID: "2", Type: "service.stopped", Timestamp: time.Now()},
		{ID: "3", Type: "service.crashed", Timestamp: time.Now()},
		{ID: "4", Type: "workflow.started", Timestamp: time.Now()},
		{ID: "5", Type: "workflow.finished", Timestamp: time.Now()},
	} {
		_ = history.Add(e)
	}

	result, err := history.Query(EventFilter{Types: []string{"service.*"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 service.* events, got %d", len(result))
	}

	result, err = history.Query(EventFilter{Types: []string{"workflow.finished"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 1 || result[0].ID != "5" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEventHistoryQuerySessionID(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	for _, e := range []Event{
		{ID: "1", Type: "session.created", SessionID: "s1", Timestamp: time.Now()},
		{ID: "2", Type: "session.created", SessionID: "s2", Timestamp: time.Now()},
		{ID: "3", Type: "session.deleted", SessionID: "s1", Timestamp: time.Now()},
	} {
		_ = history.Add(e)
	}

	result, err := history.Query(EventFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events for s1, got %d", len(result))
	}
}

func TestEventHistoryQueryTimeRange(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	now := time.Now()
	for _, e := range []Event{
		{ID: "1", Type: "service.started", Timestamp: now.Add(-30 * time.Minute)},
		{ID: "2", Type: "service.started", Timestamp: now.Add(-15 * time.Minute)},
		{ID: "3", Type: "service.started", Timestamp: now.Add(-5 * time.Minute)},
	} {
		_ = history.Add(e)
	}

	result, err := history.Query(EventFilter{Since: now.Add(-20 * time.Minute)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 events since -20m, got %d", len(result))
	}

	result, err = history.Query(EventFilter{
		Since: now.Add(-20 * time.Minute),
		Until: now.Add(-10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 1 || result[0].ID != "2" {
		t.Fatalf("unexpected range result: %+v", result)
	}
}

func TestEventHistoryQueryLimit(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	for i := 0; i < 10; i++ {
		_ = history.Add(Event{ID: string(rune('0' + i)), Type: "service.started", Timestamp: time.Now()})
	}

	result, err := history.Query(EventFilter{Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 events, got %d", len(result))
	}
}

func TestEventHistoryOrder(t *testing.T) {
	history := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer history.Close()

	now := time.Now()
	for _, e := range []Event{
		{ID: "3", Type: "service.started", Timestamp: now.Add(2 * time.Second)},
		{ID: "1", Type: "service.started", Timestamp: now},
		{ID: "2", Type: "service.started", Timestamp: now.Add(1 * time.Second)},
	} {
		_ = history.Add(e)
	}

	result, err := history.Query(EventFilter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result) != 3 || result[0].ID != "1" || result[1].ID != "2" || result[2].ID != "3" {
		t.Fatalf("events not ordered oldest-first: %+v", result)
	}
}

func TestEventHistoryIntegrationWithBus(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 10, HistoryMaxAge: time.Hour})
	defer bus.Close()

	for i := 0; i < 15; i++ {
		bus.Publish(context.Background(), "service.started", "main", nil)
	}

	got, err := bus.History(EventFilter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 retained events, got %d", len(got))
	}
}
