// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/window"
)

// Reconcile implements spec §4.G steps 1-3: for every known Session,
// confirm its window is still alive (updating pid/attached, or dropping
// it and emitting screen:died if not); then adopt any live window that
// shares the registry's prefix but has no matching Session. Persists
// once if anything changed. Safe to call concurrently with normal
// Supervisor traffic and with itself (callers typically serialize calls
// via a single Reconciler, but Reconcile does not assume that).
func (s *Supervisor) Reconcile(ctx context.Context) (died, discovered []string, err error) {
	live, err := s.win.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("session: reconcile: list windows: %w", err)
	}

	liveByName := make(map[string]window.Info, len(live))
	for _, info := range live {
		liveByName[info.Name] = info
	}

	s.mu.Lock()
	var deadReaders []*pipeReader
	changed := false
	for id, sess := range s.sessions {
		info, ok := liveByName[sess.WindowName]
		if !ok {
			delete(s.sessions, id)
			if r, hasReader := s.readers[id]; hasReader {
				deadReaders = append(deadReaders, r)
				delete(s.readers, id)
			}
			died = append(died, id)
			changed = true
			continue
		}
		if sess.PID != info.PID || !sess.Attached {
			sess.PID = info.PID
			sess.Attached = true
			changed = true
		}
	}
	knownWindows := make(map[string]bool, len(s.sessions))
	for _, sess := range s.sessions {
		knownWindows[sess.WindowName] = true
	}
	if changed {
		if perr := s.persistLocked(); perr != nil {
			log.Printf("session: persist after reconcile: %v", perr)
		}
	}
	s.mu.Unlock()

	for _, r := range deadReaders {
		r.Close()
	}
	for _, id := range died {
		s.publish(ctx, events.EventScreenDied, id, nil)
	}

	for _, info := range live {
		if !strings.HasPrefix(info.Name, WindowPrefix) {
			continue
		}
		if knownWindows[info.Name] {
			continue
		}
		sess, aerr := s.Adopt(ctx, info.PID, info.Name, "")
		if aerr != nil {
			log.Printf("session: reconcile: adopt %s: %v", info.Name, aerr)
			continue
		}
		discovered = append(discovered, sess.ID)
	}

	return died, discovered, nil
}
