// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
)

const readChunkSize = 32 * 1024

// startReader starts the single logical reader task servicing sess
// (spec §4.C: "each Session is serviced by one logical reader"). Every
// chunk read is appended to the ring and handed, in order, to the
// Dispatcher and every registered ChunkHook before the next read.
func (s *Supervisor) startReader(ctx context.Context, sess *Session) {
	pipePath := filepath.Join(s.opts.PipeDir, fmt.Sprintf("claudeman-%s.fifo", sess.ID))

	if err := s.win.StartPipe(ctx, sess.WindowName, pipePath); err != nil {
		log.Printf("session: start pipe for %s: %v", sess.WindowName, err)
		return
	}

	reader, err := newPipeReader(pipePath)
	if err != nil {
		log.Printf("session: attach reader for %s: %v", sess.WindowName, err)
		_ = s.win.StopPipe(ctx, sess.WindowName)
		return
	}

	s.mu.Lock()
	s.readers[sess.ID] = reader
	s.mu.Unlock()

	go s.readLoop(ctx, sess.ID, reader)
}

// readLoop never exits on a parser or dispatch error (spec §7:
// "the reader task never dies on a parser error; it catches, logs, and
// continues"). It exits only when the pipe itself closes (EOF, the
// window died or was killed) or returns a read error.
func (s *Supervisor) readLoop(ctx context.Context, id string, reader *pipeReader) {
	defer reader.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.deliver(id, chunk)
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("session: read error for %s: %v", id, err)
			}
			break
		}
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.Attached = false
	}
	s.mu.Unlock()
	if ok {
		s.publish(ctx, events.EventSessionExit, id, nil)
	}
}

// deliver appends chunk to the Session's ring and fans it out to the
// Dispatcher and every ChunkHook, in that order. Hook panics are not
// recovered here deliberately narrow: hooks are internal, trusted
// code (the tracker); an escaping panic would indicate a real bug
// that should surface rather than be silently swallowed mid-stream.
func (s *Supervisor) deliver(id string, chunk []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	dispatcher := s.dispF
	hooks := s.hooks
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.Ring.Write(chunk)

	if dispatcher != nil {
		dispatcher.Publish(id, chunk)
	}
	for _, h := range hooks {
		h(id, chunk)
	}
}
