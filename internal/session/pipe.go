// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
)

// pipeReader wraps an O_RDONLY FIFO opened non-blocking and then
// switched back to blocking reads, so opening the reader end never
// deadlocks waiting for a writer (the window tool's pipe-pane) that
// hasn't attached yet. Mirrors the teacher's terminal.pipeReader.
type pipeReader struct {
	path   string
	mu     sync.Mutex
	file   *os.File
	closed atomic.Bool
}

// newPipeReader creates the FIFO at path (removing any stale file
// first) and opens its read end.
func newPipeReader(path string) (*pipeReader, error) {
	os.Remove(path)
	if err := mkfifo(path); err != nil {
		return nil, fmt.Errorf("session: create fifo %s: %w", path, err)
	}

	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("session: open fifo %s: %w", path, err)
	}
	// Clear the non-blocking flag so subsequent reads block normally
	// instead of spinning on EAGAIN.
	syscall.SetNonblock(fd, false)

	return &pipeReader{
		path: path,
		file: os.NewFile(uintptr(fd), path),
	}, nil
}

// Read implements io.Reader. The closed flag is checked without the
// lock so a concurrent Close never blocks on a Read in flight.
func (p *pipeReader) Read(buf []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.EOF
	}

	p.mu.Lock()
	f := p.file
	p.mu.Unlock()
	if f == nil {
		return 0, io.EOF
	}

	n, err := f.Read(buf)
	if p.closed.Load() && err != nil {
		return n, io.EOF
	}
	return n, err
}

// Close implements io.Closer. Safe to call more than once.
func (p *pipeReader) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	f := p.file
	p.file = nil
	p.mu.Unlock()

	if f != nil {
		f.Close()
	}
	os.Remove(p.path)
	return nil
}

func mkfifo(path string) error {
	return exec.Command("mkfifo", path).Run()
}
