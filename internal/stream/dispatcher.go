// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stream

import "sync"

// DefaultQueueSize is the default bounded per-subscriber queue depth
// (spec §4.D: "allocates a bounded queue (e.g. 1024 chunks)").
const DefaultQueueSize = 1024

// Chunk is one unit handed to a subscriber. Dropped is non-zero when
// one or more earlier chunks were evicted to make room for this one —
// the "dropped N" marker described in spec §4.D — so the subscriber
// knows to re-fetch the session's ring rather than assume continuity.
type Chunk struct {
	Data    []byte
	Dropped int
}

// Subscription is a live subscriber's handle (spec §4.D subscribe).
type Subscription struct {
	id     uint64
	ch     chan Chunk
	cancel func()
}

// Receive returns the channel the subscriber reads chunks from. It is
// closed when the subscription is cancelled.
func (s *Subscription) Receive() <-chan Chunk { return s.ch }

// Cancel tears down the subscription; safe to call more than once.
func (s *Subscription) Cancel() { s.cancel() }

type subscriberState struct {
	mu      sync.Mutex
	ch      chan Chunk
	dropped int
}

func (ss *subscriberState) push(data []byte) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	select {
	case ss.ch <- Chunk{Data: data, Dropped: ss.dropped}:
		ss.dropped = 0
		return
	default:
	}

	// Full: drop the oldest queued chunk to make room, non-blocking.
	select {
	case <-ss.ch:
		ss.dropped++
	default:
	}

	select {
	case ss.ch <- Chunk{Data: data, Dropped: ss.dropped}:
		ss.dropped = 0
	default:
		// Raced with another producer (shouldn't happen: one reader
		// per session); count it and move on rather than block.
		ss.dropped++
	}
}

// Dispatcher is the Stream Dispatcher (spec §4.D): it fans each
// Session's byte stream out to every live subscription with a
// non-blocking, bounded, drop-oldest queue per subscriber.
type Dispatcher struct {
	mu        sync.Mutex
	subs      map[string]map[uint64]*subscriberState
	nextID    uint64
	queueSize int
}

// NewDispatcher constructs a Dispatcher. A non-positive queueSize falls
// back to DefaultQueueSize.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		subs:      make(map[string]map[uint64]*subscriberState),
		queueSize: queueSize,
	}
}

// Subscribe allocates a bounded queue for sessionID. If hydrate is
// non-empty it is enqueued as the subscription's first Chunk, so a late
// subscriber sees the session's current ring contents before any new
// live bytes (the caller is expected to have fetched hydrate from the
// Session's ring beforehand).
func (d *Dispatcher) Subscribe(sessionID string, hydrate []byte) *Subscription {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.subs[sessionID] == nil {
		d.subs[sessionID] = make(map[uint64]*subscriberState)
	}
	state := &subscriberState{ch: make(chan Chunk, d.queueSize)}
	d.subs[sessionID][id] = state
	d.mu.Unlock()

	if len(hydrate) > 0 {
		state.push(hydrate)
	}

	sub := &Subscription{id: id, ch: state.ch}
	sub.cancel = func() {
		d.mu.Lock()
		if m, ok := d.subs[sessionID]; ok {
			if _, exists := m[id]; exists {
				delete(m, id)
				if len(m) == 0 {
					delete(d.subs, sessionID)
				}
				close(state.ch)
			}
		}
		d.mu.Unlock()
	}
	return sub
}

// Publish pushes chunk to every live subscription of sessionID,
// non-blocking: a slow subscriber never blocks the writer (spec §4.D
// publish, §5 back-pressure).
func (d *Dispatcher) Publish(sessionID string, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	d.mu.Lock()
	m := d.subs[sessionID]
	states := make([]*subscriberState, 0, len(m))
	for _, st := range m {
		states = append(states, st)
	}
	d.mu.Unlock()

	for _, st := range states {
		st.push(chunk)
	}
}

// SubscriberCount reports how many live subscriptions sessionID has.
func (d *Dispatcher) SubscriberCount(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[sessionID])
}
