// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"context"
	"log"
	"time"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/events"
)

// Sampler is the Process Stats component (spec §4.H). Its Start/poll
// shape mirrors the teacher's monitor.Monitor.Start/poll ticker loop;
// the per-pid CPU-delta bookkeeping mirrors monitor.DiscoverProcessActivity's
// prevCPU map, adapted from raw /proc tick parsing to gopsutil readings.
type Sampler struct {
	provider SessionProvider
	bus      events.EventBus
	interval time.Duration

	prevCPU map[string]cpuSample
	done    chan struct{}

	// onSample, when set, is invoked after every poll with the computed
	// stats; used by tests to observe results synchronously.
	onSample func([]SessionStats)
}

type cpuSample struct {
	cpuSecs float64
	when    time.Time
}

// New constructs a Sampler. interval<=0 uses DefaultInterval.
func New(provider SessionProvider, bus events.EventBus, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		provider: provider,
		bus:      bus,
		interval: interval,
		prevCPU:  make(map[string]cpuSample),
		done:     make(chan struct{}),
	}
}

// Start runs an initial sample synchronously, then polls on Interval
// until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.poll()
	go s.loop(ctx)
}

// Stop ends the background loop. Safe to call once.
func (s *Sampler) Stop() {
	close(s.done)
}

func (s *Sampler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Sampler) poll() {
	now := time.Now()
	sessions := s.provider.PIDs()
	if len(sessions) == 0 {
		return
	}

	results, err := s.sampleBatch(sessions, now)
	if err != nil {
		log.Printf("stats: batch sample failed, falling back to per-session queries: %v", err)
		results = s.sampleEach(sessions, now)
	}

	if s.onSample != nil {
		s.onSample(results)
	}
	for _, r := range results {
		s.publish(r)
	}
}

// sampleBatch performs the one-invocation-per-table-scan path (spec
// §4.H main path).
func (s *Sampler) sampleBatch(sessions []PidSession, now time.Time) ([]SessionStats, error) {
	tree, err := listProcessTree()
	if err != nil {
		return nil, err
	}

	descendants := make(map[string][]int32, len(sessions))
	var allPIDs []int32
	for _, sess := range sessions {
		pids := descendantsOf(tree, sess.PID)
		descendants[sess.SessionID] = pids
		allPIDs = append(allPIDs, pids...)
	}

	usage, err := readUsage(allPIDs)
	if err != nil {
		return nil, err
	}

	out := make([]SessionStats, 0, len(sessions))
	for _, sess := range sessions {
		pids := descendants[sess.SessionID]
		out = append(out, s.aggregate(sess.SessionID, pids, usage, now))
	}
	return out, nil
}

// sampleEach is the per-session fallback path (spec §4.H: "on failure,
// fall back to per-session individual queries").
func (s *Sampler) sampleEach(sessions []PidSession, now time.Time) []SessionStats {
	out := make([]SessionStats, 0, len(sessions))
	for _, sess := range sessions {
		pids, err := realDescendantsSingle(sess.PID)
		if err != nil {
			log.Printf("stats: descendant query failed for session %s: %v", sess.SessionID, err)
			continue
		}
		usage := make(map[int32]procUsage, len(pids))
		for _, pid := range pids {
			u, err := realReadUsageSingle(pid)
			if err != nil {
				continue
			}
			usage[pid] = u
		}
		out = append(out, s.aggregate(sess.SessionID, pids, usage, now))
	}
	return out
}

// aggregate sums memory and CPU over pids for one Session's tree,
// computing a CPU percent from the delta against the previous sample
// (the same elapsed-ticks idiom as the teacher's calculateBurnRate /
// DiscoverProcessActivity, generalized to a tree sum instead of one pid).
func (s *Sampler) aggregate(sessionID string, pids []int32, usage map[int32]procUsage, now time.Time) SessionStats {
	var rss uint64
	var cpuSecs float64
	childCount := 0
	for i, pid := range pids {
		u, ok := usage[pid]
		if !ok {
			continue
		}
		rss += u.rssBytes
		cpuSecs += u.cpuSecs
		if i > 0 {
			childCount++
		}
	}

	cpuPercent := 0.0
	if prev, ok := s.prevCPU[sessionID]; ok {
		elapsed := now.Sub(prev.when).Seconds()
		if elapsed > 0 {
			delta := cpuSecs - prev.cpuSecs
			if delta < 0 {
				delta = 0
			}
			cpuPercent = delta / elapsed * 100
		}
	}
	s.prevCPU[sessionID] = cpuSample{cpuSecs: cpuSecs, when: now}

	return SessionStats{
		SessionID:  sessionID,
		MemoryMB:   float64(rss) / (1024 * 1024),
		CPUPercent: cpuPercent,
		ChildCount: childCount,
	}
}

func (s *Sampler) publish(r SessionStats) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), events.EventScreenStatsUpdated, r.SessionID, map[string]interface{}{
		"memoryMB":   r.MemoryMB,
		"cpuPercent": r.CPUPercent,
		"childCount": r.ChildCount,
	})
}
