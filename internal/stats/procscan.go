// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"fmt"

	ps "github.com/mitchellh/go-ps"
	"github.com/shirou/gopsutil/v3/process"
)

// procUsage is one pid's instantaneous memory/CPU reading.
type procUsage struct {
	rssBytes   uint64
	cpuSecs    float64 // cumulative user+system CPU time, seconds
	hasReading bool
}

// listProcessTree and readUsage are package-level so tests can
// substitute fakes without touching the real process table (same
// indirection style the teacher uses for its own /proc scan funcs,
// adapted here to the go-ps/gopsutil libraries already wired into
// this module's go.mod).
var (
	listProcessTree = realListProcessTree
	readUsage       = realReadUsage
)

// realListProcessTree performs the "one system invocation" descendant
// batch (spec §4.H): a single ps.Processes() call, from which every
// session root's descendant set is derived by walking a ppid index.
// Mirrors internal/window.TmuxExecutor.Descendants, generalized to
// many roots in one pass instead of one.
func realListProcessTree() (map[int32][]int32, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("stats: list process table: %w", err)
	}
	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid := int32(p.PPid())
		children[ppid] = append(children[ppid], int32(p.Pid()))
	}
	return children, nil
}

// descendantsOf walks tree (as produced by listProcessTree) from root,
// returning root plus every descendant pid.
func descendantsOf(tree map[int32][]int32, root int32) []int32 {
	out := []int32{root}
	var walk func(p int32)
	walk = func(p int32) {
		for _, c := range tree[p] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(root)
	return out
}

// realReadUsage queries RSS and cumulative CPU seconds for the union of
// pids in one pass over gopsutil's process list (spec §4.H: "query RSS
// and CPU percent for the union of all pids in one invocation").
func realReadUsage(pids []int32) (map[int32]procUsage, error) {
	want := make(map[int32]bool, len(pids))
	for _, p := range pids {
		want[p] = true
	}

	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("stats: list gopsutil processes: %w", err)
	}

	out := make(map[int32]procUsage, len(want))
	for _, p := range procs {
		pid := p.Pid
		if !want[pid] {
			continue
		}
		u := procUsage{}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			u.rssBytes = mem.RSS
			u.hasReading = true
		}
		if times, err := p.Times(); err == nil && times != nil {
			u.cpuSecs = times.User + times.System
			u.hasReading = true
		}
		out[pid] = u
	}
	return out, nil
}

// realReadUsageSingle is the per-session fallback path (spec §4.H: "on
// failure, fall back to per-session individual queries"): one gopsutil
// lookup per pid instead of one pass over the whole table.
func realReadUsageSingle(pid int32) (procUsage, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return procUsage{}, fmt.Errorf("stats: open pid %d: %w", pid, err)
	}
	u := procUsage{}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.rssBytes = mem.RSS
		u.hasReading = true
	}
	if times, err := p.Times(); err == nil && times != nil {
		u.cpuSecs = times.User + times.System
		u.hasReading = true
	}
	return u, nil
}

// realDescendantsSingle is the per-session fallback for descendant
// discovery: a single ps.Processes() call still needed to find a pid's
// children is no different for one root than for all of them, so the
// fallback instead walks gopsutil's Children() API (a separate
// system path from go-ps, giving a genuinely independent second
// attempt rather than repeating the same failed call per session).
func realDescendantsSingle(root int32) ([]int32, error) {
	p, err := process.NewProcess(root)
	if err != nil {
		return []int32{root}, nil
	}
	kids, err := p.Children()
	if err != nil {
		return []int32{root}, nil
	}
	out := []int32{root}
	for _, k := range kids {
		out = append(out, k.Pid)
	}
	return out, nil
}
