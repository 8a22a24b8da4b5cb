// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stats implements the batched Process Stats component (spec
// §4.H): on an interval, it determines each tracked Session's process
// tree in one batch, queries memory and CPU for the whole pid union in
// one pass, and sums per tree — falling back to per-session queries on
// batch failure.
package stats

import "time"

// PidSession is the narrow view of a Session the Sampler needs: its id
// and the root pid of its window-managing process.
type PidSession struct {
	SessionID string
	PID       int32
}

// SessionProvider supplies the current set of Sessions to sample.
type SessionProvider interface {
	PIDs() []PidSession
}

// SessionStats is one Session's aggregated process-tree usage for one
// sample interval (spec §4.H: "{memoryMB, cpuPercent, childCount}").
type SessionStats struct {
	SessionID  string  `json:"sessionId"`
	MemoryMB   float64 `json:"memoryMB"`
	CPUPercent float64 `json:"cpuPercent"`
	ChildCount int     `json:"childCount"`
}

// DefaultInterval is used when Sampler is constructed with interval<=0.
const DefaultInterval = 2 * time.Second
