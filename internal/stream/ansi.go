// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package stream implements the Stream Dispatcher (spec §4.D): fan-out
// of a Session's byte stream to N subscribers with bounded,
// drop-oldest-on-overflow per-subscriber queues, plus a shared
// ANSI-stripping helper used by downstream parsers (the RalphTracker).
package stream

import "github.com/charmbracelet/x/ansi"

// StripANSI removes CSI/OSC/DCS escape sequences from p, returning
// plain text suitable for the tracker's line pipeline (spec §4.D: "a
// shared pure function that strips CSI/OSC/DCS sequences for
// downstream parsers").
func StripANSI(p []byte) []byte {
	return []byte(ansi.Strip(string(p)))
}
