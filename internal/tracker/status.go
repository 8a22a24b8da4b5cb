// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"strconv"
	"strings"
)

const (
	statusBlockStart = "---RALPH_STATUS---"
	statusBlockEnd   = "---END_RALPH_STATUS---"
)

// statusBlockParser buffers lines between the fenced markers and
// parses them field by field on close (spec §4.E.7, §6.3).
type statusBlockParser struct {
	inBlock bool
	lines   []string
}

func newStatusBlockParser() *statusBlockParser {
	return &statusBlockParser{}
}

// feed processes one line. It returns a parsed StatusBlock (and true)
// when line closes a block; otherwise ok is false.
func (p *statusBlockParser) feed(line string) (StatusBlock, bool) {
	trimmed := strings.TrimSpace(line)

	if !p.inBlock {
		if trimmed == statusBlockStart {
			p.inBlock = true
			p.lines = p.lines[:0]
		}
		return StatusBlock{}, false
	}

	if trimmed == statusBlockEnd {
		p.inBlock = false
		block, ok := parseStatusFields(p.lines)
		p.lines = nil
		return block, ok
	}

	p.lines = append(p.lines, trimmed)
	return StatusBlock{}, false
}

// parseStatusFields parses the buffered field lines of one status
// block (spec §6.3: case-insensitive enum values, tolerant to leading
// whitespace, `#`/`//` comment lines ignored). Missing STATUS
// discards the block (ok=false); other missing fields receive
// defaults.
func parseStatusFields(lines []string) (StatusBlock, bool) {
	block := StatusBlock{
		TestsStatus: TestsNotRun,
		WorkType:    WorkImplementation,
	}
	sawStatus := false

	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		key, val, ok := splitField(line)
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "STATUS":
			if s, ok := parseBlockStatus(val); ok {
				block.Status = s
				sawStatus = true
			} else {
				block.FieldWarnings = append(block.FieldWarnings, "invalid STATUS: "+val)
			}
		case "TASKS_COMPLETED_THIS_LOOP":
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				block.TasksCompletedThisLoop = n
			} else {
				block.FieldWarnings = append(block.FieldWarnings, "invalid TASKS_COMPLETED_THIS_LOOP: "+val)
			}
		case "FILES_MODIFIED":
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				block.FilesModified = n
			} else {
				block.FieldWarnings = append(block.FieldWarnings, "invalid FILES_MODIFIED: "+val)
			}
		case "TESTS_STATUS":
			if s, ok := parseTestsStatus(val); ok {
				block.TestsStatus = s
			} else {
				block.FieldWarnings = append(block.FieldWarnings, "invalid TESTS_STATUS: "+val)
			}
		case "WORK_TYPE":
			if s, ok := parseWorkType(val); ok {
				block.WorkType = s
			} else {
				block.FieldWarnings = append(block.FieldWarnings, "invalid WORK_TYPE: "+val)
			}
		case "EXIT_SIGNAL":
			v := strings.ToLower(strings.TrimSpace(val))
			block.ExitSignal = v == "true"
			if v != "true" && v != "false" {
				block.FieldWarnings = append(block.FieldWarnings, "invalid EXIT_SIGNAL: "+val)
			}
		case "RECOMMENDATION":
			block.Recommendation = strings.TrimSpace(val)
		default:
			block.UnknownFields = append(block.UnknownFields, key)
		}
	}

	if !sawStatus {
		return StatusBlock{}, false
	}
	return block, true
}

func splitField(line string) (key, val string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func parseBlockStatus(v string) (BlockStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(StatusInProgress):
		return StatusInProgress, true
	case string(StatusComplete):
		return StatusComplete, true
	case string(StatusBlocked):
		return StatusBlocked, true
	default:
		return "", false
	}
}

func parseTestsStatus(v string) (TestsStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(TestsPassing):
		return TestsPassing, true
	case string(TestsFailing):
		return TestsFailing, true
	case string(TestsNotRun):
		return TestsNotRun, true
	default:
		return "", false
	}
}

func parseWorkType(v string) (WorkType, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case string(WorkImplementation):
		return WorkImplementation, true
	case string(WorkTesting):
		return WorkTesting, true
	case string(WorkDocumentation):
		return WorkDocumentation, true
	case string(WorkRefactoring):
		return WorkRefactoring, true
	default:
		return "", false
	}
}
