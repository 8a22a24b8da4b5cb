// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Suuzoujuuzou/Claudeman-sub002/internal/watcher"
)

const fixPlanDebounce = 500 * time.Millisecond

// FixPlanFileName is the optional per-working-directory authoritative
// todo source (spec §6.4).
const FixPlanFileName = "@fix_plan.md"

var fixPlanSections = []struct {
	header   string
	priority Priority
}{
	{"## High Priority (P0)", P0},
	{"## Standard (P1)", P1},
	{"## Nice to Have (P2)", P2},
	{"## Tasks", PriorityNone},
	{"## Completed", PriorityNone},
}

// ImportFixPlan parses the markdown format described in spec §6.4 into
// a flat slice of Todos. Unrecognized sections and blank lines are
// skipped; a line under "## Completed" is forced to TodoCompleted
// regardless of its checkbox glyph.
func ImportFixPlan(content string) []*Todo {
	var todos []*Todo
	var currentPriority Priority
	inCompletedSection := false

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			currentPriority = PriorityNone
			inCompletedSection = strings.EqualFold(trimmed, "## Completed")
			for _, sec := range fixPlanSections {
				if strings.EqualFold(trimmed, sec.header) {
					currentPriority = sec.priority
					break
				}
			}
			continue
		}

		status, content, ok := parseFixPlanItem(trimmed)
		if !ok {
			continue
		}
		if inCompletedSection {
			status = TodoCompleted
		}
		clean := cleanTodoContent(content)
		if clean == "" {
			continue
		}
		todos = append(todos, &Todo{
			ID:       todoID(clean),
			Content:  clean,
			Status:   status,
			Priority: currentPriority,
		})
	}
	return todos
}

func parseFixPlanItem(line string) (status TodoStatus, content string, ok bool) {
	switch {
	case strings.HasPrefix(line, "- [ ]"):
		return TodoPending, strings.TrimSpace(line[len("- [ ]"):]), true
	case strings.HasPrefix(line, "- [-]"):
		return TodoInProgress, strings.TrimSpace(line[len("- [-]"):]), true
	case strings.HasPrefix(line, "- [x]"), strings.HasPrefix(line, "- [X]"):
		return TodoCompleted, strings.TrimSpace(line[len("- [x]"):]), true
	default:
		return "", "", false
	}
}

// ExportFixPlan renders todos back into the §6.4 markdown format, the
// inverse of ImportFixPlan: P9 requires import(export(todos)) to
// equal todos as multisets of (content, status, priority). Completed
// todos that carry a priority stay in their priority section as "- [x]";
// only unprioritized completed todos go to "## Completed".
func ExportFixPlan(todos []*Todo) string {
	byPriority := map[Priority][]*Todo{}
	var tasks, completed []*Todo

	for _, td := range todos {
		if td.Status == TodoCompleted && td.Priority == PriorityNone {
			completed = append(completed, td)
			continue
		}
		if td.Priority == PriorityNone {
			tasks = append(tasks, td)
			continue
		}
		byPriority[td.Priority] = append(byPriority[td.Priority], td)
	}

	var b strings.Builder
	writeSection := func(header string, items []*Todo) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s\n\n", header)
		for _, td := range items {
			fmt.Fprintf(&b, "%s %s\n", checkboxFor(td.Status), td.Content)
		}
		b.WriteString("\n")
	}

	writeSection("## High Priority (P0)", byPriority[P0])
	writeSection("## Standard (P1)", byPriority[P1])
	writeSection("## Nice to Have (P2)", byPriority[P2])
	writeSection("## Tasks", tasks)
	writeSection("## Completed", completed)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func checkboxFor(status TodoStatus) string {
	switch status {
	case TodoCompleted:
		return "- [x]"
	case TodoInProgress:
		return "- [-]"
	default:
		return "- [ ]"
	}
}

// LoadFixPlan reads and imports workingDir/@fix_plan.md, replacing the
// tracker's current todo set wholesale and marking it authoritative.
// Absence of the file is not an error; any other read failure is
// logged by the caller per spec §7's "Parse" taxonomy (warn, preserve
// prior state).
func (t *Tracker) LoadFixPlan(workingDir string) error {
	path := filepath.Join(workingDir, FixPlanFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	t.applyFixPlan(ImportFixPlan(string(data)))
	return nil
}

func (t *Tracker) applyFixPlan(imported []*Todo) {
	t.mu.Lock()
	st := t.state
	st.Todos = make(map[string]*Todo, len(imported))
	for _, td := range imported {
		st.Todos[td.ID] = td
	}
	st.FixPlanAuthoritative = true
	t.mu.Unlock()
	t.emitTodoUpdateLocked()
}

func (t *Tracker) emitTodoUpdateLocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitTodoUpdate()
}

// WatchFixPlan installs an fsnotify watch on workingDir/@fix_plan.md
// (spec §6.4: 500 ms debounce, re-import on every change), reusing the
// teacher's Debouncer. The returned stop func removes the watch; it is
// always safe to call, including when the file never existed.
func (t *Tracker) WatchFixPlan(workingDir string) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return func() {}, err
	}
	if err := w.Add(workingDir); err != nil {
		w.Close()
		return func() {}, err
	}

	debouncer := watcher.NewDebouncer(fixPlanDebounce)
	path := filepath.Join(workingDir, FixPlanFileName)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				debouncer.Debounce("fix_plan", func() {
					_ = t.LoadFixPlan(workingDir)
				})
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		debouncer.Stop()
		w.Close()
	}, nil
}
