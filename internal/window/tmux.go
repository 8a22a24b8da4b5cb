// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package window

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// TmuxExecutor is the real Executor backed by the tmux CLI.
type TmuxExecutor struct{}

// NewTmuxExecutor constructs a TmuxExecutor.
func NewTmuxExecutor() *TmuxExecutor {
	return &TmuxExecutor{}
}

func (e *TmuxExecutor) EnsureHost(ctx context.Context, hostSession string) error {
	has := exec.CommandContext(ctx, "tmux", "has-session", "-t", hostSession)
	if has.Run() == nil {
		return nil
	}
	args := []string{"new-session", "-d", "-s", hostSession}
	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = filterTMUXEnv(os.Environ())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "command not found") || isExecNotFound(err) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("tmux new-session failed: %s: %w", stderr.String(), err)
	}
	return nil
}

func isExecNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

func (e *TmuxExecutor) Create(ctx context.Context, hostSession, name, workingDir string, argv []string, env []string) (int, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	args := []string{"new-window", "-t", hostSession, "-n", name, "-P", "-F", "#{pane_pid}"}
	if workingDir != "" {
		args = append(args, "-c", workingDir)
	}
	if len(argv) > 0 {
		args = append(args, argv...)
	}

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = append(filterTMUXEnv(os.Environ()), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isExecNotFound(err) {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return 0, fmt.Errorf("%w: tmux new-window: %s: %v", ErrCreate, stderr.String(), err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(stdout.String()))
	if err != nil {
		return 0, fmt.Errorf("%w: parse pane pid: %v", ErrCreate, err)
	}
	return pid, nil
}

func (e *TmuxExecutor) List(ctx context.Context, hostSession string) ([]Info, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-windows", "-t", hostSession, "-F",
		"#{window_name} #{pane_pid}")
	output, err := cmd.Output()
	if err != nil {
		if strings.Contains(err.Error(), "no server running") || isExecNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseWindowInfoList(string(output)), nil
}

func parseWindowInfoList(output string) []Info {
	var infos []Info
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			continue
		}
		name := strings.Join(fields[:len(fields)-1], " ")
		infos = append(infos, Info{PID: pid, Name: name})
	}
	return infos
}

func (e *TmuxExecutor) target(hostSession, name string) string {
	return hostSession + ":" + name
}

func (e *TmuxExecutor) SendKeys(ctx context.Context, hostSession, name, payload string, literal bool) error {
	target := e.target(hostSession, name)
	if literal {
		args := []string{"send-keys", "-t", target, "-l", payload}
		return exec.CommandContext(ctx, "tmux", args...).Run()
	}
	args := []string{"send-keys", "-t", target, payload}
	return exec.CommandContext(ctx, "tmux", args...).Run()
}

func (e *TmuxExecutor) Snapshot(ctx context.Context, hostSession, name string) ([]byte, error) {
	target := e.target(hostSession, name)
	cmd := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", target, "-p", "-e")
	return cmd.Output()
}

func (e *TmuxExecutor) StartPipe(ctx context.Context, hostSession, name, pipePath string) error {
	target := e.target(hostSession, name)
	pipeCmd := fmt.Sprintf("cat >> %s", pipePath)
	return exec.CommandContext(ctx, "tmux", "pipe-pane", "-t", target, "-o", pipeCmd).Run()
}

func (e *TmuxExecutor) StopPipe(ctx context.Context, hostSession, name string) error {
	target := e.target(hostSession, name)
	return exec.CommandContext(ctx, "tmux", "pipe-pane", "-t", target, "").Run()
}

func (e *TmuxExecutor) KillQuit(ctx context.Context, hostSession, name string) error {
	target := e.target(hostSession, name)
	_ = exec.CommandContext(ctx, "tmux", "send-keys", "-t", target, "C-c").Run()
	time.Sleep(50 * time.Millisecond)
	return exec.CommandContext(ctx, "tmux", "send-keys", "-t", target, "quit", "Enter").Run()
}

func (e *TmuxExecutor) KillWindow(ctx context.Context, hostSession, name string) error {
	target := e.target(hostSession, name)
	return exec.CommandContext(ctx, "tmux", "kill-window", "-t", target).Run()
}

func (e *TmuxExecutor) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Descendants enumerates pid's full descendant set in leaf-first order
// using one pass over the OS process table.
func (e *TmuxExecutor) Descendants(pid int) ([]int, error) {
	procs, err := ps.Processes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	children := make(map[int][]int)
	for _, p := range procs {
		children[p.PPid()] = append(children[p.PPid()], p.Pid())
	}
	var order []int
	var walk func(p int)
	walk = func(p int) {
		for _, c := range children[p] {
			walk(c)
			order = append(order, c)
		}
	}
	walk(pid)
	return order, nil
}

func (e *TmuxExecutor) Signal(pid int, terminate bool) error {
	sig := syscall.SIGKILL
	if terminate {
		sig = syscall.SIGTERM
	}
	return syscall.Kill(pid, sig)
}

func filterTMUXEnv(env []string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "TMUX=") {
			result = append(result, e)
		}
	}
	return result
}
