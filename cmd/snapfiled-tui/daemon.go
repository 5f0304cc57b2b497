package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
)

var errDaemonNotFound = errors.New("snapfiled not found in PATH")

// daemon is the snapfiled process the dashboard started, if any. A daemon
// started elsewhere is only observed through the admin API.
type daemon struct {
	repoRoot   string
	configPath string
	logPath    string
	proc       *exec.Cmd
}

type daemonStartedMsg struct {
	proc *exec.Cmd
	err  error
}

func (d daemon) running() bool {
	if d.proc == nil || d.proc.Process == nil {
		return false
	}
	return d.proc.Process.Signal(syscall.Signal(0)) == nil
}

func (d daemon) state() string {
	if !d.running() {
		return "not managed"
	}
	return fmt.Sprintf("up pid=%d", d.proc.Process.Pid)
}

// command prefers an installed binary and falls back to building from
// source when the dashboard runs inside the repository.
func (d daemon) command() (*exec.Cmd, error) {
	if bin, err := exec.LookPath("snapfiled"); err == nil {
		return exec.Command(bin, "--config", d.configPath), nil
	}
	if d.repoRoot == "" {
		return nil, errDaemonNotFound
	}
	cmd := exec.Command("go", "run", "./cmd/snapfiled", "--config", d.configPath)
	cmd.Dir = d.repoRoot
	return cmd, nil
}

func (d daemon) start() tea.Cmd {
	return func() tea.Msg {
		cmd, err := d.command()
		if err != nil {
			return daemonStartedMsg{err: err}
		}
		out, err := os.OpenFile(d.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return daemonStartedMsg{err: err}
		}
		cmd.Stdout, cmd.Stderr = out, out
		if err := cmd.Start(); err != nil {
			_ = out.Close()
			return daemonStartedMsg{err: err}
		}
		go func() {
			_ = cmd.Wait()
			_ = out.Close()
		}()
		return daemonStartedMsg{proc: cmd}
	}
}

func (d daemon) stop() tea.Cmd {
	proc, running := d.proc, d.running()
	return func() tea.Msg {
		if !running {
			return notice("stop snapfiled", "", errors.New("not running"))
		}
		return notice("stop snapfiled", "snapfiled stopping", proc.Process.Signal(syscall.SIGTERM))
	}
}
