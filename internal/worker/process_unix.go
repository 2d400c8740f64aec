//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// setProcAttr puts the worker in its own process group so a single
// signal can fan out to every child it spawns (spec.md §4.C).
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends sig to the entire process group. The group
// ID equals the leader's PID; a negative PID targets the group.
func signalProcessGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}

func terminateProcessGroup(pid int) error {
	return signalProcessGroup(pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return signalProcessGroup(pid, syscall.SIGKILL)
}
