//go:build windows

package worker

import "os/exec"

// setProcAttr is a no-op on Windows.
//
// Windows uses job objects rather than POSIX process groups. A full
// implementation would create a job object with
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE and assign the child to it.
//
// TODO: implement Windows job objects; until then, descendants spawned
// by the worker (MCP servers, headless browsers, etc.) can be orphaned
// on cancellation.
func setProcAttr(cmd *exec.Cmd) {
}

func terminateProcessGroup(pid int) error {
	return nil
}

func killProcessGroup(pid int) error {
	return nil
}
