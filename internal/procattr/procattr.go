//go:build unix

// Package procattr provides process-group signalling for agent subprocesses.
//
// The supervisor spawns the agent CLI under a pseudo-terminal, which makes
// the child a session (and therefore process-group) leader. Signalling the
// group rather than the direct child catches anything the agent forked.
package procattr

import (
	"os"
	"syscall"
)

// SignalGroup sends a signal to the entire process group of the given
// process. Using the negative PID causes the kernel to deliver the signal to
// all processes in the group, not just the direct child.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// KillGroup sends SIGKILL to the entire process group of the given process.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}
