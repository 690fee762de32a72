package opencode

import (
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/xztxy/taskdriver/internal/procattr"
)

// agentProcess is one live agent subprocess. The supervisor owns exactly one
// at a time.
type agentProcess interface {
	// Write writes raw bytes to the subprocess's terminal input.
	Write(text string) error
	// Interrupt writes the interrupt control byte (ETX, 0x03). Cooperative;
	// the subprocess may ignore it.
	Interrupt() error
	// Kill forcefully stops the subprocess and its process group.
	Kill()
}

// processSpec is the fully-built command for one subprocess run.
type processSpec struct {
	Command string
	Dir     string
	Args    []string
	Env     []string
}

// spawnFunc starts an agent subprocess. Injectable for tests.
type spawnFunc func(spec processSpec, onOutput func(string), onExit func(int)) (agentProcess, error)

const interruptByte = 0x03

// ptyProcess runs the agent CLI attached to a pseudo-terminal. The wrapped
// CLI changes output mode based on TTY detection, so a plain pipe would get
// a different (interactive-less) stream.
type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	mu     sync.Mutex
	killed bool
}

// startProcess spawns the subprocess under a PTY and wires its combined
// output and exit to the given callbacks. onExit is invoked only after the
// output reader has drained, so no output arrives after the exit callback.
func startProcess(spec processSpec, onOutput func(string), onExit func(int)) (agentProcess, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &CLINotFoundError{Path: spec.Command, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start agent CLI", Cause: err}
	}

	// A fixed size keeps the CLI's line wrapping stable across hosts.
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: 40, Cols: 120})

	p := &ptyProcess{cmd: cmd, ptmx: ptmx}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				onOutput(string(buf[:n]))
			}
			if err != nil {
				// EOF or EIO once the child side closes.
				return
			}
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		<-readDone
		ptmx.Close()
		onExit(exitCode(waitErr))
	}()

	return p, nil
}

// Write writes raw bytes to the subprocess's terminal input.
func (p *ptyProcess) Write(text string) error {
	_, err := p.ptmx.Write([]byte(text))
	return err
}

// Interrupt writes the interrupt control byte to the terminal.
func (p *ptyProcess) Interrupt() error {
	_, err := p.ptmx.Write([]byte{interruptByte})
	return err
}

// Kill forcefully stops the subprocess and its process group.
func (p *ptyProcess) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return
	}
	p.killed = true
	_ = procattr.KillGroup(p.cmd.Process)
}

// exitCode normalizes a Wait error into an exit code. A process killed by a
// signal (or any non-exit failure) reports -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
