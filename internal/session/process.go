package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a handle to the launched target process.
type Process interface {
	PID() int
	// Stderr is the process's standard error stream. The target announces
	// its inspector endpoint there during startup.
	Stderr() io.Reader
	// Wait blocks until the process exits. It must be called exactly once.
	Wait() error
	Signal(sig os.Signal) error
}

// Starter launches the target binary with an explicit environment.
type Starter func(ctx context.Context, path string, args []string, env []string) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stderr io.Reader
}

func (p *execProcess) PID() int          { return p.cmd.Process.Pid }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Wait() error       { return p.cmd.Wait() }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

// execStarter is the default Starter backed by os/exec.
func execStarter(ctx context.Context, path string, args []string, env []string) (Process, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start target %q: %w", path, err)
	}
	return &execProcess{cmd: cmd, stderr: stderr}, nil
}
