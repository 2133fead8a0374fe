package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Result captures everything observable about a finished (or abandoned)
// external process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Ok reports whether the process exited cleanly within its deadline. Callers
// that deal with flaky tools should treat this as advisory and verify the
// tool's effects independently.
func (r *Result) Ok() bool {
	return r != nil && !r.TimedOut && r.ExitCode == 0
}

// Output joins stderr and stdout for diagnostics.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return r.Stderr + r.Stdout
}

// Runner starts external processes from shell command strings. It is the only
// side-effecting capability the sync engine consumes, which keeps the engine
// testable with a fake.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*Result, error)
}

// ShellRunner executes commands via `sh -c`.
type ShellRunner struct {
	// Shell overrides the shell binary. Defaults to "sh".
	Shell string
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run starts the command and waits for it to exit, up to timeout. A timed-out
// process is not killed; we stop waiting and report it as failed, so a stray
// process may keep running in the background.
func (s *ShellRunner) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(shell, "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		res := &Result{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else if err != nil {
			return nil, fmt.Errorf("wait %q: %w", command, err)
		}
		return res, nil
	case <-time.After(timeout):
		slog.Warn("command timed out, abandoning process", "command", command, "pid", cmd.Process.Pid, "timeout", timeout)
		// The process may still be writing to its buffers, so don't touch them.
		return &Result{
			ExitCode: -1,
			TimedOut: true,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
