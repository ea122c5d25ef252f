package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	// Env replaces the process environment when non-nil.
	Env []string
	Dir string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	return r.Stdout + r.Stderr
}

// ExitError reports a command that ran but exited non-zero. Output is kept
// verbatim.
type ExitError struct {
	Command string
	Result  Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d\nstdout:\n%s\nstderr:\n%s",
		e.Command, e.Result.ExitCode, e.Result.Stdout, e.Result.Stderr)
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes cmd. A non-zero exit yields *ExitError alongside the Result;
// failure to start returns the exec error.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	start := time.Now()
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	execCmd := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	execCmd.Env = cmd.Env
	execCmd.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr
	err := execCmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: cmd.String(), Result: res}
		}
		return res, fmt.Errorf("run %s: %w", cmd.Path, err)
	}
	return res, nil
}
