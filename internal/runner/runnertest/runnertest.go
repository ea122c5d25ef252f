// Package runnertest provides an in-memory runner.Runner for tests.
package runnertest

import (
	"context"

	"github.com/k8ika0s/xlsbundle/internal/runner"
)

// Runner records every command. Respond, when set, decides each result;
// otherwise every command succeeds with empty output.
type Runner struct {
	Calls   []runner.Command
	Respond func(cmd runner.Command) (runner.Result, error)
}

func (f *Runner) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	f.Calls = append(f.Calls, cmd)
	if f.Respond == nil {
		return runner.Result{}, nil
	}
	return f.Respond(cmd)
}

// Fail builds the response of a command exiting with code.
func Fail(cmd runner.Command, code int, stdout, stderr string) (runner.Result, error) {
	res := runner.Result{Stdout: stdout, Stderr: stderr, ExitCode: code}
	return res, &runner.ExitError{Command: cmd.String(), Result: res}
}
