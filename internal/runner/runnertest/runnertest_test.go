package runnertest

import (
	"context"
	"errors"
	"testing"

	"github.com/k8ika0s/xlsbundle/internal/runner"
)

var _ runner.Runner = (*Runner)(nil)

func TestRunnerRecordsAndResponds(t *testing.T) {
	r := &Runner{Respond: func(cmd runner.Command) (runner.Result, error) {
		if cmd.Args[0] == "--version" {
			return runner.Result{Stdout: "xlsynth-driver 0.33.0\n"}, nil
		}
		return Fail(cmd, 2, "", "boom")
	}}
	res, err := r.Run(context.Background(), runner.Command{Path: "xlsynth-driver", Args: []string{"--version"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "xlsynth-driver 0.33.0\n" {
		t.Fatalf("unexpected stdout: %s", res.Stdout)
	}
	_, err = r.Run(context.Background(), runner.Command{Path: "xlsynth-driver", Args: []string{"bogus"}})
	var exitErr *runner.ExitError
	if !errors.As(err, &exitErr) || exitErr.Result.ExitCode != 2 || exitErr.Result.Stderr != "boom" {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if len(r.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(r.Calls))
	}
}

func TestRunnerDefaultsToSuccess(t *testing.T) {
	r := &Runner{}
	if _, err := r.Run(context.Background(), runner.Command{Path: "true"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
