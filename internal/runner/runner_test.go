package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecRunnerCapturesOutput(t *testing.T) {
	res, err := ExecRunner{}.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", "echo out; echo err >&2; echo $PROBE"},
		Env:  []string{"PROBE=value"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "out\nvalue\n" || res.Stderr != "err\n" {
		t.Fatalf("unexpected output: %q / %q", res.Stdout, res.Stderr)
	}
}

func TestExecRunnerExitErrorKeepsOutputVerbatim(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", "echo 'error[E0432]: unresolved import'; echo 'note: see log' >&2; exit 101"},
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Result.ExitCode != 101 {
		t.Fatalf("unexpected exit code %d", exitErr.Result.ExitCode)
	}
	msg := err.Error()
	for _, want := range []string{"error[E0432]: unresolved import", "note: see log", "code 101"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("missing %q in %q", want, msg)
		}
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), Command{Path: "/nonexistent/xlsynth-driver"})
	var exitErr *ExitError
	if err == nil || errors.As(err, &exitErr) {
		t.Fatalf("expected start failure, got %v", err)
	}
}
