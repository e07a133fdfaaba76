package bisect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Verdict is an oracle's answer for one commit.
type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
	// VerdictError marks a step where the oracle could not answer.
	VerdictError Verdict = "error"
)

// Oracle decides whether a commit exhibits the regression. It must be safe
// for concurrent use when endpoint verification or confirmation is on.
type Oracle interface {
	Test(ctx context.Context, commit string) (Verdict, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, commit string) (Verdict, error)

// Test calls f.
func (f OracleFunc) Test(ctx context.Context, commit string) (Verdict, error) { return f(ctx, commit) }

// OracleError reports that a commit could not be tested.
type OracleError struct {
	Commit string
	// Skip is set when the oracle itself declared the commit untestable.
	Skip bool
	Err  error
}

func (e *OracleError) Error() string {
	if e.Skip {
		return fmt.Sprintf("commit %s: oracle skipped: %v", e.Commit, e.Err)
	}
	return fmt.Sprintf("commit %s: oracle failed: %v", e.Commit, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// Workspace provides a checked-out tree for a commit. release removes it.
type Workspace interface {
	Checkout(ctx context.Context, commit string) (dir string, release func(), err error)
}

// Exit codes understood by ExecOracle, following git bisect run.
const (
	exitSkip   = 125
	maxBadExit = 127
)

// ExecOracle runs a shell command inside a checkout of each commit.
// Exit 0 is good, 125 is an oracle error (skip), 1 to 127 is bad, and
// anything else, including signals, is an oracle error.
type ExecOracle struct {
	Command   string
	Workspace Workspace
	// Env is appended to the process environment.
	Env []string
}

// Test checks out commit, runs the command and maps its exit status.
func (o *ExecOracle) Test(ctx context.Context, commit string) (Verdict, error) {
	dir, release, err := o.Workspace.Checkout(ctx, commit)
	if err != nil {
		return VerdictError, &OracleError{Commit: commit, Err: fmt.Errorf("checkout: %w", err)}
	}
	defer release()

	cmd := exec.CommandContext(ctx, "sh", "-c", o.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), o.Env...)
	cmd.Env = append(cmd.Env, "COMMITGATE_COMMIT="+commit)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err == nil {
		return VerdictGood, nil
	}
	if ctx.Err() != nil {
		return VerdictError, &OracleError{Commit: commit, Err: ctx.Err()}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return VerdictError, &OracleError{Commit: commit, Err: err}
	}
	code := exitErr.ExitCode()
	switch {
	case code == exitSkip:
		return VerdictError, &OracleError{Commit: commit, Skip: true, Err: fmt.Errorf("exit %d: %s", code, tail(stderr.String()))}
	case code >= 1 && code <= maxBadExit:
		return VerdictBad, nil
	default:
		return VerdictError, &OracleError{Commit: commit, Err: fmt.Errorf("exit %d: %s", code, tail(stderr.String()))}
	}
}

// tail keeps the last line of command output for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[len(s)-200:]
	}
	return s
}
