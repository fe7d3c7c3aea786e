// Package runner isolates external command execution behind a narrow interface
// so callers can parse command output without invoking real OS commands.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result holds the outcome of one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes an external command and captures its output.
// A non-zero exit status is reported through Result, not as an error; the
// error is reserved for commands that could not be started or waited on.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands with os/exec.
type Exec struct {
	log zerolog.Logger
}

// NewExec returns a Runner backed by os/exec.
func NewExec(log zerolog.Logger) *Exec {
	return &Exec{log: log}
}

// waitDelay bounds how long Run waits for output pipes after the process has
// exited. `ssh -f` leaves its backgrounded master holding our pipes.
const waitDelay = 2 * time.Second

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	e.log.Debug().Str("cmd", name).Strs("args", redact(args)).Msg("Running command")

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		return res, nil
	case errors.Is(err, exec.ErrWaitDelay) && res.ExitCode == 0:
		return res, nil
	default:
		return res, fmt.Errorf("running %s: %w", name, err)
	}
}

// redact hides the credential argument of networksetup so it never reaches logs.
func redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i, a := range out {
		if a == "-setairportnetwork" && i+3 < len(out) {
			out[i+3] = strings.Repeat("*", 6)
		}
	}
	return out
}
