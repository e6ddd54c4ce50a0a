// Package helpers wraps the external tools rules depend on: a command runner,
// the host package manager and the service manager. Each is an interface so
// rules can be exercised against fakes.
package helpers

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/logging"
)

// Output is the result of one command.
type Output struct {
	Command    []string
	Stdout     string
	Stderr     string
	ReturnCode int
	Err        error // set when the command could not be started
}

// OK is true when the command ran and exited zero.
func (o Output) OK() bool { return o.Err == nil && o.ReturnCode == 0 }

// AsError turns a failed Output into a faults.CommandFailure.
func (o Output) AsError(op string) error {
	if o.OK() {
		return nil
	}
	cause := o.Err
	if cause == nil {
		msg := strings.TrimSpace(o.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(o.Stdout)
		}
		cause = errors.New(msg)
	}
	return faults.New(faults.CommandFailure, op, strings.Join(o.Command, " "), cause)
}

// Runner executes commands synchronously.
type Runner interface {
	Run(name string, args ...string) Output
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	log *zap.Logger
}

func NewExecRunner(log *zap.Logger) *ExecRunner {
	return &ExecRunner{log: logging.OrNop(log)}
}

func (r *ExecRunner) Run(name string, args ...string) Output {
	out := Output{Command: append([]string{name}, args...)}
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ReturnCode = exitErr.ExitCode()
	default:
		out.Err = err
		out.ReturnCode = -1
	}
	r.log.Debug("command",
		zap.Strings("argv", out.Command),
		zap.Int("rc", out.ReturnCode),
		zap.Error(out.Err))
	return out
}

// RunString splits cmdline on whitespace and runs it. Quoting is not
// interpreted; use "sh -c" explicitly when a shell is needed.
func RunString(r Runner, cmdline string) Output {
	f := strings.Fields(cmdline)
	if len(f) == 0 {
		return Output{Err: errors.New("empty command"), ReturnCode: -1}
	}
	return r.Run(f[0], f[1:]...)
}
