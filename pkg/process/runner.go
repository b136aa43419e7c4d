// Package process runs local executables and captures their output.
//
// The Runner interface is the seam between code that shells out to a binary
// and the operating system, so that callers can be tested against scripted
// results instead of real processes.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes a program and returns its captured output.
//
// A non-zero exit is reported through Result.ExitCode with a nil error. The
// error is reserved for failures to start or wait for the process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// Result holds the outcome of a finished process.
type Result struct {
	// ExitCode is the exit status of the process.
	ExitCode int

	// Stdout is the standard output of the process.
	Stdout string

	// Stderr is the standard error of the process.
	Stderr string
}

// Success reports whether the process exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Message returns trimmed stderr, falling back to stdout.
func (r *Result) Message() string {
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(r.Stdout)
	}
	return msg
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	logger *slog.Logger
	env    []string
}

// Option is a functional option for configuring the ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *ExecRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *ExecRunner) {
		r.env = append(r.env, env...)
	}
}

// NewExecRunner creates a Runner backed by real processes.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	r.logger.Debug("executing command",
		slog.String("command", name),
		slog.Int("args", len(args)),
	)

	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running %s: %w", name, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug("command completed",
		slog.String("command", name),
		slog.Int("exit_code", result.ExitCode),
		slog.Int("stdout_len", len(result.Stdout)),
		slog.Int("stderr_len", len(result.Stderr)),
	)

	return result, nil
}
