// Package shell runs external commands with bounded runtime and
// bounded output capture. All SLURM and git access goes through it.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a command when the caller's context carries no
// deadline of its own.
const DefaultTimeout = 30 * time.Second

// maxCaptured caps how much stdout/stderr is kept per command.
const maxCaptured = 1 << 20

// CommandError carries the exit status and captured stderr of a failed
// command.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Cmd, e.Stderr)
	}

	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes external commands. The zero value is not usable,
// construct with NewRunner.
type Runner struct {
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration

	log  *zap.SugaredLogger
	runs metric.BoundInt64Counter
}

func NewRunner(log *zap.SugaredLogger) *Runner {
	meter := global.Meter("qdashboard")

	return &Runner{
		log: log,
		runs: metric.Must(meter).NewInt64Counter(
			"subprocess/completed_count",
			metric.WithDescription("Count of completed subprocess invocations"),
		).Bind(attribute.String("component", "shell")),
	}
}

// Run executes name with args and returns trimmed stdout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return r.RunDir(ctx, "", name, args...)
}

// RunDir executes the command with dir as its working directory.
func (r *Runner) RunDir(ctx context.Context, dir, name string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout}
	cmd.Stderr = &limitedWriter{buf: &stderr}

	err := cmd.Run()
	r.runs.Add(ctx, 1)

	out := strings.TrimSpace(stdout.String())
	if err == nil {
		return out, nil
	}

	cerr := &CommandError{
		Cmd:      name,
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cerr.Err = ctxErr
	}

	if r.log != nil {
		r.log.Debugw("command failed",
			"cmd", name,
			"args", args,
			"exit", cerr.ExitCode,
			"stderr", cerr.Stderr,
		)
	}

	return out, cerr
}

// limitedWriter keeps the head of the stream and swallows the rest.
type limitedWriter struct {
	buf *bytes.Buffer
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remain := maxCaptured - lw.buf.Len()
	if remain <= 0 {
		return len(p), nil
	}
	if len(p) > remain {
		lw.buf.Write(p[:remain])

		return len(p), nil
	}

	return lw.buf.Write(p)
}
