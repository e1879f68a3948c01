// Package procexec launches external tools described by immutable command
// descriptors and captures their exit status and output.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/forPelevin/lipseg/internal/logger"
	"github.com/forPelevin/lipseg/internal/metrics"
)

const (
	defaultKillGrace = 5 * time.Second
	stderrTailBytes  = 4096
)

// Command describes one external invocation. Output is the path the command
// is expected to produce, if any.
type Command struct {
	Name   string
	Args   []string
	Output string
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n'\"") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// StderrTail returns at most the last 4 KiB of stderr.
func (r Result) StderrTail() string {
	s := strings.TrimSpace(r.Stderr)
	if len(s) <= stderrTailBytes {
		return s
	}
	return "..." + s[len(s)-stderrTailBytes:]
}

// ExitError is returned for a command that failed to start, exited non-zero
// or was terminated by cancellation.
type ExitError struct {
	Command Command
	Result  Result
	Err     error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v (exit=%d)", filepath.Base(e.Command.Name), e.Err, e.Result.ExitCode)
	if tail := e.Result.StderrTail(); tail != "" {
		msg += "\n" + tail
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes command descriptors.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// ExecRunner runs commands via os/exec. Each command leads its own process
// group. On context cancellation the whole group gets SIGTERM, and whatever
// is left of it is killed after KillGrace.
type ExecRunner struct {
	KillGrace time.Duration
	Log       *slog.Logger
}

func NewExecRunner(killGrace time.Duration, log *slog.Logger) *ExecRunner {
	if killGrace <= 0 {
		killGrace = defaultKillGrace
	}
	return &ExecRunner{KillGrace: killGrace, Log: logger.OrDiscard(log)}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Name == "" {
		return Result{ExitCode: -1}, &ExitError{Command: c, Result: Result{ExitCode: -1}, Err: errors.New("empty command")}
	}
	log := logger.FromContext(ctx, r.Log)
	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return signalGroup(cmd.Process.Pid, syscall.SIGTERM) }
	cmd.WaitDelay = grace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if ctx.Err() != nil && cmd.Process != nil {
		// Run returns once the leader is gone and its pipes are closed, or
		// after WaitDelay. Descendants still alive by then are killed.
		_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	name := filepath.Base(c.Name)
	if err == nil {
		metrics.RecordCommand(name, "success", res.Duration.Seconds())
		log.Debug("command finished",
			slog.String("command", c.String()),
			slog.Int("exit_code", 0),
			slog.Duration("duration", res.Duration),
		)
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	status := "failed"
	if ctxErr := ctx.Err(); ctxErr != nil {
		status = "cancelled"
		if !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
	}
	metrics.RecordCommand(name, status, res.Duration.Seconds())
	log.Debug("command failed",
		slog.String("command", c.String()),
		slog.Int("exit_code", res.ExitCode),
		slog.String("status", status),
		slog.Duration("duration", res.Duration),
	)
	return res, &ExitError{Command: c, Result: res, Err: err}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
