package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps the amount of stdout/stderr kept from an invocation.
	maxOutputBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Invocation describes one external command run.
type Invocation struct {
	// Name identifies the invocation in logs and errors ("build", "deploy").
	Name string
	Argv []string
	Dir  string
	// Env holds KEY=VALUE pairs added on top of the process environment.
	Env     []string
	Timeout time.Duration
}

// ExecutionError reports an invocation that could not be started, exited
// non-zero, or was terminated.
type ExecutionError struct {
	Name     string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s timed out", e.Name)
	case e.ExitCode > 0:
		return fmt.Sprintf("%s failed with exit code %d", e.Name, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Name, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Name)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Runner spawns invocations.
type Runner struct {
	logger *slog.Logger
	grace  time.Duration
}

// New creates a Runner that logs through logger.
func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, grace: terminationGracePeriod}
}

// Run executes inv and waits for it to finish. A nil error means the
// command exited with status 0.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	logger := r.logger.With("invocation", inv.Name)

	if len(inv.Argv) == 0 || inv.Argv[0] == "" {
		return &ExecutionError{Name: inv.Name, ExitCode: -1, Err: errors.New("empty command")}
	}

	// Termination is managed here rather than through exec.CommandContext so
	// the process gets a grace period after SIGTERM.
	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)
	// Own process group so make's children are signalled with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	stdout := newTailBuffer(maxOutputBytes)
	stderr := newTailBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Info("starting invocation", "argv", inv.Argv, "dir", inv.Dir, "timeout", inv.Timeout)
	started := time.Now()

	if err := cmd.Start(); err != nil {
		return &ExecutionError{Name: inv.Name, ExitCode: -1, Err: fmt.Errorf("start process: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if inv.Timeout > 0 {
		timer := time.NewTimer(inv.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-deadline:
		logger.Warn("invocation timed out, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return &ExecutionError{Name: inv.Name, ExitCode: -1, Stderr: stderr.String(), TimedOut: true, Err: context.DeadlineExceeded}

	case <-ctx.Done():
		logger.Warn("invocation cancelled, sending SIGTERM")
		r.terminate(cmd, waitErr, logger)
		return &ExecutionError{Name: inv.Name, ExitCode: -1, Stderr: stderr.String(), TimedOut: true, Err: ctx.Err()}

	case err := <-waitErr:
		duration := time.Since(started)
		if err != nil {
			execErr := &ExecutionError{Name: inv.Name, ExitCode: -1, Stderr: stderr.String(), Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				execErr.ExitCode = exitErr.ExitCode()
			}
			logger.Error("invocation failed",
				"exit_code", execErr.ExitCode,
				"duration", duration,
				"stderr", execErr.Stderr,
			)
			return execErr
		}

		logger.Info("invocation finished", "duration", duration)
		logger.Debug("invocation output", "stdout", stdout.String(), "stderr", stderr.String())
		return nil
	}
}

func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("invocation exited after SIGTERM")
	case <-grace.C:
		logger.Warn("invocation did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}
