// Package executor runs resolved phar artifacts under a PHP interpreter.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// RuntimeError reports that the interpreter could not be started or
// the child process ended abnormally.
type RuntimeError struct {
	Tool string
	Err  error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("run %s: %v", e.Tool, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Result describes how the child process ended.
type Result struct {
	ExitCode int
	Signal   syscall.Signal
}

// Runner executes phar artifacts with inherited stdio. The child owns
// the terminal for its lifetime; SIGINT and SIGTERM are forwarded.
type Runner struct {
	PHPPath string
	Logger  zerolog.Logger
}

// Run invokes `php <artifact> <args...>` and mirrors the child's exit
// status. A child killed by signal n reports exit code 128+n.
func (r *Runner) Run(ctx context.Context, tool, artifactPath string, args []string) (Result, error) {
	argv := append([]string{artifactPath}, args...)
	return r.wait(ctx, tool, exec.CommandContext(ctx, r.PHPPath, argv...))
}

// RunDirect executes an artifact as a program in its own right, used
// for project and global vendor binaries.
func (r *Runner) RunDirect(ctx context.Context, tool, binaryPath string, args []string) (Result, error) {
	return r.wait(ctx, tool, exec.CommandContext(ctx, binaryPath, args...))
}

func (r *Runner) wait(ctx context.Context, tool string, cmd *exec.Cmd) (Result, error) {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: 1}, &RuntimeError{Tool: tool, Err: err}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	if err == nil {
		return Result{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			sig := status.Signal()
			return Result{ExitCode: 128 + int(sig), Signal: sig}, nil
		}
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{ExitCode: 1}, &RuntimeError{Tool: tool, Err: err}
}
