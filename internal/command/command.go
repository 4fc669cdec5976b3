package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
)

// CommandResult holds the outcome of executing an external command.
type CommandResult struct {
	// Stdout contains the standard output captured from the command.
	// For binary-producing commands (screencap, image pipelines) use RawStdout.
	Stdout string
	// RawStdout contains the unmodified standard output bytes.
	RawStdout []byte
	// Stderr contains the standard error captured from the command.
	Stderr string
	// ExitCode is the exit status code returned by the command.
	// A value of -1 typically indicates an error occurred before the command
	// could be started or completed (e.g., command not found, context cancelled).
	ExitCode int
	// Error is any error encountered during the setup or execution of the command
	// (e.g., command not found, context cancellation). It does not necessarily
	// indicate a non-zero exit code, but rather issues with running the command itself.
	Error error
}

// Runner defines the interface for running external commands. Both the device
// bridge (adb) and the OCR engine (tesseract) are reached through it, which
// keeps them trivially fakeable in tests.
type Runner interface {
	// Run executes the specified command with given arguments and optional
	// stdin content. It respects the provided context for cancellation.
	Run(ctx context.Context, command string, args []string, stdin io.Reader) (*CommandResult, error)
}

// defaultRunner implements the Runner interface using Go's os/exec package.
type defaultRunner struct{}

// NewRunner creates a new instance of the default command runner.
func NewRunner() Runner {
	return &defaultRunner{}
}

// Run executes the command using os/exec.
func (r *defaultRunner) Run(ctx context.Context, command string, args []string, stdin io.Reader) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	if stdin != nil {
		cmd.Stdin = stdin
	}

	result := &CommandResult{
		ExitCode: -1, // Default to -1 indicating potential execution failure
	}

	err := cmd.Run()

	result.RawStdout = stdoutBuf.Bytes()
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()

	if err != nil {
		// Check if the error is due to context cancellation
		if ctx.Err() != nil {
			result.Error = ctx.Err()
			// Exit code remains -1 as the command was likely terminated prematurely
			return result, ctx.Err()
		}

		// Check if it's an ExitError to retrieve the status code
		var exitErr *exec.ExitError
		if ok := errors.As(err, &exitErr); ok {
			// Command ran but exited with a non-zero status
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = status.ExitStatus()
			}
			// Store the underlying ExitError details, but don't return it as the
			// primary error. The caller usually checks ExitCode.
			result.Error = err
			return result, nil
		}

		// Other errors (e.g., command not found, permission issues)
		result.Error = err
		result.ExitCode = -1
		return result, err
	}

	// Command executed successfully (exit code 0)
	result.ExitCode = 0
	return result, nil
}
