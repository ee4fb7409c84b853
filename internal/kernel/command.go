package kernel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandResult holds the captured output of a command.
type CommandResult struct {
	Stdout []byte
	Stderr []byte
}

// CommandRunner executes external commands.
type CommandRunner interface {
	// Output runs a command and captures stdout and stderr.
	Output(ctx context.Context, name string, args ...string) (*CommandResult, error)
	// RunInput runs a command with input on stdin.
	RunInput(ctx context.Context, input string, name string, args ...string) (*CommandResult, error)
}

// CommandError reports a command that started but exited unsuccessfully.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s %s failed with exit code %d: %s",
		e.Name, strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// RealCommandRunner executes commands on the host.
type RealCommandRunner struct{}

// DefaultCommandRunner is the runner used when none is injected.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}

// Output executes a command and returns its output.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) (*CommandResult, error) {
	return r.run(ctx, nil, name, args...)
}

// RunInput executes a command with input via stdin.
func (r *RealCommandRunner) RunInput(ctx context.Context, input string, name string, args ...string) (*CommandResult, error) {
	return r.run(ctx, strings.NewReader(input), name, args...)
}

func (r *RealCommandRunner) run(ctx context.Context, stdin *strings.Reader, name string, args ...string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &CommandError{Name: name, Args: args, ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return res, err
}
