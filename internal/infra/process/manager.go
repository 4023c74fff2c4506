// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package process abstracts external process execution.
//
// Every external tool the harness drives (docker, git, patch) is invoked
// through the Manager interface so that unit tests can substitute a mock
// and verify command construction without executing real processes.
//
// # Design Rationale
//
// Direct calls to exec.Command are not testable because they execute real
// processes. By abstracting process execution behind an interface, we can:
//   - Mock process execution in tests
//   - Capture and verify command invocations
//   - Simulate success/failure scenarios without real processes
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// # Context Handling
//
// All methods accept a context.Context for cancellation and timeout support.
// Long-running processes are killed when the context is cancelled.
type Manager interface {
	// Run executes a command synchronously and returns its stdout.
	//
	// # Description
	//
	// Executes the specified command and waits for completion. Stderr is
	// captured and folded into the returned error on failure.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: Stdout output
	//   - error: Non-nil if the command fails or is cancelled
	//
	// # Example
	//
	//	output, err := pm.Run(ctx, "docker", "ps", "-a")
	//
	// # Limitations
	//
	//   - Large output is fully buffered in memory
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	//
	// # Description
	//
	// Executes the specified command and pipes the input data to the
	// process's stdin. Used for feeding patch content and shell scripts
	// to container exec sessions.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - name: The executable name or path
	//   - input: Data to write to stdin
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - []byte: Stdout output
	//   - error: Non-nil if the command fails, stdin write fails, or cancelled
	//
	// # Example
	//
	//	out, err := pm.RunWithInput(ctx, "docker", script,
	//	    "exec", "-i", containerName, "bash", "-s")
	//
	// # Limitations
	//
	//   - Input is fully buffered in memory before being written
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunInDir executes a command in a directory with extra environment.
	//
	// # Description
	//
	// Executes the command with the working directory set to dir (empty
	// means inherit) and env entries appended to the inherited environment.
	// Unlike Run, a non-zero exit is NOT an error: the exit code is
	// returned so callers can classify tool failures themselves.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - dir: Working directory ("" inherits the current directory)
	//   - env: Extra environment variables (may be nil)
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - string: Stdout output
	//   - string: Stderr output
	//   - int: Exit code (-1 if the process never started)
	//   - error: Non-nil only for start failures or context cancellation
	//
	// # Example
	//
	//	stdout, stderr, code, err := pm.RunInDir(ctx, workDir, nil,
	//	    "git", "apply", "--check", patchFile)
	//
	// # Limitations
	//
	//   - Both output streams are fully buffered in memory
	RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error)

	// RunStreaming executes a command and streams combined output to w.
	//
	// # Description
	//
	// Starts the command with stdout and stderr attached to w and blocks
	// until the command exits or the context is cancelled. Used for long
	// Gradle runs where buffering the whole log before writing it out
	// would hide progress.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation (kills the process)
	//   - dir: Working directory ("" inherits)
	//   - w: Writer receiving combined stdout/stderr
	//   - name: The executable name or path
	//   - args: Command arguments (variadic)
	//
	// # Outputs
	//
	//   - error: Non-nil if the command fails to start or exits non-zero
	//
	// # Limitations
	//
	//   - Output cannot be inspected by the caller, only streamed
	RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager using os/exec.
//
// This is the production implementation that executes real processes on
// the system. Use MockManager in tests instead.
type DefaultManager struct{}

// NewDefaultManager creates a Manager that executes real processes.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes a command synchronously and returns its stdout.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Include stderr in error for debugging
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// RunWithInput executes a command with data piped to stdin.
func (pm *DefaultManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}

	return stdout.Bytes(), nil
}

// RunInDir executes a command in a directory with extra environment.
func (pm *DefaultManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Tool ran and failed: that is a result, not an error
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout.String(), stderr.String(), -1, ctx.Err()
		}
		return stdout.String(), stderr.String(), -1, err
	}

	return stdout.String(), stderr.String(), 0, nil
}

// RunStreaming executes a command and streams combined output to w.
func (pm *DefaultManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s exited: %w", name, err)
	}
	return nil
}

// Ensure DefaultManager implements Manager
var _ Manager = (*DefaultManager)(nil)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockManager is a test double for Manager.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Example
//
//	mock := &process.MockManager{
//	    RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
//	        if name == "docker" && args[0] == "ps" {
//	            return "android-bench-foo\n", "", 0, nil
//	        }
//	        return "", "", 1, nil
//	    },
//	}
type MockManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInputFunc is called when RunWithInput is invoked
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// RunInDirFunc is called when RunInDir is invoked
	RunInDirFunc func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error)

	// RunStreamingFunc is called when RunStreaming is invoked
	RunStreamingFunc func(ctx context.Context, dir string, w io.Writer, name string, args ...string) error

	// Calls records all method invocations for verification
	Calls []Call

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Name   string
	Args   []string
	Dir    string
	Input  []byte
}

// Run delegates to RunFunc and records the call.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput delegates to RunWithInputFunc and records the call.
func (m *MockManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(Call{Method: "RunWithInput", Name: name, Args: args, Input: input})
	if m.RunWithInputFunc == nil {
		panic("MockManager.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// RunInDir delegates to RunInDirFunc and records the call.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Method: "RunInDir", Name: name, Args: args, Dir: dir})
	if m.RunInDirFunc == nil {
		panic("MockManager.RunInDirFunc not set")
	}
	return m.RunInDirFunc(ctx, dir, env, name, args...)
}

// RunStreaming delegates to RunStreamingFunc and records the call.
func (m *MockManager) RunStreaming(ctx context.Context, dir string, w io.Writer, name string, args ...string) error {
	m.record(Call{Method: "RunStreaming", Name: name, Args: args, Dir: dir})
	if m.RunStreamingFunc == nil {
		panic("MockManager.RunStreamingFunc not set")
	}
	return m.RunStreamingFunc(ctx, dir, w, name, args...)
}

// CallsFor returns recorded calls for a given method name.
func (m *MockManager) CallsFor(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
}

// Ensure MockManager implements Manager
var _ Manager = (*MockManager)(nil)
