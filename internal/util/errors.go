// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"fmt"
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a command execution failure with stderr context.
//
// # Description
//
// Provides rich error context for git, patch, and docker failures,
// including the command that failed, exit code, and stderr output.
// Implements the error interface and supports unwrapping via
// errors.Is/As.
//
// # Thread Safety
//
// CommandError is immutable after creation and safe for concurrent reads.
//
// # Example
//
//	err := NewCommandError("git apply", 1, "patch does not apply", originalErr)
//	fmt.Println(err.Error()) // "git apply (exit 1): patch does not apply"
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) {
//	    fmt.Println(cmdErr.Stderr)
//	}
type CommandError struct {
	// Command is the command that was executed.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the standard error output (trimmed).
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error for errors.Is/As chain walking.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr returns true if stderr output is available.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// =============================================================================
// Constructor Functions
// =============================================================================

// NewCommandError creates a CommandError with full context.
//
// # Description
//
// Creates a new CommandError with command name, exit code, stderr,
// and underlying error. Stderr is trimmed of leading/trailing whitespace
// to normalize output from various command sources.
//
// # Inputs
//
//   - cmd: The command that was executed (e.g., "git clone")
//   - exitCode: Process exit code (-1 if unknown)
//   - stderr: Standard error output (will be trimmed)
//   - wrapped: Underlying error (may be nil)
//
// # Outputs
//
//   - *CommandError: New error with full context
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// =============================================================================
// Utility Functions
// =============================================================================

// ExtractStderr extracts stderr from an error chain.
//
// # Description
//
// Walks the error chain looking for a CommandError with non-empty stderr.
// Returns the first stderr found, or empty string if none exists. Useful
// for surfacing tool output in logs and reports.
//
// # Inputs
//
//   - err: Error to extract stderr from (may be nil)
//
// # Outputs
//
//   - string: Stderr content, or empty string if not found
func ExtractStderr(err error) string {
	for err != nil {
		if cmdErr, ok := err.(*CommandError); ok && cmdErr.HasStderr() {
			return cmdErr.Stderr
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// Truncate caps a string at max bytes, appending a marker when cut.
//
// # Description
//
// Build and test logs routinely run to megabytes. Truncate keeps the
// head of the string, which is where Gradle reports configuration and
// compile errors, and appends a truncation marker so readers know
// content was dropped.
//
// # Inputs
//
//   - s: The string to cap
//   - max: Maximum length in bytes (values < 1 return s unchanged)
//
// # Outputs
//
//   - string: s unchanged, or its first max bytes plus a marker
func Truncate(s string, max int) string {
	if max < 1 || len(s) <= max {
		return s
	}
	return s[:max] + "\n... [truncated]"
}
