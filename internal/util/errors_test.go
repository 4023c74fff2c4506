// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestCommandErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  NewCommandError("git apply", 1, "error: patch failed", nil),
			want: "git apply (exit 1): error: patch failed",
		},
		{
			name: "stderr trimmed",
			err:  NewCommandError("docker cp", 1, "  no such container  \n", nil),
			want: "docker cp (exit 1): no such container",
		},
		{
			name: "wrapped only",
			err:  NewCommandError("git clone", -1, "", errors.New("context deadline exceeded")),
			want: "git clone (exit -1): context deadline exceeded",
		},
		{
			name: "bare",
			err:  NewCommandError("patch", 2, "", nil),
			want: "patch (exit 2)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := NewCommandError("docker exec", 1, "", base)

	if !errors.Is(err, base) {
		t.Error("errors.Is should find the wrapped error")
	}

	var cmdErr *CommandError
	wrapped := fmt.Errorf("exec failed: %w", err)
	if !errors.As(wrapped, &cmdErr) {
		t.Fatal("errors.As should find CommandError through the chain")
	}
	if cmdErr.Command != "docker exec" {
		t.Errorf("Command = %q, want %q", cmdErr.Command, "docker exec")
	}
}

func TestExtractStderr(t *testing.T) {
	inner := NewCommandError("gradle", 1, "compileDebugKotlin FAILED", nil)
	chained := fmt.Errorf("build step: %w", inner)

	if got := ExtractStderr(chained); got != "compileDebugKotlin FAILED" {
		t.Errorf("ExtractStderr = %q", got)
	}
	if got := ExtractStderr(errors.New("plain")); got != "" {
		t.Errorf("plain error should yield empty stderr, got %q", got)
	}
	if got := ExtractStderr(nil); got != "" {
		t.Errorf("nil should yield empty stderr, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 100)

	if got := Truncate(long, 10); !strings.HasPrefix(got, "xxxxxxxxxx") || !strings.Contains(got, "[truncated]") {
		t.Errorf("Truncate should cut and mark: %q", got)
	}
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("under limit should be unchanged, got %q", got)
	}
	if got := Truncate(long, 0); got != long {
		t.Errorf("max < 1 should be unchanged")
	}
}

func TestSafeGoRecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	var got SafeGoResult

	wg.Add(1)
	SafeGo(func() {
		panic("artifact write exploded")
	}, func(r SafeGoResult) {
		got = r
		wg.Done()
	})
	wg.Wait()

	if got.PanicValue != "artifact write exploded" {
		t.Errorf("PanicValue = %v", got.PanicValue)
	}
	if !strings.Contains(got.Stack, "goroutine") {
		t.Error("stack trace should be captured")
	}
}
