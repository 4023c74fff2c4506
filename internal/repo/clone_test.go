// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
)

func TestCloneURL(t *testing.T) {
	assert.Equal(t, "https://github.com/AntennaPod/AntennaPod.git",
		CloneURL("AntennaPod/AntennaPod"))
}

func TestCloneSuccess(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			return "", "", 0, nil
		},
	}

	c := NewCloner(proc, nil)
	c.tempDir = t.TempDir()

	path, err := c.Clone(context.Background(), "owner/repo", "inst-1")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Contains(t, path, "android-bench-inst-1-")

	var cloneArgs string
	for _, call := range proc.CallsFor("RunInDir") {
		joined := strings.Join(call.Args, " ")
		if strings.HasPrefix(joined, "clone ") {
			cloneArgs = joined
		}
	}
	require.NotEmpty(t, cloneArgs, "git clone should be invoked")
	assert.Contains(t, cloneArgs, "--recursive")
	assert.Contains(t, cloneArgs, "--depth 1000")
	assert.Contains(t, cloneArgs, "https://github.com/owner/repo.git")
}

func TestCloneFailureRemovesDirectory(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			if len(args) > 0 && args[0] == "clone" {
				return "", "fatal: repository not found", 128, nil
			}
			return "", "", 0, nil
		},
	}

	c := NewCloner(proc, nil)
	c.tempDir = t.TempDir()

	path, err := c.Clone(context.Background(), "owner/missing", "inst-1")
	assert.ErrorIs(t, err, ErrCloneFailed)
	assert.Contains(t, err.Error(), "repository not found")
	assert.Empty(t, path)

	entries, readErr := os.ReadDir(c.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "failed clone directory should be removed")
}

func TestCloneAtCommitUnshallowsOnMissingCommit(t *testing.T) {
	checkouts := 0
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			joined := strings.Join(args, " ")
			switch {
			case strings.HasPrefix(joined, "checkout "):
				checkouts++
				if checkouts == 1 {
					return "", "fatal: reference is not a tree", 1, nil
				}
				return "", "", 0, nil
			default:
				return "", "", 0, nil
			}
		},
	}

	c := NewCloner(proc, nil)
	c.tempDir = t.TempDir()

	path, err := c.CloneAtCommit(context.Background(), "owner/repo", "inst-1", "abc123def")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Equal(t, 2, checkouts, "checkout should be retried after unshallow")

	var unshallowed bool
	for _, call := range proc.CallsFor("RunInDir") {
		if strings.Join(call.Args, " ") == "fetch --unshallow" {
			unshallowed = true
			assert.Equal(t, path, call.Dir)
		}
	}
	assert.True(t, unshallowed)
}

func TestCloneAtCommitCheckoutFailure(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			joined := strings.Join(args, " ")
			if strings.HasPrefix(joined, "checkout ") || joined == "fetch --unshallow" {
				return "", "fatal: bad object", 1, nil
			}
			return "", "", 0, nil
		},
	}

	c := NewCloner(proc, nil)
	c.tempDir = t.TempDir()

	_, err := c.CloneAtCommit(context.Background(), "owner/repo", "inst-1", "deadbeef")
	assert.ErrorIs(t, err, ErrCheckoutFailed)

	entries, readErr := os.ReadDir(c.tempDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries, "checkout failure should remove the clone")
}
