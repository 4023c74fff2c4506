// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
)

const stagePatch = `diff --git a/app/src/main/java/com/example/Foo.java b/app/src/main/java/com/example/Foo.java
--- a/app/src/main/java/com/example/Foo.java
+++ b/app/src/main/java/com/example/Foo.java
@@ -1,3 +1,4 @@
 package com.example;
+// changed
 public class Foo {
 }
`

func TestCheckoutBaseCommit(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			assert.Contains(t, opts.Command, "git checkout --force abc123")
			assert.Contains(t, opts.Command, "git submodule update --init --recursive --force")
			assert.Contains(t, opts.Command, `"$CURRENT_COMMIT" == abc123*`)
			return &container.ExecResult{ExitCode: 0, Output: "Successfully checked out abc123"}, nil
		},
	}

	s := NewStager(mock, nil)
	require.NoError(t, s.CheckoutBaseCommit(context.Background(), "inst-1", "abc123"))
	assert.Len(t, mock.CallsFor("Exec"), 1)
}

func TestCheckoutBaseCommitFailure(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			return &container.ExecResult{ExitCode: 1, Output: "Failed to checkout abc123"}, nil
		},
	}

	s := NewStager(mock, nil)
	err := s.CheckoutBaseCommit(context.Background(), "inst-1", "abc123")
	assert.ErrorIs(t, err, ErrCheckoutFailed)
}

func TestApplyPatchEmptyIsNoop(t *testing.T) {
	mock := &container.MockManager{}

	s := NewStager(mock, nil)
	output, err := s.ApplyPatch(context.Background(), "inst-1", ApplyOptions{Patch: "   \n"})
	require.NoError(t, err)
	assert.Contains(t, output, "nothing to apply")
	assert.Empty(t, mock.Calls, "empty patch must not touch the container")
}

func TestApplyPatchStrategies(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			if strings.Contains(opts.Command, "git status --porcelain") {
				return &container.ExecResult{ExitCode: 0, Output: " M app/src/main/java/com/example/Foo.java\n"}, nil
			}
			return &container.ExecResult{ExitCode: 0, Output: "SUCCESS: git apply worked"}, nil
		},
	}

	s := NewStager(mock, nil)
	output, err := s.ApplyPatch(context.Background(), "inst-1", ApplyOptions{
		Patch: stagePatch,
		Name:  "test_patch",
	})
	require.NoError(t, err)
	assert.Contains(t, output, "SUCCESS")

	calls := mock.CallsFor("Exec")
	require.NotEmpty(t, calls)
	script := calls[0].Command
	assert.Contains(t, script, "cat > /tmp/test_patch.patch << 'PATCH_EOF'")
	assert.Contains(t, script, stagePatch)
	assert.Contains(t, script, "git apply --verbose /tmp/test_patch.patch")
	assert.Contains(t, script, "git apply --verbose --reject")
	assert.Contains(t, script, "--ignore-space-change --ignore-whitespace")
	assert.Contains(t, script, "patch -p1 < /tmp/test_patch.patch")
	assert.Contains(t, script, "patch --batch --fuzz=5 -p1")
}

func TestApplyPatchAtPathSkipsStatusCheck(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			return &container.ExecResult{ExitCode: 0, Output: "SUCCESS: git apply worked"}, nil
		},
	}

	s := NewStager(mock, nil)
	_, err := s.ApplyPatch(context.Background(), "inst-1", ApplyOptions{
		Patch:   stagePatch,
		Name:    "solution_patch",
		WorkDir: "/workspace_clean",
	})
	require.NoError(t, err)

	calls := mock.CallsFor("Exec")
	require.Len(t, calls, 1, "non-default workdir must not trigger the status check")
	assert.Contains(t, calls[0].Command, "cd /workspace_clean")
}

func TestApplyPatchAllStrategiesFail(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			return &container.ExecResult{ExitCode: 1, Output: "=== All patch strategies failed ==="}, nil
		},
	}

	s := NewStager(mock, nil)
	output, err := s.ApplyPatch(context.Background(), "inst-1", ApplyOptions{Patch: stagePatch})
	assert.ErrorIs(t, err, ErrPatchApply)
	assert.Contains(t, output, "All patch strategies failed")
}

func TestRepositoryInfo(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			output := strings.Join([]string{
				"CURRENT_COMMIT=abc123def456",
				"CURRENT_BRANCH=main",
				"REPO_ROOT=/workspace",
				"ORIGIN_URL=https://github.com/owner/repo.git",
			}, "\n")
			return &container.ExecResult{ExitCode: 0, Output: output}, nil
		},
	}

	s := NewStager(mock, nil)
	info, err := s.RepositoryInfo(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", info.CurrentCommit)
	assert.Equal(t, "main", info.CurrentBranch)
	assert.Equal(t, "/workspace", info.RepoRoot)
	assert.Equal(t, "https://github.com/owner/repo.git", info.OriginURL)
}

func TestValidatePatchFormat(t *testing.T) {
	tests := []struct {
		name    string
		patch   string
		wantErr bool
	}{
		{name: "valid diff", patch: stagePatch, wantErr: false},
		{name: "empty", patch: "  \n ", wantErr: true},
		{name: "prose", patch: "this is just some text\nwith two lines", wantErr: true},
		{name: "minimal hunk", patch: "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-a\n+b", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatchFormat(tt.patch)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChangedFiles(t *testing.T) {
	patch := `diff --git a/app/build.gradle b/app/build.gradle
--- a/app/build.gradle
+++ b/app/build.gradle
@@ -1 +1 @@
-x
+y
diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1 @@
-x
+y
`
	files := ChangedFiles(patch)
	assert.ElementsMatch(t, []string{"app/build.gradle", "README.md"}, files)
}
