// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gradle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
)

const appTestPatch = `diff --git a/app/src/test/java/com/example/FooTest.java b/app/src/test/java/com/example/FooTest.java
--- a/app/src/test/java/com/example/FooTest.java
+++ b/app/src/test/java/com/example/FooTest.java
@@ -1,3 +1,4 @@
 package com.example;
+import org.junit.Test;
 public class FooTest {
 }
`

const passingRunOutput = `> Task :app:testDebugUnitTest
BUILD SUCCESSFUL in 42s
=== XML FILE: ./app/build/test-results/testDebugUnitTest/TEST-com.example.FooTest.xml ===
<testsuite name="com.example.FooTest">
<testcase name="testFoo" classname="com.example.FooTest" time="0.012"/>
<testcase name="testBar" classname="com.example.FooTest" time="0.034"><failure message="expected 1">boom</failure></testcase>
</testsuite>
=== END XML FILE ===`

func TestRunEmptyPatchIsVacuousSuccess(t *testing.T) {
	mock := &container.MockManager{}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "inst-1",
		Phase:      PhaseTestPre,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Zero(t, outcome.Execution.TotalTests)
	assert.Contains(t, outcome.Execution.RawOutput, "No test patch provided")
	assert.Empty(t, mock.Calls)
}

func TestRunPatchWithoutTestFiles(t *testing.T) {
	patch := `diff --git a/app/src/main/java/com/example/Foo.java b/app/src/main/java/com/example/Foo.java
--- a/app/src/main/java/com/example/Foo.java
+++ b/app/src/main/java/com/example/Foo.java
@@ -1 +1,2 @@
 package com.example;
+// changed
`
	mock := &container.MockManager{}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "inst-1",
		Phase:      PhaseTestPre,
		TestPatch:  patch,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Contains(t, outcome.Execution.RawOutput, "No test files found in patch")
	assert.Empty(t, mock.Calls)
}

func TestRunTargetedTests(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			return &container.ExecResult{ExitCode: 0, Output: passingRunOutput}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID:  "owner__repo-1",
		Phase:       PhaseTestPre,
		TestPatch:   appTestPatch,
		JavaVersion: "17",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Execution.TotalTests)
	assert.Equal(t, 1, outcome.Execution.Passed)
	assert.Equal(t, 1, outcome.Execution.Failed)
	assert.Contains(t, outcome.GradleCommand, `testDebugUnitTest --tests "com.example.FooTest"`)

	// :app has a single hardcoded variant, so no verification listing runs.
	calls := mock.CallsFor("Exec")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Command, "TEST-PRE-SOLUTION")
	assert.Contains(t, calls[0].Command, "--no-daemon --stacktrace --continue --parallel")
}

func TestRunVerifiesFlavoredVariants(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			if strings.Contains(opts.Command, "--group=verification") {
				return &container.ExecResult{
					ExitCode: 0,
					Output:   "testFreeDebugUnitTest - Runs unit tests for the freeDebug build.\n",
				}, nil
			}
			return &container.ExecResult{ExitCode: 0, Output: passingRunOutput}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID:  "AntennaPod__AntennaPod-7",
		Phase:       PhaseTestPre,
		TestPatch:   appTestPatch,
		JavaVersion: "17",
	})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Contains(t, outcome.GradleCommand, "testFreeDebugUnitTest")
	assert.Len(t, mock.CallsFor("Exec"), 2)
}

func TestRunCompileFailure(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			output := `> Task :app:compileDebugJavaWithJavac FAILED
error: cannot find symbol
BUILD FAILED in 12s`
			return &container.ExecResult{ExitCode: 1, Output: output}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID:  "owner__repo-1",
		Phase:       PhaseBuildPreStubs,
		TestPatch:   appTestPatch,
		JavaVersion: "17",
	})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	build := outcome.AsBuildResult()
	assert.False(t, build.Success)
	assert.Equal(t, 1, build.ExitCode)
	assert.Contains(t, build.GradleCommand, "testDebugUnitTest")
}

func TestRunSkipsInstrumentedTests(t *testing.T) {
	patch := `diff --git a/app/src/androidTest/java/com/example/FooUiTest.java b/app/src/androidTest/java/com/example/FooUiTest.java
--- a/app/src/androidTest/java/com/example/FooUiTest.java
+++ b/app/src/androidTest/java/com/example/FooUiTest.java
@@ -1 +1,2 @@
 package com.example;
+// changed
`
	mock := &container.MockManager{}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "inst-1",
		Phase:      PhaseTestPre,
		TestPatch:  patch,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, []string{"com.example.FooUiTest"}, outcome.SkippedInstrumented)
	assert.Empty(t, mock.Calls)
}

const paymentsTestPatch = `diff --git a/feature/payments/src/test/java/com/example/PayTest.java b/feature/payments/src/test/java/com/example/PayTest.java
--- a/feature/payments/src/test/java/com/example/PayTest.java
+++ b/feature/payments/src/test/java/com/example/PayTest.java
@@ -1,3 +1,4 @@
 package com.example;
+import org.junit.Test;
 public class PayTest {
 }
`

func TestRunDropsModuleMissingFromProjects(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			require.Contains(t, opts.Command, "./gradlew projects")
			return &container.ExecResult{
				ExitCode: 0,
				Output:   "Project 'feature:payments' not found in root project 'example'.",
			}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "owner__repo-1",
		Phase:      PhaseTestPost,
		TestPatch:  paymentsTestPatch,
	})
	require.NoError(t, err)

	// The only planned module is gone, so the phase is a vacuous
	// success rather than a hard failure.
	assert.True(t, outcome.Success)
	assert.Empty(t, outcome.GradleCommand)
	assert.Zero(t, outcome.Execution.TotalTests)
	assert.Contains(t, outcome.Execution.RawOutput, "No planned modules exist")
	assert.Len(t, mock.CallsFor("Exec"), 1)
}

func TestRunKeepsRemainingModulesAfterDrop(t *testing.T) {
	patch := appTestPatch + paymentsTestPatch

	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			if strings.Contains(opts.Command, "./gradlew projects") {
				return &container.ExecResult{ExitCode: 0, Output: "Root project 'example'\n+--- Project ':app'\n"}, nil
			}
			return &container.ExecResult{ExitCode: 0, Output: passingRunOutput}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "owner__repo-1",
		Phase:      PhaseTestPost,
		TestPatch:  patch,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	assert.Contains(t, outcome.GradleCommand, `testDebugUnitTest --tests "com.example.FooTest"`)
	assert.NotContains(t, outcome.GradleCommand, "payments")
}

func TestRunKeepsPlanWhenProjectListingFails(t *testing.T) {
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			if strings.Contains(opts.Command, "./gradlew projects") {
				return &container.ExecResult{ExitCode: 0, Output: ProjectListingFailedMarker}, nil
			}
			return &container.ExecResult{
				ExitCode: 1,
				Output:   "FAILURE: Project 'feature:payments' not found in root project 'example'.",
			}, nil
		},
	}

	r := NewRunner(mock, nil)
	outcome, err := r.Run(context.Background(), RunOptions{
		InstanceID: "owner__repo-1",
		Phase:      PhaseTestPost,
		TestPatch:  paymentsTestPatch,
	})
	require.NoError(t, err)

	// An unverifiable plan runs as-is; the stale module surfaces as a
	// recorded failure instead of an error.
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.GradleCommand, ":feature:payments:")
}

func TestRunTimeoutScalesWithModules(t *testing.T) {
	patch := appTestPatch + paymentsTestPatch

	var runCommand string
	mock := &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			if strings.Contains(opts.Command, "./gradlew projects") {
				return &container.ExecResult{ExitCode: 0, Output: "+--- Project ':app'\n+--- Project ':feature:payments'\n"}, nil
			}
			runCommand = opts.Command
			return &container.ExecResult{ExitCode: 0, Output: passingRunOutput}, nil
		},
	}

	r := NewRunner(mock, nil)
	_, err := r.Run(context.Background(), RunOptions{
		InstanceID: "owner__repo-1",
		Phase:      PhaseTestPre,
		TestPatch:  patch,
	})
	require.NoError(t, err)

	// Two modules get a twenty minute budget.
	assert.Contains(t, runCommand, "timeout 1200 ./gradlew")
}
