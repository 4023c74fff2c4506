// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gradle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/diffscan"
	"github.com/Fakorede/mobile-bench-sub000/internal/util"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Phase Runner
// =============================================================================

// Phase labels stamped into log banners and artifact names.
const (
	PhaseBuildPreStubs  = "BUILD-PRE-STUBS"
	PhaseBuildPostStubs = "BUILD-POST-STUBS"
	PhaseTestPre        = "TEST-PRE-SOLUTION"
	PhaseTestPost       = "TEST-POST-SOLUTION"
)

// RunOptions configures a targeted Gradle run inside a container.
type RunOptions struct {
	// InstanceID is the task instance (also drives variant rules).
	InstanceID string

	// Phase labels the run (see the Phase constants).
	Phase string

	// WorkDir is the project root inside the container.
	// Default: /workspace
	WorkDir string

	// ProjectRoot is the repository checkout on the host, used to
	// confirm that patched classes really contain test methods.
	ProjectRoot string

	// TestPatch is the unified diff whose test classes select targets.
	TestPatch string

	// JavaVersion selects the in-container JDK.
	JavaVersion string

	// Timeout bounds the Gradle invocation. Raised to at least the
	// per-module budget (util.TestRunTimeout); cold multi-module runs
	// routinely need the full allowance.
	Timeout time.Duration
}

// RunOutcome is the full result of one targeted run.
type RunOutcome struct {
	// Success means the test runner executed, not that tests passed.
	Success bool

	// Execution holds per-test outcomes parsed from JUnit XML.
	Execution ExecutionResult

	// GradleCommand is the assembled invocation, empty when no tests
	// were runnable.
	GradleCommand string

	// SkippedInstrumented lists androidTest classes excluded from the
	// run.
	SkippedInstrumented []string
}

// AsBuildResult views the outcome as a compile-step result.
func (o *RunOutcome) AsBuildResult() BuildResult {
	return BuildResult{
		Success:       o.Success,
		ExitCode:      o.Execution.ExitCode,
		Output:        o.Execution.RawOutput,
		Duration:      o.Execution.Duration,
		GradleCommand: o.GradleCommand,
	}
}

// Runner executes targeted Gradle test runs inside instance containers.
//
// # Description
//
// A run starts from the test patch: changed test classes are grouped by
// module, each module's unit-test variant is resolved (hardcoded rules
// first, then live verification-task listing), and a single Gradle
// command with --tests filters is executed. Instances whose patch adds
// no runnable unit tests short-circuit to a vacuous success.
//
// # Thread Safety
//
// Safe for concurrent use across instances.
type Runner struct {
	containers container.Manager
	log        *logging.Logger
}

// NewRunner creates a Runner over the given container manager.
func NewRunner(containers container.Manager, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Default()
	}
	return &Runner{containers: containers, log: log}
}

// Run executes one targeted test phase.
//
// # Edge Cases
//
//   - Empty test patch: vacuous success, no container activity.
//   - Patch with only instrumented tests: vacuous success, classes
//     reported in SkippedInstrumented.
//   - In-container timeout: the script's timeout command fires and the
//     output is analyzed like any failed run.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = "/workspace"
	}

	if strings.TrimSpace(opts.TestPatch) == "" {
		r.log.Info("no test patch, nothing to run",
			"instance", opts.InstanceID, "phase", opts.Phase)
		return vacuousOutcome("No test patch provided - no tests to run", nil), nil
	}

	moduleTests, skipped := diffscan.ModuleTests(opts.ProjectRoot, opts.TestPatch)
	if len(moduleTests) == 0 {
		r.log.Info("no runnable test classes in patch",
			"instance", opts.InstanceID, "phase", opts.Phase,
			"instrumented_skipped", len(skipped))
		return vacuousOutcome("No test files found in patch - no tests to run", skipped), nil
	}

	moduleTests = r.revalidateModules(ctx, opts.InstanceID, workdir, moduleTests)
	if len(moduleTests) == 0 {
		r.log.Warn("no planned modules exist in this build",
			"instance", opts.InstanceID, "phase", opts.Phase)
		return vacuousOutcome("No planned modules exist in the build - no tests to run", skipped), nil
	}

	available := r.detectVariants(ctx, opts.InstanceID, workdir, moduleTests)
	gradleArgs := TestArgs(opts.InstanceID, moduleTests, available)
	if gradleArgs == "" {
		return vacuousOutcome("Could not generate test tasks - no tests to run", skipped), nil
	}

	timeout := util.EnforceMinTimeout(opts.Timeout, util.TestRunTimeout(len(moduleTests)))
	script := TestScript(workdir, opts.InstanceID, opts.Phase, opts.JavaVersion, gradleArgs, timeout)

	command := "./gradlew " + gradleArgs + " --no-daemon --stacktrace --continue --parallel"
	r.log.Info("running targeted tests",
		"instance", opts.InstanceID, "phase", opts.Phase,
		"modules", len(moduleTests), "command", command)

	start := time.Now()
	result, err := r.containers.Exec(ctx, opts.InstanceID, container.ExecOptions{
		Command: script,
		WorkDir: workdir,
		Timeout: timeout + 2*time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("executing %s for %s: %w", opts.Phase, opts.InstanceID, err)
	}
	duration := time.Since(start)

	tests := ParseTestResults(result.Output)
	execution := NewExecutionResult(tests, result.ExitCode, result.Output, duration)
	success := AnalyzeRunSuccess(result.Output, result.ExitCode)

	r.log.Info("test phase finished",
		"instance", opts.InstanceID, "phase", opts.Phase,
		"success", success, "tests", execution.TotalTests,
		"passed", execution.Passed, "failed", execution.Failed+execution.Errors,
		"duration", duration.Round(time.Second))

	return &RunOutcome{
		Success:             success,
		Execution:           execution,
		GradleCommand:       command,
		SkippedInstrumented: skipped,
	}, nil
}

// revalidateModules drops planned modules that are not Gradle projects
// in the current checkout.
//
// # Description
//
// A solution patch can delete or rename a module between the pre and
// post phases. Running against a missing project fails the whole
// invocation even with --continue, so the plan is checked against
// `gradlew projects` and unlisted modules are dropped with a warning.
// The :app module stands for the root project in single-module builds
// and is always kept. When the listing itself fails the plan is kept
// unchanged; a stale module then surfaces as a normal run failure.
func (r *Runner) revalidateModules(ctx context.Context, instanceID, workdir string, moduleTests map[string][]string) map[string][]string {
	needsCheck := false
	for module := range moduleTests {
		if module != ":app" {
			needsCheck = true
			break
		}
	}
	if !needsCheck {
		return moduleTests
	}

	result, err := r.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: ProjectsScript(workdir),
		WorkDir: workdir,
		Timeout: 90 * time.Second,
	})
	if err != nil || result.ExitCode != 0 ||
		strings.Contains(result.Output, ProjectListingFailedMarker) {
		r.log.Warn("project listing unavailable, keeping full module plan",
			"instance", instanceID)
		return moduleTests
	}

	projects := ParseProjects(result.Output)
	kept := make(map[string][]string, len(moduleTests))
	for module, classes := range moduleTests {
		if module != ":app" && !projects[module] {
			r.log.Warn("planned module is not a gradle project, dropping",
				"instance", instanceID, "module", module)
			continue
		}
		kept[module] = classes
	}
	return kept
}

// detectVariants resolves the available unit-test tasks per module.
//
// Modules with a single hardcoded candidate are taken as-is. Multiple
// candidates mean the project builds flavors, so the rule is verified
// against the module's actual verification tasks; listing failures fall
// back to the hardcoded set.
func (r *Runner) detectVariants(ctx context.Context, instanceID, workdir string, moduleTests map[string][]string) map[string][]string {
	modules := make([]string, 0, len(moduleTests))
	for module := range moduleTests {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	variants := make(map[string][]string, len(modules))
	for _, module := range modules {
		candidates := HardcodedVariants(instanceID, module)
		variants[module] = candidates
		if len(candidates) <= 1 {
			continue
		}

		result, err := r.containers.Exec(ctx, instanceID, container.ExecOptions{
			Command: VerificationTasksScript(workdir, module),
			WorkDir: workdir,
			Timeout: 30 * time.Second,
		})
		if err != nil || result.ExitCode != 0 ||
			strings.Contains(result.Output, VerificationFailedMarker) {
			r.log.Debug("variant verification unavailable, using hardcoded rules",
				"instance", instanceID, "module", module)
			continue
		}

		if verified := ParseVerificationTasks(result.Output); len(verified) > 0 {
			variants[module] = verified
			r.log.Debug("verified module variants",
				"instance", instanceID, "module", module, "tasks", strings.Join(verified, ","))
		}
	}
	return variants
}

func vacuousOutcome(reason string, skipped []string) *RunOutcome {
	return &RunOutcome{
		Success:             true,
		Execution:           EmptyExecutionResult(reason),
		SkippedInstrumented: skipped,
	}
}
