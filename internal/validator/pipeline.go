// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validator drives end-to-end validation of task instances: a
// per-instance pipeline (clone, configure, containerize, patch, build,
// test twice, compare) and an orchestrator that runs the pipeline over
// a dataset with a worker pool, resume support, and periodic
// checkpoints.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/internal/androidcfg"
	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/dataset"
	"github.com/Fakorede/mobile-bench-sub000/internal/gradle"
	"github.com/Fakorede/mobile-bench-sub000/internal/repo"
	"github.com/Fakorede/mobile-bench-sub000/internal/report"
	"github.com/Fakorede/mobile-bench-sub000/internal/stubrepair"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// cleanWorkspace is where the post-solution checkout lives inside the
// container, separate from the pre-solution /workspace.
const cleanWorkspace = "/workspace_clean"

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Cloner produces host checkouts of instance repositories.
type Cloner interface {
	Clone(ctx context.Context, repoSlug, instanceID string) (string, error)
	CloneAtCommit(ctx context.Context, repoSlug, instanceID, commit string) (string, error)
	Cleanup(ctx context.Context, repoPath string)
}

// Stager manipulates git state inside the instance container.
type Stager interface {
	CheckoutBaseCommit(ctx context.Context, instanceID, baseCommit string) error
	ApplyPatch(ctx context.Context, instanceID string, opts repo.ApplyOptions) (string, error)
}

// TestRunner executes targeted Gradle build and test phases.
type TestRunner interface {
	Run(ctx context.Context, opts gradle.RunOptions) (*gradle.RunOutcome, error)
}

// Repairer attempts to fix a failing compile by generating stubs.
type Repairer interface {
	Repair(ctx context.Context, opts stubrepair.RepairOptions) (*stubrepair.Result, error)
}

var (
	_ Cloner     = (*repo.Cloner)(nil)
	_ Stager     = (*repo.Stager)(nil)
	_ TestRunner = (*gradle.Runner)(nil)
	_ Repairer   = (*stubrepair.Engine)(nil)
)

// =============================================================================
// Pipeline
// =============================================================================

// Deps wires the pipeline's collaborators. All fields are required
// except Repairer, which may be nil when no LLM credentials are
// configured (stub repair is then skipped with a warning).
type Deps struct {
	Cloner     Cloner
	Resolver   *androidcfg.Resolver
	Containers container.Manager
	Stager     Stager
	Runner     TestRunner
	Repairer   Repairer
	Store      *report.Store
	Log        *logging.Logger
}

// Pipeline validates one task instance at a time. Instances are
// independent; run one Pipeline per worker or share it, either works
// since the pipeline itself holds no per-instance state.
type Pipeline struct {
	deps Deps
	log  *logging.Logger
}

// NewPipeline creates a Pipeline over the given collaborators.
func NewPipeline(deps Deps) *Pipeline {
	log := deps.Log
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{deps: deps, log: log}
}

// ValidateInstance runs the full pipeline for one instance.
//
// # Description
//
// Stages, in order: clone the repository on the host, resolve its build
// configuration from the Gradle files, create and start the instance
// container, check out the base commit, apply the test patch, run the
// build step (with one stub-repair attempt and rebuild on compile
// failure), run the targeted tests pre-solution, stage a fresh checkout
// with test plus solution patches at /workspace_clean, run the same
// tests post-solution, and compute per-test transitions. Every stage
// that clears flips its flag on the result, so a failure shows exactly
// how far the instance got.
//
// # Edge Cases
//
//   - A stage failure fails the instance, never the batch; the result
//     carries the stage's error message and all artifacts written so
//     far stay on disk for diagnosis.
//   - Artifact write failures are logged and do not fail the instance.
//   - The host checkout is always cleaned up, success or not.
func (p *Pipeline) ValidateInstance(ctx context.Context, inst dataset.Instance) *report.InstanceResult {
	result := &report.InstanceResult{InstanceID: inst.InstanceID}
	start := time.Now()

	var repoPath string
	defer func() {
		if repoPath != "" {
			p.deps.Cloner.Cleanup(ctx, repoPath)
		}
		result.TotalDuration = time.Since(start).Seconds()
	}()

	p.log.Info("Starting validation", "instance_id", inst.InstanceID)

	if err := inst.Validate(); err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	// Step 1: clone the repository on the host.
	path, err := p.deps.Cloner.Clone(ctx, inst.Repo, inst.InstanceID)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to clone repository: %v", err)
		return result
	}
	repoPath = path
	result.RepoCloned = true

	// Step 2: resolve build configuration. Never fails; unparseable
	// projects fall back to defaults.
	buildConfig := p.deps.Resolver.Resolve(repoPath)
	result.ConfigParsed = true
	p.log.Info("Build configuration resolved",
		"instance_id", inst.InstanceID, "config", buildConfig.String())

	// Step 3: create and start the container with the checkout mounted.
	err = p.deps.Containers.Create(ctx, container.CreateOptions{
		InstanceID: inst.InstanceID,
		Build:      buildConfig,
		RepoPath:   repoPath,
		MountRepo:  true,
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to create container: %v", err)
		return result
	}
	result.ContainerCreated = true

	if err := p.deps.Containers.Start(ctx, inst.InstanceID); err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to start container: %v", err)
		return result
	}

	// Step 4: check out the base commit.
	if err := p.deps.Stager.CheckoutBaseCommit(ctx, inst.InstanceID, inst.BaseCommit); err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to checkout base commit: %v", err)
		return result
	}
	result.BaseCommitCheckedOut = true

	// Step 5: apply the test patch.
	output, err := p.deps.Stager.ApplyPatch(ctx, inst.InstanceID, repo.ApplyOptions{
		Patch: inst.TestPatch,
		Name:  "test_patch",
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to apply test patch: %s", output)
		return result
	}
	result.TestPatchApplied = true

	// Step 6: build, repairing compile failures once via stubs.
	p.runBuildStep(ctx, inst, buildConfig, repoPath, result)

	// Step 7: pre-solution tests against /workspace.
	preOutcome := p.runTestPhase(ctx, inst, buildConfig, repoPath, result,
		gradle.PhaseTestPre, "", report.PhasePre)
	if preOutcome == nil {
		return result
	}

	// Step 8: stage the post-solution workspace from a fresh clone.
	if !p.stageCleanWorkspace(ctx, inst, result) {
		return result
	}

	// Step 9: post-solution tests against /workspace_clean.
	postOutcome := p.runTestPhase(ctx, inst, buildConfig, repoPath, result,
		gradle.PhaseTestPost, cleanWorkspace, report.PhasePost)
	if postOutcome == nil {
		return result
	}

	// Step 10: classify test transitions.
	result.SkippedInstrumentedTests = dedupe(result.SkippedInstrumentedTests)
	result.ComputeTransitions()

	if err := p.deps.Store.SaveTestAnalysis(result); err != nil {
		p.log.Warn("Failed to save test analysis",
			"instance_id", inst.InstanceID, "error", err)
	}

	result.Success = true
	p.log.Info("Validation completed",
		"instance_id", inst.InstanceID,
		"fixed", result.FailToPassCount,
		"broken", result.PassToFailCount,
		"duration_s", int(time.Since(start).Seconds()))
	return result
}

// runBuildStep runs the compile-and-targeted-test build phase and, when
// it fails to compile, one stub-repair round followed by a rebuild.
// Build problems never fail the instance here; the test phases decide.
func (p *Pipeline) runBuildStep(ctx context.Context, inst dataset.Instance,
	buildConfig androidcfg.BuildConfig, repoPath string, result *report.InstanceResult) {

	outcome, err := p.deps.Runner.Run(ctx, gradle.RunOptions{
		InstanceID:  inst.InstanceID,
		Phase:       gradle.PhaseBuildPreStubs,
		ProjectRoot: repoPath,
		TestPatch:   inst.TestPatch,
		JavaVersion: buildConfig.JavaVersion,
	})
	if err != nil {
		p.log.Error("Build step failed", "instance_id", inst.InstanceID, "error", err)
		return
	}
	buildResult := outcome.AsBuildResult()
	result.BuildResult = &buildResult

	needsRepair := !buildResult.Success || HasCompilationErrors(buildResult.Output)
	if !needsRepair {
		return
	}
	if p.deps.Repairer == nil {
		p.log.Warn("Compile failure but no repair engine configured, skipping stubs",
			"instance_id", inst.InstanceID)
		return
	}

	p.log.Info("Attempting stub repair", "instance_id", inst.InstanceID)
	repair, err := p.deps.Repairer.Repair(ctx, stubrepair.RepairOptions{
		InstanceID:    inst.InstanceID,
		BuildLog:      buildResult.Output,
		TestPatch:     inst.TestPatch,
		SolutionPatch: inst.SolutionPatch,
		GradleArgs:    buildStepTargets(buildResult.GradleCommand),
		JavaVersion:   buildConfig.JavaVersion,
	})
	if err != nil {
		p.log.Error("Stub repair errored", "instance_id", inst.InstanceID, "error", err)
		return
	}
	result.StubRepair = repair
	if !repair.Success {
		p.log.Warn("Stub repair failed",
			"instance_id", inst.InstanceID, "error", repair.ErrorMessage)
		return
	}

	p.log.Info("Stub repair succeeded, rebuilding",
		"instance_id", inst.InstanceID,
		"files", len(repair.FilesCreated),
		"cost_usd", repair.APICost)
	retry, err := p.deps.Runner.Run(ctx, gradle.RunOptions{
		InstanceID:  inst.InstanceID,
		Phase:       gradle.PhaseBuildPostStubs,
		ProjectRoot: repoPath,
		TestPatch:   inst.TestPatch,
		JavaVersion: buildConfig.JavaVersion,
	})
	if err != nil {
		p.log.Error("Post-stub rebuild failed", "instance_id", inst.InstanceID, "error", err)
		return
	}
	retryResult := retry.AsBuildResult()
	result.RetryBuildResult = &retryResult
	if retryResult.Success && !HasCompilationErrors(retryResult.Output) {
		p.log.Info("Compile errors resolved after stubs", "instance_id", inst.InstanceID)
	} else {
		p.log.Warn("Build still failing after stubs", "instance_id", inst.InstanceID)
	}
}

// runTestPhase prepares the workspace, runs the targeted tests, and
// saves logs plus parsed results. Returns nil after recording an error
// message when the phase could not run at all.
func (p *Pipeline) runTestPhase(ctx context.Context, inst dataset.Instance,
	buildConfig androidcfg.BuildConfig, repoPath string, result *report.InstanceResult,
	gradlePhase, workDir, artifactPhase string) *gradle.RunOutcome {

	err := p.deps.Containers.PrepareForTests(ctx, inst.InstanceID, container.PrepareOptions{
		Phase:   artifactPhase,
		WorkDir: workDir,
	})
	if err != nil {
		p.log.Warn("Workspace preparation failed, continuing",
			"instance_id", inst.InstanceID, "phase", artifactPhase, "error", err)
	}

	outcome, err := p.deps.Runner.Run(ctx, gradle.RunOptions{
		InstanceID:  inst.InstanceID,
		Phase:       gradlePhase,
		WorkDir:     workDir,
		ProjectRoot: repoPath,
		TestPatch:   inst.TestPatch,
		JavaVersion: buildConfig.JavaVersion,
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to run %s tests: %v", artifactPhase, err)
		return nil
	}

	execCopy := outcome.Execution
	switch artifactPhase {
	case report.PhasePre:
		result.PreTestExecution = &execCopy
		result.PreGradleCommand = outcome.GradleCommand
	case report.PhasePost:
		result.PostTestExecution = &execCopy
		result.PostGradleCommand = outcome.GradleCommand
	}
	result.SkippedInstrumentedTests = append(result.SkippedInstrumentedTests,
		outcome.SkippedInstrumented...)

	if err := p.deps.Store.SaveTestLogs(inst.InstanceID, artifactPhase, execCopy.RawOutput); err != nil {
		p.log.Warn("Failed to save test logs", "instance_id", inst.InstanceID, "error", err)
	}
	if err := p.deps.Store.SaveTestResults(inst.InstanceID, artifactPhase, &execCopy, outcome.GradleCommand); err != nil {
		p.log.Warn("Failed to save test results", "instance_id", inst.InstanceID, "error", err)
	}
	return outcome
}

// stageCleanWorkspace clones the repository fresh at the base commit,
// copies it to /workspace_clean inside the container, and applies the
// test and solution patches there. The pre-solution /workspace is left
// untouched.
func (p *Pipeline) stageCleanWorkspace(ctx context.Context, inst dataset.Instance,
	result *report.InstanceResult) bool {

	cleanPath, err := p.deps.Cloner.CloneAtCommit(ctx, inst.Repo, inst.InstanceID, inst.BaseCommit)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to clone fresh repository for post-solution tests: %v", err)
		return false
	}
	defer p.deps.Cloner.Cleanup(ctx, cleanPath)

	if err := p.deps.Containers.CopyIn(ctx, inst.InstanceID, cleanPath, cleanWorkspace); err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to copy fresh repository to container: %v", err)
		return false
	}

	if _, err := p.deps.Stager.ApplyPatch(ctx, inst.InstanceID, repo.ApplyOptions{
		Patch:   inst.TestPatch,
		Name:    "test_patch_clean",
		WorkDir: cleanWorkspace,
	}); err != nil {
		result.ErrorMessage = "Failed to apply test patch to fresh clone"
		return false
	}

	output, err := p.deps.Stager.ApplyPatch(ctx, inst.InstanceID, repo.ApplyOptions{
		Patch:   inst.SolutionPatch,
		Name:    "solution_patch",
		WorkDir: cleanWorkspace,
	})
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to apply solution patch to fresh clone: %s", output)
		return false
	}
	result.SolutionPatchApplied = true
	return true
}

// buildStepTargets extracts the Gradle task arguments from a full
// invocation so stub validation compiles the same targets. The repair
// engine adds its own daemon and stacktrace flags.
func buildStepTargets(gradleCommand string) string {
	targets := strings.TrimPrefix(gradleCommand, "./gradlew ")
	targets = strings.TrimSuffix(targets, " --no-daemon --stacktrace --continue --parallel")
	return targets
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
