// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package report owns validation run output: per-instance result and
// analysis files, run-level progress and statistics for resume, periodic
// checkpoints, and the final summary pair (JSON plus human-readable
// text).
//
// The package also defines InstanceResult, the record every pipeline
// stage writes into. It lives here rather than in the orchestrator so
// writers and readers share one type without an import cycle.
package report

import (
	"sort"

	"github.com/Fakorede/mobile-bench-sub000/internal/gradle"
	"github.com/Fakorede/mobile-bench-sub000/internal/stubrepair"
)

// InstanceResult records everything that happened while validating one
// task instance, stage by stage.
type InstanceResult struct {
	InstanceID   string `json:"instance_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Stage progress flags. Each flips true as the pipeline clears the
	// corresponding stage, so a failed result shows exactly how far it
	// got.
	RepoCloned           bool `json:"repo_cloned"`
	ConfigParsed         bool `json:"config_parsed"`
	ContainerCreated     bool `json:"container_created"`
	BaseCommitCheckedOut bool `json:"base_commit_checked_out"`
	TestPatchApplied     bool `json:"test_patch_applied"`
	SolutionPatchApplied bool `json:"solution_patch_applied"`

	BuildResult      *gradle.BuildResult `json:"build_result,omitempty"`
	RetryBuildResult *gradle.BuildResult `json:"retry_build_result,omitempty"`
	StubRepair       *stubrepair.Result  `json:"stub_generation_result,omitempty"`

	PreTestExecution  *gradle.ExecutionResult `json:"pre_test_execution,omitempty"`
	PostTestExecution *gradle.ExecutionResult `json:"post_test_execution,omitempty"`

	// Gradle invocations for each test phase, kept for the analysis
	// file so reruns can be reproduced by hand.
	PreGradleCommand  string `json:"pre_gradle_command,omitempty"`
	PostGradleCommand string `json:"post_gradle_command,omitempty"`

	FailToPassTests []string `json:"fail_to_pass_tests"`
	PassToPassTests []string `json:"pass_to_pass_tests"`
	PassToFailTests []string `json:"pass_to_fail_tests"`
	FailToFailTests []string `json:"fail_to_fail_tests"`

	PrePassedTests  []string `json:"pre_passed_tests"`
	PreFailedTests  []string `json:"pre_failed_tests"`
	PostPassedTests []string `json:"post_passed_tests"`
	PostFailedTests []string `json:"post_failed_tests"`

	SkippedInstrumentedTests []string `json:"skipped_instrumented_tests"`

	FailToPassCount int `json:"fail_to_pass_count"`
	PassToPassCount int `json:"pass_to_pass_count"`
	PassToFailCount int `json:"pass_to_fail_count"`
	FailToFailCount int `json:"fail_to_fail_count"`

	// TotalDuration is wall-clock seconds for the whole instance.
	TotalDuration float64 `json:"total_duration"`
}

// failedStatus treats ERROR like FAILED for transition purposes.
func failedStatus(status string) bool {
	return status == gradle.StatusFailed || status == gradle.StatusError
}

// ComputeTransitions classifies every test seen in either phase by its
// pre-solution and post-solution status.
//
// # Description
//
//	Tests are keyed "Class.method". The four buckets are fail-to-pass
//	(the solution fixed it), pass-to-pass (unaffected), pass-to-fail
//	(the solution broke it) and fail-to-fail (still broken). A test
//	present in only one phase is excluded from all buckets: patches
//	introduce new tests and remove old ones, and neither case says
//	anything about the solution.
//
// # Edge Cases
//
//   - Either execution missing: a no-op, all buckets stay empty.
//   - Bucket and phase lists are sorted so artifacts diff cleanly
//     between runs.
func (r *InstanceResult) ComputeTransitions() {
	if r.PreTestExecution == nil || r.PostTestExecution == nil {
		return
	}

	pre := make(map[string]string, len(r.PreTestExecution.Tests))
	for _, t := range r.PreTestExecution.Tests {
		pre[t.ClassName+"."+t.TestName] = t.Status
	}
	post := make(map[string]string, len(r.PostTestExecution.Tests))
	for _, t := range r.PostTestExecution.Tests {
		post[t.ClassName+"."+t.TestName] = t.Status
	}

	all := make([]string, 0, len(pre)+len(post))
	seen := make(map[string]bool, len(pre)+len(post))
	for name := range pre {
		seen[name] = true
		all = append(all, name)
	}
	for name := range post {
		if !seen[name] {
			all = append(all, name)
		}
	}
	sort.Strings(all)

	r.FailToPassTests = nil
	r.PassToPassTests = nil
	r.PassToFailTests = nil
	r.FailToFailTests = nil

	for _, name := range all {
		preStatus, inPre := pre[name]
		postStatus, inPost := post[name]
		if !inPre || !inPost {
			continue
		}
		switch {
		case failedStatus(preStatus) && postStatus == gradle.StatusPassed:
			r.FailToPassTests = append(r.FailToPassTests, name)
		case preStatus == gradle.StatusPassed && postStatus == gradle.StatusPassed:
			r.PassToPassTests = append(r.PassToPassTests, name)
		case preStatus == gradle.StatusPassed && failedStatus(postStatus):
			r.PassToFailTests = append(r.PassToFailTests, name)
		case failedStatus(preStatus) && failedStatus(postStatus):
			r.FailToFailTests = append(r.FailToFailTests, name)
		}
	}

	r.FailToPassCount = len(r.FailToPassTests)
	r.PassToPassCount = len(r.PassToPassTests)
	r.PassToFailCount = len(r.PassToFailTests)
	r.FailToFailCount = len(r.FailToFailTests)

	r.PrePassedTests, r.PreFailedTests = splitByStatus(r.PreTestExecution.Tests)
	r.PostPassedTests, r.PostFailedTests = splitByStatus(r.PostTestExecution.Tests)
}

func splitByStatus(tests []gradle.TestCase) (passed, failed []string) {
	for _, t := range tests {
		name := t.ClassName + "." + t.TestName
		switch {
		case t.Status == gradle.StatusPassed:
			passed = append(passed, name)
		case failedStatus(t.Status):
			failed = append(failed, name)
		}
	}
	sort.Strings(passed)
	sort.Strings(failed)
	return passed, failed
}
