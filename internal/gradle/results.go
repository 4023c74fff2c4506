// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gradle

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Result Types
// =============================================================================

// Test outcome statuses as reported by JUnit XML.
const (
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusSkipped = "SKIPPED"
	StatusError   = "ERROR"
)

// TestCase is a single test outcome recovered from a JUnit XML report.
type TestCase struct {
	// TestName is the test method name.
	TestName string `json:"test_name"`

	// ClassName is the fully qualified test class.
	ClassName string `json:"class_name"`

	// Status is one of PASSED, FAILED, SKIPPED, ERROR.
	Status string `json:"status"`

	// Duration is the per-test runtime in seconds.
	Duration float64 `json:"duration"`

	// FailureMessage holds the <failure> body when Status is FAILED.
	FailureMessage string `json:"failure_message,omitempty"`

	// ErrorMessage holds the <error> body when Status is ERROR.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Key identifies the test across phases as "{class}.{method}".
func (t TestCase) Key() string {
	return t.ClassName + "." + t.TestName
}

// ExecutionResult summarizes one test phase.
type ExecutionResult struct {
	TotalTests      int           `json:"total_tests"`
	Passed          int           `json:"passed"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	Errors          int           `json:"errors"`
	Duration        time.Duration `json:"duration"`
	ExitCode        int           `json:"exit_code"`
	RawOutput       string        `json:"-"`
	Tests           []TestCase    `json:"test_results"`
	BuildSuccessful bool          `json:"build_successful"`
}

// BuildResult captures a compile-only Gradle run.
type BuildResult struct {
	Success       bool          `json:"success"`
	ExitCode      int           `json:"exit_code"`
	Output        string        `json:"-"`
	Duration      time.Duration `json:"duration"`
	GradleCommand string        `json:"gradle_command,omitempty"`
}

// =============================================================================
// Output Analysis
// =============================================================================

// compileFailureSignatures mark output as a build failure regardless of
// exit code. Gradle's --continue can exit zero after compile errors, so
// these are always checked before any success marker.
var compileFailureSignatures = []string{
	"compilation failed",
	"could not compile",
	"cannot find symbol",
	"package does not exist",
	"build failed",
	"compilation error",
	"execution failed for task",
}

// testExecutionIndicators show that the test runner actually started,
// which counts as success even when individual tests fail.
var testExecutionIndicators = []string{
	"test results",
	"tests completed",
	"build successful",
	"test-*.xml",
	"test summary",
	"tests ran",
	"> task :test",
	"xml result:",
	"test execution summary",
}

// AnalyzeRunSuccess decides whether a test run executed tests.
//
// # Description
//
// Success means the test runner ran, not that every test passed.
// Compile-failure signatures are checked first and always win: a zero
// exit with "Execution failed for task" in the log is still a failure.
// Otherwise any execution indicator, or a clean zero exit, is success.
//
// # Inputs
//
//   - output: Combined Gradle output
//   - exitCode: Exit code of the in-container command
//
// # Outputs
//
//   - bool: true when tests executed
func AnalyzeRunSuccess(output string, exitCode int) bool {
	lower := strings.ToLower(output)

	for _, sig := range compileFailureSignatures {
		if strings.Contains(lower, sig) {
			return false
		}
	}
	for _, ind := range testExecutionIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return exitCode == 0
}

// HasCompileFailure reports whether output carries a compile-failure
// signature. Used to decide whether stub repair should run.
func HasCompileFailure(output string) bool {
	lower := strings.ToLower(output)
	for _, sig := range compileFailureSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// =============================================================================
// JUnit XML Recovery
// =============================================================================

var (
	xmlSectionPattern = regexp.MustCompile(`(?s)=== XML(?:\s+FILE)?:\s*(.+?)\s*===\s*\n(.*?)\n=== END`)
	testResultPattern = regexp.MustCompile(`(?s)=== TEST RESULT:\s*(.+?)\s*===\s*\n(.*?)\n=== END`)

	testcasePattern = regexp.MustCompile(`(?s)<testcase[^>]*name="([^"]+)"[^>]*classname="([^"]+)"[^>]*(?:time="([^"]*)")?[^>]*(?:/>|>(.*?)</testcase>)`)
	failurePattern  = regexp.MustCompile(`(?s)<failure[^>]*>(.*?)</failure>`)
	errorPattern    = regexp.MustCompile(`(?s)<error[^>]*>(.*?)</error>`)
)

// ParseTestResults recovers per-test outcomes from a test phase's output.
//
// # Description
//
// The test script cats every JUnit XML file into stdout between marker
// lines; this extracts each section and parses testcase elements with a
// tolerant pattern (reports are routinely truncated mid-element when
// the run times out). Tests appearing in multiple reports, which
// happens when both TEST-*.xml and test-results trees are collected,
// are deduplicated by class and method with first occurrence winning.
//
// # Inputs
//
//   - output: Combined output from a TestScript run
//
// # Outputs
//
//   - []TestCase: Unique test outcomes in encounter order
func ParseTestResults(output string) []TestCase {
	var sections [][]string
	for _, m := range xmlSectionPattern.FindAllStringSubmatch(output, -1) {
		sections = append(sections, m)
	}
	for _, m := range testResultPattern.FindAllStringSubmatch(output, -1) {
		sections = append(sections, m)
	}

	seen := make(map[string]bool)
	var results []TestCase
	for _, section := range sections {
		for _, test := range parseXMLContent(section[2]) {
			key := test.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, test)
		}
	}
	return results
}

func parseXMLContent(xml string) []TestCase {
	var results []TestCase
	for _, m := range testcasePattern.FindAllStringSubmatch(xml, -1) {
		test := TestCase{
			TestName:  strings.TrimSpace(m[1]),
			ClassName: strings.TrimSpace(m[2]),
			Status:    StatusPassed,
		}
		if m[3] != "" {
			if d, err := strconv.ParseFloat(m[3], 64); err == nil {
				test.Duration = d
			}
		}

		body := m[4]
		switch {
		case strings.Contains(body, "<failure"):
			test.Status = StatusFailed
			if fm := failurePattern.FindStringSubmatch(body); fm != nil {
				test.FailureMessage = strings.TrimSpace(fm[1])
			}
		case strings.Contains(body, "<error"):
			test.Status = StatusError
			if em := errorPattern.FindStringSubmatch(body); em != nil {
				test.ErrorMessage = strings.TrimSpace(em[1])
			}
		case strings.Contains(body, "<skipped"):
			test.Status = StatusSkipped
		}
		results = append(results, test)
	}
	return results
}

// NewExecutionResult tallies parsed tests into a phase summary.
func NewExecutionResult(tests []TestCase, exitCode int, rawOutput string, duration time.Duration) ExecutionResult {
	result := ExecutionResult{
		TotalTests: len(tests),
		Duration:   duration,
		ExitCode:   exitCode,
		RawOutput:  rawOutput,
		Tests:      tests,
	}
	for _, t := range tests {
		switch t.Status {
		case StatusPassed:
			result.Passed++
		case StatusFailed:
			result.Failed++
		case StatusSkipped:
			result.Skipped++
		case StatusError:
			result.Errors++
		}
	}
	result.BuildSuccessful = strings.Contains(rawOutput, "BUILD SUCCESSFUL") ||
		(!strings.Contains(rawOutput, "BUILD FAILED") && exitCode == 0)
	return result
}

// EmptyExecutionResult returns the vacuous-success result used when a
// patch contains no runnable unit tests.
func EmptyExecutionResult(reason string) ExecutionResult {
	return ExecutionResult{
		RawOutput:       reason,
		BuildSuccessful: true,
	}
}
