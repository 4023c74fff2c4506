// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Fakorede/mobile-bench-sub000/internal/gradle"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// Test phase labels used in per-instance artifact names.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// ErrNoAnalysis is returned by ReconstructResult when an instance
// directory has no test_analysis.json to rebuild from.
var ErrNoAnalysis = errors.New("no test analysis file for instance")

// Store writes and reads per-instance validation artifacts under a run's
// output directory. One subdirectory per instance ID.
type Store struct {
	outputDir string
	log       *logging.Logger
}

// NewStore creates a Store rooted at outputDir, creating it if needed.
func NewStore(outputDir string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", outputDir, err)
	}
	return &Store{outputDir: outputDir, log: log}, nil
}

// OutputDir returns the run's root output directory.
func (s *Store) OutputDir() string { return s.outputDir }

// InstanceDir returns (and creates) the artifact directory for one
// instance.
func (s *Store) InstanceDir(instanceID string) (string, error) {
	dir := filepath.Join(s.outputDir, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create instance dir %s: %w", dir, err)
	}
	return dir, nil
}

func (s *Store) writeJSON(instanceID, name string, v any) error {
	dir, err := s.InstanceDir(instanceID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s for %s: %w", name, instanceID, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SaveInstanceResult writes the full result record as
// validation_result.json.
func (s *Store) SaveInstanceResult(result *InstanceResult) error {
	return s.writeJSON(result.InstanceID, "validation_result.json", result)
}

// SaveTestLogs writes raw Gradle output as test_logs_<phase>.txt.
func (s *Store) SaveTestLogs(instanceID, phase, logs string) error {
	dir, err := s.InstanceDir(instanceID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("test_logs_%s.txt", phase))
	if err := os.WriteFile(path, []byte(logs), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.log.Info("Saved test logs", "instance_id", instanceID, "phase", phase, "path", path)
	return nil
}

// testResultsFile is the on-disk shape of test_results_<phase>.json.
type testResultsFile struct {
	Phase           string            `json:"phase"`
	Summary         testResultSummary `json:"summary"`
	IndividualTests []individualTest  `json:"individual_tests"`
	PassedTests     []string          `json:"passed_tests"`
	FailedTests     []string          `json:"failed_tests"`
	SkippedTests    []string          `json:"skipped_tests"`
}

type testResultSummary struct {
	TotalTests      int     `json:"total_tests"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	Errors          int     `json:"errors"`
	Duration        float64 `json:"duration"`
	ExitCode        int     `json:"exit_code"`
	BuildSuccessful bool    `json:"build_successful"`
	GradleCommand   string  `json:"gradle_command,omitempty"`
}

type individualTest struct {
	TestName       string  `json:"test_name"`
	ClassName      string  `json:"class_name"`
	FullName       string  `json:"full_name"`
	Status         string  `json:"status"`
	Duration       float64 `json:"duration"`
	FailureMessage string  `json:"failure_message,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// SaveTestResults writes the parsed per-test outcomes of one phase as
// test_results_<phase>.json, alongside flat passed/failed/skipped name
// lists for quick grepping.
func (s *Store) SaveTestResults(instanceID, phase string, exec *gradle.ExecutionResult, gradleCommand string) error {
	file := testResultsFile{
		Phase: phase,
		Summary: testResultSummary{
			TotalTests:      exec.TotalTests,
			Passed:          exec.Passed,
			Failed:          exec.Failed,
			Skipped:         exec.Skipped,
			Errors:          exec.Errors,
			Duration:        exec.Duration.Seconds(),
			ExitCode:        exec.ExitCode,
			BuildSuccessful: exec.BuildSuccessful,
			GradleCommand:   gradleCommand,
		},
		PassedTests:  []string{},
		FailedTests:  []string{},
		SkippedTests: []string{},
	}

	for _, t := range exec.Tests {
		full := t.ClassName + "." + t.TestName
		file.IndividualTests = append(file.IndividualTests, individualTest{
			TestName:       t.TestName,
			ClassName:      t.ClassName,
			FullName:       full,
			Status:         t.Status,
			Duration:       t.Duration,
			FailureMessage: t.FailureMessage,
			ErrorMessage:   t.ErrorMessage,
		})
		switch {
		case t.Status == gradle.StatusPassed:
			file.PassedTests = append(file.PassedTests, full)
		case failedStatus(t.Status):
			file.FailedTests = append(file.FailedTests, full)
		case t.Status == gradle.StatusSkipped:
			file.SkippedTests = append(file.SkippedTests, full)
		}
	}

	if err := s.writeJSON(instanceID, fmt.Sprintf("test_results_%s.json", phase), file); err != nil {
		return err
	}
	s.log.Info("Saved test results", "instance_id", instanceID, "phase", phase,
		"passed", exec.Passed, "failed", exec.Failed, "skipped", exec.Skipped)
	return nil
}

// testAnalysisFile is the on-disk shape of test_analysis.json, the file
// resume runs rebuild completed results from.
type testAnalysisFile struct {
	TestTransitions struct {
		FailToPass transitionBucket `json:"fail_to_pass"`
		PassToPass transitionBucket `json:"pass_to_pass"`
		PassToFail transitionBucket `json:"pass_to_fail"`
		FailToFail transitionBucket `json:"fail_to_fail"`
	} `json:"test_transitions"`
	ExecutionSummary struct {
		Pre  phaseSummary `json:"pre_execution"`
		Post phaseSummary `json:"post_execution"`
	} `json:"execution_summary"`
	SkippedInstrumented struct {
		Count int      `json:"count"`
		Tests []string `json:"tests"`
	} `json:"skipped_instrumented_tests"`
}

type transitionBucket struct {
	Count int      `json:"count"`
	Tests []string `json:"tests"`
}

type phaseSummary struct {
	PassedCount   int      `json:"passed_count"`
	FailedCount   int      `json:"failed_count"`
	PassedTests   []string `json:"passed_tests"`
	FailedTests   []string `json:"failed_tests"`
	GradleCommand string   `json:"gradle_command"`
}

func emptyIfNil(tests []string) []string {
	if tests == nil {
		return []string{}
	}
	return tests
}

// SaveTestAnalysis writes the transition analysis as test_analysis.json.
func (s *Store) SaveTestAnalysis(result *InstanceResult) error {
	var file testAnalysisFile
	file.TestTransitions.FailToPass = transitionBucket{result.FailToPassCount, emptyIfNil(result.FailToPassTests)}
	file.TestTransitions.PassToPass = transitionBucket{result.PassToPassCount, emptyIfNil(result.PassToPassTests)}
	file.TestTransitions.PassToFail = transitionBucket{result.PassToFailCount, emptyIfNil(result.PassToFailTests)}
	file.TestTransitions.FailToFail = transitionBucket{result.FailToFailCount, emptyIfNil(result.FailToFailTests)}
	file.ExecutionSummary.Pre = phaseSummary{
		PassedCount:   len(result.PrePassedTests),
		FailedCount:   len(result.PreFailedTests),
		PassedTests:   emptyIfNil(result.PrePassedTests),
		FailedTests:   emptyIfNil(result.PreFailedTests),
		GradleCommand: result.PreGradleCommand,
	}
	file.ExecutionSummary.Post = phaseSummary{
		PassedCount:   len(result.PostPassedTests),
		FailedCount:   len(result.PostFailedTests),
		PassedTests:   emptyIfNil(result.PostPassedTests),
		FailedTests:   emptyIfNil(result.PostFailedTests),
		GradleCommand: result.PostGradleCommand,
	}
	file.SkippedInstrumented.Count = len(result.SkippedInstrumentedTests)
	file.SkippedInstrumented.Tests = emptyIfNil(result.SkippedInstrumentedTests)

	if err := s.writeJSON(result.InstanceID, "test_analysis.json", file); err != nil {
		return err
	}
	s.log.Info("Saved test analysis", "instance_id", result.InstanceID)
	return nil
}

// ReconstructResult rebuilds a completed instance's result from its
// saved test_analysis.json, for resume runs where the in-memory result
// is gone.
//
// # Edge Cases
//
//   - Missing instance dir or analysis file: ErrNoAnalysis, so callers
//     can fall through to re-validating the instance.
//   - Only analysis-level fields are restored; stage flags and raw
//     executions are not, which matches what the aggregate report needs.
func (s *Store) ReconstructResult(instanceID string) (*InstanceResult, error) {
	path := filepath.Join(s.outputDir, instanceID, "test_analysis.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoAnalysis, instanceID)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file testAnalysisFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	result := &InstanceResult{
		InstanceID:               instanceID,
		Success:                  true,
		FailToPassCount:          file.TestTransitions.FailToPass.Count,
		PassToPassCount:          file.TestTransitions.PassToPass.Count,
		PassToFailCount:          file.TestTransitions.PassToFail.Count,
		FailToFailCount:          file.TestTransitions.FailToFail.Count,
		FailToPassTests:          file.TestTransitions.FailToPass.Tests,
		PassToPassTests:          file.TestTransitions.PassToPass.Tests,
		PassToFailTests:          file.TestTransitions.PassToFail.Tests,
		FailToFailTests:          file.TestTransitions.FailToFail.Tests,
		PrePassedTests:           file.ExecutionSummary.Pre.PassedTests,
		PreFailedTests:           file.ExecutionSummary.Pre.FailedTests,
		PostPassedTests:          file.ExecutionSummary.Post.PassedTests,
		PostFailedTests:          file.ExecutionSummary.Post.FailedTests,
		PreGradleCommand:         file.ExecutionSummary.Pre.GradleCommand,
		PostGradleCommand:        file.ExecutionSummary.Post.GradleCommand,
		SkippedInstrumentedTests: file.SkippedInstrumented.Tests,
	}
	return result, nil
}
