// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// Run-state file names under the output directory.
const (
	ProgressFile   = "validation_progress.json"
	StatisticsFile = "incremental_statistics.json"
	CheckpointFile = "validation_checkpoint.json"
	SummaryFile    = "final_validation_summary.json"
	ReportFile     = "validation_report.txt"
)

// Statistics is the running aggregate saved to
// incremental_statistics.json after every instance.
type Statistics struct {
	Metadata struct {
		StartTime          string  `json:"start_time"`
		LastUpdate         string  `json:"last_update,omitempty"`
		CompletedInstances int     `json:"completed_instances"`
		SuccessRate        float64 `json:"success_rate"`
	} `json:"metadata"`
	TestStatistics struct {
		TotalTestsFixed          int            `json:"total_tests_fixed"`
		TotalTestsBroken         int            `json:"total_tests_broken"`
		TotalInstrumentedSkipped int            `json:"total_instrumented_skipped"`
		TransitionCounts         map[string]int `json:"transition_counts"`
		UniqueTestsFound         []string       `json:"unique_tests_found"`
	} `json:"test_statistics"`
	PerformanceMetrics struct {
		InstanceDurations map[string]float64 `json:"instance_durations"`
	} `json:"performance_metrics"`
}

// Tracker carries a run's resumable state: which instances finished,
// which failed, and the aggregate statistics so far. All saves are
// best-effort; a failed write is logged and never aborts validation.
//
// # Thread Safety
//
// Not safe for concurrent use. The orchestrator funnels all result
// recording through a single goroutine.
type Tracker struct {
	store *Store
	log   *logging.Logger

	// Completed and Failed hold instance IDs by final outcome.
	Completed map[string]bool
	Failed    map[string]bool

	stats       Statistics
	uniqueTests map[string]bool
}

// NewTracker creates a Tracker over the store's output directory and
// loads any progress a previous run left behind.
func NewTracker(store *Store, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Default()
	}
	t := &Tracker{
		store:       store,
		log:         log,
		Completed:   make(map[string]bool),
		Failed:      make(map[string]bool),
		uniqueTests: make(map[string]bool),
	}
	t.stats.Metadata.StartTime = time.Now().Format(time.RFC3339)
	t.stats.TestStatistics.TransitionCounts = map[string]int{
		"fail_to_pass": 0,
		"pass_to_pass": 0,
		"pass_to_fail": 0,
		"fail_to_fail": 0,
	}
	t.stats.PerformanceMetrics.InstanceDurations = make(map[string]float64)
	t.loadProgress()
	return t
}

// progressFile is the on-disk shape of validation_progress.json.
type progressFile struct {
	CompletedInstances []string `json:"completed_instances"`
	FailedInstances    []string `json:"failed_instances"`
	LastUpdate         string   `json:"last_update"`
}

func (t *Tracker) loadProgress() {
	path := filepath.Join(t.store.OutputDir(), ProgressFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var progress progressFile
	if err := json.Unmarshal(data, &progress); err != nil {
		t.log.Warn("Could not load progress", "path", path, "error", err)
		return
	}
	for _, id := range progress.CompletedInstances {
		t.Completed[id] = true
	}
	for _, id := range progress.FailedInstances {
		t.Failed[id] = true
	}
	t.log.Info("Loaded progress",
		"completed", len(t.Completed), "failed", len(t.Failed))

	statsPath := filepath.Join(t.store.OutputDir(), StatisticsFile)
	if data, err := os.ReadFile(statsPath); err == nil {
		var stats Statistics
		if err := json.Unmarshal(data, &stats); err == nil {
			t.stats = stats
			for _, name := range stats.TestStatistics.UniqueTestsFound {
				t.uniqueTests[name] = true
			}
			t.log.Info("Loaded previous statistics")
		}
	}
}

// ClearState deletes progress, checkpoint, and statistics files for a
// forced restart.
func (t *Tracker) ClearState() {
	for _, name := range []string{ProgressFile, CheckpointFile, StatisticsFile} {
		path := filepath.Join(t.store.OutputDir(), name)
		if err := os.Remove(path); err == nil {
			t.log.Info("Cleared state file", "path", path)
		}
	}
	t.Completed = make(map[string]bool)
	t.Failed = make(map[string]bool)
}

// Record folds one finished instance into the run state and persists
// progress plus statistics.
func (t *Tracker) Record(result *InstanceResult) {
	if result.Success {
		t.Completed[result.InstanceID] = true
		t.updateStatistics(result)
	} else {
		t.Failed[result.InstanceID] = true
	}
	t.saveProgress()
	t.saveStatistics()
}

func (t *Tracker) updateStatistics(result *InstanceResult) {
	t.stats.Metadata.CompletedInstances++

	ts := &t.stats.TestStatistics
	ts.TotalTestsFixed += result.FailToPassCount
	ts.TotalTestsBroken += result.PassToFailCount
	ts.TotalInstrumentedSkipped += len(result.SkippedInstrumentedTests)
	ts.TransitionCounts["fail_to_pass"] += result.FailToPassCount
	ts.TransitionCounts["pass_to_pass"] += result.PassToPassCount
	ts.TransitionCounts["pass_to_fail"] += result.PassToFailCount
	ts.TransitionCounts["fail_to_fail"] += result.FailToFailCount

	for _, list := range [][]string{
		result.PrePassedTests, result.PreFailedTests,
		result.PostPassedTests, result.PostFailedTests,
	} {
		for _, name := range list {
			t.uniqueTests[name] = true
		}
	}

	t.stats.PerformanceMetrics.InstanceDurations[result.InstanceID] = result.TotalDuration

	completed := t.stats.Metadata.CompletedInstances
	total := completed + len(t.Failed)
	if total > 0 {
		t.stats.Metadata.SuccessRate = float64(completed) / float64(total)
	}
}

func (t *Tracker) saveProgress() {
	progress := progressFile{
		CompletedInstances: sortedIDs(t.Completed),
		FailedInstances:    sortedIDs(t.Failed),
		LastUpdate:         time.Now().Format(time.RFC3339),
	}
	t.writeRunFile(ProgressFile, progress)
}

func (t *Tracker) saveStatistics() {
	t.stats.Metadata.LastUpdate = time.Now().Format(time.RFC3339)
	t.stats.TestStatistics.UniqueTestsFound = sortedIDs(t.uniqueTests)
	t.writeRunFile(StatisticsFile, t.stats)
}

// SaveCheckpoint writes a full snapshot of all results so far. Called
// periodically, not per instance.
func (t *Tracker) SaveCheckpoint(results map[string]*InstanceResult) {
	type resultSummary struct {
		Success       bool    `json:"success"`
		ErrorMessage  string  `json:"error_message,omitempty"`
		TotalDuration float64 `json:"total_duration"`
		TestsFixed    int     `json:"tests_fixed"`
		TestsBroken   int     `json:"tests_broken"`
	}

	summaries := make(map[string]resultSummary, len(results))
	for id, r := range results {
		summary := resultSummary{
			Success:       r.Success,
			ErrorMessage:  r.ErrorMessage,
			TotalDuration: r.TotalDuration,
		}
		if r.Success {
			summary.TestsFixed = r.FailToPassCount
			summary.TestsBroken = r.PassToFailCount
		}
		summaries[id] = summary
	}

	checkpoint := map[string]any{
		"timestamp":           time.Now().Format(time.RFC3339),
		"completed_instances": sortedIDs(t.Completed),
		"failed_instances":    sortedIDs(t.Failed),
		"current_statistics":  t.stats,
		"results_summary":     summaries,
	}
	t.writeRunFile(CheckpointFile, checkpoint)
	t.log.Info("Saved checkpoint", "results", len(results))
}

func (t *Tracker) writeRunFile(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.log.Error("Failed to marshal run file", "name", name, "error", err)
		return
	}
	path := filepath.Join(t.store.OutputDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.log.Error("Failed to save run file", "path", path, "error", err)
	}
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// Final Summary and Report
// =============================================================================

// WriteFinalSummary writes final_validation_summary.json and the
// matching human-readable validation_report.txt from all results of the
// run, reconstructed ones included.
func (t *Tracker) WriteFinalSummary(results map[string]*InstanceResult) error {
	var successful, failed []*InstanceResult
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		} else {
			failed = append(failed, r)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].InstanceID < failed[j].InstanceID })

	total := len(results)
	successRate := 0.0
	if total > 0 {
		successRate = float64(len(successful)) / float64(total) * 100
	}

	var failToPass, passToPass, passToFail, failToFail int
	uniqueTests := make(map[string]bool)
	for _, r := range successful {
		failToPass += r.FailToPassCount
		passToPass += r.PassToPassCount
		passToFail += r.PassToFailCount
		failToFail += r.FailToFailCount
		for _, list := range [][]string{
			r.PrePassedTests, r.PreFailedTests, r.PostPassedTests, r.PostFailedTests,
		} {
			for _, name := range list {
				uniqueTests[name] = true
			}
		}
	}

	var totalDuration float64
	longest, shortest := "", ""
	longestDur, shortestDur := -1.0, -1.0
	for _, r := range results {
		totalDuration += r.TotalDuration
		if r.TotalDuration > longestDur {
			longest, longestDur = r.InstanceID, r.TotalDuration
		}
		if shortestDur < 0 || r.TotalDuration < shortestDur {
			shortest, shortestDur = r.InstanceID, r.TotalDuration
		}
	}
	avgDuration := 0.0
	if total > 0 {
		avgDuration = totalDuration / float64(total)
	}

	summary := map[string]any{
		"validation_metadata": map[string]any{
			"completion_time":      time.Now().Format(time.RFC3339),
			"total_duration_hours": totalDuration / 3600,
			"execution_summary": fmt.Sprintf("Completed %d/%d instances successfully",
				len(successful), total),
		},
		"overall_statistics": map[string]any{
			"total_instances": total,
			"successful":      len(successful),
			"failed":          len(failed),
			"success_rate":    successRate,
		},
		"test_transition_statistics": map[string]any{
			"fail_to_pass": failToPass,
			"pass_to_pass": passToPass,
			"pass_to_fail": passToFail,
			"fail_to_fail": failToFail,
			"summary": map[string]any{
				"total_tests_fixed":         failToPass,
				"total_tests_broken":        passToFail,
				"total_tests_maintained":    passToPass,
				"total_tests_still_failing": failToFail,
				"unique_tests_found":        len(uniqueTests),
			},
		},
		"performance_metrics": map[string]any{
			"avg_duration_seconds": avgDuration,
			"total_duration_hours": totalDuration / 3600,
			"longest_instance":     longest,
			"shortest_instance":    shortest,
		},
		"detailed_results": results,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal final summary: %w", err)
	}
	summaryPath := filepath.Join(t.store.OutputDir(), SummaryFile)
	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", summaryPath, err)
	}

	report := t.renderTextReport(total, len(successful), failed, successRate,
		failToPass, passToPass, passToFail, failToFail, len(uniqueTests),
		avgDuration, totalDuration)
	reportPath := filepath.Join(t.store.OutputDir(), ReportFile)
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", reportPath, err)
	}

	t.log.Info("Generated final report", "path", reportPath)
	return nil
}

func (t *Tracker) renderTextReport(total, successful int, failed []*InstanceResult,
	successRate float64, failToPass, passToPass, passToFail, failToFail, uniqueTests int,
	avgDuration, totalDuration float64) string {

	lines := []string{
		"AndroidBench Validation Report",
		strings.Repeat("=", 60),
		fmt.Sprintf("Execution completed: %s", time.Now().Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Total runtime: %.2f hours", totalDuration/3600),
		"",
		"Overall Results:",
		strings.Repeat("-", 16),
		fmt.Sprintf("Total Instances: %d", total),
		fmt.Sprintf("Successful: %d", successful),
		fmt.Sprintf("Failed: %d", len(failed)),
		fmt.Sprintf("Success Rate: %.1f%%", successRate),
		"",
		"Test Statistics:",
		strings.Repeat("-", 16),
		fmt.Sprintf("Unique Tests Found: %d", uniqueTests),
		fmt.Sprintf("Total Tests Fixed: %d", failToPass),
		fmt.Sprintf("Total Tests Broken: %d", passToFail),
		fmt.Sprintf("Total Tests Maintained: %d", passToPass),
		fmt.Sprintf("Total Tests Still Failing: %d", failToFail),
		"",
		"Test Transition Summary:",
		strings.Repeat("-", 23),
		fmt.Sprintf("  Tests Fixed (Fail→Pass): %d", failToPass),
		fmt.Sprintf("  Tests Maintained (Pass→Pass): %d", passToPass),
		fmt.Sprintf("  Tests Broken (Pass→Fail): %d", passToFail),
		fmt.Sprintf("  Tests Still Failing (Fail→Fail): %d", failToFail),
		"",
		"Performance Metrics:",
		strings.Repeat("-", 20),
		fmt.Sprintf("Average Instance Duration: %.1fs", avgDuration),
		fmt.Sprintf("Total Execution Time: %.2fh", totalDuration/3600),
		"",
	}

	if len(failed) > 0 {
		lines = append(lines, "Failed Instances:", strings.Repeat("-", 17))
		for _, r := range failed {
			lines = append(lines, fmt.Sprintf("  - %s: %s", r.InstanceID, r.ErrorMessage))
		}
		lines = append(lines, "")
	}

	lines = append(lines,
		"Files Generated:",
		strings.Repeat("-", 16),
		"  - final_validation_summary.json: Comprehensive results",
		"  - validation_report.txt: This human-readable report",
		"  - incremental_statistics.json: Running statistics",
		"  - validation_progress.json: Execution progress",
		"  - Individual instance directories with detailed test analysis",
		"",
		"Resume Information:",
		strings.Repeat("-", 18),
		"To resume from interruption, simply re-run the same command.",
		"The validator will automatically skip completed instances.",
		"",
	)

	return strings.Join(lines, "\n")
}
