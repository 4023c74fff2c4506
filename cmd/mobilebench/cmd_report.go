// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Fakorede/mobile-bench-sub000/internal/report"
)

// runReport rebuilds the run summary and text report from per-instance
// artifacts already on disk. Useful after editing or pruning results,
// or when a run was killed before writing its summary.
func runReport(cmd *cobra.Command, args []string) {
	resultsDir := args[0]
	if info, err := os.Stat(resultsDir); err != nil || !info.IsDir() {
		log.Fatalf("Results directory not found: %s", resultsDir)
	}

	logger := newLogger("report")
	store, err := report.NewStore(resultsDir, logger)
	if err != nil {
		log.Fatalf("Failed to open results directory: %v", err)
	}
	tracker := report.NewTracker(store, logger)

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		log.Fatalf("Failed to list results directory: %v", err)
	}

	results := make(map[string]*report.InstanceResult)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		result, err := store.ReconstructResult(entry.Name())
		if err != nil {
			if !errors.Is(err, report.ErrNoAnalysis) {
				logger.Warn("Skipping unreadable instance",
					"instance_id", entry.Name(), "error", err)
			}
			continue
		}
		results[entry.Name()] = result
	}
	if len(results) == 0 {
		log.Fatalf("No instance results found under %s", resultsDir)
	}

	if err := tracker.WriteFinalSummary(results); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}

	reportPath := filepath.Join(resultsDir, report.ReportFile)
	text, err := os.ReadFile(reportPath)
	if err != nil {
		log.Fatalf("Failed to read generated report: %v", err)
	}
	fmt.Print(string(text))
	fmt.Printf("\nRegenerated %s and %s from %d instances.\n",
		report.SummaryFile, report.ReportFile, len(results))
}
