// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	outputDir       string
	dockerContext   string
	logLevel        string
	workers         int
	maxInstances    int
	instanceIDs     []string
	excludeIDs      []string
	predictionsPath string
	stubModel       string
	keepContainers  bool
	forceRestart    bool
	keepPersistent  bool

	rootCmd = &cobra.Command{
		Use:   "mobilebench",
		Short: "A cli to validate Android benchmark instances in build containers",
		Long: `mobilebench replays benchmark task instances against their Android
				repositories: it applies the test patch, runs the targeted unit
				tests, applies the solution patch in a clean workspace, reruns
				the tests, and reports per-test transitions.`,
	}

	// --- Validation ---
	validateCmd = &cobra.Command{
		Use:   "validate [dataset_file]",
		Short: "Validate every instance in a dataset file",
		Args:  cobra.ExactArgs(1),
		Run:   runValidate, // Defined in cmd_validate.go
	}

	// --- Reporting ---
	reportCmd = &cobra.Command{
		Use:   "report [results_dir]",
		Short: "Regenerate the summary report from saved validation results",
		Args:  cobra.ExactArgs(1),
		Run:   runReport, // Defined in cmd_report.go
	}

	// --- Container Cleanup ---
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover validation containers and volumes",
		Run:   runCleanup, // Defined in cmd_cleanup.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log verbosity: debug, info, warn, or error (default info)")
	rootCmd.PersistentFlags().StringVar(&dockerContext, "docker-context", "",
		"Docker context to use (empty for the current context)")

	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "",
		"Directory for per-instance artifacts and run reports (default \"android_validation_results\")")
	validateCmd.Flags().StringSliceVar(&instanceIDs, "instance-ids", nil,
		"Only validate these instance IDs (numeric shorthand like '4338' is expanded)")
	validateCmd.Flags().StringSliceVar(&excludeIDs, "exclude-instance-ids", nil,
		"Skip these instance IDs")
	validateCmd.Flags().IntVar(&maxInstances, "max-instances", 0,
		"Stop after this many instances (0 for no limit)")
	validateCmd.Flags().IntVar(&workers, "workers", 0,
		"Number of instances validated concurrently (default 1)")
	validateCmd.Flags().StringVar(&predictionsPath, "predictions", "",
		"Optional predictions JSONL; only instances with a non-empty patch are validated")
	validateCmd.Flags().StringVar(&stubModel, "stub-model", "",
		"LLM used to generate missing stub classes when the build fails")
	validateCmd.Flags().BoolVar(&keepContainers, "keep-containers", false,
		"Keep instance containers after the run for debugging")
	validateCmd.Flags().BoolVar(&forceRestart, "force-restart", false,
		"Discard saved progress and revalidate every instance")

	rootCmd.AddCommand(reportCmd)

	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&keepPersistent, "keep-persistent", false,
		"Leave persistent instance containers in place")
}
