// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fakorede/mobile-bench-sub000/internal/report"
	"github.com/Fakorede/mobile-bench-sub000/internal/validator"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

func runValidate(cmd *cobra.Command, args []string) {
	datasetPath := args[0]
	if _, err := os.Stat(datasetPath); err != nil {
		log.Fatalf("Dataset file not found: %s", datasetPath)
	}

	logger := newLogger("validator")

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, stub repair is disabled.")
	}

	orch, err := validator.New(validator.Options{
		OutputDir:        resolveOutputDir(),
		DockerContext:    resolveDockerContext(),
		KeepContainers:   keepContainers,
		ForceRestart:     forceRestart,
		Workers:          resolveWorkers(),
		OpenRouterAPIKey: apiKey,
		StubModel:        resolveStubModel(),
		IncludeIDs:       instanceIDs,
		ExcludeIDs:       excludeIDs,
		MaxInstances:     maxInstances,
		PredictionsPath:  predictionsPath,
		Log:              logger,
	})
	if err != nil {
		log.Fatalf("Failed to set up validation run: %v", err)
	}

	// Ctrl-C cancels the pool; progress is saved, so the run resumes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := orch.ValidateDataset(ctx, datasetPath)
	if err != nil {
		log.Fatalf("Validation run failed: %v", err)
	}

	printRunSummary(results)
	if keepContainers {
		fmt.Println("\nContainers kept for debugging. Remove them with: mobilebench cleanup")
	}

	for _, r := range results {
		if !r.Success {
			os.Exit(1)
		}
	}
}

func printRunSummary(results map[string]*report.InstanceResult) {
	var successful, fixed, broken, skipped int
	for _, r := range results {
		if r.Success {
			successful++
		}
		fixed += r.FailToPassCount
		broken += r.PassToFailCount
		skipped += len(r.SkippedInstrumentedTests)
	}

	total := len(results)
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total) * 100
	}

	fmt.Println("\nValidation complete!")
	fmt.Printf("Total instances: %d\n", total)
	fmt.Printf("Successful: %d\n", successful)
	fmt.Printf("Failed: %d\n", total-successful)
	fmt.Printf("Success rate: %.1f%%\n", rate)
	fmt.Printf("Tests fixed: %d\n", fixed)
	fmt.Printf("Tests broken: %d\n", broken)
	fmt.Printf("Instrumented tests skipped: %d\n", skipped)

	dir := resolveOutputDir()
	fmt.Printf("\nResults saved to: %s\n", dir)
	fmt.Printf("Summary: %s\n", filepath.Join(dir, report.SummaryFile))
	fmt.Printf("Report: %s\n", filepath.Join(dir, report.ReportFile))
}

// newLogger builds the run logger from the --log-level flag, falling
// back to the config file value.
func newLogger(service string) *logging.Logger {
	level := logLevel
	if level == "" {
		level = config.LogLevel
	}

	var parsed logging.Level
	switch level {
	case "debug":
		parsed = logging.LevelDebug
	case "warn":
		parsed = logging.LevelWarn
	case "error":
		parsed = logging.LevelError
	default:
		parsed = logging.LevelInfo
	}

	return logging.New(logging.Config{
		Level:   parsed,
		Service: service,
	})
}

func resolveOutputDir() string {
	if outputDir != "" {
		return outputDir
	}
	if config.OutputDir != "" {
		return config.OutputDir
	}
	return "android_validation_results"
}

func resolveWorkers() int {
	if workers > 0 {
		return workers
	}
	if config.Workers > 0 {
		return config.Workers
	}
	return 1
}

func resolveDockerContext() string {
	if dockerContext != "" {
		return dockerContext
	}
	return config.DockerContext
}

func resolveStubModel() string {
	if stubModel != "" {
		return stubModel
	}
	return config.StubModel
}
