// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import "time"

// =============================================================================
// Constants
// =============================================================================

// Timeout constants define minimum and default values for pipeline operations.
//
// These constants prevent accidental infinite hangs by ensuring all
// operations have a reasonable timeout even if misconfigured.
const (
	// MinProcessTimeout is the absolute minimum for any subprocess.
	MinProcessTimeout = 5 * time.Second

	// MinTestTimeout is the absolute minimum for a Gradle test run.
	MinTestTimeout = 1 * time.Minute

	// DefaultCloneTimeout bounds a recursive git clone of an Android repo.
	DefaultCloneTimeout = 10 * time.Minute

	// DefaultGitTimeout bounds individual git operations (checkout, apply).
	DefaultGitTimeout = 5 * time.Minute

	// DefaultBuildTimeout bounds a full Gradle compile inside the container.
	DefaultBuildTimeout = 30 * time.Minute

	// DefaultLLMTimeout bounds a single completion request.
	DefaultLLMTimeout = 5 * time.Minute

	// TestTimeoutPerModule is the per-module budget for targeted test runs.
	TestTimeoutPerModule = 10 * time.Minute

	// MaxTestRunTimeout caps the total budget for one test phase.
	MaxTestRunTimeout = 30 * time.Minute
)

// =============================================================================
// TimeoutConfig Struct
// =============================================================================

// TimeoutConfig holds timeout settings for one validation run.
//
// # Description
//
// Provides a validated set of timeout configurations for the pipeline's
// long-running operations. Use NewTimeoutConfig to create with proper
// defaults, and Validated before using values in production.
//
// # Thread Safety
//
// TimeoutConfig is safe for concurrent reads. For concurrent modifications,
// external synchronization is required.
//
// # Example
//
//	cfg := util.NewTimeoutConfig()
//	cfg.Build = 45 * time.Minute
//	valid := cfg.Validated()
type TimeoutConfig struct {
	// Clone bounds repository clone operations.
	Clone time.Duration

	// Git bounds checkout and patch operations.
	Git time.Duration

	// Build bounds Gradle compile runs.
	Build time.Duration

	// LLM bounds completion requests during stub repair.
	LLM time.Duration
}

// Validated returns a copy with all timeouts at least at their minimums.
//
// # Description
//
// Returns a new TimeoutConfig where any value below its minimum has been
// raised to the minimum. The original config is not modified.
//
// # Outputs
//
//   - TimeoutConfig: A validated copy with enforced minimums
//
// # Assumptions
//
//   - The receiver is not nil
func (c *TimeoutConfig) Validated() TimeoutConfig {
	return TimeoutConfig{
		Clone: EnforceMinTimeout(c.Clone, MinProcessTimeout),
		Git:   EnforceMinTimeout(c.Git, MinProcessTimeout),
		Build: EnforceMinTimeout(c.Build, MinProcessTimeout),
		LLM:   EnforceMinTimeout(c.LLM, MinProcessTimeout),
	}
}

// NewTimeoutConfig creates a TimeoutConfig with pipeline defaults.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Clone: DefaultCloneTimeout,
		Git:   DefaultGitTimeout,
		Build: DefaultBuildTimeout,
		LLM:   DefaultLLMTimeout,
	}
}

// =============================================================================
// Utility Functions
// =============================================================================

// EnforceMinTimeout returns at least the minimum timeout.
//
// # Description
//
// Ensures a timeout is never below the specified minimum. If the requested
// timeout is zero, negative, or below the minimum, returns the minimum
// instead. This prevents misconfiguration from causing infinite hangs.
//
// # Inputs
//
//   - requested: The timeout value requested by the caller
//   - minimum: The absolute minimum acceptable timeout
//
// # Outputs
//
//   - time.Duration: The requested timeout if valid, otherwise the minimum
//
// # Example
//
//	timeout := util.EnforceMinTimeout(cfg.Build, util.MinProcessTimeout)
//
// # Assumptions
//
//   - minimum is a positive duration
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns the default if the requested is zero or negative.
//
// # Description
//
// Unlike EnforceMinTimeout, this only applies the default when the value
// is explicitly zero or negative. Useful when any positive value is
// acceptable but a sensible default is wanted.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}

// TestRunTimeout computes the budget for running tests across modules.
//
// # Description
//
// Grants TestTimeoutPerModule per distinct Gradle module under test,
// capped at MaxTestRunTimeout, with a floor of MinTestTimeout. A run
// touching three modules gets 30 minutes; a run touching five still
// gets 30 minutes.
//
// # Inputs
//
//   - moduleCount: Number of distinct Gradle modules in the test plan
//
// # Outputs
//
//   - time.Duration: The per-phase test execution budget
//
// # Example
//
//	ctx, cancel := context.WithTimeout(ctx, util.TestRunTimeout(len(modules)))
//	defer cancel()
func TestRunTimeout(moduleCount int) time.Duration {
	if moduleCount < 1 {
		moduleCount = 1
	}
	budget := time.Duration(moduleCount) * TestTimeoutPerModule
	if budget > MaxTestRunTimeout {
		budget = MaxTestRunTimeout
	}
	if budget < MinTestTimeout {
		budget = MinTestTimeout
	}
	return budget
}
