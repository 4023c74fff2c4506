// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// resetGlobals restores flag and config state mutated by a test.
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		outputDir = ""
		dockerContext = ""
		workers = 0
		stubModel = ""
		config = Config{}
	})
}

func TestResolveOutputDirPrecedence(t *testing.T) {
	resetGlobals(t)

	assert.Equal(t, "android_validation_results", resolveOutputDir())

	config.OutputDir = "from_config"
	assert.Equal(t, "from_config", resolveOutputDir())

	outputDir = "from_flag"
	assert.Equal(t, "from_flag", resolveOutputDir())
}

func TestResolveWorkersPrecedence(t *testing.T) {
	resetGlobals(t)

	assert.Equal(t, 1, resolveWorkers())

	config.Workers = 4
	assert.Equal(t, 4, resolveWorkers())

	workers = 2
	assert.Equal(t, 2, resolveWorkers())
}

func TestResolveStubModelAndDockerContext(t *testing.T) {
	resetGlobals(t)

	assert.Empty(t, resolveStubModel())
	assert.Empty(t, resolveDockerContext())

	config.StubModel = "qwen/qwen3-coder"
	config.DockerContext = "remote"
	assert.Equal(t, "qwen/qwen3-coder", resolveStubModel())
	assert.Equal(t, "remote", resolveDockerContext())

	stubModel = "anthropic/claude-sonnet-4"
	dockerContext = "default"
	assert.Equal(t, "anthropic/claude-sonnet-4", resolveStubModel())
	assert.Equal(t, "default", resolveDockerContext())
}
