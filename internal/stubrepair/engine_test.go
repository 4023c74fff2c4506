// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stubrepair

import (
	"context"
	"strings"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
)

// mockLLM returns canned responses in order and records prompts.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	Prompts   []string
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, req.Messages[len(req.Messages)-1].Content)

	response := ""
	if len(m.responses) > 0 {
		response = m.responses[0]
		m.responses = m.responses[1:]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: response}},
		},
	}, nil
}

const solutionPatchFixture = `diff --git a/core/Settings.kt b/core/Settings.kt
--- a/core/Settings.kt
+++ b/core/Settings.kt
@@ -1 +1,2 @@
 data class Settings(
+    val isHideUserAgent: Boolean = false,
`

// repairContainers scripts the container side of a repair: patches
// apply cleanly and compilation succeeds or fails per compileOutputs.
func repairContainers(t *testing.T, compileOutputs []*container.ExecResult) *container.MockManager {
	t.Helper()
	var mu sync.Mutex
	compileCalls := 0

	return &container.MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts container.ExecOptions) (*container.ExecResult, error) {
			cmd := opts.Command
			switch {
			case strings.Contains(cmd, "PATCH_EOF"):
				return &container.ExecResult{ExitCode: 0, Output: "SUCCESS: 3-way merge worked"}, nil
			case strings.Contains(cmd, "FILE_NOT_FOUND"):
				return &container.ExecResult{ExitCode: 0, Output: "data class Settings(\n    val isHideTimeZone: Boolean,\n)"}, nil
			case strings.Contains(cmd, "diff HEAD~1"):
				return &container.ExecResult{ExitCode: 0, Output: "+++ b/core/Other.kt\n+    val addedByFirstPass: Int = 0,\n"}, nil
			case strings.Contains(cmd, "gradlew"):
				mu.Lock()
				defer mu.Unlock()
				result := compileOutputs[compileCalls]
				if compileCalls < len(compileOutputs)-1 {
					compileCalls++
				}
				return result, nil
			default:
				return &container.ExecResult{ExitCode: 0, Output: "ok"}, nil
			}
		},
	}
}

func TestRepairFirstPassSuccess(t *testing.T) {
	llm := &mockLLM{responses: []string{sampleResponse}}
	containers := repairContainers(t, []*container.ExecResult{
		{ExitCode: 0, Output: "BUILD SUCCESSFUL in 30s"},
	})

	engine := NewEngine(containers, Options{Client: llm, OutputDir: t.TempDir()})
	result, err := engine.Repair(context.Background(), RepairOptions{
		InstanceID:    "inst-1",
		BuildLog:      "error: cannot find symbol\n  symbol: variable isHideUserAgent",
		TestPatch:     "--- a/T.kt\n+++ b/T.kt\n@@ -1 +1 @@\n+x",
		SolutionPatch: solutionPatchFixture,
		GradleArgs:    "core:testDebugUnitTest",
		JavaVersion:   "17",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, DefaultModel, result.ModelUsed)
	assert.Contains(t, result.FilesCreated, "core/preference/PrivacySettings.kt")
	assert.Contains(t, result.FilesCreated, "app/src/main/java/com/example/Account.java")
	assert.Contains(t, result.OracleFiles, "core/Settings.kt")
	assert.Greater(t, result.APICost, 0.0)
	assert.Len(t, llm.Prompts, 1)
	assert.Contains(t, llm.Prompts[0], "cannot find symbol")
	assert.Contains(t, llm.Prompts[0], "Oracle Files")
}

func TestRepairNoPatchesInResponse(t *testing.T) {
	llm := &mockLLM{responses: []string{"I am unable to determine the fix."}}
	containers := repairContainers(t, nil)

	engine := NewEngine(containers, Options{Client: llm})
	result, err := engine.Repair(context.Background(), RepairOptions{
		InstanceID: "inst-1",
		BuildLog:   "BUILD FAILED",
		TestPatch:  "patch",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "No patches found in LLM response", result.ErrorMessage)
	// Without patches nothing should touch the workspace.
	for _, call := range containers.CallsFor("Exec") {
		assert.NotContains(t, call.Command, "PATCH_EOF")
		assert.NotContains(t, call.Command, "Checkpoint:")
	}
}

func TestRepairWithoutClient(t *testing.T) {
	engine := NewEngine(&container.MockManager{}, Options{})
	_, err := engine.Repair(context.Background(), RepairOptions{InstanceID: "inst-1"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestRepairAdditiveSecondPass(t *testing.T) {
	firstPass := "```PATCH: core/Other.kt\n" +
		"--- a/core/Other.kt\n+++ b/core/Other.kt\n@@ -1 +1,2 @@\n+    val addedByFirstPass: Int = 0,\n```"
	secondPass := "```PATCH: core/Another.kt\n" +
		"--- a/core/Another.kt\n+++ b/core/Another.kt\n@@ -1 +1,2 @@\n+    val missingPiece: Int = 1,\n```"

	llm := &mockLLM{responses: []string{firstPass, secondPass}}
	containers := repairContainers(t, []*container.ExecResult{
		{ExitCode: 1, Output: "BUILD FAILED\nerror: cannot find symbol missingPiece"},
		{ExitCode: 0, Output: "BUILD SUCCESSFUL in 18s"},
	})

	engine := NewEngine(containers, Options{Client: llm})
	result, err := engine.Repair(context.Background(), RepairOptions{
		InstanceID:    "inst-2",
		BuildLog:      "error: cannot find symbol addedByFirstPass",
		TestPatch:     "patch",
		SolutionPatch: solutionPatchFixture,
		JavaVersion:   "17",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, llm.Prompts, 2)
	assert.Contains(t, llm.Prompts[1], "ADDITIVE patches")
	assert.Contains(t, result.FilesCreated, "core/Other.kt")
	assert.Contains(t, result.FilesCreated, "core/Another.kt")
}

func TestRepairSelectiveSecondPassRollsBackOnFailure(t *testing.T) {
	firstPass := "```PATCH: core/Settings.kt\n" +
		"--- a/core/Settings.kt\n+++ b/core/Settings.kt\n@@ -1 +1,2 @@\n+    val isHideUserAgent: Boolean = true,\n```"
	secondPass := "```PATCH: core/Settings.kt\n" +
		"--- a/core/Settings.kt\n+++ b/core/Settings.kt\n@@ -1 +1,2 @@\n+    val isHideUserAgent: Boolean = false,\n```"

	llm := &mockLLM{responses: []string{firstPass, secondPass}}
	conflictOutput := "e: file:///workspace/core/Settings.kt:2:5 Conflicting declarations: val isHideUserAgent\nBUILD FAILED"
	containers := repairContainers(t, []*container.ExecResult{
		{ExitCode: 1, Output: conflictOutput},
	})

	engine := NewEngine(containers, Options{Client: llm})
	result, err := engine.Repair(context.Background(), RepairOptions{
		InstanceID:    "inst-3",
		BuildLog:      "Conflicting declarations: val isHideUserAgent",
		TestPatch:     "patch",
		SolutionPatch: solutionPatchFixture,
		JavaVersion:   "17",
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "Compilation output")
	require.Len(t, llm.Prompts, 2)
	assert.Contains(t, llm.Prompts[1], "SELECTIVE patches")

	// The failed second pass must reset the workspace to the first-pass
	// checkpoint.
	var sawReset bool
	for _, call := range containers.CallsFor("Exec") {
		if strings.Contains(call.Command, "git reset --hard HEAD~1") {
			sawReset = true
		}
	}
	assert.True(t, sawReset)
}

func TestEstimateCost(t *testing.T) {
	prompt := strings.Repeat("a", 4000)   // ~1000 tokens
	response := strings.Repeat("b", 2000) // ~500 tokens

	cost := EstimateCost(DefaultModel, prompt, response)
	assert.InDelta(t, 1000*0.000003+500*0.000015, cost, 1e-9)

	// Unknown models use the default rate.
	unknown := EstimateCost("some/unknown-model", prompt, response)
	assert.InDelta(t, cost, unknown, 1e-9)
}
