// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stubrepair fixes compilation breakage introduced by test
// patches.
//
// Benchmark test patches frequently reference symbols that only exist
// after the solution patch lands: new properties, new methods, whole
// new classes. The repair engine asks a model for minimal unified-diff
// patches that stub those symbols in, applies them with git inside the
// instance container, and re-validates compilation. When the first
// pass leaves the build broken, a second pass runs in one of two
// modes: selective (the first pass collided with existing declarations,
// so conflicting files are reverted and regenerated) or additive (the
// first pass was clean but incomplete, so new patches are filtered
// against it and layered on top).
package stubrepair

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/gradle"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Errors and Defaults
// =============================================================================

var (
	// ErrNoAPIKey is returned when the engine is built without a key.
	ErrNoAPIKey = errors.New("no API key provided for LLM call")

	// ErrEmptyResponse is returned when the model returns no content.
	ErrEmptyResponse = errors.New("empty response from LLM")
)

const (
	// OpenRouterBaseURL is the OpenAI-compatible endpoint patches are
	// generated through.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel balances patch quality against per-instance cost.
	DefaultModel = "anthropic/claude-3.7-sonnet"

	llmTimeout     = 5 * time.Minute
	compileTimeout = 20 * time.Minute
	maxTokens      = 8192
)

// modelCosts holds per-token prices in USD for cost estimation.
var modelCosts = map[string]struct{ input, output float64 }{
	"anthropic/claude-3.7-sonnet":         {0.000003, 0.000015},
	"anthropic/claude-4-sonnet-20250522":  {0.000015, 0.000075},
	"anthropic/claude-4-opus-20250522":    {0.000075, 0.000375},
	"deepseek/deepseek-chat-v3-0324":      {0.0000014, 0.0000028},
	"openai/gpt-4o-2024-08-06":            {0.0000025, 0.00001},
}

// EstimateCost approximates the USD cost of one completion, assuming
// roughly four characters per token.
func EstimateCost(model, prompt, response string) float64 {
	inputTokens := float64(len(prompt)) / 4
	outputTokens := float64(len(response)) / 4
	if costs, ok := modelCosts[model]; ok {
		return inputTokens*costs.input + outputTokens*costs.output
	}
	return inputTokens*0.000003 + outputTokens*0.000015
}

// =============================================================================
// Engine
// =============================================================================

// ChatCompleter is the slice of the OpenAI client the engine needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options configures a repair Engine.
type Options struct {
	// APIKey authenticates against OpenRouter. Required unless a
	// custom Client is supplied.
	APIKey string

	// Model overrides DefaultModel.
	Model string

	// OutputDir is the run's results directory; prompts, responses,
	// generated patches, and compile logs land under
	// <OutputDir>/<instance>/{llm_logs,patch_logs,compilation_logs}.
	OutputDir string

	// Client overrides the OpenRouter client, for tests.
	Client ChatCompleter

	// Log overrides the default logger.
	Log *logging.Logger
}

// Engine generates and applies stub patches for one instance at a time.
//
// # Thread Safety
//
// Safe for concurrent use across instances; all per-repair state is
// local to Repair.
type Engine struct {
	containers container.Manager
	llm        ChatCompleter
	model      string
	artifacts  *artifactWriter
	log        *logging.Logger
}

// NewEngine builds a repair engine over the given container manager.
func NewEngine(containers container.Manager, opts Options) *Engine {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	llm := opts.Client
	if llm == nil && opts.APIKey != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		cfg.BaseURL = OpenRouterBaseURL
		llm = openai.NewClientWithConfig(cfg)
	}

	return &Engine{
		containers: containers,
		llm:        llm,
		model:      model,
		artifacts:  newArtifactWriter(opts.OutputDir, model, log),
		log:        log,
	}
}

// RepairOptions carries the context for one repair attempt.
type RepairOptions struct {
	// InstanceID is the failing task instance.
	InstanceID string

	// BuildLog is the output of the failed compile.
	BuildLog string

	// TestPatch is the applied test patch.
	TestPatch string

	// SolutionPatch selects the oracle files whose current content is
	// shown to the model.
	SolutionPatch string

	// GradleArgs re-runs the same targets the build step used. Empty
	// falls back to compileDebugSources.
	GradleArgs string

	// JavaVersion selects the in-container JDK for validation builds.
	JavaVersion string
}

// Result reports a repair attempt.
type Result struct {
	// Success means patches applied and the project now compiles.
	Success bool `json:"success"`

	// GeneratedStubs is the raw first-pass model response.
	GeneratedStubs string `json:"-"`

	// FilesCreated maps each patched file to a short description.
	FilesCreated map[string]string `json:"files_created"`

	// OracleFiles is the context shown to the model.
	OracleFiles map[string]string `json:"-"`

	// ErrorMessage explains a failure.
	ErrorMessage string `json:"error_message,omitempty"`

	// APICost is the estimated spend in USD.
	APICost float64 `json:"api_cost"`

	// ResponseTime is the wall-clock duration of the attempt.
	ResponseTime time.Duration `json:"response_time"`

	// ModelUsed names the model that generated the patches.
	ModelUsed string `json:"model_used"`
}

// Repair runs the full generate, apply, validate workflow.
//
// # Description
//
// First pass: prompt the model with the distilled build errors, the
// test patch, and the current oracle file contents; apply every PATCH
// block with git inside the container; re-run the build-step targets.
// If compilation still fails, the compiler output decides the second
// pass: declaration conflicts trigger the selective strategy (revert
// conflicting files, regenerate only those), anything else the additive
// strategy (layer filtered extra patches on top). A failed second pass
// rolls the workspace back to the first-pass checkpoint.
//
// # Edge Cases
//
//   - No API key: error before any container activity.
//   - Response without PATCH blocks: failed Result, nil error.
func (e *Engine) Repair(ctx context.Context, opts RepairOptions) (*Result, error) {
	if e.llm == nil {
		return nil, ErrNoAPIKey
	}

	start := time.Now()
	result := &Result{ModelUsed: e.model, FilesCreated: make(map[string]string)}

	oracleFiles := e.extractOracleFiles(ctx, opts.InstanceID, opts.SolutionPatch)
	result.OracleFiles = oracleFiles
	e.log.Info("extracted oracle files", "instance", opts.InstanceID, "count", len(oracleFiles))

	prompt := FirstPassPrompt(opts.BuildLog, opts.TestPatch, oracleFiles)
	response, err := e.complete(ctx, opts.InstanceID, "first_pass", prompt)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("Failed to get response from LLM: %v", err)
		result.ResponseTime = time.Since(start)
		return result, nil
	}
	result.GeneratedStubs = response
	result.APICost += EstimateCost(e.model, prompt, response)

	patches := ExtractPatches(response)
	e.artifacts.savePatches(opts.InstanceID, "first_pass", patches)
	if len(patches) == 0 {
		result.ErrorMessage = "No patches found in LLM response"
		result.ResponseTime = time.Since(start)
		return result, nil
	}
	e.log.Info("generated stub patches", "instance", opts.InstanceID, "count", len(patches))

	e.ensureGitRepo(ctx, opts.InstanceID)
	e.saveOriginalCommit(ctx, opts.InstanceID)
	e.checkpoint(ctx, opts.InstanceID, "before_first_pass")

	applied := e.applyPatches(ctx, opts.InstanceID, patches)
	for _, p := range applied {
		result.FilesCreated[p.Path] = "Patch applied to " + p.Path
	}
	if len(applied) == 0 {
		result.ErrorMessage = "Patch application or compilation failed"
		result.ResponseTime = time.Since(start)
		return result, nil
	}

	compiled, compileOutput := e.validateCompilation(ctx, opts)
	if compiled {
		result.Success = true
		result.ResponseTime = time.Since(start)
		return result, nil
	}

	e.log.Warn("compilation still failing after first pass, attempting second pass",
		"instance", opts.InstanceID)
	e.checkpoint(ctx, opts.InstanceID, "after_first_pass")

	analysis := AnalyzeConflicts(compileOutput, applied)
	updatedOracle := e.refreshOracleFiles(ctx, opts.InstanceID, oracleFiles)

	var secondPassOK bool
	if analysis.HasConflicts {
		e.log.Info("first pass caused declaration conflicts, using selective strategy",
			"instance", opts.InstanceID, "conflicting", len(analysis.ConflictingFiles))
		secondPassOK = e.selectiveSecondPass(ctx, opts, updatedOracle, compileOutput, analysis, result)
	} else {
		e.log.Info("no conflicts detected, using additive strategy", "instance", opts.InstanceID)
		secondPassOK = e.additiveSecondPass(ctx, opts, updatedOracle, compileOutput, result)
	}

	if secondPassOK {
		compiled, finalOutput := e.validateCompilation(ctx, opts)
		if compiled {
			e.log.Info("second pass resolved compilation", "instance", opts.InstanceID)
			result.Success = true
			result.ResponseTime = time.Since(start)
			return result, nil
		}
		e.log.Warn("second pass did not resolve compilation, rolling back",
			"instance", opts.InstanceID)
		e.resetToCheckpoint(ctx, opts.InstanceID)
		compileOutput = finalOutput
	}

	result.ErrorMessage = fmt.Sprintf(
		"Patch application or compilation failed. Compilation output:\n%.1000s...", compileOutput)
	result.ResponseTime = time.Since(start)
	return result, nil
}

func (e *Engine) selectiveSecondPass(ctx context.Context, opts RepairOptions, oracleFiles map[string]string, compileOutput string, analysis ConflictAnalysis, result *Result) bool {
	if len(analysis.ConflictingFiles) > 0 {
		if !e.revertFiles(ctx, opts.InstanceID, analysis.ConflictingFiles) {
			e.log.Warn("selective revert failed, resetting to pre-first-pass state",
				"instance", opts.InstanceID)
			e.resetToCheckpoint(ctx, opts.InstanceID)
		}
	}

	prompt := SelectivePrompt(opts.BuildLog, opts.TestPatch, oracleFiles, compileOutput, analysis)
	response, err := e.complete(ctx, opts.InstanceID, "second_pass_selective", prompt)
	if err != nil {
		return false
	}
	result.APICost += EstimateCost(e.model, prompt, response)

	patches := ExtractPatches(response)
	e.artifacts.savePatches(opts.InstanceID, "second_pass_selective", patches)
	if len(patches) == 0 {
		return false
	}

	applied := e.applyPatches(ctx, opts.InstanceID, patches)
	for _, p := range applied {
		result.FilesCreated[p.Path] = "Patch applied to " + p.Path
	}
	return len(applied) > 0
}

func (e *Engine) additiveSecondPass(ctx context.Context, opts RepairOptions, oracleFiles map[string]string, compileOutput string, result *Result) bool {
	prompt := AdditivePrompt(opts.BuildLog, opts.TestPatch, oracleFiles, compileOutput)
	response, err := e.complete(ctx, opts.InstanceID, "second_pass_additive", prompt)
	if err != nil {
		return false
	}
	result.APICost += EstimateCost(e.model, prompt, response)

	patches := ExtractPatches(response)
	e.artifacts.savePatches(opts.InstanceID, "second_pass_additive", patches)
	if len(patches) == 0 {
		return false
	}

	firstPassDiff := e.firstPassDiff(ctx, opts.InstanceID)
	filtered := FilterConflicting(patches, firstPassDiff)
	e.log.Info("filtered additive patches",
		"instance", opts.InstanceID, "generated", len(patches), "kept", len(filtered))
	if len(filtered) == 0 {
		return false
	}

	applied := e.applyPatches(ctx, opts.InstanceID, filtered)
	for _, p := range applied {
		result.FilesCreated[p.Path] = "Patch applied to " + p.Path
	}
	return len(applied) > 0
}

// =============================================================================
// Model Access
// =============================================================================

func (e *Engine) complete(ctx context.Context, instanceID, passName, prompt string) (string, error) {
	e.artifacts.savePrompt(instanceID, passName, prompt)

	callCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	resp, err := e.llm.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		TopP:        0.95,
	})
	if err != nil {
		e.log.Error("LLM call failed", "instance", instanceID, "pass", passName, "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	e.artifacts.saveResponse(instanceID, passName, content)
	return content, nil
}

// =============================================================================
// In-Container Operations
// =============================================================================

// applyPatches applies each patch with git, most to least strict
// strategy, and returns the ones that landed.
func (e *Engine) applyPatches(ctx context.Context, instanceID string, patches []FilePatch) []FilePatch {
	var applied []FilePatch
	for _, p := range patches {
		content := NormalizePatch(p.Path, p.Content)
		script := fmt.Sprintf(`
cd /workspace &&
echo "=== Applying patch to %[1]s ===" &&

cat > /tmp/stub.patch << 'PATCH_EOF'
%[2]s
PATCH_EOF

echo "=== Strategy 1: git apply --3way ===" &&
if git apply --3way --whitespace=nowarn /tmp/stub.patch 2>&1; then
    echo "SUCCESS: 3-way merge worked"
    rm -f /tmp/stub.patch
    exit 0
fi

echo "=== Strategy 2: git apply with reject ===" &&
if git apply --reject --whitespace=nowarn /tmp/stub.patch 2>&1; then
    echo "SUCCESS: apply with reject worked"
    rm -f /tmp/stub.patch
    exit 0
fi

echo "=== Strategy 3: git apply with ignore-whitespace ===" &&
if git apply --ignore-space-change --ignore-whitespace /tmp/stub.patch 2>&1; then
    echo "SUCCESS: apply with whitespace options worked"
    rm -f /tmp/stub.patch
    exit 0
fi

echo "=== Strategy 4: patch with batch and fuzz ===" &&
if patch --batch --fuzz=5 -p1 -i /tmp/stub.patch 2>&1; then
    echo "SUCCESS: patch with batch and fuzz worked"
    rm -f /tmp/stub.patch
    exit 0
fi

echo "=== Strategy 5: patch with force and fuzz ===" &&
if patch --force --fuzz=3 -p1 < /tmp/stub.patch 2>&1; then
    echo "SUCCESS: patch with force and fuzz worked"
    rm -f /tmp/stub.patch
    exit 0
fi

echo "=== All patch strategies failed ===" &&
rm -f /tmp/stub.patch &&
exit 1
`, p.Path, content)

		result, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
			Command: script,
			Timeout: 2 * time.Minute,
		})
		if err != nil || result.ExitCode != 0 {
			e.log.Warn("stub patch failed to apply", "instance", instanceID, "file", p.Path)
			continue
		}
		applied = append(applied, p)
		e.log.Info("applied stub patch", "instance", instanceID, "file", p.Path)
	}
	return applied
}

// validateCompilation re-runs the build-step targets after patches.
func (e *Engine) validateCompilation(ctx context.Context, opts RepairOptions) (bool, string) {
	gradleArgs := opts.GradleArgs
	if gradleArgs == "" {
		gradleArgs = "compileDebugSources"
	}

	script := gradle.BuildScript("/workspace", opts.JavaVersion, gradleArgs, compileTimeout)
	result, err := e.containers.Exec(ctx, opts.InstanceID, container.ExecOptions{
		Command: script,
		Timeout: compileTimeout + 2*time.Minute,
	})
	if err != nil {
		return false, fmt.Sprintf("Error during compilation validation: %v", err)
	}

	e.artifacts.saveCompileLog(opts.InstanceID, result.Output, result.ExitCode)
	success := result.ExitCode == 0 && !gradle.HasCompileFailure(result.Output)
	e.log.Info("validated compilation after patches",
		"instance", opts.InstanceID, "success", success, "exit_code", result.ExitCode)
	return success, result.Output
}

func (e *Engine) ensureGitRepo(ctx context.Context, instanceID string) {
	check, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: "cd /workspace && test -d .git && git rev-parse --git-dir",
		Timeout: 30 * time.Second,
	})
	if err == nil && check.ExitCode == 0 {
		return
	}

	e.log.Warn("workspace is not a git repository, initializing", "instance", instanceID)
	script := `
cd /workspace &&
git init &&
git config user.email 'patch-generator@android-bench.local' &&
git config user.name 'Patch Generator' &&
git config --add safe.directory /workspace &&
git add . &&
(git commit -m 'Initial commit for patch application' || echo 'Commit skipped - files may already be committed')
`
	if _, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: 2 * time.Minute,
	}); err != nil {
		e.log.Error("git initialization failed", "instance", instanceID, "error", err)
	}
}

// saveOriginalCommit records HEAD before any stub patches so the
// post-solution stage can identify repair-era commits.
func (e *Engine) saveOriginalCommit(ctx context.Context, instanceID string) {
	script := `
cd /workspace &&
if [ -f '.original_commit_before_stubs' ]; then
    echo "ALREADY_EXISTS"
else
    git rev-parse HEAD > .original_commit_before_stubs &&
    echo "Saved original commit: $(cat .original_commit_before_stubs)"
fi
`
	if _, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: 30 * time.Second,
	}); err != nil {
		e.log.Warn("could not save original commit", "instance", instanceID, "error", err)
	}
}

func (e *Engine) checkpoint(ctx context.Context, instanceID, name string) {
	script := fmt.Sprintf(`
cd /workspace &&
git add -A &&
git commit -m "Checkpoint: %s" --allow-empty &&
echo "=== Checkpoint '%s' created ==="
`, name, name)
	result, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: time.Minute,
	})
	if err != nil || result.ExitCode != 0 {
		e.log.Warn("checkpoint failed", "instance", instanceID, "checkpoint", name)
	}
}

// resetToCheckpoint drops the most recent checkpoint commit.
func (e *Engine) resetToCheckpoint(ctx context.Context, instanceID string) {
	script := `
cd /workspace &&
git reset --hard HEAD~1 &&
git clean -fd
`
	if _, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: time.Minute,
	}); err != nil {
		e.log.Error("checkpoint reset failed", "instance", instanceID, "error", err)
	}
}

func (e *Engine) revertFiles(ctx context.Context, instanceID string, files []string) bool {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = fmt.Sprintf("%q", f)
	}
	script := fmt.Sprintf(`
cd /workspace &&
git checkout HEAD -- %s &&
echo "=== Selective revert completed ==="
`, strings.Join(quoted, " "))

	result, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: time.Minute,
	})
	return err == nil && result.ExitCode == 0
}

// firstPassDiff returns the diff introduced by the last checkpoint, the
// conflict-filter input for additive passes.
func (e *Engine) firstPassDiff(ctx context.Context, instanceID string) string {
	result, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: "cd /workspace && git diff HEAD~1 HEAD --no-color",
		Timeout: time.Minute,
	})
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return result.Output
}

// =============================================================================
// Oracle Files
// =============================================================================

var oracleFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\+\+ b/(.+\.(?:java|kt))`),
	regexp.MustCompile(`diff --git a/.+ b/(.+\.(?:java|kt))`),
}

// extractOracleFiles reads the current workspace content of every
// source file the solution patch touches. The model sees these so its
// stubs match the project's real types and naming.
func (e *Engine) extractOracleFiles(ctx context.Context, instanceID, solutionPatch string) map[string]string {
	oracleFiles := make(map[string]string)
	if strings.TrimSpace(solutionPatch) == "" {
		return oracleFiles
	}

	paths := make(map[string]bool)
	for _, pat := range oracleFilePatterns {
		for _, m := range pat.FindAllStringSubmatch(solutionPatch, -1) {
			paths[m[1]] = true
		}
	}

	for filePath := range paths {
		content, ok := e.readWorkspaceFile(ctx, instanceID, filePath)
		if ok {
			oracleFiles[filePath] = content
		}
	}
	return oracleFiles
}

// refreshOracleFiles re-reads oracle files after a repair pass changed
// them; unreadable files keep their previous content.
func (e *Engine) refreshOracleFiles(ctx context.Context, instanceID string, original map[string]string) map[string]string {
	updated := make(map[string]string, len(original))
	for filePath, previous := range original {
		if content, ok := e.readWorkspaceFile(ctx, instanceID, filePath); ok {
			updated[filePath] = content
		} else {
			updated[filePath] = previous
		}
	}
	return updated
}

func (e *Engine) readWorkspaceFile(ctx context.Context, instanceID, filePath string) (string, bool) {
	script := fmt.Sprintf(`cd /workspace && if [ -f %q ]; then cat %q; else echo "FILE_NOT_FOUND"; fi`,
		filePath, filePath)
	result, err := e.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script, Timeout: 30 * time.Second,
	})
	if err != nil || result.ExitCode != 0 {
		return "", false
	}
	content := strings.TrimSpace(result.Output)
	if content == "FILE_NOT_FOUND" || content == "" {
		return "", false
	}
	return content, true
}
