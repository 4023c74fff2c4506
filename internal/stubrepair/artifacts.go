// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stubrepair

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// artifactWriter persists repair artifacts for post-mortems: prompts
// and responses under llm_logs/, generated patches under patch_logs/,
// and validation builds under compilation_logs/. Failures are logged
// and swallowed; artifacts never fail a repair.
type artifactWriter struct {
	outputDir string
	model     string
	log       *logging.Logger
}

func newArtifactWriter(outputDir, model string, log *logging.Logger) *artifactWriter {
	return &artifactWriter{outputDir: outputDir, model: model, log: log}
}

func (w *artifactWriter) enabled() bool {
	return w.outputDir != ""
}

func (w *artifactWriter) instanceDir(instanceID, kind string) (string, error) {
	dir := filepath.Join(w.outputDir, instanceID, kind)
	return dir, os.MkdirAll(dir, 0o755)
}

func timestamp() string {
	return time.Now().Format("20060102_150405")
}

func (w *artifactWriter) savePrompt(instanceID, passName, prompt string) {
	if !w.enabled() {
		return
	}
	dir, err := w.instanceDir(instanceID, "llm_logs")
	if err != nil {
		w.log.Warn("could not create llm_logs dir", "error", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LLM Prompt Log - %s\n", strings.ToUpper(passName))
	fmt.Fprintf(&b, "Instance ID: %s\n", instanceID)
	fmt.Fprintf(&b, "Timestamp: %s\n", timestamp())
	fmt.Fprintf(&b, "Model: %s\n", w.model)
	b.WriteString(strings.Repeat("=", 80) + "\n\n")
	b.WriteString(prompt)

	path := filepath.Join(dir, fmt.Sprintf("%s_prompt_%s.txt", passName, timestamp()))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		w.log.Warn("could not save prompt artifact", "path", path, "error", err)
	}
}

func (w *artifactWriter) saveResponse(instanceID, passName, response string) {
	if !w.enabled() {
		return
	}
	dir, err := w.instanceDir(instanceID, "llm_logs")
	if err != nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LLM Response Log - %s\n", strings.ToUpper(passName))
	fmt.Fprintf(&b, "Instance ID: %s\n", instanceID)
	fmt.Fprintf(&b, "Timestamp: %s\n", timestamp())
	fmt.Fprintf(&b, "Model: %s\n", w.model)
	b.WriteString(strings.Repeat("=", 80) + "\n\n")
	b.WriteString(response)

	path := filepath.Join(dir, fmt.Sprintf("%s_response_%s.txt", passName, timestamp()))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		w.log.Warn("could not save response artifact", "path", path, "error", err)
	}
}

func (w *artifactWriter) savePatches(instanceID, passName string, patches []FilePatch) {
	if !w.enabled() || len(patches) == 0 {
		return
	}
	dir, err := w.instanceDir(instanceID, "patch_logs")
	if err != nil {
		return
	}
	ts := timestamp()

	for i, patch := range patches {
		safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(patch.Path)
		name := fmt.Sprintf("%s_%s_%02d_%s.patch", passName, ts, i+1, safe)

		var b strings.Builder
		fmt.Fprintf(&b, "# Patch for: %s\n", patch.Path)
		fmt.Fprintf(&b, "# Generated: %s\n", ts)
		fmt.Fprintf(&b, "# Pass: %s\n", passName)
		fmt.Fprintf(&b, "# Patch %d/%d\n\n", i+1, len(patches))
		b.WriteString(patch.Content)

		if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
			w.log.Warn("could not save patch artifact", "file", name, "error", err)
		}
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Patch Generation Summary - %s\n", strings.ToUpper(passName))
	fmt.Fprintf(&summary, "Instance ID: %s\n", instanceID)
	fmt.Fprintf(&summary, "Timestamp: %s\n", ts)
	fmt.Fprintf(&summary, "Total Patches: %d\n", len(patches))
	summary.WriteString(strings.Repeat("=", 80) + "\n\n")
	for i, patch := range patches {
		fmt.Fprintf(&summary, "PATCH %d/%d: %s\n", i+1, len(patches), patch.Path)
		summary.WriteString(strings.Repeat("-", 60) + "\n")
		summary.WriteString(patch.Content)
		summary.WriteString("\n\n" + strings.Repeat("=", 80) + "\n\n")
	}

	summaryPath := filepath.Join(dir, fmt.Sprintf("%s_%s_all_patches.txt", passName, ts))
	if err := os.WriteFile(summaryPath, []byte(summary.String()), 0o644); err != nil {
		w.log.Warn("could not save patch summary", "path", summaryPath, "error", err)
	}
}

func (w *artifactWriter) saveCompileLog(instanceID, output string, exitCode int) {
	if !w.enabled() {
		return
	}
	dir, err := w.instanceDir(instanceID, "compilation_logs")
	if err != nil {
		return
	}

	status := "failure"
	if exitCode == 0 {
		status = "success"
	}

	var b strings.Builder
	b.WriteString("Gradle Compilation Log\n")
	fmt.Fprintf(&b, "Instance ID: %s\n", instanceID)
	fmt.Fprintf(&b, "Timestamp: %s\n", timestamp())
	fmt.Fprintf(&b, "Exit Code: %d\n", exitCode)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(status))
	b.WriteString(strings.Repeat("=", 80) + "\n\n")
	b.WriteString(output)

	path := filepath.Join(dir, fmt.Sprintf("gradle_%s_%s.log", status, timestamp()))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		w.log.Warn("could not save compile log", "path", path, "error", err)
	}
}
