// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// Prediction is one model answer for a task instance, as emitted by an
// inference run.
type Prediction struct {
	InstanceID      string `json:"instance_id"`
	ModelNameOrPath string `json:"model_name_or_path"`

	// GeneratedPatch is the already-extracted diff, when the inference
	// stage produced one. When blank, Patch falls back to extracting
	// from FullOutput.
	GeneratedPatch string `json:"generated_patch,omitempty"`

	// FullOutput is the raw model response, usually with the diff inside
	// a fenced code block.
	FullOutput string `json:"full_output,omitempty"`

	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// LoadPredictions reads model predictions from a JSONL file keyed by
// instance ID. Invalid lines are logged and skipped, mirroring Load.
func LoadPredictions(path string, log *logging.Logger) (map[string]Prediction, error) {
	if log == nil {
		log = logging.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictions %s: %w", path, err)
	}

	predictions := make(map[string]Prediction)
	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var pred Prediction
		if err := json.Unmarshal([]byte(line), &pred); err != nil {
			log.Warn("Skipping invalid prediction line",
				"path", path, "line", lineNum+1, "error", err)
			continue
		}
		if pred.InstanceID == "" {
			log.Warn("Skipping prediction without instance_id",
				"path", path, "line", lineNum+1)
			continue
		}
		predictions[pred.InstanceID] = pred
	}

	log.Info("Loaded predictions", "path", path, "count", len(predictions))
	return predictions, nil
}

// Patch returns the diff this prediction contributes. The pre-extracted
// generated_patch field wins; otherwise the diff is pulled out of the raw
// model output. An empty return means the model produced no usable patch.
func (p Prediction) Patch() string {
	if strings.TrimSpace(p.GeneratedPatch) != "" {
		return strings.TrimSpace(p.GeneratedPatch)
	}
	return ExtractPatch(p.FullOutput)
}

var fencedDiffPattern = regexp.MustCompile("(?s)```(?:diff)?\n(.*?)```")

// ExtractPatch pulls a unified diff out of raw model output.
//
// # Description
//
//	The first fenced code block (```diff or bare ```) is taken verbatim.
//	Output with no fences is accepted whole when it already starts like
//	a diff ("diff --git" or "---"). Anything else yields "".
func ExtractPatch(fullOutput string) string {
	if fullOutput == "" {
		return ""
	}

	if m := fencedDiffPattern.FindStringSubmatch(fullOutput); m != nil {
		return strings.TrimSpace(m[1])
	}

	trimmed := strings.TrimSpace(fullOutput)
	if strings.HasPrefix(trimmed, "diff --git") || strings.HasPrefix(trimmed, "---") {
		return trimmed
	}
	return ""
}

// FilterByPredictions keeps only instances that have a prediction with a
// non-empty patch. Used when validating model output instead of the gold
// solution.
func FilterByPredictions(instances []Instance, predictions map[string]Prediction, log *logging.Logger) []Instance {
	if log == nil {
		log = logging.Default()
	}
	var filtered []Instance
	for _, inst := range instances {
		pred, ok := predictions[inst.InstanceID]
		if !ok {
			continue
		}
		if pred.Patch() == "" {
			log.Debug("Skipping instance with empty patch", "instance_id", inst.InstanceID)
			continue
		}
		filtered = append(filtered, inst)
	}
	log.Info("Filtered instances with predictions", "count", len(filtered))
	return filtered
}
