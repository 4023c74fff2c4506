// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset loads task instances and model predictions from JSONL
// or JSON files and filters them down to the set a run should process.
//
// Instance IDs accept shorthand: a bare number like "6044" expands to the
// full dataset ID using known repository prefixes, and a partial name like
// "Tusky-102" expands the same way. Malformed lines are logged and skipped
// rather than aborting the load, so one bad record does not sink a batch.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrDatasetEmpty is returned when a dataset file contains no usable
	// instances.
	ErrDatasetEmpty = errors.New("dataset contains no instances")

	// ErrMissingField is returned by Instance.Validate when a required
	// field is blank.
	ErrMissingField = errors.New("instance is missing a required field")
)

// =============================================================================
// Types
// =============================================================================

// Instance is a single validation task: a repository, a base commit, and
// the pair of patches (test, solution) to replay against it.
type Instance struct {
	// InstanceID uniquely identifies the task, e.g.
	// "tuskyapp__Tusky-4338".
	InstanceID string `json:"instance_id"`

	// Repo is the repository in "org/name" form, or a full clone URL.
	Repo string `json:"repo"`

	// BaseCommit is the SHA the repository is checked out at before any
	// patches apply.
	BaseCommit string `json:"base_commit"`

	// TestPatch adds or modifies the tests that define the task.
	TestPatch string `json:"test_patch"`

	// SolutionPatch is the gold solution under the dataset's "patch" key.
	SolutionPatch string `json:"patch"`

	// ProblemStatement is the issue text the task was distilled from.
	// Informational only.
	ProblemStatement string `json:"problem_statement,omitempty"`

	// TestCommands optionally overrides the derived Gradle test tasks.
	TestCommands []string `json:"test_commands,omitempty"`

	// BuildCommands optionally overrides the derived build invocation.
	BuildCommands []string `json:"build_commands,omitempty"`
}

// Validate reports whether the instance carries every field the pipeline
// needs. A failure here is fatal for the instance but not for the batch.
func (i Instance) Validate() error {
	switch {
	case strings.TrimSpace(i.InstanceID) == "":
		return fmt.Errorf("%w: instance_id", ErrMissingField)
	case strings.TrimSpace(i.Repo) == "":
		return fmt.Errorf("%w: repo (instance %s)", ErrMissingField, i.InstanceID)
	case strings.TrimSpace(i.BaseCommit) == "":
		return fmt.Errorf("%w: base_commit (instance %s)", ErrMissingField, i.InstanceID)
	case strings.TrimSpace(i.TestPatch) == "":
		return fmt.Errorf("%w: test_patch (instance %s)", ErrMissingField, i.InstanceID)
	case strings.TrimSpace(i.SolutionPatch) == "":
		return fmt.Errorf("%w: patch (instance %s)", ErrMissingField, i.InstanceID)
	}
	return nil
}

// =============================================================================
// Loading
// =============================================================================

// Load reads task instances from path.
//
// # Description
//
//	Files ending in .jsonl are parsed one JSON object per line; blank
//	lines are skipped and lines that fail to parse are logged with their
//	line number and dropped. Any other extension is parsed as a single
//	JSON array of instances.
//
// # Inputs
//
//   - path: dataset file on the host.
//   - log: destination for load diagnostics. May not be nil.
//
// # Outputs
//
//   - []Instance: instances in file order.
//   - error: I/O failure, undecodable JSON array, or ErrDatasetEmpty.
func Load(path string, log *logging.Logger) ([]Instance, error) {
	if log == nil {
		log = logging.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	var instances []Instance
	if strings.HasSuffix(path, ".jsonl") {
		for lineNum, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var inst Instance
			if err := json.Unmarshal([]byte(line), &inst); err != nil {
				log.Warn("Skipping invalid dataset line",
					"path", path, "line", lineNum+1, "error", err)
				continue
			}
			instances = append(instances, inst)
		}
	} else {
		if err := json.Unmarshal(data, &instances); err != nil {
			return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
		}
	}

	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetEmpty, path)
	}
	log.Info("Loaded dataset", "path", path, "instances", len(instances))
	return instances, nil
}

// =============================================================================
// Instance ID Normalization
// =============================================================================

// instanceIDPrefixes maps short app names to the dataset ID prefixes their
// instances carry. Bare-number and partial-name filters expand through
// this table.
var instanceIDPrefixes = map[string]string{
	"thunderbird": "thunderbird__thunderbird-android-",
	"AntennaPod":  "AntennaPod__AntennaPod-",
	"wordPress":   "wordpress-mobile__WordPress-Android-",
	"Tusky":       "tuskyapp__Tusky-",
}

// NormalizeIDs expands user-supplied instance IDs into the set of full
// dataset IDs they could refer to.
//
// # Description
//
//	Every raw ID is kept as-is. A purely numeric ID additionally expands
//	to prefix+number: when the dataset path mentions a known app name
//	only that app's prefix is used, otherwise every prefix is tried. A
//	non-numeric ID that does not already carry a known prefix expands
//	under any prefix whose app name (or a word of it) appears in the ID.
//
// # Edge Cases
//
//   - An empty input slice returns an empty set.
//   - Unknown IDs pass through unchanged and simply match nothing.
func NormalizeIDs(ids []string, datasetContext string) map[string]bool {
	normalized := make(map[string]bool, len(ids))
	ctxLower := strings.ToLower(datasetContext)

	for _, id := range ids {
		normalized[id] = true

		if isDigits(id) {
			matched := false
			if datasetContext != "" {
				for app, prefix := range instanceIDPrefixes {
					if strings.Contains(ctxLower, strings.ToLower(app)) {
						normalized[prefix+id] = true
						matched = true
						break
					}
				}
			}
			if !matched {
				for _, prefix := range instanceIDPrefixes {
					normalized[prefix+id] = true
				}
			}
			continue
		}

		idLower := strings.ToLower(id)
		for app, prefix := range instanceIDPrefixes {
			if strings.HasPrefix(id, prefix) {
				continue
			}
			appLower := strings.ToLower(app)
			if strings.Contains(idLower, appLower) {
				normalized[prefix+id] = true
				continue
			}
			words := strings.FieldsFunc(appLower, func(r rune) bool {
				return r == '-' || r == '_' || r == ' '
			})
			for _, word := range words {
				if strings.Contains(idLower, word) {
					normalized[prefix+id] = true
					break
				}
			}
		}
	}
	return normalized
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// Filtering
// =============================================================================

// FilterOptions narrows a loaded dataset to the instances a run should
// process.
type FilterOptions struct {
	// IncludeIDs keeps only matching instances when non-empty. IDs are
	// normalized through NormalizeIDs before matching.
	IncludeIDs []string

	// ExcludeIDs removes matching instances. Exclusion wins over
	// inclusion. Normalized like IncludeIDs.
	ExcludeIDs []string

	// Completed holds instance IDs from a previous run that should be
	// skipped for resume.
	Completed map[string]bool

	// MaxInstances caps the result after all other filters. Zero means
	// no cap.
	MaxInstances int

	// DatasetContext is the dataset path, used to disambiguate bare
	// numeric IDs during normalization.
	DatasetContext string
}

// Filter applies opts to instances, preserving input order.
func Filter(instances []Instance, opts FilterOptions, log *logging.Logger) []Instance {
	if log == nil {
		log = logging.Default()
	}
	var include, exclude map[string]bool
	if len(opts.IncludeIDs) > 0 {
		include = NormalizeIDs(opts.IncludeIDs, opts.DatasetContext)
		log.Info("Filtering instances by IDs", "ids", sortedKeys(include))
	}
	if len(opts.ExcludeIDs) > 0 {
		exclude = NormalizeIDs(opts.ExcludeIDs, opts.DatasetContext)
	}

	var filtered []Instance
	for _, inst := range instances {
		if include != nil && !include[inst.InstanceID] {
			continue
		}
		if exclude != nil && exclude[inst.InstanceID] {
			continue
		}
		if opts.Completed[inst.InstanceID] {
			log.Debug("Skipping completed instance", "instance_id", inst.InstanceID)
			continue
		}
		filtered = append(filtered, inst)
	}

	if opts.MaxInstances > 0 && len(filtered) > opts.MaxInstances {
		filtered = filtered[:opts.MaxInstances]
	}
	return filtered
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
