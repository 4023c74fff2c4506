// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package gradle generates and interprets Gradle invocations for Android
// test runs.
//
// Variant selection is the messy part: every benchmark repo has its own
// flavor scheme (foss/full, play, WordPressVanilla, free) and picking the
// wrong one either fails to resolve the task or silently tests the wrong
// code. Known repos get hardcoded rules; everything else goes through
// verification-task listing with a deterministic preference order.
package gradle

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Variant Selection
// =============================================================================

// DefaultUnitTestVariant is the task used when nothing better is known.
const DefaultUnitTestVariant = "testDebugUnitTest"

// antennaPodSimpleModules are AntennaPod modules built without flavors.
var antennaPodSimpleModules = map[string]bool{
	":model": true, ":event": true, ":ui:episodes": true, ":ui:common": true,
	":ui:app-start-intent": true, ":ui:i18n": true, ":ui:notifications": true,
	":storage:preferences": true, ":playback:base": true, ":parser:feed": true,
	":parser:media": true, ":parser:transcript": true,
	":net:sync:service-interface": true, ":net:sync:gpoddernet": true,
}

// HardcodedVariants returns the candidate unit-test tasks for modules
// whose flavor scheme is known ahead of time.
//
// # Description
//
// Thunderbird/K-9 app modules build foss and full flavors, AnkiDroid
// builds play, WordPress builds WordPressVanilla, AntennaPod mixes
// flavored and unflavored modules depending on the module, and feature
// or legacy modules are unflavored. Unknown modules get the default.
//
// # Inputs
//
//   - instanceID: Task instance ID (repo-qualified, used for AntennaPod detection)
//   - module: Gradle module path (e.g. ":app-thunderbird")
//
// # Outputs
//
//   - []string: Candidate task names, most preferred first
func HardcodedVariants(instanceID, module string) []string {
	switch {
	case module == ":app-thunderbird" || module == ":app-k9mail":
		return []string{
			"testFossDebugUnitTest",
			"testFullDebugUnitTest",
			"testFossReleaseUnitTest",
			"testFullReleaseUnitTest",
		}
	case module == ":AnkiDroid":
		return []string{"testPlayDebugUnitTest"}
	case module == ":WordPress":
		return []string{"testWordPressVanillaDebugUnitTest"}
	case isAntennaPod(instanceID) && antennaPodSimpleModules[module]:
		return []string{"testDebugUnitTest", "testReleaseUnitTest"}
	case isAntennaPod(instanceID):
		return []string{"testFreeDebugUnitTest", "testPlayDebugUnitTest"}
	case strings.HasPrefix(module, ":feature:") || module == ":legacy:core":
		return []string{"testDebugUnitTest", "testReleaseUnitTest"}
	default:
		return []string{DefaultUnitTestVariant}
	}
}

func isAntennaPod(instanceID string) bool {
	return strings.Contains(strings.ToLower(instanceID), "antennapod")
}

// hardcodedPick maps a module to the single variant its rule demands,
// applied only when that variant is actually available.
func hardcodedPick(instanceID, module string) string {
	switch {
	case module == ":app-thunderbird" || module == ":app-k9mail":
		return "testFossDebugUnitTest"
	case module == ":AnkiDroid":
		return "testPlayDebugUnitTest"
	case module == ":WordPress":
		return "testWordPressVanillaDebugUnitTest"
	case isAntennaPod(instanceID) && antennaPodSimpleModules[module]:
		return "testDebugUnitTest"
	case isAntennaPod(instanceID):
		return "testFreeDebugUnitTest"
	default:
		return "testDebugUnitTest"
	}
}

// SelectUnitVariant picks the unit-test task to run for a module.
//
// # Description
//
// Selection order:
//  1. The module's hardcoded rule, when its task is in the available set.
//  2. Debug unit-test variants excluding detekt tasks, sorted by flavor
//     preference (WordPressVanilla > foss > free > plain debug > full).
//  3. Any remaining debug unit-test variant, same sort.
//  4. DefaultUnitTestVariant.
//
// # Inputs
//
//   - instanceID: Task instance ID
//   - module: Gradle module path
//   - available: Task names known to exist for the module (may be empty)
//
// # Outputs
//
//   - string: The task name to invoke
func SelectUnitVariant(instanceID, module string, available []string) string {
	availableSet := make(map[string]bool, len(available))
	for _, v := range available {
		availableSet[v] = true
	}

	if pick := hardcodedPick(instanceID, module); availableSet[pick] {
		return pick
	}

	var clean []string
	for _, v := range available {
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "test") &&
			strings.Contains(lower, "unittest") &&
			strings.Contains(lower, "debug") &&
			!strings.Contains(lower, "detekt") {
			clean = append(clean, v)
		}
	}
	if len(clean) > 0 {
		sortVariants(clean)
		return clean[0]
	}

	var fallback []string
	for _, v := range available {
		lower := strings.ToLower(v)
		if strings.Contains(lower, "unittest") && strings.Contains(lower, "debug") {
			fallback = append(fallback, v)
		}
	}
	if len(fallback) > 0 {
		sortVariants(fallback)
		return fallback[0]
	}

	return DefaultUnitTestVariant
}

// sortVariants orders task names by flavor preference, then by length and
// name for determinism.
func sortVariants(variants []string) {
	rank := func(v string) int {
		lower := strings.ToLower(v)
		switch {
		case strings.Contains(lower, "wordpressvanilla"):
			return 0
		case strings.Contains(lower, "foss"):
			return 1
		case strings.Contains(lower, "free"):
			return 2
		case strings.Contains(lower, "debug") && !strings.Contains(lower, "full"):
			return 3
		case strings.Contains(lower, "full"):
			return 4
		default:
			return 5
		}
	}
	sort.Slice(variants, func(i, j int) bool {
		ri, rj := rank(variants[i]), rank(variants[j])
		if ri != rj {
			return ri < rj
		}
		if len(variants[i]) != len(variants[j]) {
			return len(variants[i]) < len(variants[j])
		}
		return variants[i] < variants[j]
	})
}

// ParseVerificationTasks extracts simple unit-test task names from
// `gradlew tasks --group=verification` output.
//
// # Description
//
// Lines look like "testFossDebugUnitTest - Run unit tests ...". Only the
// first word of matching lines is taken, and qualified names containing
// ':' are skipped (the module prefix is added separately).
func ParseVerificationTasks(output string) []string {
	var tasks []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "test") || !strings.Contains(lower, "unittest") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if name == "" || strings.Contains(name, ":") {
			continue
		}
		tasks = append(tasks, name)
	}
	return tasks
}

// ParseProjects extracts subproject paths from `gradlew projects`
// output.
//
// # Description
//
// Listing lines look like `+--- Project ':feature:payments'`. The root
// project line ("Root project 'name'") carries no path and is ignored;
// a build without subprojects yields an empty set and its tasks run
// unprefixed.
func ParseProjects(output string) map[string]bool {
	projects := make(map[string]bool)
	for _, match := range projectLinePattern.FindAllStringSubmatch(output, -1) {
		projects[match[1]] = true
	}
	return projects
}

var projectLinePattern = regexp.MustCompile(`[Pp]roject '(:[^']+)'`)

// =============================================================================
// Task Assembly
// =============================================================================

// TestTask renders one module's test invocation with class filters.
//
// # Description
//
// Produces `:module:variant --tests "Class"` for each class. The root
// :app module drops its prefix so the task resolves in single-module
// projects that don't register the path alias.
//
// # Example
//
//	gradle.TestTask(":parser:media", "testDebugUnitTest", []string{"com.example.FooTest"})
//	// `:parser:media:testDebugUnitTest --tests "com.example.FooTest"`
func TestTask(module, variant string, classes []string) string {
	var base string
	if module == ":app" {
		base = variant
	} else {
		base = module + ":" + variant
	}

	parts := []string{base}
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("--tests %q", class))
	}
	return strings.Join(parts, " ")
}

// TestArgs assembles the full Gradle argument string for a test run.
//
// # Inputs
//
//   - instanceID: Task instance ID (drives hardcoded variant rules)
//   - moduleTests: Module path to confirmed test class names
//   - availableVariants: Per-module task availability (nil entries allowed)
//
// # Outputs
//
//   - string: Space-joined per-module invocations, modules sorted for
//     deterministic command lines
func TestArgs(instanceID string, moduleTests map[string][]string, availableVariants map[string][]string) string {
	modules := make([]string, 0, len(moduleTests))
	for module := range moduleTests {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	var commands []string
	for _, module := range modules {
		classes := moduleTests[module]
		if len(classes) == 0 {
			continue
		}
		available := availableVariants[module]
		if available == nil {
			available = HardcodedVariants(instanceID, module)
		}
		variant := SelectUnitVariant(instanceID, module, available)
		commands = append(commands, TestTask(module, variant, classes))
	}
	return strings.Join(commands, " ")
}
