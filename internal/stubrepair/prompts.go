// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stubrepair

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Build Log Distillation
// =============================================================================

// buildErrorPatterns identify compiler error lines worth sending to the
// model. The full Gradle log is far too large for a prompt.
var buildErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`e: file:///.+\.kt:\d+:\d+`),
	regexp.MustCompile(`No parameter with name`),
	regexp.MustCompile(`Too many arguments for`),
	regexp.MustCompile(`Conflicting declarations:`),
	regexp.MustCompile(`Conflicting overloads:`),
	regexp.MustCompile(`Unresolved reference`),
	regexp.MustCompile(`overrides nothing`),
	regexp.MustCompile(`Type mismatch`),
	regexp.MustCompile(`cannot be applied to given types`),
	regexp.MustCompile(`has private access`),
	regexp.MustCompile(`cannot find symbol`),
	regexp.MustCompile(`package .+ does not exist`),
	regexp.MustCompile(`error: incompatible types`),
	regexp.MustCompile(`BUILD FAILED`),
	regexp.MustCompile(`Compilation failed`),
	regexp.MustCompile(`FAILED$`),
}

// RelevantBuildErrors distills a build log to the lines a repair prompt
// needs.
//
// # Description
//
// Error lines are matched against known compiler patterns; up to three
// following lines of indented or code-like context are kept with each.
// When that yields nothing, the last fifty lines of the log go out
// verbatim as a fallback.
func RelevantBuildErrors(buildLog string) string {
	lines := strings.Split(buildLog, "\n")

	var relevant []string
	inContext := false
	contextLines := 0

	for _, raw := range lines {
		line := strings.TrimSpace(raw)

		matched := false
		for _, pat := range buildErrorPatterns {
			if pat.MatchString(line) {
				matched = true
				break
			}
		}

		switch {
		case matched:
			relevant = append(relevant, line)
			inContext = true
			contextLines = 0
		case inContext && contextLines < 3 && line != "" && looksLikeErrorDetail(raw, line):
			relevant = append(relevant, line)
			contextLines++
		default:
			inContext = false
			contextLines = 0
		}
	}

	if len(relevant) > 0 {
		seen := make(map[string]bool)
		var unique []string
		for _, line := range relevant {
			if line == "" || seen[line] {
				continue
			}
			seen[line] = true
			unique = append(unique, line)
		}
		return strings.Join(unique, "\n")
	}

	if len(lines) > 50 {
		lines = lines[len(lines)-50:]
	}
	return strings.Join(lines, "\n")
}

func looksLikeErrorDetail(raw, stripped string) bool {
	if strings.HasPrefix(raw, "  ") || strings.HasPrefix(raw, "\t") {
		return true
	}
	lower := strings.ToLower(stripped)
	for _, keyword := range []string{"val ", "fun ", "class ", "interface ", ":", "=", "expected", "actual"} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// =============================================================================
// Prompt Assembly
// =============================================================================

const patchFormatSection = "**CRITICAL: Output patches in unified diff format:**\n\n" +
	"```PATCH: path/to/file.kt\n" +
	"--- a/path/to/file.kt\n" +
	"+++ b/path/to/file.kt\n" +
	"@@ -line,count +line,count @@\n" +
	" context line\n" +
	"-removed line\n" +
	"+added line\n" +
	" context line\n" +
	"```"

func oracleSection(oracleFiles map[string]string) string {
	if len(oracleFiles) == 0 {
		return ""
	}
	names := make([]string, 0, len(oracleFiles))
	for name := range oracleFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\n\n**Oracle Files (CURRENT STATE after first pass changes):**\n")
	for _, name := range names {
		fmt.Fprintf(&b, "\n--- %s (UPDATED) ---\n%s\n", name, oracleFiles[name])
	}
	return b.String()
}

// FirstPassPrompt builds the initial repair prompt from the build log,
// the applied test patch, and the current content of the files the
// solution patch touches.
func FirstPassPrompt(buildLog, testPatch string, oracleFiles map[string]string) string {
	return fmt.Sprintf(`You are an Android development expert. Generate Git PATCHES to fix compilation errors.

%s

**Guidelines:**
1. Generate proper unified diff patches (--- and +++ headers)
2. Include 3-5 context lines before/after changes
3. Make minimal changes to fix compilation only
4. Focus on missing classes, methods, properties
5. Use appropriate default values for new properties
6. Each patch must be self-contained and applicable

**Test Patch Applied:**
`+"```"+`
%s
`+"```"+`%s

**Compilation Errors to Fix:**
`+"```"+`
%s
`+"```"+`

Generate patches to fix these compilation errors. Create missing classes, add missing methods/properties, fix type mismatches.
`, patchFormatSection, testPatch, oracleSection(oracleFiles), RelevantBuildErrors(buildLog))
}

// AdditivePrompt builds the second-pass prompt used when the first pass
// applied cleanly but compilation still fails without conflicts. The
// model is told to complete the existing changes rather than redo them.
func AdditivePrompt(originalBuildLog, testPatch string, oracleFiles map[string]string, compileOutput string) string {
	return fmt.Sprintf(`You are an Android development expert. Generate ADDITIVE patches to complete the compilation fix.

**CONTEXT:**
- First pass patches were successful but compilation still has remaining issues
- Build on the existing successful changes, don't duplicate them
- Focus on the NEW/REMAINING errors that weren't addressed by first pass

%s

**CONFLICT AVOIDANCE STRATEGY:**
1. Never add properties, methods, or classes that already exist
2. Look for "Conflicting declarations" errors - these mean duplicate definitions
3. Add only what's missing, don't recreate existing elements

**Test Patch Applied (analyze this first):**
`+"```"+`
%s
`+"```"+`%s

**ORIGINAL Compilation Errors (for context):**
`+"```"+`
%s
`+"```"+`

**REMAINING Errors (focus ONLY on these specific errors):**
`+"```"+`
%s
`+"```"+`

Generate ADDITIVE patches that complete the compilation fix by addressing the remaining errors.
`, patchFormatSection, testPatch, oracleSection(oracleFiles),
		RelevantBuildErrors(originalBuildLog), RelevantBuildErrors(compileOutput))
}

// SelectivePrompt builds the second-pass prompt used when the first
// pass caused declaration conflicts. Conflicting files have been
// reverted; the model must patch only those and leave preserved files
// alone.
func SelectivePrompt(originalBuildLog, testPatch string, oracleFiles map[string]string, compileOutput string, analysis ConflictAnalysis) string {
	var preserved strings.Builder
	if len(analysis.SafeFiles) > 0 {
		preserved.WriteString("\n\n**PRESERVED FILES (DO NOT MODIFY - these were successfully fixed in first pass):**\n")
		for _, f := range analysis.SafeFiles {
			fmt.Fprintf(&preserved, "- %s\n", f)
		}
	}

	var conflicting strings.Builder
	if len(analysis.ConflictingFiles) > 0 {
		conflicting.WriteString("\n\n**CONFLICTING FILES (these have been reverted and need fixes):**\n")
		for _, f := range analysis.ConflictingFiles {
			fmt.Fprintf(&conflicting, "- %s\n", f)
		}
	}

	return fmt.Sprintf(`You are an Android development expert. Generate SELECTIVE patches to fix ONLY the conflicting files.

**CRITICAL INSTRUCTIONS:**
1. Some files were successfully fixed in the first pass - DO NOT touch preserved files
2. Only generate patches for conflicting files that have been reverted to clean state
3. Learn from the conflict patterns to avoid duplicate declarations

%s

**Test Patch Applied:**
`+"```"+`
%s
`+"```"+`%s%s%s

**ORIGINAL Compilation Errors:**
`+"```"+`
%s
`+"```"+`

**FIRST PASS CONFLICT Analysis:**
`+"```"+`
%s
`+"```"+`

Generate patches ONLY for the conflicting files to resolve the conflicts while preserving first pass successes.
`, patchFormatSection, testPatch, oracleSection(oracleFiles),
		preserved.String(), conflicting.String(),
		RelevantBuildErrors(originalBuildLog), RelevantBuildErrors(compileOutput))
}
