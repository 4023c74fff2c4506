// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stubrepair

import (
	"path"
	"regexp"
	"strings"
)

// =============================================================================
// Patch Extraction
// =============================================================================

// FilePatch is one model-generated patch targeting a single file.
type FilePatch struct {
	// Path is the file the patch applies to, relative to the repo root.
	Path string

	// Content is the unified diff body.
	Content string
}

// patchBlockPattern matches ```PATCH: path ... ``` blocks in a model
// response.
var patchBlockPattern = regexp.MustCompile("(?s)```PATCH:\\s*(.*?)\\s*\\n(.*?)```")

// ExtractPatches pulls every PATCH block out of a model response.
//
// # Example
//
//	patches := stubrepair.ExtractPatches(response)
//	// [{Path: "core/Settings.kt", Content: "--- a/core/Settings.kt\n..."}]
func ExtractPatches(response string) []FilePatch {
	var patches []FilePatch
	for _, m := range patchBlockPattern.FindAllStringSubmatch(response, -1) {
		patches = append(patches, FilePatch{
			Path:    strings.TrimSpace(m[1]),
			Content: strings.TrimSpace(m[2]),
		})
	}
	return patches
}

// NormalizePatch ensures patch content carries unified diff headers.
//
// Models occasionally emit a bare body without --- and +++ lines; those
// get synthetic headers and a minimal hunk header, with unprefixed
// lines treated as additions.
func NormalizePatch(filePath, content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "+++") {
			return content
		}
	}

	lines := []string{
		"--- a/" + filePath,
		"+++ b/" + filePath,
		"@@ -1,1 +1,1 @@",
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") {
			lines = append(lines, line)
		} else {
			lines = append(lines, "+"+line)
		}
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// Identifier Analysis
// =============================================================================

// identifierPatterns pull declared names out of a Kotlin or Java source
// line. Used to detect patches that would redeclare something the test
// patch or an earlier repair pass already added.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`val\s+(\w+)\s*[:,=]`),
	regexp.MustCompile(`var\s+(\w+)\s*[:,=]`),
	regexp.MustCompile(`const\s+val\s+(\w+)`),
	regexp.MustCompile(`fun\s+(\w+)\s*\(`),
	regexp.MustCompile(`(?:private|public|protected|internal)\s+val\s+(\w+)`),
	regexp.MustCompile(`(?:private|public|protected|internal)\s+var\s+(\w+)`),
	regexp.MustCompile(`(?:private|public|protected|internal)\s+fun\s+(\w+)`),
	regexp.MustCompile(`class\s+(\w+)`),
	regexp.MustCompile(`interface\s+(\w+)`),
	regexp.MustCompile(`object\s+(\w+)`),
	regexp.MustCompile(`(?:private|public|protected)\s+(?:static\s+)?(?:\w+\s+)+(\w+)\s*\(`),
	regexp.MustCompile(`(?:private|public|protected)\s+(?:static\s+)?(?:\w+\s+)+(\w+)\s*[;=]`),
}

// ExtractIdentifiers returns the declared names found in one code line.
func ExtractIdentifiers(line string) map[string]bool {
	identifiers := make(map[string]bool)
	for _, pat := range identifierPatterns {
		for _, m := range pat.FindAllStringSubmatch(line, -1) {
			identifiers[m[1]] = true
		}
	}
	return identifiers
}

// ParseModifications maps each file touched by a diff to the
// identifiers its added lines declare.
func ParseModifications(diff string) map[string]map[string]bool {
	modifications := make(map[string]map[string]bool)

	var current string
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			current = line[len("+++ b/"):]
			if modifications[current] == nil {
				modifications[current] = make(map[string]bool)
			}
		case strings.HasPrefix(line, "diff --git"):
			parts := strings.Fields(line)
			if len(parts) >= 4 {
				current = strings.TrimPrefix(parts[3], "b/")
				if modifications[current] == nil {
					modifications[current] = make(map[string]bool)
				}
			}
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") && current != "":
			added := strings.TrimSpace(line[1:])
			if added == "" {
				continue
			}
			for id := range ExtractIdentifiers(added) {
				modifications[current][id] = true
			}
		}
	}
	return modifications
}

// CreatesConflicts reports whether a patch redeclares an identifier an
// existing diff already added to the same file.
func CreatesConflicts(patch FilePatch, existing map[string]map[string]bool) bool {
	existingIDs := existing[patch.Path]
	if len(existingIDs) == 0 {
		return false
	}
	for _, line := range strings.Split(patch.Content, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		for id := range ExtractIdentifiers(strings.TrimSpace(line[1:])) {
			if existingIDs[id] {
				return true
			}
		}
	}
	return false
}

// AddsInternalDuplicates reports whether a patch declares the same
// identifier twice within its own added lines.
func AddsInternalDuplicates(patch FilePatch) bool {
	seen := make(map[string]bool)
	for _, line := range strings.Split(patch.Content, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		added := strings.TrimSpace(line[1:])
		if added == "" {
			continue
		}
		for id := range ExtractIdentifiers(added) {
			if seen[id] {
				return true
			}
			seen[id] = true
		}
	}
	return false
}

// FilterConflicting drops patches that would collide with changes an
// existing diff already made.
//
// # Description
//
// A patch is rejected when it redeclares an identifier the existing
// diff added, declares the same identifier twice itself, or targets a
// file the existing diff already modified (matched by exact path or by
// base file name, since models sometimes re-path files they invent).
func FilterConflicting(patches []FilePatch, existingDiff string) []FilePatch {
	existing := ParseModifications(existingDiff)

	var kept []FilePatch
	for _, p := range patches {
		if CreatesConflicts(p, existing) {
			continue
		}
		if AddsInternalDuplicates(p) {
			continue
		}
		alreadyModified := false
		for existingFile := range existing {
			if p.Path == existingFile || path.Base(p.Path) == path.Base(existingFile) {
				alreadyModified = true
				break
			}
		}
		if alreadyModified {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// =============================================================================
// Conflict Detection in Compiler Output
// =============================================================================

// ConflictAnalysis classifies a failed compile after a repair pass.
type ConflictAnalysis struct {
	// HasConflicts is true when the compiler reported duplicate or
	// conflicting declarations, which means the pass fought the test
	// patch rather than completing it.
	HasConflicts bool

	// Declarations are the raw conflict lines from the compiler.
	Declarations []string

	// ConflictingFiles are the patched files implicated in conflicts.
	ConflictingFiles []string

	// SafeFiles are patched files with no reported conflict.
	SafeFiles []string
}

var conflictLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Conflicting declarations`),
	regexp.MustCompile(`(?i)Conflicting overloads`),
	regexp.MustCompile(`(?i)Duplicate.*declaration`),
	regexp.MustCompile(`(?i)redeclaration of`),
	regexp.MustCompile(`(?i)already declared`),
}

var conflictFilePattern = regexp.MustCompile(`file://.*?([^/\s]+\.kt)`)

// AnalyzeConflicts inspects compiler output for conflicts caused by an
// earlier repair pass and splits that pass's patches into safe and
// conflicting sets.
func AnalyzeConflicts(compileOutput string, applied []FilePatch) ConflictAnalysis {
	analysis := ConflictAnalysis{}

	var conflictingNames []string
	for _, line := range strings.Split(compileOutput, "\n") {
		for _, pat := range conflictLinePatterns {
			if pat.MatchString(line) {
				analysis.HasConflicts = true
				analysis.Declarations = append(analysis.Declarations, strings.TrimSpace(line))
				if fm := conflictFilePattern.FindStringSubmatch(line); fm != nil {
					conflictingNames = appendUnique(conflictingNames, fm[1])
				}
				break
			}
		}
	}

	for _, p := range applied {
		base := path.Base(p.Path)
		conflicted := false
		for _, name := range conflictingNames {
			if strings.Contains(base, name) {
				conflicted = true
				break
			}
		}
		if conflicted {
			analysis.ConflictingFiles = appendUnique(analysis.ConflictingFiles, p.Path)
		} else {
			analysis.SafeFiles = append(analysis.SafeFiles, p.Path)
		}
	}
	return analysis
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
