// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diffscan extracts and classifies source files from unified diffs.
//
// Patches arrive from two sources with very different hygiene: harness
// test patches are well-formed git diffs, while model-generated solution
// patches are whatever the model produced. Parsing therefore goes through
// go-diff first and falls back to line patterns when the diff reader
// chokes.
package diffscan

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// =============================================================================
// Extraction
// =============================================================================

var fallbackFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\+\+ b/(.+\.(?:java|kt))`),
	regexp.MustCompile(`diff --git a/.+ b/(.+\.(?:java|kt))`),
}

// SourceFiles returns the .java/.kt paths touched by a unified diff.
//
// # Description
//
// Parses the patch with go-diff and collects target-side file names,
// stripping the a/ and b/ prefixes and skipping /dev/null (deletions).
// Malformed patches fall back to a line-pattern scan so model output
// with broken hunk headers still yields its file list.
//
// # Inputs
//
//   - patch: Unified diff text (may be empty)
//
// # Outputs
//
//   - []string: Deduplicated repo-relative paths, diff order preserved
//
// # Example
//
//	files := diffscan.SourceFiles(testPatch)
//	// ["app/src/test/java/com/example/FooTest.kt"]
func SourceFiles(patch string) []string {
	if strings.TrimSpace(patch) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if path == "" || seen[path] {
			return
		}
		if !strings.HasSuffix(path, ".java") && !strings.HasSuffix(path, ".kt") {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err == nil && len(fileDiffs) > 0 {
		for _, fd := range fileDiffs {
			name := fd.NewName
			if name == "" || name == "/dev/null" {
				name = fd.OrigName
			}
			if name == "/dev/null" {
				continue
			}
			name = strings.TrimPrefix(name, "a/")
			name = strings.TrimPrefix(name, "b/")
			add(name)
		}
		return files
	}

	for _, pat := range fallbackFilePatterns {
		for _, m := range pat.FindAllStringSubmatch(patch, -1) {
			add(m[1])
		}
	}
	return files
}

// TestFiles returns the test files touched by a diff, splitting out
// instrumented tests.
//
// # Description
//
// Filters SourceFiles down to paths that look like tests, then splits
// them into unit tests and instrumented (androidTest) tests. Instrumented
// tests need an emulator and are reported separately so the caller can
// record them as skipped.
//
// # Outputs
//
//   - []string: Unit test file paths
//   - []string: Instrumented test file paths
func TestFiles(patch string) (unit []string, instrumented []string) {
	for _, path := range SourceFiles(patch) {
		if !IsTestFile(path) {
			continue
		}
		if IsInstrumentedTest(path) {
			instrumented = append(instrumented, path)
		} else {
			unit = append(unit, path)
		}
	}
	return unit, instrumented
}

// =============================================================================
// Classification
// =============================================================================

var testPathIndicators = []string{
	"/test/",
	"/androidtest/",
	"/commontest/",
	"/unittest/",
	"test.java",
	"test.kt",
	"tests.java",
	"tests.kt",
}

var instrumentedIndicators = []string{
	"/androidtest/",
	"/instrumentedtest/",
	"androidtest.java",
	"androidtest.kt",
}

// IsTestFile reports whether a path looks like a test source file.
func IsTestFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ind := range testPathIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// IsInstrumentedTest reports whether a test file targets the androidTest
// source set (device-only, cannot run as a JVM unit test).
func IsInstrumentedTest(path string) bool {
	lower := strings.ToLower(path)
	for _, ind := range instrumentedIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// utilityNameParts flag classes that live under test source sets but are
// scaffolding rather than runnable test classes. Matching is on the
// class-name prefix or suffix.
var utilityNameParts = []string{
	"Mock", "Fake", "Stub", "Dummy", "Helper", "Util", "Utils", "Factory",
	"Builder", "Fixture", "Base", "Abstract", "Support", "Common", "Shared",
	"TestData", "Constants", "Config", "Setup", "Harness", "Framework",
	"Rule", "Extension", "Listener", "Runner", "Suite", "Category", "Tag",
	"Matcher", "Assertion", "Verifier", "Provider", "Generator", "Creator",
	"Server", "Client", "Service", "Repository", "Database", "Schema",
	"Migration", "Container", "Context", "Environment", "Interceptor",
	"Adapter", "Wrapper", "Proxy", "Handler", "Processor", "Validator",
	"Converter", "Transformer", "Serializer", "Deserializer", "Parser",
	"Formatter", "Calculator", "Engine", "Manager", "Controller", "Component",
}

var knownUtilityClasses = map[string]bool{
	"MockPop3Server":   true,
	"MockSmtpServer":   true,
	"MockImapServer":   true,
	"TestUtils":        true,
	"TestHelper":       true,
	"TestBase":         true,
	"BaseTestCase":     true,
	"AbstractTestCase": true,
	"TestConstants":    true,
	"TestData":         true,
	"TestConfig":       true,
}

// IsUtilityClassName reports whether a file or class name indicates
// helper scaffolding rather than a runnable test class.
//
// # Description
//
// Checks the deny list of prefixes/suffixes (Mock, Helper, Base, ...),
// a set of known offenders from real repos, and the IUpper interface
// naming convention. Running these through Gradle's --tests filter
// either fails (no runnable methods) or silently tests nothing, so
// they are dropped before task generation.
func IsUtilityClassName(name string) bool {
	class := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(name), ".java"), ".kt")

	for _, part := range utilityNameParts {
		if strings.HasPrefix(class, part) || strings.HasSuffix(class, part) {
			return true
		}
	}
	if knownUtilityClasses[class] {
		return true
	}
	// IFooBar interface naming
	if len(class) > 1 && class[0] == 'I' && class[1] >= 'A' && class[1] <= 'Z' {
		return true
	}
	return false
}

// =============================================================================
// Test Content Confirmation
// =============================================================================

var testContentMarkers = []string{
	"@Test",
	"@ParameterizedTest",
	"@RepeatedTest",
	"@TestMethodOrder",
	"@TestInstance",
	"fun test",
	"fun `",
	"void test",
	"public void test",
	"testSuite(",
	"describe(",
	"it(",
	"should(",
	"when(",
	"given(",
	"then(",
}

var testMethodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`fun test\w+\(`),
	regexp.MustCompile("fun `.*`\\("),
	regexp.MustCompile(`void test\w+\(`),
	regexp.MustCompile(`public void test\w+\(`),
}

// HasTestMethods reports whether file content contains runnable tests.
//
// # Description
//
// A single @Test annotation, two or more weaker markers, or a matching
// test method signature all count. Callers that cannot read the file
// should treat it as a test (false negatives skip real tests, false
// positives just produce an empty Gradle filter).
func HasTestMethods(content string) bool {
	count := 0
	for _, marker := range testContentMarkers {
		if strings.Contains(content, marker) {
			count++
		}
	}
	if count >= 2 {
		return true
	}
	if strings.Contains(content, "@Test") {
		return true
	}
	for _, pat := range testMethodPatterns {
		if pat.MatchString(content) {
			return true
		}
	}
	return false
}

// ConfirmTestClass checks a path (and its content when readable under
// projectRoot) and returns the fully qualified class name, or "" when
// the file is scaffolding or holds no tests.
func ConfirmTestClass(projectRoot, path string) string {
	if IsUtilityClassName(path) {
		return ""
	}
	if projectRoot != "" {
		if data, err := os.ReadFile(filepath.Join(projectRoot, path)); err == nil {
			if !HasTestMethods(string(data)) {
				return ""
			}
		}
	}
	return ClassName(path)
}

// =============================================================================
// Naming
// =============================================================================

var testSourceRoots = []string{
	"/src/test/java/",
	"/src/test/kotlin/",
	"/src/androidTest/java/",
	"/src/androidTest/kotlin/",
	"/src/commonTest/kotlin/",
	"/src/unitTest/java/",
	"/src/unitTest/kotlin/",
}

// ClassName converts a source path to a fully qualified class name.
//
// # Description
//
// Strips the test source root when present, otherwise cuts at the last
// /java/ or /kotlin/ segment, and as a last resort uses the bare file
// name. The remainder is dot-joined with extensions removed.
//
// # Example
//
//	diffscan.ClassName("app/src/test/java/com/example/FooTest.kt")
//	// "com.example.FooTest"
func ClassName(path string) string {
	for _, root := range testSourceRoots {
		if idx := strings.Index(path, root); idx != -1 {
			return pathToClass(path[idx+len(root):])
		}
	}

	javaIdx := strings.LastIndex(path, "/java/")
	kotlinIdx := strings.LastIndex(path, "/kotlin/")
	if javaIdx > kotlinIdx && javaIdx != -1 {
		return pathToClass(path[javaIdx+len("/java/"):])
	}
	if kotlinIdx != -1 {
		return pathToClass(path[kotlinIdx+len("/kotlin/"):])
	}

	base := filepath.Base(path)
	if strings.HasSuffix(base, ".java") || strings.HasSuffix(base, ".kt") {
		class := pathToClass(base)
		if IsUtilityClassName(class) {
			return ""
		}
		return class
	}
	return ""
}

func pathToClass(rel string) string {
	rel = strings.TrimSuffix(strings.TrimSuffix(rel, ".java"), ".kt")
	return strings.ReplaceAll(rel, "/", ".")
}

// =============================================================================
// Module Resolution
// =============================================================================

var sourceSetMarkers = map[string]bool{
	"src": true, "main": true, "test": true,
	"androidTest": true, "commonTest": true, "commonMain": true,
}

// Module derives the Gradle module path from a source file path.
//
// # Description
//
// The path segments before the first "src" directory name the module:
// feature/notification/impl/src/commonTest/... becomes
// :feature:notification:impl. Files directly under src/ belong to the
// root project (":"). Paths with no src directory fall back to cutting
// at the first test-ish segment, and finally to ":app".
//
// # Example
//
//	diffscan.Module("parser/media/src/test/java/Foo.kt") // ":parser:media"
//	diffscan.Module("app/src/test/java/Foo.kt")          // ":app"
//	diffscan.Module("src/test/java/Foo.kt")              // ":"
func Module(path string) string {
	parts := strings.Split(strings.ReplaceAll(path, `\`, "/"), "/")

	for i, part := range parts {
		if part == "src" {
			if i == 0 {
				return ":"
			}
			return ":" + strings.Join(parts[:i], ":")
		}
	}

	for i, part := range parts {
		lower := strings.ToLower(part)
		if strings.Contains(lower, "test") {
			if i > 0 {
				return ":" + strings.Join(parts[:i], ":")
			}
			break
		}
	}
	return ":app"
}

// ModuleTests groups confirmed unit test classes by Gradle module.
//
// # Description
//
// The end-to-end extraction used for task generation: pull test files
// from the patch, split off instrumented tests, drop scaffolding, and
// bucket the surviving class names by module. projectRoot may be empty
// when file contents are unavailable (classification is then purely
// path-based).
//
// # Outputs
//
//   - map[string][]string: Module path to class names
//   - []string: Class names of skipped instrumented tests
func ModuleTests(projectRoot, patch string) (map[string][]string, []string) {
	unit, instrumented := TestFiles(patch)

	moduleTests := make(map[string][]string)
	for _, path := range unit {
		class := ConfirmTestClass(projectRoot, path)
		if class == "" {
			continue
		}
		module := Module(path)
		moduleTests[module] = append(moduleTests[module], class)
	}

	var skipped []string
	for _, path := range instrumented {
		if IsUtilityClassName(path) {
			continue
		}
		if class := ClassName(path); class != "" {
			skipped = append(skipped, class)
		}
	}
	return moduleTests, skipped
}
