// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package androidcfg resolves the build environment an Android project
// needs from its Gradle files.
//
// The resolver never fails outright: any file it cannot find or parse
// leaves the corresponding default in place, so a bare directory still
// yields a usable configuration for the build container.
package androidcfg

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Constants
// =============================================================================

// Versions available inside the mingc/android-build-box image.
var (
	// SupportedJavaVersions are the JDKs installed in the build image.
	SupportedJavaVersions = []string{"8", "11", "17", "21"}

	// SupportedGradleVersions are the Gradle distributions the image can
	// provision without a network fetch.
	SupportedGradleVersions = []string{
		"6.9", "7.0", "7.1", "7.2", "7.3", "7.4", "7.5", "7.6", "8.0", "8.1",
	}

	// MinSupportedSDK and MaxSupportedSDK bound the Android API levels
	// the image ships platforms for.
	MinSupportedSDK = 21
	MaxSupportedSDK = 35
)

// DefaultBuildTools is the build-tools revision installed during container init.
const DefaultBuildTools = "35.0.0"

// =============================================================================
// BuildConfig Type
// =============================================================================

// BuildConfig describes the environment a project's Gradle build expects.
//
// # Description
//
// All fields are strings because they feed shell environment exports and
// sdkmanager package names verbatim. NDKVersion is empty when the project
// does not declare one.
type BuildConfig struct {
	// JavaVersion selects the JDK (8, 11, 17, or 21).
	JavaVersion string `json:"java_version"`

	// GradleVersion is the Gradle distribution version.
	GradleVersion string `json:"gradle_version"`

	// CompileSDK is the compileSdk API level.
	CompileSDK string `json:"compile_sdk"`

	// TargetSDK is the targetSdk API level.
	TargetSDK string `json:"target_sdk"`

	// MinSDK is the minSdk API level.
	MinSDK string `json:"min_sdk"`

	// BuildTools is the Android build-tools revision.
	BuildTools string `json:"build_tools"`

	// NDKVersion is the declared NDK revision, or empty.
	NDKVersion string `json:"ndk_version,omitempty"`

	// JVMArgs are the Gradle daemon JVM arguments.
	JVMArgs string `json:"jvm_args"`

	// TestVariant is the build variant used for unit tests.
	TestVariant string `json:"test_variant"`
}

// DefaultBuildConfig returns the configuration assumed when a project
// declares nothing.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		JavaVersion:   "17",
		GradleVersion: "8.6",
		CompileSDK:    "35",
		TargetSDK:     "35",
		MinSDK:        "21",
		BuildTools:    DefaultBuildTools,
		JVMArgs:       "-Xmx4096m",
		TestVariant:   "debug",
	}
}

// =============================================================================
// Parsing Patterns
// =============================================================================

var (
	gradleWrapperPatterns = []*regexp.Regexp{
		regexp.MustCompile(`gradle-(\d+\.\d+(?:\.\d+)?)-`),
		regexp.MustCompile(`distributionUrl=.*gradle-(\d+\.\d+(?:\.\d+)?)-`),
	}

	jvmArgsPattern = regexp.MustCompile(`org\.gradle\.jvmargs\s*=\s*(.+)`)

	agpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`com\.android\.tools\.build:gradle:(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`id\s*\(\s*["']com\.android\.application["']\s*\)\s*version\s*["'](\d+\.\d+(?:\.\d+)?)["']`),
		regexp.MustCompile(`id\s*["']com\.android\.application["']\s*version\s*["'](\d+\.\d+(?:\.\d+)?)["']`),
		regexp.MustCompile(`classpath\s*["']com\.android\.tools\.build:gradle:(\d+\.\d+(?:\.\d+)?)["']`),
	}

	catalogAGPPatterns = []*regexp.Regexp{
		regexp.MustCompile(`agp\s*=\s*["'](\d+\.\d+(?:\.\d+)?)["']`),
		regexp.MustCompile(`android-gradle\s*=\s*["'](\d+\.\d+(?:\.\d+)?)["']`),
		regexp.MustCompile(`androidGradlePlugin\s*=\s*["'](\d+\.\d+(?:\.\d+)?)["']`),
	}

	javaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`sourceCompatibility\s*[=:]\s*JavaVersion\.VERSION_(\d+)`),
		regexp.MustCompile(`targetCompatibility\s*[=:]\s*JavaVersion\.VERSION_(\d+)`),
		regexp.MustCompile(`jvmTarget\s*[=:]\s*["'](\d+)["']`),
		regexp.MustCompile(`JavaVersion\.VERSION_(\d+)`),
	}

	sdkPatterns = map[string][]*regexp.Regexp{
		"compile": {
			regexp.MustCompile(`compileSdk(?:Version)?\s*[=:]\s*(\d+)`),
			regexp.MustCompile(`compileSdkVersion\s*(\d+)`),
		},
		"target": {
			regexp.MustCompile(`targetSdk(?:Version)?\s*[=:]\s*(\d+)`),
			regexp.MustCompile(`targetSdkVersion\s*(\d+)`),
		},
		"min": {
			regexp.MustCompile(`minSdk(?:Version)?\s*[=:]\s*(\d+)`),
			regexp.MustCompile(`minSdkVersion\s*(\d+)`),
		},
	}

	ndkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`ndkVersion\s*[=:]\s*["']([^"']+)["']`),
		regexp.MustCompile(`ndk\s*\{\s*version\s*[=:]\s*["']([^"']+)["']`),
	}

	buildTypesPattern = regexp.MustCompile(`(?s)buildTypes\s*\{([^}]+)\}`)
)

// =============================================================================
// Resolver
// =============================================================================

// Resolver inspects a cloned project and produces its BuildConfig.
//
// # Thread Safety
//
// Resolver is stateless apart from its logger and safe for concurrent use.
//
// # Example
//
//	r := androidcfg.NewResolver(log)
//	cfg := r.Resolve("/work/repos/AnkiDroid")
//	fmt.Println(cfg.JavaVersion, cfg.GradleVersion)
type Resolver struct {
	log *logging.Logger
}

// NewResolver creates a Resolver. A nil logger falls back to the default.
func NewResolver(log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{log: log}
}

// Resolve parses the project's Gradle files and returns the build config.
//
// # Description
//
// Parses, in priority order, gradle-wrapper.properties, gradle.properties,
// the root build script (AGP detection drives the Java floor), and the
// first build script containing an android block (SDK levels, NDK). A
// final validation pass forces every field back into the supported set.
//
// # Inputs
//
//   - projectPath: Root of the cloned repository
//
// # Outputs
//
//   - BuildConfig: Resolved configuration; defaults where nothing was found
//
// # Limitations
//
//   - Gradle scripts are scanned by pattern, not evaluated; values computed
//     at build time (ext properties, conventions plugins) are not visible
func (r *Resolver) Resolve(projectPath string) BuildConfig {
	cfg := DefaultBuildConfig()

	r.parseGradleWrapper(projectPath, &cfg)
	r.parseGradleProperties(projectPath, &cfg)
	r.parseRootBuildScript(projectPath, &cfg)
	r.parseAndroidBuildScript(projectPath, &cfg)
	r.determineTestVariant(projectPath, &cfg)
	r.validate(&cfg)

	r.log.Info("resolved build config",
		"java", cfg.JavaVersion,
		"gradle", cfg.GradleVersion,
		"compile_sdk", cfg.CompileSDK,
		"variant", cfg.TestVariant)
	return cfg
}

func (r *Resolver) parseGradleWrapper(root string, cfg *BuildConfig) {
	content, err := os.ReadFile(filepath.Join(root, "gradle", "wrapper", "gradle-wrapper.properties"))
	if err != nil {
		r.log.Warn("gradle wrapper not found", "path", root)
		return
	}

	for _, pat := range gradleWrapperPatterns {
		if m := pat.FindStringSubmatch(string(content)); m != nil {
			version := m[1]
			if containsString(SupportedGradleVersions, version) {
				cfg.GradleVersion = version
			} else {
				closest := ClosestVersion(version, SupportedGradleVersions)
				cfg.GradleVersion = closest
				r.log.Warn("gradle version unsupported, substituting",
					"declared", version, "using", closest)
			}
			return
		}
	}
}

func (r *Resolver) parseGradleProperties(root string, cfg *BuildConfig) {
	content, err := os.ReadFile(filepath.Join(root, "gradle.properties"))
	if err != nil {
		return
	}

	if m := jvmArgsPattern.FindStringSubmatch(string(content)); m != nil {
		args := strings.TrimSpace(m[1])
		args = strings.NewReplacer(`"`, "", `'`, "").Replace(args)
		cfg.JVMArgs = args
	}
}

// parseRootBuildScript detects the AGP version and derives the Java floor.
// An explicit sourceCompatibility or jvmTarget may raise the floor but
// never lower it below what the plugin requires.
func (r *Resolver) parseRootBuildScript(root string, cfg *BuildConfig) {
	var content string
	for _, name := range []string{"build.gradle", "build.gradle.kts"} {
		if data, err := os.ReadFile(filepath.Join(root, name)); err == nil {
			content = string(data)
			break
		}
	}
	if content == "" {
		r.log.Warn("root build script not found", "path", root)
		return
	}

	agpVersion := r.detectAGPVersion(root, content)
	if agpVersion != "" {
		if required := javaVersionForAGP(agpVersion); required != "" {
			cfg.JavaVersion = required
			r.log.Debug("java floor from plugin version", "agp", agpVersion, "java", required)
		}
	}

	for _, pat := range javaPatterns {
		m := pat.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		declared := m[1]
		if !containsString(SupportedJavaVersions, declared) {
			declared = mapJavaVersion(declared)
		}
		if agpVersion == "" || atoiSafe(declared) >= atoiSafe(cfg.JavaVersion) {
			cfg.JavaVersion = declared
		}
		return
	}
}

func (r *Resolver) detectAGPVersion(root, rootScript string) string {
	for _, pat := range agpPatterns {
		if m := pat.FindStringSubmatch(rootScript); m != nil {
			return m[1]
		}
	}

	// Version catalogs keep the plugin version out of the build script
	catalog, err := os.ReadFile(filepath.Join(root, "gradle", "libs.versions.toml"))
	if err != nil {
		return ""
	}
	for _, pat := range catalogAGPPatterns {
		if m := pat.FindStringSubmatch(string(catalog)); m != nil {
			return m[1]
		}
	}
	return ""
}

// parseAndroidBuildScript finds the first build script declaring an
// android block and pulls SDK levels and the NDK revision from it.
func (r *Resolver) parseAndroidBuildScript(root string, cfg *BuildConfig) {
	for _, path := range androidScriptCandidates(root) {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		text := string(content)
		if !strings.Contains(text, "android {") && !strings.Contains(text, "compileSdk") {
			continue
		}

		for key, pats := range sdkPatterns {
			for _, pat := range pats {
				m := pat.FindStringSubmatch(text)
				if m == nil {
					continue
				}
				level := clampSDK(m[1])
				switch key {
				case "compile":
					cfg.CompileSDK = level
				case "target":
					cfg.TargetSDK = level
				case "min":
					cfg.MinSDK = level
				}
				break
			}
		}

		for _, pat := range ndkPatterns {
			if m := pat.FindStringSubmatch(text); m != nil {
				cfg.NDKVersion = m[1]
				break
			}
		}
		return
	}
	r.log.Warn("no android build configuration found", "path", root)
}

func (r *Resolver) determineTestVariant(root string, cfg *BuildConfig) {
	for _, path := range androidScriptCandidates(root) {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		m := buildTypesPattern.FindStringSubmatch(string(content))
		if m == nil {
			continue
		}
		body := strings.ToLower(m[1])
		if strings.Contains(body, "debug") {
			cfg.TestVariant = "debug"
			return
		}
		if strings.Contains(body, "release") {
			cfg.TestVariant = "release"
			r.log.Warn("falling back to release variant for tests")
			return
		}
	}
}

// validate forces every field back into the supported set.
func (r *Resolver) validate(cfg *BuildConfig) {
	if !containsString(SupportedJavaVersions, cfg.JavaVersion) {
		cfg.JavaVersion = "17"
	}
	if !containsString(SupportedGradleVersions, cfg.GradleVersion) && cfg.GradleVersion != "8.6" {
		cfg.GradleVersion = "8.6"
	}
	for _, field := range []*string{&cfg.CompileSDK, &cfg.TargetSDK, &cfg.MinSDK} {
		level := atoiSafe(*field)
		if level < MinSupportedSDK || level > MaxSupportedSDK {
			*field = "35"
		}
	}
}

// androidScriptCandidates lists build scripts likely to hold the android
// block: app/, the root, and any android* module (Kotlin Multiplatform).
func androidScriptCandidates(root string) []string {
	candidates := []string{
		filepath.Join(root, "app", "build.gradle"),
		filepath.Join(root, "app", "build.gradle.kts"),
		filepath.Join(root, "build.gradle"),
		filepath.Join(root, "build.gradle.kts"),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return candidates
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "android") {
			candidates = append(candidates,
				filepath.Join(root, e.Name(), "build.gradle"),
				filepath.Join(root, e.Name(), "build.gradle.kts"))
		}
	}
	return candidates
}

// =============================================================================
// Version Helpers
// =============================================================================

// ClosestVersion picks the available version nearest to target.
//
// # Description
//
// Distance between versions is the sum over shared components of
// |target - candidate| weighted by 10^(componentCount - index), so a
// major-version mismatch always outweighs any minor difference.
//
// # Inputs
//
//   - target: Dotted version string (e.g. "8.7")
//   - available: Candidate versions; must be non-empty
//
// # Outputs
//
//   - string: The nearest candidate
//
// # Example
//
//	androidcfg.ClosestVersion("8.7", SupportedGradleVersions) // "8.1"
func ClosestVersion(target string, available []string) string {
	targetParts := splitVersion(target)

	best := available[0]
	bestScore := int64(-1)

	for _, candidate := range available {
		candidateParts := splitVersion(candidate)
		var score int64
		for i := 0; i < len(targetParts) && i < len(candidateParts); i++ {
			diff := int64(targetParts[i] - candidateParts[i])
			if diff < 0 {
				diff = -diff
			}
			score += diff * pow10(len(targetParts)-i)
		}
		if bestScore < 0 || score < bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// javaVersionForAGP returns the minimum JDK the Android Gradle Plugin
// requires: 7.4+ and 8.x need 17, 4.2 through 7.3 need 11, older runs on 8.
func javaVersionForAGP(agpVersion string) string {
	parts := splitVersion(agpVersion)
	if len(parts) == 0 {
		return ""
	}
	major := parts[0]
	minor := 0
	if len(parts) > 1 {
		minor = parts[1]
	}

	switch {
	case major >= 8 || (major == 7 && minor >= 4):
		return "17"
	case major >= 7 || (major == 4 && minor >= 2):
		return "11"
	default:
		return "8"
	}
}

// mapJavaVersion snaps an arbitrary JDK number onto an installed one.
func mapJavaVersion(version string) string {
	n, err := strconv.Atoi(version)
	if err != nil {
		return "11"
	}
	switch {
	case n >= 17:
		return "17"
	case n >= 11:
		return "11"
	default:
		return "8"
	}
}

func clampSDK(level string) string {
	n := atoiSafe(level)
	if n >= MinSupportedSDK && n <= MaxSupportedSDK {
		return level
	}
	if n > MaxSupportedSDK {
		return strconv.Itoa(MaxSupportedSDK)
	}
	return strconv.Itoa(MinSupportedSDK)
}

func splitVersion(v string) []int {
	var parts []int
	for _, p := range strings.Split(v, ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	return parts
}

func pow10(exp int) int64 {
	result := int64(1)
	for i := 0; i < exp; i++ {
		result *= 10
	}
	return result
}

func atoiSafe(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// String renders the config for log lines and report text.
func (c BuildConfig) String() string {
	return fmt.Sprintf("java=%s gradle=%s compileSdk=%s targetSdk=%s minSdk=%s variant=%s",
		c.JavaVersion, c.GradleVersion, c.CompileSDK, c.TargetSDK, c.MinSDK, c.TestVariant)
}
