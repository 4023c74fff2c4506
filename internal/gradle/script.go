// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gradle

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Shell Script Builders
// =============================================================================

// pinnedGradleProperties is written to GRADLE_USER_HOME before every run
// so project-local gradle.properties cannot re-enable the daemon or blow
// past the container's memory.
const pinnedGradleProperties = `org.gradle.daemon=false
org.gradle.parallel=true
org.gradle.workers.max=4
org.gradle.jvmargs=-Xmx6g -XX:MaxMetaspaceSize=1g -XX:+UseG1GC
android.enableJetifier=true
android.useAndroidX=true`

// envSetup renders the Java and Android environment preamble shared by
// every in-container Gradle invocation.
func envSetup(javaVersion string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `case %s in
    8) export JAVA_HOME=/usr/lib/jvm/java-8-openjdk-amd64 ;;
    11) export JAVA_HOME=/usr/lib/jvm/java-11-openjdk-amd64 ;;
    17) export JAVA_HOME=/usr/lib/jvm/java-17-openjdk-amd64 ;;
    21) export JAVA_HOME=/usr/lib/jvm/java-21-openjdk-amd64 ;;
esac
if [ -d "$JAVA_HOME" ]; then export PATH="$JAVA_HOME/bin:$PATH"; fi

export ANDROID_HOME='/opt/android-sdk'
export ANDROID_SDK_ROOT='/opt/android-sdk'
export HOME=/tmp
export GRADLE_USER_HOME=/tmp/.gradle
mkdir -p /tmp/.gradle

cat > /tmp/.gradle/gradle.properties << 'GRADLEPROPS'
%s
GRADLEPROPS
`, javaVersion, pinnedGradleProperties)
	return b.String()
}

// TestScript renders the shell script that runs a test phase inside the
// container and appends every JUnit XML report to stdout.
//
// # Description
//
// The script sets up the Java/Android environment, pins Gradle
// properties, stops stray daemons, runs the test tasks under a timeout,
// then cats every TEST-*.xml between marker lines so the result parser
// can recover per-test outcomes from the combined output. The Gradle
// invocation never aborts the script: collection runs even when tests
// fail.
//
// # Inputs
//
//   - workdir: Project path inside the container (e.g. "/workspace")
//   - instanceID: Task instance ID (for log banners)
//   - phase: Phase label ("TEST-PRE-SOLUTION" or "TEST-POST-SOLUTION")
//   - javaVersion: JDK selector (8, 11, 17, 21)
//   - gradleArgs: Argument string from TestArgs
//   - timeout: Budget passed to the in-container timeout command
//
// # Outputs
//
//   - string: Bash script for docker exec
func TestScript(workdir, instanceID, phase, javaVersion, gradleArgs string, timeout time.Duration) string {
	seconds := int(timeout.Seconds())
	return fmt.Sprintf(`cd %s &&
echo "=== Running module-specific tests ===" &&
echo "Instance: %s" &&
echo "Phase: %s" &&
%s
echo "=== Stopping existing Gradle daemons ===" &&
./gradlew --stop 2>/dev/null || true &&

if [ -f './gradlew' ]; then
    chmod +x ./gradlew
    echo "=== Executing: ./gradlew %s --no-daemon --stacktrace --continue --parallel ===" &&
    timeout %d ./gradlew %s --no-daemon --stacktrace --continue --parallel || echo "Test execution completed"
else
    echo "ERROR: No gradlew found in workspace"
fi &&

echo "=== Collecting test results ===" &&
find . -name "TEST-*.xml" -type f 2>/dev/null | head -30 | while read file; do
    echo "=== XML FILE: $file ==="
    cat "$file" 2>/dev/null || echo "Could not read $file"
    echo "=== END XML FILE ==="
done &&

find . -path "*/test-results/*" -name "*.xml" -type f 2>/dev/null | head -30 | while read file; do
    echo "=== TEST RESULT: $file ==="
    cat "$file" 2>/dev/null || echo "Could not read $file"
    echo "=== END TEST RESULT ==="
done`,
		workdir, instanceID, phase, envSetup(javaVersion),
		gradleArgs, seconds, gradleArgs)
}

// BuildScript renders the shell script that compiles the project's test
// sources without running them.
//
// # Description
//
// Used after the test patch lands to establish that the project still
// compiles before any tests run. Compile failures here are what trigger
// the stub repair loop.
func BuildScript(workdir, javaVersion, gradleArgs string, timeout time.Duration) string {
	seconds := int(timeout.Seconds())
	return fmt.Sprintf(`cd %s &&
%s
./gradlew --stop 2>/dev/null || true &&

if [ -f './gradlew' ]; then
    chmod +x ./gradlew
    timeout %d ./gradlew %s --no-daemon --stacktrace 2>&1
else
    echo "ERROR: No gradlew found in workspace"
    exit 1
fi`,
		workdir, envSetup(javaVersion), seconds, gradleArgs)
}

// VerificationTasksScript renders the script that lists a module's
// verification-group tasks for variant detection.
func VerificationTasksScript(workdir, module string) string {
	return fmt.Sprintf(`cd %s &&
timeout 20 ./gradlew %s:tasks --group=verification --console=plain 2>/dev/null | grep -E "test.*UnitTest" | head -10 || echo "VERIFICATION_FAILED"`,
		workdir, module)
}

// VerificationFailedMarker is emitted by VerificationTasksScript when
// task listing does not complete.
const VerificationFailedMarker = "VERIFICATION_FAILED"

// ProjectsScript renders the script that lists the build's Gradle
// projects, used to confirm planned modules still exist before a run.
func ProjectsScript(workdir string) string {
	return fmt.Sprintf(`cd %s &&
timeout 60 ./gradlew projects --console=plain 2>/dev/null || echo "PROJECT_LISTING_FAILED"`,
		workdir)
}

// ProjectListingFailedMarker is emitted by ProjectsScript when the
// project listing does not complete.
const ProjectListingFailedMarker = "PROJECT_LISTING_FAILED"
