// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package diffscan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePatch = `diff --git a/app/src/test/java/com/example/mail/MessageParserTest.kt b/app/src/test/java/com/example/mail/MessageParserTest.kt
index 1111111..2222222 100644
--- a/app/src/test/java/com/example/mail/MessageParserTest.kt
+++ b/app/src/test/java/com/example/mail/MessageParserTest.kt
@@ -1,1 +1,6 @@
 package com.example.mail
+import org.junit.Test
+
+class MessageParserTest {
+    @Test fun parsesHeaders() {}
+}
diff --git a/app/src/main/java/com/example/mail/MessageParser.kt b/app/src/main/java/com/example/mail/MessageParser.kt
index 3333333..4444444 100644
--- a/app/src/main/java/com/example/mail/MessageParser.kt
+++ b/app/src/main/java/com/example/mail/MessageParser.kt
@@ -1,1 +1,2 @@
 package com.example.mail
+class MessageParser
`

func TestSourceFiles(t *testing.T) {
	files := SourceFiles(samplePatch)
	assert.Equal(t, []string{
		"app/src/test/java/com/example/mail/MessageParserTest.kt",
		"app/src/main/java/com/example/mail/MessageParser.kt",
	}, files)
}

func TestSourceFilesEmptyPatch(t *testing.T) {
	assert.Nil(t, SourceFiles(""))
	assert.Nil(t, SourceFiles("   \n  "))
}

func TestSourceFilesFallbackOnMalformedDiff(t *testing.T) {
	// Model output with mangled hunks but recognizable headers
	malformed := `Here is the fix:
diff --git a/core/src/test/kotlin/FooTest.kt b/core/src/test/kotlin/FooTest.kt
+++ b/core/src/test/kotlin/FooTest.kt
some prose the model emitted instead of hunk lines
`
	files := SourceFiles(malformed)
	assert.Contains(t, files, "core/src/test/kotlin/FooTest.kt")
}

func TestSourceFilesIgnoresNonSource(t *testing.T) {
	patch := `diff --git a/README.md b/README.md
--- a/README.md
+++ b/README.md
@@ -1 +1,2 @@
 # readme
+more
`
	assert.Empty(t, SourceFiles(patch))
}

func TestTestFilesSplitsInstrumented(t *testing.T) {
	patch := `diff --git a/app/src/test/java/com/example/UnitTest.kt b/app/src/test/java/com/example/UnitTest.kt
--- a/app/src/test/java/com/example/UnitTest.kt
+++ b/app/src/test/java/com/example/UnitTest.kt
@@ -0,0 +1 @@
+class UnitTest
diff --git a/app/src/androidTest/java/com/example/ScreenTest.kt b/app/src/androidTest/java/com/example/ScreenTest.kt
--- a/app/src/androidTest/java/com/example/ScreenTest.kt
+++ b/app/src/androidTest/java/com/example/ScreenTest.kt
@@ -0,0 +1 @@
+class ScreenTest
`
	unit, instrumented := TestFiles(patch)
	assert.Equal(t, []string{"app/src/test/java/com/example/UnitTest.kt"}, unit)
	assert.Equal(t, []string{"app/src/androidTest/java/com/example/ScreenTest.kt"}, instrumented)
}

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"app/src/test/java/com/example/FooTest.kt", true},
		{"core/src/commonTest/kotlin/BarTest.kt", true},
		{"app/src/main/java/com/example/Foo.kt", false},
		{"lib/src/main/java/com/example/FooTest.kt", true}, // filename marker
		{"app/src/main/java/com/example/Testimonial.kt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTestFile(tt.path), tt.path)
	}
}

func TestIsUtilityClassName(t *testing.T) {
	utilities := []string{
		"MockPop3Server.kt",
		"TestHelper.java",
		"BaseTest.kt",
		"FakeRepository.kt",
		"DataBuilder.java",
		"ITestInterface.kt",
		"StringUtils.java",
	}
	for _, name := range utilities {
		assert.True(t, IsUtilityClassName(name), name)
	}

	real := []string{
		"MessageParserTest.kt",
		"LoginViewModelTest.java",
		"IntegrityTest.kt", // starts with I but lowercase second letter rule
	}
	for _, name := range real {
		assert.False(t, IsUtilityClassName(name), name)
	}
}

func TestHasTestMethods(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"junit annotation", "class Foo {\n@Test\nfun bar() {}\n}", true},
		{"kotlin backtick method", "class Foo {\nfun `parses empty input`() {}\n}", true},
		{"java method pattern", "public void testParse() {}", true},
		{"plain helper", "object Fixtures { val user = User() }", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasTestMethods(tt.content))
		})
	}
}

func TestClassName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"app/src/test/java/com/example/FooTest.kt", "com.example.FooTest"},
		{"core/src/commonTest/kotlin/com/example/BarTest.kt", "com.example.BarTest"},
		{"weird/layout/java/com/example/BazTest.java", "com.example.BazTest"},
		{"nosrc/SomeTest.kt", "SomeTest"},
		{"nosrc/TestHelper.kt", ""}, // utility filtered at filename level
		{"noextension/file.txt", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassName(tt.path), tt.path)
	}
}

func TestModule(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"feature/notification/impl/src/commonTest/kotlin/FooTest.kt", ":feature:notification:impl"},
		{"parser/media/src/test/java/FooTest.kt", ":parser:media"},
		{"app/src/test/java/FooTest.kt", ":app"},
		{"src/test/java/FooTest.kt", ":"},
		{"legacy/testSrc/FooTest.kt", ":legacy"},
		{"FooTest.kt", ":app"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Module(tt.path), tt.path)
	}
}

func TestModuleTests(t *testing.T) {
	root := t.TempDir()
	testFile := "app/src/test/java/com/example/RealTest.kt"
	full := filepath.Join(root, testFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("import org.junit.Test\nclass RealTest { @Test fun x() {} }"), 0o644))

	patch := `diff --git a/app/src/test/java/com/example/RealTest.kt b/app/src/test/java/com/example/RealTest.kt
--- a/app/src/test/java/com/example/RealTest.kt
+++ b/app/src/test/java/com/example/RealTest.kt
@@ -0,0 +1 @@
+class RealTest
diff --git a/app/src/test/java/com/example/MockServer.kt b/app/src/test/java/com/example/MockServer.kt
--- a/app/src/test/java/com/example/MockServer.kt
+++ b/app/src/test/java/com/example/MockServer.kt
@@ -0,0 +1 @@
+class MockServer
diff --git a/app/src/androidTest/java/com/example/ScreenTest.kt b/app/src/androidTest/java/com/example/ScreenTest.kt
--- a/app/src/androidTest/java/com/example/ScreenTest.kt
+++ b/app/src/androidTest/java/com/example/ScreenTest.kt
@@ -0,0 +1 @@
+class ScreenTest
`

	moduleTests, skipped := ModuleTests(root, patch)
	assert.Equal(t, map[string][]string{":app": {"com.example.RealTest"}}, moduleTests)
	assert.Equal(t, []string{"com.example.ScreenTest"}, skipped)
}
