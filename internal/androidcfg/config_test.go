// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package androidcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProjectFile creates a file under root, making parent directories.
func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveDefaultsOnEmptyProject(t *testing.T) {
	cfg := NewResolver(nil).Resolve(t.TempDir())

	assert.Equal(t, "17", cfg.JavaVersion)
	assert.Equal(t, "8.6", cfg.GradleVersion)
	assert.Equal(t, "35", cfg.CompileSDK)
	assert.Equal(t, "21", cfg.MinSDK)
	assert.Equal(t, "debug", cfg.TestVariant)
	assert.Equal(t, "-Xmx4096m", cfg.JVMArgs)
	assert.Empty(t, cfg.NDKVersion)
}

func TestResolveGradleWrapper(t *testing.T) {
	tests := []struct {
		name            string
		distributionURL string
		want            string
	}{
		{
			name:            "supported version kept",
			distributionURL: `distributionUrl=https\://services.gradle.org/distributions/gradle-7.5-bin.zip`,
			want:            "7.5",
		},
		{
			name:            "unsupported version snaps to closest",
			distributionURL: `distributionUrl=https\://services.gradle.org/distributions/gradle-8.5-all.zip`,
			want:            "8.1",
		},
		{
			name:            "patch versions handled",
			distributionURL: `distributionUrl=https\://services.gradle.org/distributions/gradle-7.6.1-bin.zip`,
			want:            "7.6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeProjectFile(t, root, "gradle/wrapper/gradle-wrapper.properties", tt.distributionURL)

			cfg := NewResolver(nil).Resolve(root)
			assert.Equal(t, tt.want, cfg.GradleVersion)
		})
	}
}

func TestResolveJVMArgs(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "gradle.properties",
		"org.gradle.jvmargs=-Xmx6g -XX:MaxMetaspaceSize=1g\norg.gradle.parallel=true\n")

	cfg := NewResolver(nil).Resolve(root)
	assert.Equal(t, "-Xmx6g -XX:MaxMetaspaceSize=1g", cfg.JVMArgs)
}

func TestResolveAGPJavaFloor(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{
			name:   "agp 8 requires 17",
			script: `classpath "com.android.tools.build:gradle:8.1.0"`,
			want:   "17",
		},
		{
			name:   "agp 7.4 requires 17",
			script: `classpath "com.android.tools.build:gradle:7.4.2"`,
			want:   "17",
		},
		{
			name:   "agp 7.3 requires 11",
			script: `classpath "com.android.tools.build:gradle:7.3.1"`,
			want:   "11",
		},
		{
			name:   "agp 4.2 requires 11",
			script: `classpath "com.android.tools.build:gradle:4.2.0"`,
			want:   "11",
		},
		{
			name:   "agp 4.1 runs on 8",
			script: `classpath "com.android.tools.build:gradle:4.1.3"`,
			want:   "8",
		},
		{
			name:   "plugins dsl version",
			script: `id("com.android.application") version "8.0.2"`,
			want:   "17",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeProjectFile(t, root, "build.gradle", tt.script)

			cfg := NewResolver(nil).Resolve(root)
			assert.Equal(t, tt.want, cfg.JavaVersion)
		})
	}
}

func TestResolveAGPFromVersionCatalog(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "build.gradle", "// plugin versions live in the catalog\n")
	writeProjectFile(t, root, "gradle/libs.versions.toml", "[versions]\nagp = \"8.2.0\"\n")

	cfg := NewResolver(nil).Resolve(root)
	assert.Equal(t, "17", cfg.JavaVersion)
}

func TestExplicitJavaOnlyRaisesFloor(t *testing.T) {
	t.Run("explicit below plugin floor is ignored", func(t *testing.T) {
		root := t.TempDir()
		writeProjectFile(t, root, "build.gradle",
			"classpath \"com.android.tools.build:gradle:8.0.0\"\nsourceCompatibility = JavaVersion.VERSION_11\n")

		cfg := NewResolver(nil).Resolve(root)
		assert.Equal(t, "17", cfg.JavaVersion)
	})

	t.Run("explicit above plugin floor wins", func(t *testing.T) {
		root := t.TempDir()
		writeProjectFile(t, root, "build.gradle",
			"classpath \"com.android.tools.build:gradle:7.3.0\"\nsourceCompatibility = JavaVersion.VERSION_17\n")

		cfg := NewResolver(nil).Resolve(root)
		assert.Equal(t, "17", cfg.JavaVersion)
	})

	t.Run("unsupported explicit version mapped", func(t *testing.T) {
		root := t.TempDir()
		writeProjectFile(t, root, "build.gradle", `jvmTarget = "15"`)

		cfg := NewResolver(nil).Resolve(root)
		assert.Equal(t, "11", cfg.JavaVersion)
	})
}

func TestResolveSDKLevels(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "app/build.gradle", `
android {
    compileSdk 34
    defaultConfig {
        minSdk 24
        targetSdk 34
    }
    ndkVersion "25.1.8937393"
}
`)

	cfg := NewResolver(nil).Resolve(root)
	assert.Equal(t, "34", cfg.CompileSDK)
	assert.Equal(t, "34", cfg.TargetSDK)
	assert.Equal(t, "24", cfg.MinSDK)
	assert.Equal(t, "25.1.8937393", cfg.NDKVersion)
}

func TestResolveSDKClamping(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "app/build.gradle", `
android {
    compileSdk 36
    defaultConfig {
        minSdk 16
    }
}
`)

	cfg := NewResolver(nil).Resolve(root)
	assert.Equal(t, "35", cfg.CompileSDK)
	assert.Equal(t, "21", cfg.MinSDK)
}

func TestResolveAndroidModuleDirectory(t *testing.T) {
	// Kotlin Multiplatform layouts keep the android block out of app/
	root := t.TempDir()
	writeProjectFile(t, root, "androidApp/build.gradle.kts", `
android {
    compileSdk = 33
}
`)

	cfg := NewResolver(nil).Resolve(root)
	assert.Equal(t, "33", cfg.CompileSDK)
}

func TestDetermineTestVariant(t *testing.T) {
	t.Run("release only build types", func(t *testing.T) {
		root := t.TempDir()
		writeProjectFile(t, root, "app/build.gradle", `
android {
    buildTypes {
        release {
            minifyEnabled true
        }
    }
}
`)
		cfg := NewResolver(nil).Resolve(root)
		assert.Equal(t, "release", cfg.TestVariant)
	})

	t.Run("debug preferred", func(t *testing.T) {
		root := t.TempDir()
		writeProjectFile(t, root, "app/build.gradle", `
android {
    buildTypes {
        debug { }
        release { }
    }
}
`)
		cfg := NewResolver(nil).Resolve(root)
		assert.Equal(t, "debug", cfg.TestVariant)
	})
}

func TestClosestVersion(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"8.5", "8.1"},
		{"8.14", "8.1"},
		{"6.5", "6.9"},
		{"7.6.4", "7.6"},
		{"7.2", "7.2"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got := ClosestVersion(tt.target, SupportedGradleVersions)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJavaVersionForAGP(t *testing.T) {
	assert.Equal(t, "17", javaVersionForAGP("8.1.1"))
	assert.Equal(t, "17", javaVersionForAGP("7.4"))
	assert.Equal(t, "11", javaVersionForAGP("7.0.4"))
	assert.Equal(t, "11", javaVersionForAGP("4.2.2"))
	assert.Equal(t, "8", javaVersionForAGP("3.6.0"))
	assert.Equal(t, "", javaVersionForAGP("not-a-version"))
}
