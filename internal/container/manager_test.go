// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package container

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fakorede/mobile-bench-sub000/internal/androidcfg"
	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
)

// scriptedDocker builds a process mock that answers docker invocations
// by matching the argument list against ordered rules.
type dockerRule struct {
	match    string // substring of the joined args
	stdout   string
	exitCode int
}

func scriptedDocker(t *testing.T, rules []dockerRule) *process.MockManager {
	t.Helper()
	return &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			joined := strings.Join(args, " ")
			for _, r := range rules {
				if strings.Contains(joined, r.match) {
					return r.stdout, "", r.exitCode, nil
				}
			}
			return "", "", 0, nil
		},
	}
}

// dockerCalls returns the joined args of every docker invocation.
func dockerCalls(proc *process.MockManager) []string {
	var out []string
	for _, c := range proc.CallsFor("RunInDir") {
		out = append(out, strings.Join(c.Args, " "))
	}
	return out
}

func testBuild() androidcfg.BuildConfig {
	cfg := androidcfg.DefaultBuildConfig()
	return cfg
}

func TestContainerName(t *testing.T) {
	tests := []struct {
		instanceID string
		want       string
	}{
		{"AntennaPod__AntennaPod-100", "android-bench-antennapod--antennapod-100"},
		{"simple", "android-bench-simple"},
		{"thunderbird_android-7", "android-bench-thunderbird-android-7"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainerName(tt.instanceID))
	}
}

func TestVolumeNames(t *testing.T) {
	assert.Equal(t, "gradle-cache-inst-1", GradleVolume("inst-1"))
	assert.Equal(t, "android-cache-inst-1", AndroidVolume("inst-1"))
}

func TestCreateReusesUsableContainer(t *testing.T) {
	name := ContainerName("inst-1")
	proc := scriptedDocker(t, []dockerRule{
		{match: "ps -a -q -f name=^" + name + "$", stdout: "abc123\n"},
		{match: "--format {{.Status}}", stdout: "Up 2 hours\n"},
	})

	m := NewDockerManager(proc, "", nil)
	err := m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	})
	require.NoError(t, err)

	for _, call := range dockerCalls(proc) {
		assert.NotContains(t, call, "create --name",
			"usable container must be reused, not recreated")
	}
}

func TestCreateReplacesUnusableContainer(t *testing.T) {
	name := ContainerName("inst-1")
	proc := scriptedDocker(t, []dockerRule{
		{match: "ps -a -q -f name=^" + name + "$", stdout: "abc123\n"},
		{match: "--format {{.Status}}", stdout: "Exited (137) 3 hours ago\n"},
	})

	m := NewDockerManager(proc, "", nil)
	err := m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	})
	require.NoError(t, err)

	calls := dockerCalls(proc)
	var stopped, removed, created bool
	for _, call := range calls {
		switch {
		case strings.HasPrefix(call, "stop "):
			stopped = true
		case strings.HasPrefix(call, "rm "):
			removed = true
		case strings.HasPrefix(call, "create "):
			created = true
			assert.Contains(t, call, "--name "+name)
			assert.Contains(t, call, "-v gradle-cache-inst-1:/tmp/.gradle")
			assert.Contains(t, call, "-v android-cache-inst-1:/root/.android")
			assert.Contains(t, call, "--network host")
			assert.Contains(t, call, "--user root")
			assert.Contains(t, call, "-e JAVA_HOME=/usr/lib/jvm/java-17-openjdk-amd64")
			assert.Contains(t, call, BaseImage+" tail -f /dev/null")
		}
	}
	assert.True(t, stopped, "old container should be stopped")
	assert.True(t, removed, "old container should be removed")
	assert.True(t, created, "replacement container should be created")
}

func TestCreateRequiresInstanceID(t *testing.T) {
	m := NewDockerManager(&process.MockManager{}, "", nil)
	err := m.Create(context.Background(), CreateOptions{})
	assert.ErrorIs(t, err, ErrCreateFailed)
}

func TestCreateWithDockerContext(t *testing.T) {
	proc := scriptedDocker(t, nil)
	m := NewDockerManager(proc, "remote-builder", nil)
	err := m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	})
	require.NoError(t, err)

	calls := dockerCalls(proc)
	require.NotEmpty(t, calls)
	for _, call := range calls {
		assert.True(t, strings.HasPrefix(call, "--context remote-builder "),
			"every docker call should carry the context flag: %s", call)
	}
}

func TestExecWrapsCommand(t *testing.T) {
	proc := scriptedDocker(t, []dockerRule{
		{match: "exec -w /workspace", stdout: "hello\n"},
	})

	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))

	result, err := m.Exec(context.Background(), "inst-1", ExecOptions{
		Command: "echo hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Output)
	assert.False(t, result.TimedOut)

	var payload string
	for _, c := range proc.CallsFor("RunInDir") {
		joined := strings.Join(c.Args, " ")
		if strings.Contains(joined, "exec -w /workspace") {
			payload = c.Args[len(c.Args)-1]
		}
	}
	require.NotEmpty(t, payload)
	assert.Contains(t, payload, "export JAVA_HOME=/usr/lib/jvm/java-17-openjdk-amd64")
	assert.Contains(t, payload, "export GRADLE_USER_HOME=/tmp/.gradle")
	assert.Contains(t, payload, "export HOME=/tmp")
	assert.Contains(t, payload, "cd /workspace")
	assert.Contains(t, payload, "echo hello")
}

func TestExecNonZeroExitIsNotError(t *testing.T) {
	proc := scriptedDocker(t, []dockerRule{
		{match: "exec -w /workspace", stdout: "BUILD FAILED\n", exitCode: 1},
	})

	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))

	result, err := m.Exec(context.Background(), "inst-1", ExecOptions{Command: "./gradlew build"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Output, "BUILD FAILED")
}

func TestExecTimeout(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name string, args ...string) (string, string, int, error) {
			joined := strings.Join(args, " ")
			if strings.Contains(joined, "exec -w") {
				<-ctx.Done()
				return "", "", -1, ctx.Err()
			}
			return "", "", 0, nil
		},
	}

	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))

	result, err := m.Exec(context.Background(), "inst-1", ExecOptions{
		Command: "sleep 60",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err, "a timed out command is a result, not an error")
	assert.Equal(t, TimedOutExitCode, result.ExitCode)
	assert.True(t, result.TimedOut)
	assert.Contains(t, result.Output, "timed out")
}

func TestExecUnknownInstance(t *testing.T) {
	m := NewDockerManager(&process.MockManager{}, "", nil)
	_, err := m.Exec(context.Background(), "ghost", ExecOptions{Command: "true"})
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestStartSkipsInitWhenSentinelPresent(t *testing.T) {
	name := ContainerName("inst-1")
	proc := scriptedDocker(t, []dockerRule{
		{match: "ps -q -f name=^" + name + "$", stdout: "abc123\n"}, // running
		{match: "test -f " + InitSentinel, exitCode: 0},
	})

	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))
	require.NoError(t, m.Start(context.Background(), "inst-1"))

	for _, call := range dockerCalls(proc) {
		assert.NotContains(t, call, "sdkmanager",
			"initialized container must not be re-initialized")
	}
}

func TestStartInitializesFreshContainer(t *testing.T) {
	name := ContainerName("inst-1")
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env map[string]string, name2 string, args ...string) (string, string, int, error) {
			joined := strings.Join(args, " ")
			switch {
			case strings.Contains(joined, "test -f "+InitSentinel):
				return "", "", 1, nil // sentinel missing
			case strings.Contains(joined, "ps -q -f name=^"+name+"$"):
				return "abc123\n", "", 0, nil
			default:
				return "", "", 0, nil
			}
		},
	}

	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))
	require.NoError(t, m.Start(context.Background(), "inst-1"))

	var initialized bool
	for _, c := range proc.CallsFor("RunInDir") {
		payload := c.Args[len(c.Args)-1]
		if strings.Contains(payload, "sdkmanager") {
			initialized = true
			assert.Contains(t, payload, `"platforms;android-35"`)
			assert.Contains(t, payload, `"build-tools;35.0.0"`)
			assert.Contains(t, payload, "touch "+InitSentinel)
		}
	}
	assert.True(t, initialized, "fresh container should run initialization")
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{name: "running", stdout: "Up 4 minutes\n", want: "running"},
		{name: "stopped", stdout: "Exited (0) 2 hours ago\n", want: "stopped"},
		{name: "missing", stdout: "", want: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := scriptedDocker(t, []dockerRule{
				{match: "--format {{.Status}}", stdout: tt.stdout},
			})
			m := NewDockerManager(proc, "", nil)
			require.NoError(t, m.Create(context.Background(), CreateOptions{
				InstanceID: "inst-1",
				Build:      testBuild(),
			}))

			status, err := m.Status(context.Background(), "inst-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestReleaseKeepsPersistentContainer(t *testing.T) {
	proc := scriptedDocker(t, nil)
	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))

	require.NoError(t, m.Release(context.Background(), "inst-1", ReleaseOptions{KeepPersistent: true}))

	for _, call := range dockerCalls(proc) {
		assert.False(t, strings.HasPrefix(call, "rm "),
			"persistent container must not be removed")
	}

	// Released instances are no longer tracked.
	_, err := m.Exec(context.Background(), "inst-1", ExecOptions{Command: "true"})
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestCleanupAllSweepsOrphans(t *testing.T) {
	proc := scriptedDocker(t, []dockerRule{
		{match: "ps -a -q -f name=android-bench-", stdout: "id1\nid2\n"},
		{match: "volume ls -q -f name=gradle-cache-", stdout: "gradle-cache-old\n"},
		{match: "volume ls -q -f name=android-cache-", stdout: ""},
	})

	m := NewDockerManager(proc, "", nil)
	result, err := m.CleanupAll(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ContainersRemoved)
	assert.Equal(t, 1, result.VolumesRemoved)
	assert.Empty(t, result.Errors)

	var sawForceRemove, sawVolumeRemove bool
	for _, call := range dockerCalls(proc) {
		if strings.HasPrefix(call, "rm -f id1 id2") {
			sawForceRemove = true
		}
		if strings.HasPrefix(call, "volume rm gradle-cache-old") {
			sawVolumeRemove = true
		}
	}
	assert.True(t, sawForceRemove)
	assert.True(t, sawVolumeRemove)
}

func TestCleanupAllKeepPersistentSkipsSweep(t *testing.T) {
	proc := scriptedDocker(t, nil)
	m := NewDockerManager(proc, "", nil)
	require.NoError(t, m.Create(context.Background(), CreateOptions{
		InstanceID: "inst-1",
		Build:      testBuild(),
	}))

	result, err := m.CleanupAll(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, result.ContainersRemoved)

	for _, call := range dockerCalls(proc) {
		assert.NotContains(t, call, "volume ls")
	}
}

func TestBuildEnvVars(t *testing.T) {
	build := testBuild()
	env := buildEnvVars(build)
	assert.Equal(t, "/usr/lib/jvm/java-17-openjdk-amd64", env["JAVA_HOME"])
	assert.Equal(t, "/opt/android-sdk", env["ANDROID_HOME"])
	assert.Equal(t, build.JVMArgs, env["GRADLE_OPTS"])
	assert.NotContains(t, env, "NDK_VERSION")

	build.NDKVersion = "25.1.8937393"
	env = buildEnvVars(build)
	assert.Equal(t, "25.1.8937393", env["NDK_VERSION"])
	assert.Equal(t, "/opt/android-sdk/ndk/25.1.8937393", env["ANDROID_NDK_HOME"])
}

func TestPrepareScriptContents(t *testing.T) {
	clean := prepareScript("/workspace", false)
	assert.Contains(t, clean, "rm -rf build/ app/build/ */build/ .gradle/daemon/")
	assert.Contains(t, clean, "./gradlew --stop")
	assert.Contains(t, clean, "chmod +x ./gradlew")

	preserve := prepareScript("/workspace_post", true)
	assert.NotContains(t, preserve, "rm -rf build/")
	assert.Contains(t, preserve, "Preserving build artifacts")
	assert.Contains(t, preserve, "cd /workspace_post")
}

func TestMockManagerRecordsCalls(t *testing.T) {
	mock := &MockManager{
		ExecFunc: func(ctx context.Context, instanceID string, opts ExecOptions) (*ExecResult, error) {
			return &ExecResult{ExitCode: 0}, nil
		},
	}

	_, err := mock.Exec(context.Background(), "inst-1", ExecOptions{Command: "true"})
	require.NoError(t, err)

	calls := mock.CallsFor("Exec")
	require.Len(t, calls, 1)
	assert.Equal(t, "inst-1", calls[0].InstanceID)
	assert.Equal(t, "true", calls[0].Command)

	assert.Panics(t, func() {
		_ = mock.Start(context.Background(), "inst-1")
	})
}
