// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package container manages persistent Docker build containers for
// Android task instances.
//
// One container is kept per instance, backed by named volumes for the
// Gradle and Android caches so a rerun of the same instance skips
// dependency downloads. Containers survive across runs and are reused
// when healthy; anything in a bad state is recreated from scratch.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/internal/androidcfg"
	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrDockerUnavailable is returned when the Docker daemon cannot be
	// reached.
	ErrDockerUnavailable = errors.New("docker is not running or not accessible")

	// ErrImagePull is returned when the base image cannot be pulled.
	ErrImagePull = errors.New("failed to pull base image")

	// ErrContainerNotFound is returned for operations on an instance that
	// has no tracked container.
	ErrContainerNotFound = errors.New("container not found for instance")

	// ErrCreateFailed is returned when docker create fails.
	ErrCreateFailed = errors.New("failed to create container")

	// ErrStartFailed is returned when docker start fails.
	ErrStartFailed = errors.New("failed to start container")

	// ErrInitFailed is returned when one-time container setup fails.
	ErrInitFailed = errors.New("container initialization failed")

	// ErrCopyFailed is returned when docker cp into the container fails.
	ErrCopyFailed = errors.New("failed to copy into container")

	// ErrCleanupPartial is returned when cleanup completes with some errors.
	ErrCleanupPartial = errors.New("cleanup completed with errors")
)

// BaseImage is the Android build image every instance container runs.
const BaseImage = "mingc/android-build-box:latest"

// TimedOutExitCode is the exit code reported when an exec hits its
// timeout, matching the coreutils timeout convention.
const TimedOutExitCode = 124

// initTimeout bounds one-time container setup. SDK component installation
// can legitimately take many minutes on a cold cache.
const initTimeout = 30 * time.Minute

// defaultExecTimeout bounds an exec when the caller does not set one.
const defaultExecTimeout = 10 * time.Minute

// ContainerName derives the docker container name for an instance ID.
// Docker rejects uppercase names and the dataset uses owner__repo-N
// IDs, so underscores become dashes and the whole name is lowercased.
func ContainerName(instanceID string) string {
	id := strings.ToLower(strings.ReplaceAll(instanceID, "_", "-"))
	return "android-bench-" + id
}

// GradleVolume is the named volume caching Gradle downloads for an
// instance.
func GradleVolume(instanceID string) string {
	return "gradle-cache-" + instanceID
}

// AndroidVolume is the named volume caching Android SDK state for an
// instance.
func AndroidVolume(instanceID string) string {
	return "android-cache-" + instanceID
}

// =============================================================================
// Interface Definition
// =============================================================================

// Manager owns the lifecycle of per-instance build containers.
//
// # Description
//
// Create registers (or reuses) a container, Start brings it up and runs
// one-time initialization, Exec runs wrapped shell commands inside it,
// and Release/CleanupAll tear things down. All methods that talk to the
// Docker daemon take a context.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the validator runs
// several instances in parallel, each against its own container.
type Manager interface {
	// EnsureBaseImage verifies the daemon is reachable and the base image
	// is present, pulling it if missing.
	EnsureBaseImage(ctx context.Context) (*ImageStatus, error)

	// Create registers a container for the instance, reusing a healthy
	// existing one and recreating anything unusable.
	Create(ctx context.Context, opts CreateOptions) error

	// Start starts the instance container and runs one-time setup when
	// the init sentinel is missing.
	Start(ctx context.Context, instanceID string) error

	// Exec runs a shell command inside the instance container with the
	// build environment exported. A timeout is reported as exit code 124
	// in the result, not as an error.
	Exec(ctx context.Context, instanceID string, opts ExecOptions) (*ExecResult, error)

	// PrepareForTests cleans a workspace between test phases.
	PrepareForTests(ctx context.Context, instanceID string, opts PrepareOptions) error

	// CopyIn copies a host file or directory into the container. For
	// directories the contents are copied, not the directory itself.
	CopyIn(ctx context.Context, instanceID, hostPath, containerPath string) error

	// Status reports "running", "stopped", or "not_found" for the
	// instance container.
	Status(ctx context.Context, instanceID string) (string, error)

	// Logs returns the tail of the container log.
	Logs(ctx context.Context, instanceID string) (string, error)

	// Release drops the instance from tracking, removing the container
	// unless it is kept for reuse.
	Release(ctx context.Context, instanceID string, opts ReleaseOptions) error

	// CleanupAll releases every tracked container and, unless persistent
	// containers are kept, sweeps orphaned containers and cache volumes.
	CleanupAll(ctx context.Context, keepPersistent bool) (*CleanupResult, error)
}

// =============================================================================
// Supporting Types
// =============================================================================

// CreateOptions configures container creation for one instance.
type CreateOptions struct {
	// InstanceID identifies the task instance. Required.
	InstanceID string

	// Build is the resolved build configuration; its Java version and
	// SDK levels drive the container environment and initialization.
	Build androidcfg.BuildConfig

	// RepoPath is the host checkout to mount when MountRepo is set.
	// When MountRepo is false the workspace is populated with CopyIn.
	RepoPath string

	// MountRepo bind-mounts RepoPath at /workspace instead of copying.
	MountRepo bool
}

// ExecOptions configures a command run inside a container.
type ExecOptions struct {
	// Command is the shell command to run. Required.
	Command string

	// WorkDir is the working directory inside the container.
	// Default: /workspace
	WorkDir string

	// Timeout bounds the command. Zero means defaultExecTimeout.
	Timeout time.Duration
}

// ExecResult contains the outcome of an in-container command.
type ExecResult struct {
	// ExitCode is the command's exit code. TimedOutExitCode on timeout.
	ExitCode int

	// Output is combined stdout and stderr.
	Output string

	// Duration is how long the command ran.
	Duration time.Duration

	// TimedOut is set when the command hit its timeout.
	TimedOut bool
}

// PrepareOptions configures workspace preparation between test phases.
type PrepareOptions struct {
	// Phase labels the run for logging ("pre" or "post").
	Phase string

	// WorkDir is the workspace to prepare. Default: /workspace
	WorkDir string

	// PreserveBuildArtifacts skips build output cleanup, for debugging
	// a failed phase in place.
	PreserveBuildArtifacts bool
}

// ReleaseOptions configures container release.
type ReleaseOptions struct {
	// KeepPersistent leaves the container in place for a later rerun.
	KeepPersistent bool

	// PreserveForDebug leaves all workspace state untouched.
	PreserveForDebug bool
}

// ImageStatus reports the outcome of EnsureBaseImage.
type ImageStatus struct {
	// Image is the image reference checked.
	Image string

	// Pulled is true when the image had to be pulled.
	Pulled bool
}

// CleanupResult contains details of a CleanupAll sweep.
type CleanupResult struct {
	// ContainersRemoved counts removed containers.
	ContainersRemoved int

	// VolumesRemoved counts removed cache volumes.
	VolumesRemoved int

	// Errors contains non-fatal errors encountered along the way.
	Errors []string
}

// tracked holds per-instance container state.
type tracked struct {
	name      string
	build     androidcfg.BuildConfig
	repoPath  string
	mountRepo bool
}

// =============================================================================
// Default Implementation
// =============================================================================

// DockerManager implements Manager against the docker CLI.
type DockerManager struct {
	proc process.Manager
	log  *logging.Logger

	// dockerContext selects a non-default docker context, for running
	// builds on a remote daemon. Empty means the current context.
	dockerContext string

	mu         sync.Mutex
	containers map[string]*tracked
}

var _ Manager = (*DockerManager)(nil)

// NewDockerManager creates a Manager backed by the docker CLI.
//
// # Inputs
//
//   - proc: process manager used for every docker invocation
//   - dockerContext: docker context name, or empty for the default
//   - log: logger; nil falls back to the package default
//
// # Outputs
//
//   - *DockerManager: ready to use; the daemon is not contacted until
//     EnsureBaseImage or Create
func NewDockerManager(proc process.Manager, dockerContext string, log *logging.Logger) *DockerManager {
	if log == nil {
		log = logging.Default()
	}
	return &DockerManager{
		proc:          proc,
		log:           log,
		dockerContext: dockerContext,
		containers:    make(map[string]*tracked),
	}
}

// dockerArgs prepends the context flag when one is configured.
func (m *DockerManager) dockerArgs(args ...string) []string {
	if m.dockerContext != "" {
		return append([]string{"--context", m.dockerContext}, args...)
	}
	return args
}

// runDocker runs a docker command with a timeout, returning combined
// output. A non-zero exit is reported in the return values, not as an
// error.
func (m *DockerManager) runDocker(ctx context.Context, timeout time.Duration, args ...string) (string, int, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := m.proc.RunInDir(execCtx, "", nil, "docker", m.dockerArgs(args...)...)
	if err != nil {
		return "", -1, err
	}
	return stdout + stderr, exitCode, nil
}

// EnsureBaseImage verifies the daemon is up and the base image exists,
// pulling it when missing.
//
// # Description
//
// Runs `docker info` as a liveness probe, then `docker images -q` to
// check for a local copy, and finally `docker pull` when needed. The
// pull gets a generous timeout; the image is several gigabytes.
//
// # Outputs
//
//   - *ImageStatus: whether a pull happened
//   - error: ErrDockerUnavailable or ErrImagePull wrapped with detail
func (m *DockerManager) EnsureBaseImage(ctx context.Context) (*ImageStatus, error) {
	output, exitCode, err := m.runDocker(ctx, 10*time.Second, "info")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerUnavailable, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, strings.TrimSpace(output))
	}

	output, exitCode, err = m.runDocker(ctx, 30*time.Second, "images", "-q", BaseImage)
	if err != nil {
		return nil, fmt.Errorf("checking for base image: %w", err)
	}
	if exitCode == 0 && strings.TrimSpace(output) != "" {
		m.log.Info("base image found locally", "image", BaseImage)
		return &ImageStatus{Image: BaseImage}, nil
	}

	m.log.Info("pulling base image", "image", BaseImage)
	output, exitCode, err = m.runDocker(ctx, 10*time.Minute, "pull", BaseImage)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImagePull, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s", ErrImagePull, strings.TrimSpace(output))
	}

	m.log.Info("base image pulled", "image", BaseImage)
	return &ImageStatus{Image: BaseImage, Pulled: true}, nil
}

// Create registers a container for the instance.
//
// # Description
//
// Reuses an existing container that is running or exited cleanly; a
// container in any other state (exited non-zero, created, dead) is
// removed and replaced. New containers are created stopped, with the
// instance cache volumes mounted and the build environment baked in,
// kept alive by `tail -f /dev/null` once started.
//
// # Edge Cases
//
//   - A reused container keeps its original environment. That is fine
//     because the build config for an instance is deterministic.
func (m *DockerManager) Create(ctx context.Context, opts CreateOptions) error {
	if opts.InstanceID == "" {
		return fmt.Errorf("%w: instance ID is required", ErrCreateFailed)
	}

	name := ContainerName(opts.InstanceID)
	m.log.Info("creating persistent container", "instance", opts.InstanceID, "container", name)

	if m.containerExists(ctx, name) {
		if m.containerUsable(ctx, name) {
			m.log.Info("reusing existing container", "container", name)
			m.track(opts, name)
			return nil
		}
		m.log.Info("existing container not usable, removing", "container", name)
		m.removeContainer(ctx, name)
	}

	return m.createNew(ctx, opts, name)
}

// track records the instance container under the mutex.
func (m *DockerManager) track(opts CreateOptions, name string) {
	repoPath := ""
	if opts.MountRepo {
		if abs, err := filepath.Abs(opts.RepoPath); err == nil {
			repoPath = abs
		} else {
			repoPath = opts.RepoPath
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[opts.InstanceID] = &tracked{
		name:      name,
		build:     opts.Build,
		repoPath:  repoPath,
		mountRepo: opts.MountRepo,
	}
}

// lookup returns the tracked container for an instance.
func (m *DockerManager) lookup(instanceID string) (*tracked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.containers[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, instanceID)
	}
	return tc, nil
}

// containerExists reports whether a container with the name exists in
// any state.
func (m *DockerManager) containerExists(ctx context.Context, name string) bool {
	output, _, err := m.runDocker(ctx, 30*time.Second,
		"ps", "-a", "-q", "-f", "name=^"+name+"$")
	if err != nil {
		m.log.Warn("error checking container existence", "container", name, "error", err)
		return false
	}
	return strings.TrimSpace(output) != ""
}

// containerUsable reports whether an existing container can be reused.
// Running containers and containers that exited cleanly qualify.
func (m *DockerManager) containerUsable(ctx context.Context, name string) bool {
	output, exitCode, err := m.runDocker(ctx, 30*time.Second,
		"ps", "-a", "-f", "name=^"+name+"$", "--format", "{{.Status}}")
	if err != nil || exitCode != 0 {
		return false
	}
	status := strings.ToLower(strings.TrimSpace(output))
	if status == "" {
		return false
	}
	return strings.Contains(status, "up") || strings.Contains(status, "exited (0)")
}

// containerRunning reports whether the container is currently running.
func (m *DockerManager) containerRunning(ctx context.Context, name string) bool {
	output, _, err := m.runDocker(ctx, 30*time.Second,
		"ps", "-q", "-f", "name=^"+name+"$")
	if err != nil {
		return false
	}
	return strings.TrimSpace(output) != ""
}

// removeContainer stops and removes a container, ignoring failures.
func (m *DockerManager) removeContainer(ctx context.Context, name string) {
	if _, _, err := m.runDocker(ctx, 30*time.Second, "stop", name); err != nil {
		m.log.Warn("error stopping container", "container", name, "error", err)
	}
	if _, _, err := m.runDocker(ctx, 30*time.Second, "rm", name); err != nil {
		m.log.Warn("error removing container", "container", name, "error", err)
		return
	}
	m.log.Info("removed container", "container", name)
}

// createNew builds and runs the docker create command for an instance.
func (m *DockerManager) createNew(ctx context.Context, opts CreateOptions, name string) error {
	args := []string{
		"create",
		"--name", name,
		"--network", "host",
		"-w", "/workspace",
		"-v", GradleVolume(opts.InstanceID) + ":/tmp/.gradle",
		"-v", AndroidVolume(opts.InstanceID) + ":/root/.android",
		"-e", "HOME=/tmp",
		"-e", "GRADLE_USER_HOME=/tmp/.gradle",
		"--user", "root",
	}

	if opts.MountRepo {
		repoPath := opts.RepoPath
		if abs, err := filepath.Abs(repoPath); err == nil {
			repoPath = abs
		}
		args = append(args, "-v", repoPath+":/workspace")
		m.log.Info("mounting repository", "host", repoPath, "container", "/workspace")
	} else {
		m.log.Info("creating container without repository mount, files copied later")
	}

	env := buildEnvVars(opts.Build)
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+env[k])
	}

	args = append(args, BaseImage, "tail", "-f", "/dev/null")

	output, exitCode, err := m.runDocker(ctx, 2*time.Minute, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s", ErrCreateFailed, strings.TrimSpace(output))
	}

	m.log.Info("created persistent container", "container", name)
	m.track(opts, name)
	return nil
}

// Start starts the instance container and runs one-time initialization.
//
// # Description
//
// Starts the container if it is not already running, waits briefly for
// it to settle, then checks the init sentinel and runs the full setup
// script when missing. Reused containers with the sentinel skip setup
// entirely, which is what makes reruns cheap.
func (m *DockerManager) Start(ctx context.Context, instanceID string) error {
	tc, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	if !m.containerRunning(ctx, tc.name) {
		m.log.Info("starting container", "container", tc.name)
		output, exitCode, err := m.runDocker(ctx, time.Minute, "start", tc.name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
		if exitCode != 0 {
			return fmt.Errorf("%w: %s", ErrStartFailed, strings.TrimSpace(output))
		}

		// Give the container a moment before the first exec.
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.initialized(ctx, instanceID) {
		m.log.Info("container ready", "container", tc.name)
		return nil
	}

	m.log.Info("initializing container", "container", tc.name)
	result, err := m.Exec(ctx, instanceID, ExecOptions{
		Command: initScript(tc.build),
		Timeout: initTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: exit %d: %s", ErrInitFailed, result.ExitCode,
			tail(result.Output, 500))
	}

	m.log.Info("container initialized", "instance", instanceID)
	return nil
}

// initialized reports whether one-time setup has already run.
func (m *DockerManager) initialized(ctx context.Context, instanceID string) bool {
	result, err := m.Exec(ctx, instanceID, ExecOptions{
		Command: "test -f " + InitSentinel,
		Timeout: 10 * time.Second,
	})
	return err == nil && result.ExitCode == 0
}

// Exec runs a shell command inside the instance container.
//
// # Description
//
// Wraps the command with the build environment (JAVA_HOME for the
// resolved Java version, SDK paths, the relocated HOME) and runs it via
// `docker exec ... bash -c`. Combined stdout and stderr come back in
// the result.
//
// # Edge Cases
//
//   - Timeout: reported as TimedOutExitCode in the result with a
//     descriptive message, not as an error, so callers can treat a hung
//     Gradle run like any other failed run.
//   - Parent context cancellation is still an error.
func (m *DockerManager) Exec(ctx context.Context, instanceID string, opts ExecOptions) (*ExecResult, error) {
	tc, err := m.lookup(instanceID)
	if err != nil {
		return nil, err
	}

	workdir := opts.WorkDir
	if workdir == "" {
		workdir = "/workspace"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	wrapped := wrapCommand(tc.build.JavaVersion, workdir, opts.Command)

	m.log.Debug("executing in container", "container", tc.name, "workdir", workdir)

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := m.proc.RunInDir(execCtx, "", nil,
		"docker", m.dockerArgs("exec", "-w", workdir, tc.name, "bash", "-c", wrapped)...)
	duration := time.Since(start)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			m.log.Error("command timed out in container",
				"container", tc.name, "timeout", timeout)
			return &ExecResult{
				ExitCode: TimedOutExitCode,
				Output:   fmt.Sprintf("Command timed out after %s", timeout),
				Duration: duration,
				TimedOut: true,
			}, nil
		}
		return nil, fmt.Errorf("exec in %s: %w", tc.name, err)
	}

	output := stdout + stderr
	m.log.Debug("command finished", "container", tc.name, "exit_code", exitCode)
	if exitCode != 0 {
		m.log.Debug("command output", "output", tail(output, 500))
	}

	return &ExecResult{
		ExitCode: exitCode,
		Output:   output,
		Duration: duration,
	}, nil
}

// PrepareForTests cleans a workspace ahead of a test phase.
func (m *DockerManager) PrepareForTests(ctx context.Context, instanceID string, opts PrepareOptions) error {
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = "/workspace"
	}

	m.log.Info("preparing container for test execution",
		"instance", instanceID, "phase", opts.Phase, "workdir", workdir)

	result, err := m.Exec(ctx, instanceID, ExecOptions{
		Command: prepareScript(workdir, opts.PreserveBuildArtifacts),
		WorkDir: workdir,
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		m.log.Warn("container preparation had issues",
			"instance", instanceID, "output", tail(result.Output, 500))
		return fmt.Errorf("preparing %s workspace: exit %d", workdir, result.ExitCode)
	}
	return nil
}

// CopyIn copies a host path into the instance container.
//
// # Description
//
// Files are copied as-is; for a directory the `/.` suffix copies the
// contents into the destination rather than nesting the directory.
// After the copy, permissions are normalized and, when the target looks
// like a workspace, the Gradle wrapper is made executable.
func (m *DockerManager) CopyIn(ctx context.Context, instanceID, hostPath, containerPath string) error {
	tc, err := m.lookup(instanceID)
	if err != nil {
		return err
	}

	m.log.Info("copying into container",
		"host", hostPath, "container", tc.name, "dest", containerPath)

	src := hostPath
	if info, err := os.Stat(hostPath); err == nil && info.IsDir() {
		src = hostPath + "/."
	}

	output, exitCode, err := m.runDocker(ctx, 5*time.Minute,
		"cp", src, tc.name+":"+containerPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyFailed, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s", ErrCopyFailed, strings.TrimSpace(output))
	}

	if _, err := m.Exec(ctx, instanceID, ExecOptions{
		Command: "chmod -R 755 " + containerPath,
		WorkDir: "/",
		Timeout: time.Minute,
	}); err != nil {
		m.log.Warn("failed to normalize permissions", "path", containerPath, "error", err)
	}

	if strings.Contains(strings.ToLower(containerPath), "workspace") {
		if _, err := m.Exec(ctx, instanceID, ExecOptions{
			Command: gradlewSetupScript(containerPath),
			WorkDir: "/",
			Timeout: time.Minute,
		}); err != nil {
			m.log.Warn("gradlew setup failed", "path", containerPath, "error", err)
		}
	}

	return nil
}

// Status reports the container state for an instance.
func (m *DockerManager) Status(ctx context.Context, instanceID string) (string, error) {
	tc, err := m.lookup(instanceID)
	if err != nil {
		return "not_found", err
	}

	output, _, err := m.runDocker(ctx, 30*time.Second,
		"ps", "-f", "name=^"+tc.name+"$", "--format", "{{.Status}}")
	if err != nil {
		return "error", err
	}

	status := strings.TrimSpace(output)
	if status == "" {
		return "not_found", nil
	}
	if strings.Contains(status, "Up") {
		return "running", nil
	}
	return "stopped", nil
}

// Logs returns the last 1000 lines of container output.
func (m *DockerManager) Logs(ctx context.Context, instanceID string) (string, error) {
	tc, err := m.lookup(instanceID)
	if err != nil {
		return "", err
	}

	output, _, err := m.runDocker(ctx, 30*time.Second,
		"logs", "--tail", "1000", tc.name)
	if err != nil {
		return "", fmt.Errorf("getting logs for %s: %w", tc.name, err)
	}
	return output, nil
}

// Release drops the instance from tracking.
//
// # Description
//
// With KeepPersistent the container stays for a later rerun; workspace
// contents are left in place so a rerun can diff against them, and with
// PreserveForDebug even staged post-solution workspaces survive.
// Without it the container is stopped and removed.
func (m *DockerManager) Release(ctx context.Context, instanceID string, opts ReleaseOptions) error {
	tc, err := m.lookup(instanceID)
	if err != nil {
		// Already released; nothing to do.
		return nil
	}

	if opts.KeepPersistent {
		if opts.PreserveForDebug {
			m.log.Info("keeping container with full workspace state for debugging",
				"container", tc.name)
		} else {
			m.log.Info("keeping persistent container for reuse", "container", tc.name)
		}
	} else {
		m.log.Info("removing container", "container", tc.name)
		m.removeContainer(ctx, tc.name)
	}

	m.mu.Lock()
	delete(m.containers, instanceID)
	m.mu.Unlock()
	return nil
}

// CleanupAll releases every tracked container and sweeps orphans.
//
// # Description
//
// Releases tracked containers first, then, when persistent containers
// are not being kept, force-removes anything named android-bench-* and
// deletes gradle-cache-* and android-cache-* volumes. Each step
// continues past failures, collecting errors.
//
// # Outputs
//
//   - *CleanupResult: removal counts and collected errors
//   - error: ErrCleanupPartial when any step failed
func (m *DockerManager) CleanupAll(ctx context.Context, keepPersistent bool) (*CleanupResult, error) {
	result := &CleanupResult{Errors: []string{}}

	m.mu.Lock()
	ids := make([]string, 0, len(m.containers))
	for id := range m.containers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := m.Release(ctx, id, ReleaseOptions{KeepPersistent: keepPersistent}); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("release %s: %v", id, err))
		}
	}

	if !keepPersistent {
		m.sweepOrphans(ctx, result)
	}

	m.log.Info("container cleanup completed",
		"containers_removed", result.ContainersRemoved,
		"volumes_removed", result.VolumesRemoved)

	if len(result.Errors) > 0 {
		return result, ErrCleanupPartial
	}
	return result, nil
}

// sweepOrphans removes leftover containers and cache volumes from
// earlier runs, including crashed ones that never released.
func (m *DockerManager) sweepOrphans(ctx context.Context, result *CleanupResult) {
	output, _, err := m.runDocker(ctx, 30*time.Second,
		"ps", "-a", "-q", "-f", "name=android-bench-")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("listing orphaned containers: %v", err))
	} else if ids := splitLines(output); len(ids) > 0 {
		args := append([]string{"rm", "-f"}, ids...)
		if _, _, err := m.runDocker(ctx, time.Minute, args...); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("removing orphaned containers: %v", err))
		} else {
			result.ContainersRemoved += len(ids)
			m.log.Info("removed orphaned containers", "count", len(ids))
		}
	}

	for _, prefix := range []string{"gradle-cache-", "android-cache-"} {
		output, _, err := m.runDocker(ctx, 30*time.Second,
			"volume", "ls", "-q", "-f", "name="+prefix)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("listing %s volumes: %v", prefix, err))
			continue
		}
		names := splitLines(output)
		if len(names) == 0 {
			continue
		}
		args := append([]string{"volume", "rm"}, names...)
		if _, _, err := m.runDocker(ctx, time.Minute, args...); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("removing %s volumes: %v", prefix, err))
			continue
		}
		result.VolumesRemoved += len(names)
		m.log.Info("removed orphaned volumes", "prefix", prefix, "count", len(names))
	}
}

// splitLines splits command output into non-empty trimmed lines.
func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
