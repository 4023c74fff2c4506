// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package repo handles git checkouts and patch staging for task instances.
//
// Work splits across two types. Cloner runs git on the host to produce
// throwaway checkouts under the system temp directory. Stager runs git
// and patch inside the instance container, where builds have already
// adjusted file ownership in ways host-side git cannot touch.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/infra/process"
	"github.com/Fakorede/mobile-bench-sub000/internal/util"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

// =============================================================================
// Error Definitions
// =============================================================================

var (
	// ErrCloneFailed is returned when git clone fails.
	ErrCloneFailed = errors.New("failed to clone repository")

	// ErrCheckoutFailed is returned when a commit cannot be checked out.
	ErrCheckoutFailed = errors.New("failed to checkout commit")
)

// cloneDepth is the history depth for instance clones. Base commits sit
// at most a few hundred commits behind the default branch tip; 1000
// leaves slack without fetching full history for the big repos.
const cloneDepth = "1000"

// Cloner produces host-side checkouts of benchmark repositories.
type Cloner struct {
	proc process.Manager
	log  *logging.Logger

	// tempDir overrides the clone parent directory, for tests.
	tempDir string
}

// NewCloner creates a Cloner. A nil logger falls back to the package
// default.
func NewCloner(proc process.Manager, log *logging.Logger) *Cloner {
	if log == nil {
		log = logging.Default()
	}
	return &Cloner{proc: proc, log: log}
}

// CloneURL returns the https clone URL for an owner/name repo slug.
func CloneURL(repoSlug string) string {
	return "https://github.com/" + repoSlug + ".git"
}

// Clone clones a repository into a fresh temp directory.
//
// # Description
//
// Runs `git clone --recursive --depth 1000` into a directory named after
// the instance, then normalizes permissions so the tree can be copied
// into a container regardless of the host umask. Global git identity is
// configured first so later in-clone operations never stall on it.
//
// # Outputs
//
//   - string: path of the new checkout
//   - error: ErrCloneFailed wrapped with git's stderr
func (c *Cloner) Clone(ctx context.Context, repoSlug, instanceID string) (string, error) {
	return c.clone(ctx, repoSlug, instanceID, "android-bench-"+instanceID+"-")
}

// CloneAtCommit clones a repository and checks out a specific commit.
//
// # Description
//
// Used to stage the post-solution workspace: a clone untouched by the
// pre-solution build, pinned to the base commit. If the shallow clone
// does not contain the commit, the history is unshallowed and the
// checkout retried once.
func (c *Cloner) CloneAtCommit(ctx context.Context, repoSlug, instanceID, commit string) (string, error) {
	path, err := c.clone(ctx, repoSlug, instanceID, "android-bench-clean-"+instanceID+"-")
	if err != nil {
		return "", err
	}

	if err := c.checkout(ctx, path, commit); err != nil {
		os.RemoveAll(path)
		return "", err
	}

	c.log.Info("cloned repository at commit", "repo", repoSlug, "commit", commit)
	return path, nil
}

func (c *Cloner) clone(ctx context.Context, repoSlug, instanceID, prefix string) (string, error) {
	dir, err := os.MkdirTemp(c.tempDir, prefix)
	if err != nil {
		return "", fmt.Errorf("creating clone directory: %w", err)
	}

	c.configureGitIdentity(ctx)

	c.log.Info("cloning repository", "repo", repoSlug, "dir", dir)

	cloneCtx, cancel := context.WithTimeout(ctx, util.DefaultCloneTimeout)
	defer cancel()

	_, stderr, exitCode, err := c.proc.RunInDir(cloneCtx, "", nil,
		"git", "clone", "--recursive", "--depth", cloneDepth, CloneURL(repoSlug), dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("%w: %v", ErrCloneFailed, err)
	}
	if exitCode != 0 {
		os.RemoveAll(dir)
		return "", fmt.Errorf("%w: %s", ErrCloneFailed, util.Truncate(stderr, 2000))
	}

	if err := normalizePermissions(dir); err != nil {
		c.log.Warn("failed to normalize clone permissions", "dir", dir, "error", err)
	}

	c.log.Info("cloned repository", "repo", repoSlug)
	return dir, nil
}

// checkout checks out a commit, unshallowing once if the shallow history
// does not reach it.
func (c *Cloner) checkout(ctx context.Context, dir, commit string) error {
	gitCtx, cancel := context.WithTimeout(ctx, util.DefaultGitTimeout)
	defer cancel()

	_, stderr, exitCode, err := c.proc.RunInDir(gitCtx, dir, nil, "git", "checkout", commit)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrCheckoutFailed, commit, err)
	}
	if exitCode == 0 {
		return nil
	}

	c.log.Info("commit not in shallow history, unshallowing", "commit", commit)
	fetchCtx, cancel := context.WithTimeout(ctx, util.DefaultCloneTimeout)
	defer cancel()
	_, _, fetchCode, fetchErr := c.proc.RunInDir(fetchCtx, dir, nil, "git", "fetch", "--unshallow")
	if fetchErr == nil && fetchCode == 0 {
		retryCtx, cancel := context.WithTimeout(ctx, util.DefaultGitTimeout)
		defer cancel()
		_, stderr, exitCode, err = c.proc.RunInDir(retryCtx, dir, nil, "git", "checkout", commit)
		if err == nil && exitCode == 0 {
			return nil
		}
	}

	return fmt.Errorf("%w %s: %s", ErrCheckoutFailed, commit, util.Truncate(stderr, 2000))
}

// configureGitIdentity sets the global identity used for any commits the
// harness makes. Failures are ignored; clones work without it.
func (c *Cloner) configureGitIdentity(ctx context.Context) {
	configs := [][]string{
		{"config", "--global", "--add", "safe.directory", "*"},
		{"config", "--global", "user.email", "validator@android-bench.local"},
		{"config", "--global", "user.name", "Android Bench Validator"},
	}
	for _, args := range configs {
		cfgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, _, _, _ = c.proc.RunInDir(cfgCtx, "", nil, "git", args...)
		cancel()
	}
}

// Cleanup removes a host checkout.
//
// # Description
//
// Container builds leave root-owned files under the checkout when the
// repo was bind-mounted, so a plain removal can fail with EACCES. A
// short docker run first resets permissions from inside a container
// running as root; the removal then proceeds either way.
func (c *Cloner) Cleanup(ctx context.Context, repoPath string) {
	fixCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	_, _, _, err := c.proc.RunInDir(fixCtx, "", nil, "docker",
		"run", "--rm",
		"-v", repoPath+":/cleanup",
		container.BaseImage,
		"bash", "-c",
		"cd /cleanup && find . -type f -exec chmod 666 {} + 2>/dev/null || true && find . -type d -exec chmod 777 {} + 2>/dev/null || true")
	if err != nil {
		c.log.Warn("docker permission fix failed", "path", repoPath, "error", err)
	}

	if err := os.RemoveAll(repoPath); err != nil {
		c.log.Warn("failed to remove checkout", "path", repoPath, "error", err)
		return
	}
	c.log.Debug("removed checkout", "path", repoPath)
}

// normalizePermissions sets 755 on directories and 644 on files.
func normalizePermissions(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		mode := fs.FileMode(0o644)
		if d.IsDir() {
			mode = 0o755
		}
		if chmodErr := os.Chmod(path, mode); chmodErr != nil &&
			!strings.Contains(chmodErr.Error(), "operation not permitted") {
			return chmodErr
		}
		return nil
	})
}
