// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Fakorede/mobile-bench-sub000/internal/container"
	"github.com/Fakorede/mobile-bench-sub000/internal/util"
	"github.com/Fakorede/mobile-bench-sub000/pkg/logging"
)

var (
	// ErrPatchApply is returned when every patch strategy fails.
	ErrPatchApply = errors.New("all patch strategies failed")

	// ErrInvalidPatch is returned for content that is not a patch.
	ErrInvalidPatch = errors.New("invalid patch format")
)

// changedFilePatterns extract file paths from unified diff headers.
var changedFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+\+\+ b/(.+)`),
	regexp.MustCompile(`diff --git a/.+ b/(.+)`),
}

// Stager performs git operations and patch application inside an
// instance container.
//
// # Thread Safety
//
// Safe for concurrent use across instances; per-instance operations are
// expected to run sequentially, matching the validation pipeline.
type Stager struct {
	containers container.Manager
	log        *logging.Logger
}

// NewStager creates a Stager over the given container manager.
func NewStager(containers container.Manager, log *logging.Logger) *Stager {
	if log == nil {
		log = logging.Default()
	}
	return &Stager{containers: containers, log: log}
}

// CheckoutBaseCommit resets /workspace to a pristine base commit.
//
// # Description
//
// Resets tracked files and submodules, cleans untracked files, fetches
// (unshallowing a shallow mount if possible), force-checks-out the
// commit, and reinitializes submodules. The script ends by verifying
// HEAD actually moved; a prefix match is accepted so abbreviated commit
// IDs in the dataset work.
func (s *Stager) CheckoutBaseCommit(ctx context.Context, instanceID, baseCommit string) error {
	script := fmt.Sprintf(`
cd /workspace &&
echo "=== Setting up git configuration ===" &&
git config --global --add safe.directory /workspace &&
git config --global user.email 'validator@android-bench.local' &&
git config --global user.name 'Android Bench Validator' &&

echo "=== Cleaning repository state ===" &&
git submodule foreach --recursive 'git reset --hard' 2>/dev/null || true &&
git reset --hard HEAD 2>/dev/null || true &&
git clean -fdx 2>/dev/null || true &&

echo "=== Fetching latest changes ===" &&
git fetch origin --unshallow 2>/dev/null || git fetch origin 2>/dev/null || true &&

echo "=== Checking out base commit %[1]s ===" &&
git checkout --force %[1]s &&

echo "=== Updating submodules ===" &&
git submodule update --init --recursive --force 2>/dev/null || true &&

echo "=== Verifying checkout ===" &&
CURRENT_COMMIT=$(git rev-parse HEAD) &&
echo "Current commit: $CURRENT_COMMIT" &&
echo "Target commit: %[1]s" &&

if [[ "$CURRENT_COMMIT" == %[1]s* ]]; then
    echo "Successfully checked out %[1]s"
    exit 0
else
    echo "Failed to checkout %[1]s"
    exit 1
fi
`, baseCommit)

	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script,
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		s.log.Error("base commit checkout failed",
			"instance", instanceID, "commit", baseCommit,
			"output", util.Truncate(result.Output, 2000))
		return fmt.Errorf("%w %s: exit %d", ErrCheckoutFailed, baseCommit, result.ExitCode)
	}

	s.log.Info("checked out base commit", "instance", instanceID, "commit", baseCommit)
	return nil
}

// ApplyOptions configures a patch application.
type ApplyOptions struct {
	// Patch is the unified diff content.
	Patch string

	// Name labels the patch in logs and temp file names.
	// Default: "patch"
	Name string

	// WorkDir is the repository root inside the container.
	// Default: /workspace
	WorkDir string
}

// ApplyPatch applies a patch inside the container, escalating through
// progressively more tolerant strategies.
//
// # Description
//
// The patch is written to a temp file through a quoted heredoc, then
// tried with: git apply, git apply --reject, git apply with whitespace
// options, patch -p1, and finally patch with fuzz 5. The first success
// wins. Dataset patches were generated against the exact base commit so
// strategy one almost always lands; the fallbacks absorb whitespace
// drift and context shifts in older instances.
//
// # Edge Cases
//
//   - Empty patch: success without touching the container.
//
// # Outputs
//
//   - string: full strategy-by-strategy output, for artifacts
//   - error: ErrPatchApply when no strategy succeeds
func (s *Stager) ApplyPatch(ctx context.Context, instanceID string, opts ApplyOptions) (string, error) {
	if strings.TrimSpace(opts.Patch) == "" {
		return "Empty patch - nothing to apply", nil
	}

	name := opts.Name
	if name == "" {
		name = "patch"
	}
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = "/workspace"
	}

	script := fmt.Sprintf(`
cd %[1]s &&
echo "=== Applying patch: %[2]s ===" &&

cat > /tmp/%[2]s.patch << 'PATCH_EOF'
%[3]s
PATCH_EOF

echo "=== Patch file created ===" &&
echo "Patch size: $(wc -l < /tmp/%[2]s.patch) lines" &&

echo "=== Strategy 1: git apply --verbose ===" &&
if git apply --verbose /tmp/%[2]s.patch 2>&1; then
    echo "SUCCESS: git apply worked"
    rm -f /tmp/%[2]s.patch
    exit 0
fi

echo "=== Strategy 2: git apply --verbose --reject ===" &&
if git apply --verbose --reject /tmp/%[2]s.patch 2>&1; then
    echo "SUCCESS: git apply --reject worked"
    rm -f /tmp/%[2]s.patch
    exit 0
fi

echo "=== Strategy 3: git apply with whitespace options ===" &&
if git apply --verbose --ignore-space-change --ignore-whitespace /tmp/%[2]s.patch 2>&1; then
    echo "SUCCESS: git apply with whitespace options worked"
    rm -f /tmp/%[2]s.patch
    exit 0
fi

echo "=== Strategy 4: patch -p1 ===" &&
if patch -p1 < /tmp/%[2]s.patch 2>&1; then
    echo "SUCCESS: patch -p1 worked"
    rm -f /tmp/%[2]s.patch
    exit 0
fi

echo "=== Strategy 5: patch with fuzz ===" &&
if patch --batch --fuzz=5 -p1 < /tmp/%[2]s.patch 2>&1; then
    echo "SUCCESS: patch with fuzz worked"
    rm -f /tmp/%[2]s.patch
    exit 0
fi

echo "=== All patch strategies failed ===" &&
rm -f /tmp/%[2]s.patch &&
exit 1
`, workdir, name, opts.Patch)

	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script,
		WorkDir: workdir,
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		s.log.Error("patch application failed", "instance", instanceID, "patch", name)
		return result.Output, fmt.Errorf("%w: %s", ErrPatchApply, name)
	}

	s.log.Info("applied patch", "instance", instanceID, "patch", name)

	// A clean exit with no resulting changes usually means the patch was
	// already applied; worth a warning but not a failure.
	if workdir == "/workspace" {
		if status, statusErr := s.Status(ctx, instanceID); statusErr == nil {
			if strings.TrimSpace(status) == "" {
				s.log.Warn("patch applied but no changes detected", "patch", name)
			} else {
				s.log.Info("patch changed files",
					"patch", name, "files", len(strings.Fields(status))/2)
			}
		}
	}

	return result.Output, nil
}

// Reset restores /workspace to a clean tracked state.
func (s *Stager) Reset(ctx context.Context, instanceID string) error {
	script := `
cd /workspace &&
echo "=== Resetting repository to clean state ===" &&

git submodule foreach --recursive 'git reset --hard' 2>/dev/null || true &&

git reset --hard HEAD &&

git clean -fdx &&

echo "=== Repository reset to clean state ==="
`
	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: script,
		Timeout: 2 * time.Minute,
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("git reset failed: exit %d: %s",
			result.ExitCode, util.Truncate(result.Output, 1000))
	}
	s.log.Info("reset repository to clean state", "instance", instanceID)
	return nil
}

// Status returns `git status --porcelain` for /workspace.
func (s *Stager) Status(ctx context.Context, instanceID string) (string, error) {
	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: "cd /workspace && git status --porcelain",
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git status failed: exit %d", result.ExitCode)
	}
	return strings.TrimSpace(result.Output), nil
}

// Diff returns the current uncommitted diff for /workspace, with file
// mode changes suppressed.
func (s *Stager) Diff(ctx context.Context, instanceID string) (string, error) {
	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{
		Command: "cd /workspace && git -c core.fileMode=false diff",
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("git diff failed: exit %d", result.ExitCode)
	}
	return strings.TrimSpace(result.Output), nil
}

// Info describes the repository state inside a container.
type Info struct {
	CurrentCommit string
	CurrentBranch string
	RepoRoot      string
	OriginURL     string
}

// RepositoryInfo queries commit, branch, root, and origin of /workspace.
func (s *Stager) RepositoryInfo(ctx context.Context, instanceID string) (*Info, error) {
	script := `
cd /workspace &&
echo "CURRENT_COMMIT=$(git rev-parse HEAD)" &&
echo "CURRENT_BRANCH=$(git branch --show-current)" &&
echo "REPO_ROOT=$(git rev-parse --show-toplevel)" &&
echo "ORIGIN_URL=$(git config --get remote.origin.url)"
`
	result, err := s.containers.Exec(ctx, instanceID, container.ExecOptions{Command: script})
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("querying repository info: exit %d", result.ExitCode)
	}

	info := &Info{}
	for _, line := range strings.Split(result.Output, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "CURRENT_COMMIT":
			info.CurrentCommit = value
		case "CURRENT_BRANCH":
			info.CurrentBranch = value
		case "REPO_ROOT":
			info.RepoRoot = value
		case "ORIGIN_URL":
			info.OriginURL = value
		}
	}
	return info, nil
}

// ValidatePatchFormat rejects content that does not look like a
// unified diff.
func ValidatePatchFormat(patch string) error {
	if strings.TrimSpace(patch) == "" {
		return fmt.Errorf("%w: empty patch content", ErrInvalidPatch)
	}

	indicators := []string{"diff --git", "--- a/", "+++ b/", "@@", "index "}
	found := false
	for _, indicator := range indicators {
		if strings.Contains(patch, indicator) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: no diff markers present", ErrInvalidPatch)
	}

	if len(strings.Split(patch, "\n")) < 2 {
		return fmt.Errorf("%w: patch too short", ErrInvalidPatch)
	}
	return nil
}

// ChangedFiles lists every file path a patch touches, in first-seen
// order.
func ChangedFiles(patch string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range changedFilePatterns {
		for _, match := range pattern.FindAllStringSubmatch(patch, -1) {
			path := match[1]
			if !seen[path] {
				seen[path] = true
				files = append(files, path)
			}
		}
	}
	return files
}
