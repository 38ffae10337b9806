// Package sandbox implements the Sandbox Manager (C2, spec §4.2): per-run
// isolated working directories bound to a branch, produced via the
// Repository Adapter rather than by calling git directly, so a non-git
// adapter (e.g. a remote code host) could back the same contract.
//
// Grounded on the teacher's internal/git.go WorktreePath and the
// worktree-creation block in internal/engine/engine.go's processConcern,
// generalized from station-scoped worktrees to run-scoped ones and from a
// fixed branch-prefix scheme to the caller-provided-name-with-collision-
// suffix rule spec §4.2 requires.
package sandbox

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/loomhq/loom/internal/fileutil"
)

// RepoAdapter is the subset of the Repository Adapter contract (§6) the
// Sandbox Manager depends on.
type RepoAdapter interface {
	BranchExists(repoRoot, branch string) bool
	CheckoutWorktree(repoRoot, branch, destPath string) error
	RemoveWorktree(repoRoot, destPath string) error
	PushBranch(repoRoot, branch string) bool
	DefaultBranch(repoRoot string) (string, error)
	CommitsBetween(repoRoot, from, to string) ([]string, error)
}

// Manager creates and destroys per-run sandboxes under a project root.
type Manager struct {
	adapter RepoAdapter
}

// New creates a Manager backed by the given Repository Adapter.
func New(adapter RepoAdapter) *Manager {
	return &Manager{adapter: adapter}
}

var (
	disallowedRunChars = regexp.MustCompile(`[^a-z0-9./_-]`)
	dashRun            = regexp.MustCompile(`-{2,}`)
)

// NormalizeBranchName applies spec §4.2's kebab-safe transform: lowercase,
// disallowed characters replaced with '-', repeated dashes collapsed,
// leading/trailing dashes stripped.
func NormalizeBranchName(name string) string {
	n := strings.ToLower(name)
	n = disallowedRunChars.ReplaceAllString(n, "-")
	n = dashRun.ReplaceAllString(n, "-")
	n = strings.Trim(n, "-")
	return n
}

// resolveBranchName normalizes name and, if it collides with an existing
// branch, appends an incrementing numeric suffix until it doesn't.
func (m *Manager) resolveBranchName(repoRoot, name string) string {
	base := NormalizeBranchName(name)
	if base == "" {
		base = "run"
	}
	if !m.adapter.BranchExists(repoRoot, base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !m.adapter.BranchExists(repoRoot, candidate) {
			return candidate
		}
	}
}

// Create produces a sandbox working directory at
// <projectRoot>/.pm/sandboxes/<runId> bound to a (possibly renamed)
// normalized branch, returning the sandbox path and the branch actually
// used. If the branch does not exist, it is created from the project's
// default branch (delegated to the Repository Adapter).
func (m *Manager) Create(repoRoot, projectRoot, runID, branchName string) (sandboxPath, resolvedBranch string, err error) {
	resolvedBranch = m.resolveBranchName(repoRoot, branchName)
	sandboxPath = fileutil.SandboxPath(projectRoot, runID)

	if err := fileutil.EnsureDir(fileutil.SandboxesDir(projectRoot)); err != nil {
		return "", "", fmt.Errorf("ensure sandboxes dir: %w", err)
	}
	if err := m.adapter.CheckoutWorktree(repoRoot, resolvedBranch, sandboxPath); err != nil {
		return "", "", fmt.Errorf("checkout worktree: %w", err)
	}
	return sandboxPath, resolvedBranch, nil
}

// Exists reports whether a sandbox directory for runID is present.
func (m *Manager) Exists(projectRoot, runID string) bool {
	_, err := os.Stat(fileutil.SandboxPath(projectRoot, runID))
	return err == nil
}

// Destroy removes the sandbox for runID if pushed is true (the branch was
// successfully pushed to the remote) or dropWork is true (an explicit
// "discard this work" flag, set for canceled/failed runs an operator chose
// not to recover). Otherwise the sandbox is preserved so a human can
// recover the work (spec §4.2).
func (m *Manager) Destroy(repoRoot, projectRoot, runID, branch string, pushed, dropWork bool) error {
	if !pushed && !dropWork {
		return nil
	}
	path := fileutil.SandboxPath(projectRoot, runID)
	if err := m.adapter.RemoveWorktree(repoRoot, path); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// PushBranch attempts to push the sandbox's branch to the remote, returning
// whether it succeeded — callers use this to decide whether Destroy may run.
func (m *Manager) PushBranch(repoRoot, branch string) bool {
	return m.adapter.PushBranch(repoRoot, branch)
}

// HasChanges reports whether branch has any commits beyond the repository's
// default branch. Callers use this to skip pushing (and go straight to
// Destroy) when a run produced no commits, rather than pushing a no-op
// branch update. If the default branch can't be resolved or the commit
// range can't be computed, it conservatively reports true so the caller
// falls through to the normal push path.
func (m *Manager) HasChanges(repoRoot, branch string) bool {
	base, err := m.adapter.DefaultBranch(repoRoot)
	if err != nil {
		return true
	}
	commits, err := m.adapter.CommitsBetween(repoRoot, base, branch)
	if err != nil {
		return true
	}
	return len(commits) > 0
}
