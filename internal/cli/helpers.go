package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/coordinator"
	"github.com/loomhq/loom/internal/driver"
	"github.com/loomhq/loom/internal/driver/cliagent"
	"github.com/loomhq/loom/internal/driver/sdkagent"
	"github.com/loomhq/loom/internal/gitrepo"
	"github.com/loomhq/loom/internal/sandbox"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/store/filestore"
	"github.com/loomhq/loom/internal/workstore/filefake"
)

// findGitRoot walks up from dir looking for a .git directory.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// buildCoordinator wires a Coordinator out of the project root given on the
// command line: a file-backed Run Store (retried per §4.1), a file-backed
// Work Store fake, the git CLI Repository Adapter, and whichever Agent
// Drivers have usable credentials/binaries in the environment.
func buildCoordinator() (*coordinator.Coordinator, error) {
	projectRoot, err := filepath.Abs(projectRootFlag)
	if err != nil {
		return nil, err
	}
	repoRoot := findGitRoot(projectRoot)
	if repoRoot == "" {
		return nil, fmt.Errorf("could not find git repository root from %s", projectRoot)
	}

	runStore := store.WithRetry(filestore.New(projectRoot))
	workStore := filefake.New(projectRoot)
	repo := gitrepo.New(repoRoot)
	sandboxMgr := sandbox.New(repo)

	registry := driver.NewRegistry()
	if path, err := exec.LookPath("claude"); err == nil {
		registry.Register(cliagent.New("cliagent", path, []string{"--print"}, nil))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		registry.Register(sdkagent.New("sdkagent", key, "claude-sonnet-4-5"))
	}

	return coordinator.New(
		runStore, workStore, repo, sandboxMgr, registry,
		logger, repoRoot, projectRoot,
		config.GlobalConcurrency(),
	), nil
}
