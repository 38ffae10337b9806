// Package filefake implements a file-backed Work Store for local runs and
// deterministic test fixtures (SPEC_FULL.md §6's "file-backed fake... useful
// for local runs and the test suite's deterministic fakes", resolving
// spec.md §8's "deterministic fakes for adapter, store, driver"
// requirement). It reads:
//
//	<projectRoot>/sprints/<sprintId>.yaml
//	<projectRoot>/settings.yaml
package filefake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/workstore"
)

// Store is a workstore.Store backed by YAML files under a project root.
// One Store instance serves a single project (projectId is accepted for
// interface compatibility but must match Root's owning project).
type Store struct {
	Root string
}

// New creates a filefake.Store rooted at projectRoot.
func New(projectRoot string) *Store {
	return &Store{Root: projectRoot}
}

func (s *Store) GetSprint(ctx context.Context, projectID, sprintID string) (*workstore.Sprint, error) {
	path := filepath.Join(s.Root, "sprints", sprintID+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, workstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sp workstore.Sprint
	if err := yaml.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if sp.ID == "" {
		sp.ID = sprintID
	}
	return &sp, nil
}

func (s *Store) GetProjectSettings(ctx context.Context, projectID string) (*config.ProjectSettings, error) {
	path := filepath.Join(s.Root, "settings.yaml")
	return config.Load(path)
}

var _ workstore.Store = (*Store)(nil)
