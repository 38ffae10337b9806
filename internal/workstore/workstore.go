// Package workstore defines the Work Store interface (spec §6, consumed):
// reads sprints/tasks and project settings that the Run Coordinator needs
// to start a run. It is a read-only dependency — writing Run Records is the
// Run Store's (internal/store) job, not this package's.
package workstore

import (
	"context"
	"errors"

	"github.com/loomhq/loom/internal/config"
)

// ErrNotFound is returned when a sprint or project is unknown.
var ErrNotFound = errors.New("not found")

// Task is one unit of work scoped to a sprint.
type Task struct {
	ID string `yaml:"id" json:"id"`
}

// Sprint is the subset of sprint data the orchestrator needs to start and
// label a run (spec §6's getSprint shape).
type Sprint struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Status string `yaml:"status" json:"status"`
	Tasks  []Task `yaml:"tasks" json:"tasks"`
}

// Store is the Work Store contract (spec §6).
type Store interface {
	GetSprint(ctx context.Context, projectID, sprintID string) (*Sprint, error)
	GetProjectSettings(ctx context.Context, projectID string) (*config.ProjectSettings, error)
}
