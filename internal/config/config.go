// Package config loads and validates project automation settings: the
// per-project agent configuration consumed by the Run Coordinator when it
// resolves how to drive a sprint (§6 "Work Store interface",
// getProjectSettings).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectSettings is the automation configuration for one project, as
// returned by the Work Store's getProjectSettings.
type ProjectSettings struct {
	Automation AutomationSettings `yaml:"automation"`
}

// AutomationSettings controls how the Run Loop Engine drives a sprint.
type AutomationSettings struct {
	// Setup lists shell commands for preparing the sandbox (e.g.
	// installing dependencies). They are loaded with the settings; the run
	// loop does not execute them.
	Setup []string `yaml:"setup,omitempty"`
	// MaxIterations is the default iteration cap when a start request does
	// not override it. Zero means "use RUN_LOOP_MAX_ITERATIONS".
	MaxIterations int `yaml:"max_iterations,omitempty"`
	// Agent selects and configures the Agent Driver.
	Agent AgentSettings `yaml:"agent"`
	// CodingStyle is free-form guidance folded into every driver's prompt.
	CodingStyle string `yaml:"coding_style,omitempty"`
}

// AgentSettings names a registered Agent Driver and its invocation options.
type AgentSettings struct {
	Name           string   `yaml:"name"`
	Model          string   `yaml:"model,omitempty"`
	PermissionMode string   `yaml:"permission_mode,omitempty"`
	ExtraArgs      []string `yaml:"extra_args,omitempty"`
}

// Load reads and parses project settings from a YAML file.
func Load(path string) (*ProjectSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading project settings: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*ProjectSettings, error) {
	var s ProjectSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return &s, nil
}

// Validate checks that settings are usable to start a run. It does not
// apply environment-variable defaults; callers resolve those separately
// (see ResolveMaxIterations) so validation failures are reported against
// exactly what the project configured.
func Validate(s *ProjectSettings) []error {
	var errs []error

	if s.Automation.Agent.Name == "" {
		errs = append(errs, fmt.Errorf("automation.agent.name is required"))
	}
	if s.Automation.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("automation.max_iterations must not be negative"))
	}

	return errs
}
