// Package driver defines the Agent Driver contract (C4, spec §4.4): a
// polymorphic capability translating one iteration request into an
// invocation the Process Supervisor can run, and interpreting the agent's
// output back into a uniform {output, exitCode} result.
package driver

import (
	"context"
)

// ExitCode sentinels, per spec §4.4.
const (
	ExitUsageLimit = 2 // usage-limit signaled by the agent
)

// AgentConfig carries the per-run, agent-specific configuration a project's
// settings resolve (spec §4.4: "model, permission mode, extra args, coding-
// style guidance").
type AgentConfig struct {
	Model          string
	PermissionMode string
	ExtraArgs      []string
	CodingStyle    string
}

// AddCommand records a Command Record before an invocation starts and
// returns a handle used to finalize it (exitCode, finishedAt) once the
// invocation completes, per spec §4.4's "MUST append a durable Command
// Record before invoking... and finalize it... after".
type AddCommand func(command string, args []string, cwd string) (finalize func(exitCode int))

// Invocation is the input to Invoke (spec §4.4's invoke contract).
type Invocation struct {
	IterationNumber int
	SandboxPath     string
	Prompt          string
	Config          AgentConfig

	// LogSink receives one already-sandbox-relativized output line at a
	// time. Must not block the driver.
	LogSink func(line string)

	AddCommand AddCommand

	// Cancel is closed when the run's cancellation token fires; drivers
	// must observe it during streaming/spawning and stop promptly.
	Cancel <-chan struct{}
}

// Result is the uniform outcome both driver implementations produce
// (spec §4.4's invoke output).
type Result struct {
	Output   string
	ExitCode int
}

// Driver is the Agent Driver capability: {name, invoke}.
type Driver interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}
