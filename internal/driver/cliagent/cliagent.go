// Package cliagent implements the Agent Driver contract by wrapping an
// external CLI coding agent as a subprocess, grounded on the teacher's
// invokeAgent (PTY allocation, .claude/settings.json permission writing)
// combined with NeboLoop's CLIProvider argument-building conventions
// (--print/--output-format style flag assembly, prompt-from-messages).
package cliagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/driver"
	"github.com/loomhq/loom/internal/supervisor"
)

// Permissions mirrors the `permissions` block of a `.claude/settings.json`
// file (teacher's config.Permissions), written into the sandbox before each
// invocation so the agent is pre-approved for the project's allowed tools.
type Permissions struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Driver wraps a CLI command as an Agent Driver.
type Driver struct {
	name        string
	command     string
	baseArgs    []string
	permissions *Permissions
	super       *supervisor.Supervisor
}

// New creates a cliagent Driver. name is the identifier registered in the
// driver.Registry; command/baseArgs describe how to invoke the underlying
// CLI (e.g. "claude", []string{"--print", "--output-format", "text"}).
// permissions, if non-nil, is written to .claude/settings.json in every
// sandbox before invoking.
func New(name, command string, baseArgs []string, permissions *Permissions) *Driver {
	return &Driver{
		name:        name,
		command:     command,
		baseArgs:    baseArgs,
		permissions: permissions,
		super:       supervisor.New(),
	}
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Invoke(ctx context.Context, inv driver.Invocation) (driver.Result, error) {
	if d.permissions != nil {
		if err := writePermissions(inv.SandboxPath, d.permissions); err != nil {
			return driver.Result{}, fmt.Errorf("writing permissions: %w", err)
		}
	}

	args := buildArgs(d.baseArgs, inv.Config)

	// The prompt blob is passed via stdin, not argv, so it never appears in
	// the persisted Command Record (spec §3 "may redact prompt blob").
	finalize := inv.AddCommand(d.command, redactedArgs(args), inv.SandboxPath)

	var out strings.Builder
	relocate := sandboxRelativizer(inv.SandboxPath)
	sink := func(line string) {
		rel := relocate(line)
		out.WriteString(rel)
		out.WriteByte('\n')
		if inv.LogSink != nil {
			inv.LogSink(rel)
		}
	}

	result, err := d.super.Spawn(ctx, supervisor.Request{
		Command:      d.command,
		Args:         args,
		Cwd:          inv.SandboxPath,
		Env:          os.Environ(),
		Stdin:        strings.NewReader(inv.Prompt),
		TimeoutMs:    int(config.IterationTimeout().Milliseconds()), // per-iteration hard timeout (RUN_LOOP_TIMEOUT_MS)
		OnStdoutLine: sink,
		OnStderrLine: sink,
		Cancel:       inv.Cancel,
	})
	finalize(result.ExitCode)
	if err != nil {
		return driver.Result{}, err
	}

	return driver.Result{Output: out.String(), ExitCode: result.ExitCode}, nil
}

// redactedArgs drops the stdin-delivered prompt — there is none in args by
// construction here, but the function exists so future argv-based prompt
// passing has a single place to redact from the persisted record.
func redactedArgs(args []string) []string {
	return append([]string(nil), args...)
}

func buildArgs(base []string, cfg driver.AgentConfig) []string {
	args := append([]string(nil), base...)
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	args = append(args, cfg.ExtraArgs...)
	return args
}

// sandboxRelativizer returns a function that rewrites any occurrence of the
// sandbox's absolute path in a log line with a sandbox-relative form
// (spec §4.4: "MUST translate absolute sandbox paths ... to paths relative
// to the sandbox before logging").
func sandboxRelativizer(sandboxPath string) func(string) string {
	abs, err := filepath.Abs(sandboxPath)
	if err != nil || abs == "" {
		return func(line string) string { return line }
	}
	prefix := abs + string(filepath.Separator)
	return func(line string) string {
		return strings.ReplaceAll(line, prefix, "")
	}
}

func writePermissions(sandboxPath string, perms *Permissions) error {
	claudeDir := filepath.Join(sandboxPath, ".claude")
	if err := os.MkdirAll(claudeDir, 0755); err != nil {
		return err
	}
	settings := map[string]any{"permissions": perms}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(claudeDir, "settings.json"), append(data, '\n'), 0644)
}
