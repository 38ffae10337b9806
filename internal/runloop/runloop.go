// Package runloop implements the Run Loop Engine (C5, spec §4.5): the
// iteration state machine for a single run. One goroutine owns one run.
// Cancellation reaches the driver over a channel (see cancelChannel); log
// lines are not channelled but appended to the store straight from the
// driver's LogSink callback. The driver invocation at step 4 is the loop's
// only suspension point.
//
// Grounded on maruel-caic's internal/task.Runner (one goroutine per agent
// session, slog attribute-pair logging at every lifecycle transition) and
// goadesign-goa-ai's run.Status/run.Phase enums for the terminal-status
// vocabulary.
package runloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loomhq/loom/internal/driver"
	"github.com/loomhq/loom/internal/obs"
	"github.com/loomhq/loom/internal/sandbox"
	"github.com/loomhq/loom/internal/store"
)

// completeMarker is the case-sensitive terminal marker scanned for in
// driver output (spec §4.5 step 5).
const completeMarker = "<promise>COMPLETE</promise>"

// lastMessageBytes bounds how much of the latest output is persisted as
// lastMessage (spec §4.5 step 6: "last 1 KiB of output").
const lastMessageBytes = 1024

// maxConsecutiveErrors is the stop threshold for repeated non-zero driver
// exits (spec §4.5 step 5).
const maxConsecutiveErrors = 2

// Deps bundles the collaborators a run's loop goroutine needs.
type Deps struct {
	Store   store.Store
	Driver  driver.Driver
	Sandbox *sandbox.Manager
	Logger  *slog.Logger
	Metrics *obs.Metrics

	RepoRoot    string
	ProjectRoot string

	PromptBuilder func(iterationNumber int, cfg driver.AgentConfig) string
	AgentConfig   driver.AgentConfig

	// CancelRequested is polled at the top of every iteration in addition to
	// the Run Record's own field, letting the coordinator deliver an
	// in-memory cancel without a store round-trip.
	CancelRequested func() bool
}

// Run drives runID's iteration state machine to a terminal status. It
// blocks until the run reaches Terminal; callers launch it on its own
// goroutine (spec §4.6: "Launch the Run Loop Engine... on a background
// task").
func Run(ctx context.Context, deps Deps, runID string) error {
	log := deps.Logger.With(slog.String("run_id", runID))

	consecutiveErrors := 0

	for {
		rec, err := deps.Store.Get(ctx, runID)
		if err != nil {
			return fmt.Errorf("loading run record: %w", err)
		}

		// Step 1: check cancellation.
		if rec.CancellationRequestedAt != nil || deps.CancelRequested() {
			return terminal(ctx, deps, log, rec, store.StatusCanceled, store.ReasonCanceled, "")
		}

		// Step 2: check bound.
		if rec.CurrentIteration >= rec.MaxIterations {
			return terminal(ctx, deps, log, rec, store.StatusStopped, store.ReasonMaxIterations, "")
		}

		// Step 3: increment, persist.
		nextIteration := rec.CurrentIteration + 1
		if err := deps.Store.Update(ctx, runID, store.Patch{CurrentIteration: &nextIteration}); err != nil {
			return fmt.Errorf("persisting iteration increment: %w", err)
		}
		if deps.Metrics != nil {
			deps.Metrics.Iterations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("project.id", rec.ProjectID),
			))
		}

		log.Info("iteration starting", slog.Int("iteration", nextIteration))

		// Step 4: invoke driver (the only suspension point).
		cancelCh, stopCancelWatch := cancelChannel(deps.CancelRequested)
		addCommand := func(command string, args []string, cwd string) func(int) {
			idx, err := deps.Store.AppendCommand(ctx, runID, store.CommandRecord{
				Command:   command,
				Args:      args,
				Cwd:       cwd,
				StartedAt: time.Now().UTC(),
			})
			if err != nil {
				log.Warn("append command record failed", slog.String("error", err.Error()))
			}
			return func(exitCode int) {
				ec := exitCode
				_ = deps.Store.FinalizeCommand(ctx, runID, idx, ec, time.Now().UTC())
			}
		}

		prompt := ""
		if deps.PromptBuilder != nil {
			prompt = deps.PromptBuilder(nextIteration, deps.AgentConfig)
		}

		result, invokeErr := deps.Driver.Invoke(ctx, driver.Invocation{
			IterationNumber: nextIteration,
			SandboxPath:     rec.SandboxPath,
			Prompt:          prompt,
			Config:          deps.AgentConfig,
			LogSink: func(line string) {
				_ = deps.Store.AppendLog(ctx, runID, line)
			},
			AddCommand: addCommand,
			Cancel:     cancelCh,
		})
		stopCancelWatch()
		if invokeErr != nil {
			consecutiveErrors++
			msg := invokeErr.Error()
			_ = deps.Store.Update(ctx, runID, store.Patch{AppendError: msg})
			if consecutiveErrors >= maxConsecutiveErrors {
				rec, _ = deps.Store.Get(ctx, runID)
				// msg was already appended above; terminal adds no second copy.
				return terminal(ctx, deps, log, rec, store.StatusFailed, store.ReasonError, "")
			}
			continue
		}

		// Step 5: classify result.
		switch {
		case result.ExitCode < 0:
			rec, _ = deps.Store.Get(ctx, runID)
			if rec.CancellationRequestedAt != nil || deps.CancelRequested() {
				return terminal(ctx, deps, log, rec, store.StatusCanceled, store.ReasonCanceled, "")
			}
			return terminal(ctx, deps, log, rec, store.StatusFailed, store.ReasonError, "child process killed")

		case result.ExitCode == driver.ExitUsageLimit:
			rec, _ = deps.Store.Get(ctx, runID)
			return terminal(ctx, deps, log, rec, store.StatusStopped, store.ReasonUsageLimit, "")

		case result.ExitCode != 0:
			consecutiveErrors++
			errMsg := fmt.Sprintf("iteration %d exited %d", nextIteration, result.ExitCode)
			if err := deps.Store.Update(ctx, runID, store.Patch{AppendError: errMsg}); err != nil {
				rec, _ = deps.Store.Get(ctx, runID)
				return terminal(ctx, deps, log, rec, store.StatusFailed, store.ReasonError, "store error: "+err.Error())
			}
			if consecutiveErrors >= maxConsecutiveErrors {
				rec, _ = deps.Store.Get(ctx, runID)
				return terminal(ctx, deps, log, rec, store.StatusFailed, store.ReasonError, errMsg)
			}

		default: // exitCode == 0
			consecutiveErrors = 0
			if strings.Contains(result.Output, completeMarker) {
				rec, _ = deps.Store.Get(ctx, runID)
				return terminal(ctx, deps, log, rec, store.StatusCompleted, store.ReasonCompleted, "")
			}
		}

		// Step 6: persist progress.
		progressAt := time.Now().UTC()
		lastMessage := tailBytes(result.Output, lastMessageBytes)
		if err := deps.Store.Update(ctx, runID, store.Patch{
			LastMessage:         &lastMessage,
			LastProgressAt:      &progressAt,
			LastCommandExitCode: &result.ExitCode,
		}); err != nil {
			rec, _ = deps.Store.Get(ctx, runID)
			return terminal(ctx, deps, log, rec, store.StatusFailed, store.ReasonError, "store error: "+err.Error())
		}
		// Step 7: loop.
	}
}

// terminal performs spec §4.5's terminal transition: best-effort push +
// sandbox destroy first, then set status/reason/finishedAt/pid and the
// push-failure annotation (if any) in a single patch — the record is still
// non-terminal at this point, so the patch isn't rejected by the Store's
// terminal guard (filestore.Update and pgstore both refuse further writes
// once status is terminal).
func terminal(ctx context.Context, deps Deps, log *slog.Logger, rec *store.RunRecord, status store.Status, reason store.Reason, appendErr string) error {
	finishedAt := time.Now().UTC()
	zeroPID := 0

	pushed := false
	if deps.Sandbox != nil && rec.SandboxBranch != "" {
		switch {
		case !deps.Sandbox.HasChanges(deps.RepoRoot, rec.SandboxBranch):
			if err := deps.Sandbox.Destroy(deps.RepoRoot, deps.ProjectRoot, rec.RunID, rec.SandboxBranch, true, false); err != nil {
				log.Warn("sandbox destroy failed", slog.String("error", err.Error()))
			}
		case deps.Sandbox.PushBranch(deps.RepoRoot, rec.SandboxBranch):
			pushed = true
			if err := deps.Sandbox.Destroy(deps.RepoRoot, deps.ProjectRoot, rec.RunID, rec.SandboxBranch, true, false); err != nil {
				log.Warn("sandbox destroy failed", slog.String("error", err.Error()))
			}
		default:
			note := "push failed; sandbox preserved for manual recovery"
			if appendErr != "" {
				appendErr += "; " + note
			} else {
				appendErr = note
			}
		}
	}

	patch := store.Patch{
		Status:     &status,
		Reason:     &reason,
		FinishedAt: &finishedAt,
		PID:        &zeroPID,
	}
	if appendErr != "" {
		patch.AppendError = appendErr
	}
	if err := deps.Store.Update(ctx, rec.RunID, patch); err != nil {
		log.Error("terminal patch failed", slog.String("error", err.Error()))
		return err
	}

	if deps.Metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("project.id", rec.ProjectID),
			attribute.String("status", string(status)),
		)
		switch status {
		case store.StatusCompleted:
			deps.Metrics.RunsCompleted.Add(ctx, 1, attrs)
		case store.StatusCanceled:
			deps.Metrics.RunsCanceled.Add(ctx, 1, attrs)
		case store.StatusFailed:
			deps.Metrics.RunsFailed.Add(ctx, 1, attrs)
		}
		deps.Metrics.RunDuration.Record(ctx, finishedAt.Sub(rec.CreatedAt).Seconds(), attrs)
	}

	log.Info("run terminal",
		slog.String("status", string(status)),
		slog.String("reason", string(reason)),
		slog.Bool("pushed", pushed),
	)
	return nil
}

// cancelChannel adapts a poll-style CancelRequested func into a channel the
// driver/supervisor layers can select on, closing it the first time the
// predicate reports true. The returned stop func must be called once the
// caller no longer needs the watch, or the polling goroutine leaks.
func cancelChannel(cancelRequested func() bool) (ch <-chan struct{}, stop func()) {
	done := make(chan struct{})
	fired := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if cancelRequested() {
					close(fired)
					return
				}
			}
		}
	}()
	var stopped bool
	return fired, func() {
		if !stopped {
			stopped = true
			close(done)
		}
	}
}

func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
