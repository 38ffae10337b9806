// Package coordinator implements the Run Coordinator (C6, spec §4.6):
// accepts start/cancel/tail requests, validates preconditions, resolves
// adapters and settings, and launches/tracks Run Loop Engine goroutines.
//
// Grounded on Strob0t-CodeForge's internal/git.Pool for the bounded-
// concurrency semaphore pattern (generalized from a blocking Acquire to a
// fail-fast TryAcquire, since spec §5 requires "additional start requests
// fail with too_many_active_runs" rather than queuing) and
// goadesign-goa-ai's run.Store/run.Handle shape for the start/cancel/get
// surface.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/loomhq/loom/internal/config"
	"github.com/loomhq/loom/internal/driver"
	"github.com/loomhq/loom/internal/gitrepo"
	"github.com/loomhq/loom/internal/obs"
	"github.com/loomhq/loom/internal/runloop"
	"github.com/loomhq/loom/internal/sandbox"
	"github.com/loomhq/loom/internal/store"
	"github.com/loomhq/loom/internal/workstore"
)

// ErrTooManyActiveRuns is returned by StartRun when the global concurrency
// semaphore cannot be acquired immediately (spec §5).
var ErrTooManyActiveRuns = fmt.Errorf("too_many_active_runs")

// ErrAlreadyRunning is returned by StartRun when the project already has an
// active run (I3).
var ErrAlreadyRunning = fmt.Errorf("already_running")

// ErrRunNotFound mirrors the coordinator surface's not_found result (§6).
var ErrRunNotFound = store.ErrNotFound

// ErrAlreadyTerminal is returned by CancelRun against a terminal run (§4.6).
var ErrAlreadyTerminal = fmt.Errorf("already_terminal")

// activeRun tracks one in-flight run's cancellation and completion state.
type activeRun struct {
	cancel cancelFlag
	done   chan struct{}
}

// cancelFlag is a tiny mutex-guarded bool, mirroring SPEC_FULL.md §9's
// "shared cancel flag... mirrored in memory as an atomic boolean" note.
type cancelFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *cancelFlag) trigger() { f.mu.Lock(); f.set = true; f.mu.Unlock() }
func (f *cancelFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// Coordinator is the Run Coordinator (C6).
type Coordinator struct {
	store     store.Store
	workStore workstore.Store
	repo      *gitrepo.Adapter
	sandbox   *sandbox.Manager
	drivers   *driver.Registry
	logger    *slog.Logger
	metrics   *obs.Metrics

	repoRoot    string
	projectRoot string

	sem *semaphore.Weighted

	mu          sync.Mutex
	activeByProj map[string]string // projectID -> runID, for I3
	active       map[string]*activeRun
	group        *errgroup.Group
}

// New creates a Coordinator. globalConcurrency bounds concurrently active
// runs across all projects (spec §5, default 4, RUN_LOOP_GLOBAL_CONCURRENCY).
func New(
	runStore store.Store,
	workStore workstore.Store,
	repo *gitrepo.Adapter,
	sandboxMgr *sandbox.Manager,
	drivers *driver.Registry,
	logger *slog.Logger,
	repoRoot, projectRoot string,
	globalConcurrency int,
) *Coordinator {
	if globalConcurrency < 1 {
		globalConcurrency = config.DefaultGlobalConcurrency
	}
	metrics, err := obs.NewMetrics()
	if err != nil {
		logger.Warn("metrics instruments unavailable", slog.String("error", err.Error()))
	}
	var g errgroup.Group
	c := &Coordinator{
		store:        runStore,
		workStore:    workStore,
		repo:         repo,
		sandbox:      sandboxMgr,
		drivers:      drivers,
		logger:       logger,
		metrics:      metrics,
		repoRoot:     repoRoot,
		projectRoot:  projectRoot,
		sem:          semaphore.NewWeighted(int64(globalConcurrency)),
		activeByProj: make(map[string]string),
		active:       make(map[string]*activeRun),
		group:        &g,
	}
	c.repairDanglingRuns(context.Background())
	return c
}

// repairDanglingRuns implements spec §5's "Run Records left running at hard
// shutdown are repaired on next start": any record that is not in a
// terminal status when the orchestrator starts was orphaned by a crash (no
// goroutine is tracking it, since c.active is freshly empty), so it is
// patched straight to failed/error with its commands and log preserved.
// Grounded on the reconcileSessionsOnStartup pattern (adjusts persisted
// state for sessions active before restart without relaunching anything).
func (c *Coordinator) repairDanglingRuns(ctx context.Context) {
	recs, err := c.store.ListAll(ctx)
	if err != nil {
		c.logger.Error("crash recovery: listing runs failed", slog.String("error", err.Error()))
		return
	}
	now := time.Now().UTC()
	failed := store.StatusFailed
	errorReason := store.ReasonError
	for _, rec := range recs {
		if rec.Status.Terminal() {
			continue
		}
		patch := store.Patch{
			Status:     &failed,
			Reason:     &errorReason,
			FinishedAt: &now,
			AppendError: fmt.Sprintf(
				"run was left in status %q at orchestrator startup; marked failed by crash recovery",
				rec.Status,
			),
		}
		if err := c.store.Update(ctx, rec.RunID, patch); err != nil {
			c.logger.Error("crash recovery: repairing run failed",
				slog.String("run_id", rec.RunID), slog.String("error", err.Error()))
			continue
		}
		c.logger.Warn("crash recovery: repaired dangling run",
			slog.String("run_id", rec.RunID), slog.String("previous_status", string(rec.Status)))
	}
}

// StartRun implements spec §4.6's startRun contract.
func (c *Coordinator) StartRun(ctx context.Context, projectID, sprintID, branchName string, maxIterationsOverride int, taskIDs []string) (string, error) {
	c.mu.Lock()
	if _, exists := c.activeByProj[projectID]; exists {
		c.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	c.mu.Unlock()

	if !c.sem.TryAcquire(1) {
		return "", ErrTooManyActiveRuns
	}

	sprint, err := c.workStore.GetSprint(ctx, projectID, sprintID)
	if err != nil {
		c.sem.Release(1)
		return "", fmt.Errorf("resolving sprint: %w", err)
	}
	settings, err := c.workStore.GetProjectSettings(ctx, projectID)
	if err != nil {
		c.sem.Release(1)
		return "", fmt.Errorf("resolving project settings: %w", err)
	}
	if errs := config.Validate(settings); len(errs) > 0 {
		c.sem.Release(1)
		return "", fmt.Errorf("invalid project settings: %v", errs)
	}

	agentDriver, err := c.drivers.Resolve(settings.Automation.Agent.Name)
	if err != nil {
		c.sem.Release(1)
		return "", err
	}

	runID := uuid.NewString()
	if branchName == "" {
		branchName = "run-" + runID
	}

	sandboxPath, resolvedBranch, err := c.sandbox.Create(c.repoRoot, c.projectRoot, runID, branchName)
	if err != nil {
		c.sem.Release(1)
		return "", fmt.Errorf("creating sandbox: %w", err)
	}

	maxIterations := config.ResolveMaxIterations(maxIterationsOverride, settings.Automation.MaxIterations)

	now := time.Now().UTC()
	rec := &store.RunRecord{
		RunID:            runID,
		ProjectID:        projectID,
		SprintID:         sprintID,
		SprintName:       sprint.Name,
		Status:           store.StatusQueued,
		ExecutorMode:     resolveExecutorMode(),
		SandboxPath:      sandboxPath,
		SandboxBranch:    resolvedBranch,
		MaxIterations:    maxIterations,
		CurrentIteration: 0,
		SelectedTaskIDs:  taskIDs,
		CreatedAt:        now,
	}
	if err := c.store.Create(ctx, rec); err != nil {
		c.sem.Release(1)
		return "", fmt.Errorf("creating run record: %w", err)
	}
	if rec.ExecutorMode == store.ExecutorContainerized || rec.ExecutorMode == store.ExecutorRemote {
		note := fmt.Sprintf("executorMode %s degraded to local", rec.ExecutorMode)
		_ = c.store.Update(ctx, runID, store.Patch{AppendError: note})
	}
	if c.metrics != nil {
		c.metrics.RunsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("project.id", projectID),
		))
	}

	c.mu.Lock()
	c.activeByProj[projectID] = runID
	ar := &activeRun{done: make(chan struct{})}
	c.active[runID] = ar
	c.mu.Unlock()

	c.group.Go(func() error {
		defer c.finish(projectID, runID, ar)

		runCtx := context.Background()
		startedAt := time.Now().UTC()
		running := store.StatusRunning
		_ = c.store.Update(runCtx, runID, store.Patch{Status: &running, StartedAt: &startedAt})

		deps := runloop.Deps{
			Store:       c.store,
			Driver:      agentDriver,
			Sandbox:     c.sandbox,
			Logger:      c.logger,
			Metrics:     c.metrics,
			RepoRoot:    c.repoRoot,
			ProjectRoot: c.projectRoot,
			AgentConfig: driver.AgentConfig{
				Model:          settings.Automation.Agent.Model,
				PermissionMode: settings.Automation.Agent.PermissionMode,
				ExtraArgs:      settings.Automation.Agent.ExtraArgs,
				CodingStyle:    settings.Automation.CodingStyle,
			},
			PromptBuilder:   defaultPromptBuilder,
			CancelRequested: ar.cancel.get,
		}
		if err := runloop.Run(runCtx, deps, runID); err != nil {
			c.logger.Error("run loop exited with error", slog.String("run_id", runID), slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	return runID, nil
}

func (c *Coordinator) finish(projectID, runID string, ar *activeRun) {
	close(ar.done)
	c.mu.Lock()
	delete(c.active, runID)
	if c.activeByProj[projectID] == runID {
		delete(c.activeByProj, projectID)
	}
	c.mu.Unlock()
	c.sem.Release(1)
}

// CancelRun implements spec §4.6's cancelRun contract.
func (c *Coordinator) CancelRun(ctx context.Context, runID string) error {
	rec, err := c.store.Get(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		ar.cancel.trigger()
	}

	_, err = c.store.RequestCancel(ctx, runID)
	return err
}

// RunStore exposes the underlying Run Store for read-side helpers (e.g.
// internal/tailer) that poll independently of the coordinator surface.
func (c *Coordinator) RunStore() store.Store {
	return c.store
}

// GetRun implements spec §4.6's getRun contract: returns the current record
// plus the last N log lines (default 120, clamped to 1000, per §6).
func (c *Coordinator) GetRun(ctx context.Context, runID string, tail int) (*store.RunRecord, []string, error) {
	if tail <= 0 {
		tail = 120
	}
	if tail > 1000 {
		tail = 1000
	}
	rec, err := c.store.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	lines, err := c.store.TailLog(ctx, runID, tail)
	if err != nil {
		return nil, nil, err
	}
	return rec, lines, nil
}

// ListRuns returns all runs for a project, descending by createdAt (§6).
func (c *Coordinator) ListRuns(ctx context.Context, projectID string) ([]*store.RunRecord, error) {
	return c.store.List(ctx, projectID)
}

// Shutdown triggers the in-memory cancel flag of every active run, then
// waits (bounded by drain and ctx) for their loop goroutines to exit. It
// does not stop StartRun from accepting new runs, and it does not
// force-kill child processes still running when the drain window elapses.
func (c *Coordinator) Shutdown(ctx context.Context, drain time.Duration) error {
	c.mu.Lock()
	runs := make([]*activeRun, 0, len(c.active))
	for _, ar := range c.active {
		runs = append(runs, ar)
	}
	c.mu.Unlock()

	for _, ar := range runs {
		ar.cancel.trigger()
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- c.group.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-time.After(drain):
		return fmt.Errorf("shutdown drain window elapsed with runs still active")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolveExecutorMode() store.ExecutorMode {
	mode := store.ExecutorMode(config.ExecutorMode())
	switch mode {
	case store.ExecutorLocal, store.ExecutorContainerized, store.ExecutorRemote:
		return mode
	default:
		return store.ExecutorLocal
	}
}

// defaultPromptBuilder composes the fixed-template-plus-coding-style prompt
// (spec §4.4's "Prompt composition" note — an input to the agent, not an
// orchestrator design decision, so the template itself is deliberately
// minimal here).
func defaultPromptBuilder(iterationNumber int, cfg driver.AgentConfig) string {
	p := fmt.Sprintf("Iteration %d. Continue the sprint's selected tasks.", iterationNumber)
	if cfg.CodingStyle != "" {
		p += "\n\nCoding style guidance:\n" + cfg.CodingStyle
	}
	p += "\n\nWhen the sprint's goals are fully met, emit <promise>COMPLETE</promise>."
	return p
}
