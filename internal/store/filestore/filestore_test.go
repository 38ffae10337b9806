package filestore

import (
	"context"
	"testing"
	"time"

	"github.com/loomhq/loom/internal/store"
)

func newTestRecord(runID, projectID string) *store.RunRecord {
	return &store.RunRecord{
		RunID:     runID,
		ProjectID: projectID,
		Status:    store.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RunID != "run-1" || got.ProjectID != "proj-a" {
		t.Errorf("got %+v", got)
	}
}

func TestCreateTwiceFailsWithAlreadyExists(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, rec); err != store.ErrAlreadyExists {
		t.Errorf("second Create err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Get(context.Background(), "no-such-run"); err != store.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateAppliesPatch(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())
	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	iter := 5
	if err := s.Update(ctx, "run-1", store.Patch{CurrentIteration: &iter}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentIteration != 5 {
		t.Errorf("CurrentIteration = %d, want 5", got.CurrentIteration)
	}
}

func TestUpdateOnTerminalRecordFailsWithStale(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())
	rec := newTestRecord("run-1", "proj-a")
	rec.Status = store.StatusCompleted
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	iter := 1
	if err := s.Update(ctx, "run-1", store.Patch{CurrentIteration: &iter}); err != store.ErrStale {
		t.Errorf("err = %v, want ErrStale", err)
	}
}

func TestListFiltersByProjectAndOrdersByCreatedAtDescending(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	older := newTestRecord("run-old", "proj-a")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := newTestRecord("run-new", "proj-a")
	newer.CreatedAt = time.Now().UTC()
	other := newTestRecord("run-other", "proj-b")

	for _, r := range []*store.RunRecord{older, newer, other} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.RunID, err)
		}
	}

	got, err := s.List(ctx, "proj-a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d records, want 2", len(got))
	}
	if got[0].RunID != "run-new" || got[1].RunID != "run-old" {
		t.Errorf("List order = [%s, %s], want [run-new, run-old]", got[0].RunID, got[1].RunID)
	}
}

func TestListAllReturnsRunsAcrossProjects(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	for _, r := range []*store.RunRecord{
		newTestRecord("run-a", "proj-a"),
		newTestRecord("run-b", "proj-b"),
	} {
		if err := s.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.RunID, err)
		}
	}

	got, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAll returned %d records, want 2", len(got))
	}
}

func TestAppendCommandThenFinalize(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())
	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	idx, err := s.AppendCommand(ctx, "run-1", store.CommandRecord{Command: "claude", StartedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("AppendCommand: %v", err)
	}

	if err := s.FinalizeCommand(ctx, "run-1", idx, 0, time.Now().UTC()); err != nil {
		t.Fatalf("FinalizeCommand: %v", err)
	}

	got, err := s.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Commands) != 1 {
		t.Fatalf("Commands = %v, want 1 entry", got.Commands)
	}
	if got.Commands[0].ExitCode == nil || *got.Commands[0].ExitCode != 0 {
		t.Errorf("ExitCode = %v, want pointer to 0", got.Commands[0].ExitCode)
	}
	if got.Commands[0].FinishedAt == nil {
		t.Errorf("FinishedAt not set")
	}
}

func TestAppendLogThenTailLogRespectsMaxLines(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())
	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, line := range []string{"one", "two", "three"} {
		if err := s.AppendLog(ctx, "run-1", line); err != nil {
			t.Fatalf("AppendLog(%s): %v", line, err)
		}
	}

	all, err := s.TailLog(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("TailLog: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("TailLog(0) = %v, want 3 lines", all)
	}

	tail, err := s.TailLog(ctx, "run-1", 2)
	if err != nil {
		t.Fatalf("TailLog(2): %v", err)
	}
	if len(tail) != 2 || tail[0] != "two" || tail[1] != "three" {
		t.Errorf("TailLog(2) = %v, want [two three]", tail)
	}
}

func TestTailLogOnMissingRunReturnsEmpty(t *testing.T) {
	s := New(t.TempDir())
	lines, err := s.TailLog(context.Background(), "no-such-run", 10)
	if err != nil {
		t.Fatalf("TailLog: %v", err)
	}
	if lines != nil {
		t.Errorf("lines = %v, want nil", lines)
	}
}

func TestRequestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())
	rec := newTestRecord("run-1", "proj-a")
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	already, err := s.RequestCancel(ctx, "run-1")
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if already {
		t.Errorf("first RequestCancel reported already-requested")
	}

	already, err = s.RequestCancel(ctx, "run-1")
	if err != nil {
		t.Fatalf("second RequestCancel: %v", err)
	}
	if !already {
		t.Errorf("second RequestCancel did not report already-requested")
	}
}
