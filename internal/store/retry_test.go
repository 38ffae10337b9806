package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingStore fails its first N calls to Get with a transient error, then
// succeeds. Every other method just records how many times it was called.
type countingStore struct {
	failGetTimes int
	getCalls     int
}

func (s *countingStore) Create(ctx context.Context, run *RunRecord) error { return nil }
func (s *countingStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	s.getCalls++
	if s.getCalls <= s.failGetTimes {
		return nil, errors.New("transient failure")
	}
	return &RunRecord{RunID: runID}, nil
}
func (s *countingStore) List(ctx context.Context, projectID string) ([]*RunRecord, error) {
	return nil, nil
}
func (s *countingStore) ListAll(ctx context.Context) ([]*RunRecord, error) {
	return nil, nil
}
func (s *countingStore) Update(ctx context.Context, runID string, patch Patch) error { return nil }
func (s *countingStore) AppendCommand(ctx context.Context, runID string, cmd CommandRecord) (int, error) {
	return 0, nil
}
func (s *countingStore) FinalizeCommand(ctx context.Context, runID string, index int, exitCode int, finishedAt time.Time) error {
	return nil
}
func (s *countingStore) AppendLog(ctx context.Context, runID string, text string) error { return nil }
func (s *countingStore) TailLog(ctx context.Context, runID string, maxLines int) ([]string, error) {
	return nil, nil
}
func (s *countingStore) RequestCancel(ctx context.Context, runID string) (bool, error) {
	return false, nil
}

func noSleep(time.Duration) {}

func TestWithRetryRetriesTransientErrorsUntilSuccess(t *testing.T) {
	orig := sleepFunc
	sleepFunc = noSleep
	defer func() { sleepFunc = orig }()

	inner := &countingStore{failGetTimes: 2}
	s := WithRetry(inner)

	rec, err := s.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.RunID != "run-1" {
		t.Errorf("RunID = %q, want run-1", rec.RunID)
	}
	if inner.getCalls != 3 {
		t.Errorf("getCalls = %d, want 3 (2 failures + 1 success)", inner.getCalls)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	orig := sleepFunc
	sleepFunc = noSleep
	defer func() { sleepFunc = orig }()

	inner := &countingStore{failGetTimes: 100}
	s := WithRetry(inner)

	if _, err := s.Get(context.Background(), "run-1"); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if inner.getCalls != retryMaxAttempts {
		t.Errorf("getCalls = %d, want %d", inner.getCalls, retryMaxAttempts)
	}
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	orig := sleepFunc
	sleepFunc = noSleep
	defer func() { sleepFunc = orig }()

	inner := &notFoundStore{}
	s := WithRetry(inner)

	if _, err := s.Get(context.Background(), "run-1"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if inner.getCalls != 1 {
		t.Errorf("getCalls = %d, want 1 (no retry on ErrNotFound)", inner.getCalls)
	}
}

type notFoundStore struct {
	countingStore
}

func (s *notFoundStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	s.getCalls++
	return nil, ErrNotFound
}
