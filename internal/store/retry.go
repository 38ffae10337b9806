package store

import (
	"context"
	"time"
)

// retryInitialDelay, retryMaxAttempts and retryMultiplier mirror the
// teacher's git.go backoff loop, generalized from git-lock contention to
// generic store I/O failures (§4.1 "retried up to 3 times with exponential
// backoff").
const (
	retryInitialDelay = 100 * time.Millisecond
	retryMaxAttempts  = 4 // the first try plus up to 3 retries
	retryMultiplier   = 2
)

// sleepFunc is swapped out in tests to avoid real delays.
var sleepFunc = time.Sleep

// WithRetry wraps a Store so that every operation is retried up to 3 times
// with exponential backoff on error, surfacing the last error if all
// attempts are exhausted. store.ErrNotFound, store.ErrAlreadyExists, and
// store.ErrStale are not transient and are returned immediately.
func WithRetry(inner Store) Store {
	return &retryingStore{inner: inner}
}

type retryingStore struct {
	inner Store
}

func nonRetryable(err error) bool {
	switch err {
	case ErrNotFound, ErrAlreadyExists, ErrStale, nil:
		return true
	default:
		return false
	}
}

func withRetries(fn func() error) error {
	delay := retryInitialDelay
	var err error
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		err = fn()
		if nonRetryable(err) {
			return err
		}
		if attempt == retryMaxAttempts-1 {
			break
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return err
}

func (s *retryingStore) Create(ctx context.Context, run *RunRecord) error {
	return withRetries(func() error { return s.inner.Create(ctx, run) })
}

func (s *retryingStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var r *RunRecord
	err := withRetries(func() error {
		var e error
		r, e = s.inner.Get(ctx, runID)
		return e
	})
	return r, err
}

func (s *retryingStore) List(ctx context.Context, projectID string) ([]*RunRecord, error) {
	var r []*RunRecord
	err := withRetries(func() error {
		var e error
		r, e = s.inner.List(ctx, projectID)
		return e
	})
	return r, err
}

func (s *retryingStore) ListAll(ctx context.Context) ([]*RunRecord, error) {
	var r []*RunRecord
	err := withRetries(func() error {
		var e error
		r, e = s.inner.ListAll(ctx)
		return e
	})
	return r, err
}

func (s *retryingStore) Update(ctx context.Context, runID string, patch Patch) error {
	return withRetries(func() error { return s.inner.Update(ctx, runID, patch) })
}

func (s *retryingStore) AppendCommand(ctx context.Context, runID string, cmd CommandRecord) (int, error) {
	var idx int
	err := withRetries(func() error {
		var e error
		idx, e = s.inner.AppendCommand(ctx, runID, cmd)
		return e
	})
	return idx, err
}

func (s *retryingStore) FinalizeCommand(ctx context.Context, runID string, index int, exitCode int, finishedAt time.Time) error {
	return withRetries(func() error { return s.inner.FinalizeCommand(ctx, runID, index, exitCode, finishedAt) })
}

func (s *retryingStore) AppendLog(ctx context.Context, runID string, text string) error {
	return withRetries(func() error { return s.inner.AppendLog(ctx, runID, text) })
}

func (s *retryingStore) TailLog(ctx context.Context, runID string, maxLines int) ([]string, error) {
	var lines []string
	err := withRetries(func() error {
		var e error
		lines, e = s.inner.TailLog(ctx, runID, maxLines)
		return e
	})
	return lines, err
}

func (s *retryingStore) RequestCancel(ctx context.Context, runID string) (bool, error) {
	var already bool
	err := withRetries(func() error {
		var e error
		already, e = s.inner.RequestCancel(ctx, runID)
		return e
	})
	return already, err
}

var _ Store = (*retryingStore)(nil)
