// Package tailer implements the Log Tailer (C7, spec §4.7): a read-side
// helper over Store.TailLog. No long-polling — callers poll on a 2-5s
// cadence, per spec. Grounded on the teacher's cli/logs.go, generalized
// from shelling out to `tail -n/-f` to an in-process poll loop so it works
// identically against both Store backends (file and Postgres).
package tailer

import (
	"context"
	"time"

	"github.com/loomhq/loom/internal/store"
)

// DefaultPollInterval is the suggested cadence for Follow (spec §4.7's
// "2-5s cadence").
const DefaultPollInterval = 3 * time.Second

// Tail returns up to the last maxLines lines of runID's log.
func Tail(ctx context.Context, s store.Store, runID string, maxLines int) ([]string, error) {
	return s.TailLog(ctx, runID, maxLines)
}

// Follow polls runID's log every interval, invoking onLines with any newly
// observed lines since the previous poll, until ctx is canceled or the run
// reaches a terminal status. It never blocks writers: this is a read-only
// poll loop, not a subscription.
func Follow(ctx context.Context, s store.Store, runID string, interval time.Duration, onLines func([]string)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			lines, err := s.TailLog(ctx, runID, 0)
			if err != nil {
				return err
			}
			if len(lines) > seen {
				onLines(lines[seen:])
				seen = len(lines)
			}

			rec, err := s.Get(ctx, runID)
			if err != nil {
				return err
			}
			if rec.Status.Terminal() {
				return nil
			}
		}
	}
}
